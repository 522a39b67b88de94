package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"golang.org/x/sync/singleflight"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

const (
	// maxMessageRunes is Discord's per-message content limit.
	maxMessageRunes = 2000
	// maxUsernameRunes is Discord's webhook username limit.
	maxUsernameRunes = 80

	defaultWebhookName = "chorus"

	// sharedCallTimeout bounds a webhook or member-list lookup shared by
	// concurrent callers.
	sharedCallTimeout = 30 * time.Second
)

// webhookAPI is the subset of *discordgo.Session used for delivery.
type webhookAPI interface {
	ChannelWebhooks(channelID string, options ...discordgo.RequestOption) ([]*discordgo.Webhook, error)
	WebhookCreate(channelID, name, avatar string, options ...discordgo.RequestOption) (*discordgo.Webhook, error)
	WebhookExecute(webhookID, token string, wait bool, data *discordgo.WebhookParams, options ...discordgo.RequestOption) (*discordgo.Message, error)
}

// WebhookOptions configures a WebhookSender.
type WebhookOptions struct {
	Name    string                   // webhook name to find or create per channel
	Limiter *channels.ChannelLimiter // per-channel pacing, nil disables
	Debug   channels.DebugFilter
	SelfID  func() string // account id; webhooks it created are reused
}

// WebhookSender posts messages through one webhook per channel, overriding
// the username and avatar on every execution.
type WebhookSender struct {
	api  webhookAPI
	opts WebhookOptions

	mu    sync.RWMutex
	hooks map[string]*discordgo.Webhook // channel id -> webhook
	owned map[string]bool               // webhook ids we deliver through

	group singleflight.Group
}

// NewWebhookSender creates a sender over api.
func NewWebhookSender(api webhookAPI, opts WebhookOptions) *WebhookSender {
	if opts.Name == "" {
		opts.Name = defaultWebhookName
	}
	if opts.SelfID == nil {
		opts.SelfID = func() string { return "" }
	}
	return &WebhookSender{
		api:   api,
		opts:  opts,
		hooks: make(map[string]*discordgo.Webhook),
		owned: make(map[string]bool),
	}
}

// Owns reports whether webhookID is one of the webhooks this sender delivers
// through. Messages it posted must not be dispatched back to the bots.
func (w *WebhookSender) Owns(webhookID string) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.owned[webhookID]
}

// Send delivers msg, splitting content over several messages when it exceeds
// the platform limit.
func (w *WebhookSender) Send(ctx context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	if msg.ChannelID == "" {
		return channels.SendResult{}, errors.New("empty channel id for discord send")
	}
	if !w.opts.Debug.Permits(msg.ChannelID) {
		slog.Debug("discord delivery discarded by debug filter",
			telemetry.FieldChannelID, msg.ChannelID,
			"display_name", msg.DisplayName,
			telemetry.FieldPreview, textutil.Preview(msg.Content, telemetry.PreviewWidth),
		)
		return channels.SendResult{Discarded: true}, nil
	}
	if strings.TrimSpace(msg.Content) == "" {
		return channels.SendResult{}, errors.New("empty message content")
	}

	params := discordgo.WebhookParams{
		Username:  textutil.TruncateRunes(msg.DisplayName, maxUsernameRunes),
		AvatarURL: msg.AvatarURL,
		// Responses never ping anyone.
		AllowedMentions: &discordgo.MessageAllowedMentions{Parse: []discordgo.AllowedMentionType{}},
	}
	for _, chunk := range splitMessage(msg.Content, maxMessageRunes) {
		if w.opts.Limiter != nil {
			if err := w.opts.Limiter.Wait(ctx, msg.ChannelID); err != nil {
				return channels.SendResult{}, fmt.Errorf("wait for send slot: %w", err)
			}
		}
		p := params
		p.Content = chunk
		if err := w.execute(ctx, msg.ChannelID, &p); err != nil {
			return channels.SendResult{}, err
		}
	}
	return channels.SendResult{}, nil
}

// execute posts one message, recreating the webhook once if it was deleted
// behind our back.
func (w *WebhookSender) execute(ctx context.Context, channelID string, params *discordgo.WebhookParams) error {
	for attempt := 0; ; attempt++ {
		hook, err := w.hook(ctx, channelID)
		if err != nil {
			return err
		}
		_, err = w.api.WebhookExecute(hook.ID, hook.Token, false, params, discordgo.WithContext(ctx))
		if err == nil {
			return nil
		}
		if attempt == 0 && isRESTCode(err, discordgo.ErrCodeUnknownWebhook) {
			slog.Warn("discord webhook vanished, recreating", telemetry.FieldChannelID, channelID, "webhook_id", hook.ID)
			w.evict(channelID)
			continue
		}
		return fmt.Errorf("execute discord webhook: %w", err)
	}
}

// hook returns the cached webhook for channelID, finding or creating it on
// first use. Concurrent callers for the same channel share one lookup.
func (w *WebhookSender) hook(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	w.mu.RLock()
	h, ok := w.hooks[channelID]
	w.mu.RUnlock()
	if ok {
		return h, nil
	}

	return shared(ctx, &w.group, channelID, func(ctx context.Context) (*discordgo.Webhook, error) {
		w.mu.RLock()
		h, ok := w.hooks[channelID]
		w.mu.RUnlock()
		if ok {
			return h, nil
		}

		h, err := w.findOrCreate(ctx, channelID)
		if err != nil {
			return nil, err
		}
		w.mu.Lock()
		w.hooks[channelID] = h
		w.owned[h.ID] = true
		w.mu.Unlock()
		return h, nil
	})
}

// shared runs fn once per key for all concurrent callers. fn gets a context
// detached from the caller that started it, bounded by sharedCallTimeout, so
// one caller giving up does not fail the others. Each caller stops waiting
// when its own ctx is done.
func shared[T any](ctx context.Context, g *singleflight.Group, key string, fn func(context.Context) (T, error)) (T, error) {
	ch := g.DoChan(key, func() (any, error) {
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sharedCallTimeout)
		defer cancel()
		return fn(sctx)
	})
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return zero, res.Err
		}
		return res.Val.(T), nil
	}
}

func (w *WebhookSender) findOrCreate(ctx context.Context, channelID string) (*discordgo.Webhook, error) {
	existing, err := w.api.ChannelWebhooks(channelID, discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("list webhooks for channel %s: %w", channelID, err)
	}
	self := w.opts.SelfID()
	for _, h := range existing {
		if h == nil || h.Token == "" || h.Name != w.opts.Name {
			continue
		}
		if self != "" && (h.User == nil || h.User.ID != self) {
			continue
		}
		return h, nil
	}

	h, err := w.api.WebhookCreate(channelID, w.opts.Name, "", discordgo.WithContext(ctx))
	if err != nil {
		return nil, fmt.Errorf("create webhook for channel %s: %w", channelID, err)
	}
	slog.Info("discord webhook created", telemetry.FieldChannelID, channelID, "webhook_id", h.ID)
	return h, nil
}

func (w *WebhookSender) evict(channelID string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	// The id stays in owned: messages it already posted may still arrive.
	delete(w.hooks, channelID)
}

// splitMessage cuts content into chunks of at most limit runes, preferring
// to break after a newline in the second half of a chunk.
func splitMessage(content string, limit int) []string {
	var chunks []string
	for utf8.RuneCountInString(content) > limit {
		head := textutil.TruncateRunes(content, limit)
		cut := len(head)
		if idx := strings.LastIndexByte(head, '\n'); idx >= 0 && utf8.RuneCountInString(head[:idx]) > limit/2 {
			cut = idx + 1
		}
		chunks = append(chunks, content[:cut])
		content = content[cut:]
	}
	if content != "" {
		chunks = append(chunks, content)
	}
	return chunks
}

func isRESTCode(err error, codes ...int) bool {
	var rest *discordgo.RESTError
	if !errors.As(err, &rest) || rest.Message == nil {
		return false
	}
	for _, code := range codes {
		if rest.Message.Code == code {
			return true
		}
	}
	return false
}
