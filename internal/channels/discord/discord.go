// Package discord connects the bot pipeline to Discord: gateway messages are
// published to the bus and responses go out through per-channel webhooks so
// each bot can speak under its own name and avatar.
package discord

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/config"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

// Name is the platform identifier stamped on inbound messages.
const Name = "discord"

// Channel connects to Discord via the Bot API using gateway events.
type Channel struct {
	*channels.BaseChannel
	session   *discordgo.Session
	config    config.DiscordConfig
	botUserID atomic.Pointer[string] // populated on start
	webhooks  *WebhookSender
	directory *Directory
}

// New creates a Discord channel from config. Deliveries outside the debug
// whitelist are discarded when debug is enabled.
func New(cfg config.DiscordConfig, router bus.MessageRouter, debug channels.DebugFilter) (*Channel, error) {
	if cfg.Token == "" {
		return nil, errors.New("discord token is empty")
	}
	session, err := discordgo.New("Bot " + cfg.Token)
	if err != nil {
		return nil, fmt.Errorf("create discord session: %w", err)
	}

	// Guild members is privileged; it backs the mimic and random identities.
	session.Identify.Intents = discordgo.IntentsGuildMessages |
		discordgo.IntentsDirectMessages |
		discordgo.IntentsMessageContent |
		discordgo.IntentsGuildMembers
	session.State.TrackMembers = true

	c := &Channel{
		BaseChannel: channels.NewBaseChannel(Name, router, cfg.Listen),
		session:     session,
		config:      cfg,
	}
	c.webhooks = NewWebhookSender(session, WebhookOptions{
		Name:    cfg.WebhookName,
		Limiter: channels.NewChannelLimiter(cfg.SendInterval(), cfg.SendBurst),
		Debug:   debug,
		SelfID:  c.BotUserID,
	})
	c.directory = NewDirectory(session, session.State, cfg.MemberCacheTTL())
	return c, nil
}

// Start opens the Discord gateway connection and begins receiving events.
func (c *Channel) Start(_ context.Context) error {
	slog.Info("starting discord bot")

	c.session.AddHandler(c.handleMessage)

	if err := c.session.Open(); err != nil {
		return fmt.Errorf("open discord session: %w", err)
	}

	user, err := c.session.User("@me")
	if err != nil {
		c.session.Close()
		return fmt.Errorf("fetch discord bot identity: %w", err)
	}
	id := user.ID
	c.botUserID.Store(&id)

	c.SetRunning(true)
	slog.Info("discord bot connected", "username", user.Username, "id", user.ID)
	return nil
}

// Stop closes the Discord gateway connection.
func (c *Channel) Stop(_ context.Context) error {
	slog.Info("stopping discord bot")
	c.SetRunning(false)
	return c.session.Close()
}

// BotUserID returns the connected account id, or "" before Start.
func (c *Channel) BotUserID() string {
	if p := c.botUserID.Load(); p != nil {
		return *p
	}
	return ""
}

// Directory exposes guild member lookups for identity resolution.
func (c *Channel) Directory() *Directory { return c.directory }

// Send delivers msg through the channel's webhook under the message persona.
func (c *Channel) Send(ctx context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	if !c.IsRunning() {
		return channels.SendResult{}, errors.New("discord bot not running")
	}
	return c.webhooks.Send(ctx, msg)
}

func (c *Channel) handleMessage(_ *discordgo.Session, m *discordgo.MessageCreate) {
	msg, ok := c.inbound(m.Message)
	if !ok {
		return
	}
	slog.Debug("discord message received",
		telemetry.FieldMessageID, msg.ID,
		telemetry.FieldChannelID, msg.ChannelID,
		telemetry.FieldSenderID, msg.SenderID,
		"automated", msg.IsAutomated(),
		telemetry.FieldPreview, textutil.Preview(msg.Content, telemetry.PreviewWidth),
	)
	if !c.HandleMessage(msg) {
		slog.Debug("discord message outside listen list", telemetry.FieldChannelID, msg.ChannelID)
	}
}

// inbound converts a gateway message, dropping what must never reach bots:
// messages without an author, our own account, and our own webhook deliveries.
func (c *Channel) inbound(m *discordgo.Message) (bus.InboundMessage, bool) {
	if m == nil || m.Author == nil {
		return bus.InboundMessage{}, false
	}
	if m.Author.ID == c.BotUserID() {
		return bus.InboundMessage{}, false
	}
	if m.WebhookID != "" && c.webhooks.Owns(m.WebhookID) {
		return bus.InboundMessage{}, false
	}
	return toInbound(m), true
}

func toInbound(m *discordgo.Message) bus.InboundMessage {
	msg := bus.InboundMessage{
		ID:               m.ID,
		Channel:          Name,
		SenderID:         m.Author.ID,
		SenderUsername:   m.Author.Username,
		SenderGlobalName: m.Author.GlobalName,
		SenderAutomated:  m.Author.Bot,
		WebhookID:        m.WebhookID,
		ChannelID:        m.ChannelID,
		GuildID:          m.GuildID,
		Content:          m.Content,
		EmbedCount:       len(m.Embeds),
		AttachmentCount:  len(m.Attachments),
		Timestamp:        m.Timestamp,
	}
	if m.Member != nil {
		msg.SenderNick = m.Member.Nick
	}
	if m.MessageReference != nil {
		msg.ReplyTo = m.MessageReference.MessageID
	}
	for _, u := range m.Mentions {
		if u != nil {
			msg.Mentions = append(msg.Mentions, u.ID)
		}
	}
	return msg
}
