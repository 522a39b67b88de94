package discord

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/bwmarrin/discordgo"
	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/identity"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const selfID = "900000000000000009"

type fakeWebhookAPI struct {
	mu       sync.Mutex
	existing []*discordgo.Webhook
	created  int
	listed   int
	executed []discordgo.WebhookParams
	execErrs []error // consumed one per execution

	// when set, listing waits for block to close or the request context to end
	block   chan struct{}
	entered chan struct{}
}

// requestContext recovers the context a caller attached with discordgo.WithContext.
func requestContext(opts []discordgo.RequestOption) context.Context {
	cfg := &discordgo.RequestConfig{Request: httptest.NewRequest(http.MethodGet, "/", nil)}
	for _, o := range opts {
		o(cfg)
	}
	return cfg.Request.Context()
}

func (f *fakeWebhookAPI) ChannelWebhooks(channelID string, opts ...discordgo.RequestOption) ([]*discordgo.Webhook, error) {
	if f.block != nil {
		select {
		case f.entered <- struct{}{}:
		default:
		}
		ctx := requestContext(opts)
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listed++
	return f.existing, nil
}

func (f *fakeWebhookAPI) WebhookCreate(channelID, name, _ string, _ ...discordgo.RequestOption) (*discordgo.Webhook, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.created++
	return &discordgo.Webhook{
		ID:        "hook-" + string(rune('0'+f.created)),
		ChannelID: channelID,
		Name:      name,
		Token:     "token",
		User:      &discordgo.User{ID: selfID},
	}, nil
}

func (f *fakeWebhookAPI) WebhookExecute(_, _ string, _ bool, data *discordgo.WebhookParams, _ ...discordgo.RequestOption) (*discordgo.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.execErrs) > 0 {
		err := f.execErrs[0]
		f.execErrs = f.execErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	f.executed = append(f.executed, *data)
	return &discordgo.Message{}, nil
}

func restErr(status, code int) error {
	return &discordgo.RESTError{
		Response: &http.Response{StatusCode: status},
		Message:  &discordgo.APIErrorMessage{Code: code, Message: "nope"},
	}
}

func newSender(api webhookAPI, debug channels.DebugFilter) *WebhookSender {
	return NewWebhookSender(api, WebhookOptions{
		Name:   "chorus",
		Debug:  debug,
		SelfID: func() string { return selfID },
	})
}

func outbound(content string) bus.OutboundMessage {
	return bus.OutboundMessage{
		Channel:     Name,
		ChannelID:   "200000000000000002",
		Content:     content,
		DisplayName: "Echo",
		AvatarURL:   "https://cdn.test/echo.png",
	}
}

func TestWebhookSender_CreatesOnceAndOverridesPersona(t *testing.T) {
	api := &fakeWebhookAPI{}
	s := newSender(api, channels.DebugFilter{})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Send(context.Background(), outbound("hi")); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	if api.created != 1 {
		t.Errorf("created %d webhooks, want 1", api.created)
	}
	if len(api.executed) != 8 {
		t.Fatalf("executed %d", len(api.executed))
	}
	p := api.executed[0]
	if p.Username != "Echo" || p.AvatarURL != "https://cdn.test/echo.png" {
		t.Errorf("persona not applied: %+v", p)
	}
	if p.AllowedMentions == nil || len(p.AllowedMentions.Parse) != 0 {
		t.Errorf("allowed mentions = %+v", p.AllowedMentions)
	}
	if !s.Owns("hook-1") {
		t.Error("created webhook not recorded as owned")
	}
}

func TestWebhookSender_ReusesOwnedWebhook(t *testing.T) {
	api := &fakeWebhookAPI{existing: []*discordgo.Webhook{
		{ID: "foreign", Name: "chorus", Token: "t", User: &discordgo.User{ID: "1"}},
		{ID: "other-name", Name: "captain-hook", Token: "t", User: &discordgo.User{ID: selfID}},
		{ID: "mine", Name: "chorus", Token: "t", User: &discordgo.User{ID: selfID}},
	}}
	s := newSender(api, channels.DebugFilter{})
	if _, err := s.Send(context.Background(), outbound("hi")); err != nil {
		t.Fatal(err)
	}
	if api.created != 0 || !s.Owns("mine") || s.Owns("foreign") {
		t.Errorf("created=%d owns(mine)=%v owns(foreign)=%v", api.created, s.Owns("mine"), s.Owns("foreign"))
	}
}

func TestWebhookSender_RecreatesDeletedWebhook(t *testing.T) {
	api := &fakeWebhookAPI{execErrs: []error{restErr(http.StatusNotFound, discordgo.ErrCodeUnknownWebhook)}}
	s := newSender(api, channels.DebugFilter{})
	if _, err := s.Send(context.Background(), outbound("hi")); err != nil {
		t.Fatal(err)
	}
	if api.created != 2 || len(api.executed) != 1 {
		t.Errorf("created=%d executed=%d", api.created, len(api.executed))
	}
}

func TestWebhookSender_Errors(t *testing.T) {
	api := &fakeWebhookAPI{execErrs: []error{restErr(http.StatusForbidden, discordgo.ErrCodeMissingPermissions)}}
	s := newSender(api, channels.DebugFilter{})
	if _, err := s.Send(context.Background(), outbound("hi")); err == nil {
		t.Fatal("expected execute error")
	}
	if _, err := s.Send(context.Background(), outbound("  ")); err == nil {
		t.Fatal("expected empty content error")
	}
	msg := outbound("hi")
	msg.ChannelID = ""
	if _, err := s.Send(context.Background(), msg); err == nil {
		t.Fatal("expected missing channel error")
	}
}

func TestWebhookSender_DebugFilterDiscards(t *testing.T) {
	api := &fakeWebhookAPI{}
	s := newSender(api, channels.NewDebugFilter(true, []string{"1"}))
	res, err := s.Send(context.Background(), outbound("hi"))
	if err != nil || !res.Discarded {
		t.Fatalf("res=%+v err=%v", res, err)
	}
	if api.listed != 0 || len(api.executed) != 0 {
		t.Error("discarded message reached the API")
	}
}

func TestWebhookSender_ChunksAndTruncatesName(t *testing.T) {
	api := &fakeWebhookAPI{}
	s := newSender(api, channels.DebugFilter{})
	msg := outbound(strings.Repeat("é", 4500))
	msg.DisplayName = strings.Repeat("n", 100)
	if _, err := s.Send(context.Background(), msg); err != nil {
		t.Fatal(err)
	}
	if len(api.executed) != 3 {
		t.Fatalf("sent %d chunks, want 3", len(api.executed))
	}
	for _, p := range api.executed {
		if n := utf8.RuneCountInString(p.Content); n > maxMessageRunes {
			t.Errorf("chunk of %d runes", n)
		}
		if utf8.RuneCountInString(p.Username) != maxUsernameRunes {
			t.Errorf("username length %d", len(p.Username))
		}
	}
}

func TestSplitMessage(t *testing.T) {
	if got := splitMessage("short", 10); len(got) != 1 || got[0] != "short" {
		t.Errorf("short = %q", got)
	}

	text := strings.Repeat("a", 8) + "\n" + strings.Repeat("b", 8)
	got := splitMessage(text, 10)
	if len(got) != 2 || got[0] != strings.Repeat("a", 8)+"\n" || got[1] != strings.Repeat("b", 8) {
		t.Errorf("newline split = %q", got)
	}

	// a newline too early is ignored
	text = "a\n" + strings.Repeat("b", 15)
	got = splitMessage(text, 10)
	if len(got) != 2 || utf8.RuneCountInString(got[0]) != 10 {
		t.Errorf("hard split = %q", got)
	}
	if strings.Join(got, "") != text {
		t.Error("split lost content")
	}
}

func TestChannel_Inbound(t *testing.T) {
	b := bus.NewWithBuffer(4)
	api := &fakeWebhookAPI{}
	c := &Channel{
		BaseChannel: channels.NewBaseChannel(Name, b, nil),
		webhooks:    newSender(api, channels.DebugFilter{}),
	}
	id := selfID
	c.botUserID.Store(&id)
	if _, err := c.webhooks.Send(context.Background(), outbound("hi")); err != nil {
		t.Fatal(err)
	}

	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	human := &discordgo.Message{
		ID:               "m1",
		ChannelID:        "200000000000000002",
		GuildID:          "300000000000000003",
		Content:          "hello <@1>",
		Timestamp:        ts,
		Author:           &discordgo.User{ID: "100000000000000001", Username: "ann", GlobalName: "Ann"},
		Member:           &discordgo.Member{Nick: "annie"},
		Mentions:         []*discordgo.User{{ID: "1"}},
		MessageReference: &discordgo.MessageReference{MessageID: "m0"},
		Embeds:           []*discordgo.MessageEmbed{{}},
	}
	msg, ok := c.inbound(human)
	if !ok {
		t.Fatal("human message dropped")
	}
	if msg.SenderNick != "annie" || msg.SenderGlobalName != "Ann" || msg.ReplyTo != "m0" ||
		!msg.Mentioned("1") || msg.EmbedCount != 1 || !msg.Timestamp.Equal(ts) || msg.IsAutomated() {
		t.Errorf("converted = %+v", msg)
	}

	drops := map[string]*discordgo.Message{
		"no author":   {ID: "x"},
		"self":        {ID: "x", Author: &discordgo.User{ID: selfID}},
		"own webhook": {ID: "x", WebhookID: "hook-1", Author: &discordgo.User{ID: "hook-1", Bot: true}},
	}
	for name, m := range drops {
		if _, ok := c.inbound(m); ok {
			t.Errorf("%s: not dropped", name)
		}
	}

	foreign := &discordgo.Message{ID: "x", WebhookID: "other", Author: &discordgo.User{ID: "other", Bot: true}}
	if msg, ok := c.inbound(foreign); !ok || !msg.IsAutomated() {
		t.Error("foreign webhook message should pass as automated")
	}
}

type fakeMemberAPI struct {
	mu      sync.Mutex
	members map[string]*discordgo.Member
	pages   int
	err     error
	block   chan struct{} // when set, listing waits for it or the request context
}

func (f *fakeMemberAPI) GuildMember(_, userID string, _ ...discordgo.RequestOption) (*discordgo.Member, error) {
	if f.err != nil {
		return nil, f.err
	}
	m, ok := f.members[userID]
	if !ok {
		return nil, restErr(http.StatusNotFound, discordgo.ErrCodeUnknownMember)
	}
	return m, nil
}

func (f *fakeMemberAPI) GuildMembers(_, after string, limit int, opts ...discordgo.RequestOption) ([]*discordgo.Member, error) {
	if f.block != nil {
		ctx := requestContext(opts)
		select {
		case <-f.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.pages++
	if after != "" {
		return nil, nil
	}
	return []*discordgo.Member{
		{User: &discordgo.User{ID: "1"}},
		{User: &discordgo.User{ID: "2", Bot: true}},
		{User: &discordgo.User{ID: "3"}},
	}, nil
}

func (f *fakeMemberAPI) User(userID string, _ ...discordgo.RequestOption) (*discordgo.User, error) {
	if userID == "404" {
		return nil, restErr(http.StatusNotFound, discordgo.ErrCodeUnknownUser)
	}
	return &discordgo.User{ID: userID, Username: "dm-" + userID}, nil
}

// TestWebhookSender_LookupOutlivesCancelledCaller verifies that a caller
// giving up on a shared webhook lookup does not fail the lookup for others.
func TestWebhookSender_LookupOutlivesCancelledCaller(t *testing.T) {
	api := &fakeWebhookAPI{block: make(chan struct{}), entered: make(chan struct{}, 1)}
	s := newSender(api, channels.DebugFilter{})
	const channelID = "200000000000000002"

	ctx, cancel := context.WithCancel(context.Background())
	first := make(chan error, 1)
	go func() {
		_, err := s.hook(ctx, channelID)
		first <- err
	}()
	<-api.entered

	second := make(chan *discordgo.Webhook, 1)
	secondErr := make(chan error, 1)
	go func() {
		h, err := s.hook(context.Background(), channelID)
		second <- h
		secondErr <- err
	}()

	cancel()
	if err := <-first; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", err)
	}
	close(api.block)

	h := <-second
	if err := <-secondErr; err != nil {
		t.Fatalf("waiting caller failed: %v", err)
	}
	if h.ID != "hook-1" {
		t.Errorf("hook = %s", h.ID)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.created != 1 {
		t.Errorf("created %d webhooks, want 1", api.created)
	}
}

func TestDirectory_Member(t *testing.T) {
	api := &fakeMemberAPI{members: map[string]*discordgo.Member{
		"100000000000000001": {Nick: "annie", User: &discordgo.User{ID: "100000000000000001", Username: "ann", Avatar: "abc"}},
	}}
	d := NewDirectory(api, nil, time.Minute)
	ctx := context.Background()

	m, err := d.Member(ctx, "g", "100000000000000001")
	if err != nil {
		t.Fatal(err)
	}
	if m.DisplayName() != "annie" || !strings.Contains(m.AvatarURL, "abc") {
		t.Errorf("member = %+v", m)
	}

	if _, err := d.Member(ctx, "g", "missing"); !errors.Is(err, identity.ErrMemberNotFound) {
		t.Errorf("missing member err = %v", err)
	}

	dm, err := d.Member(ctx, "", "100000000000000007")
	if err != nil || dm.Username != "dm-100000000000000007" {
		t.Errorf("dm = %+v, %v", dm, err)
	}
	if _, err := d.Member(ctx, "", "404"); !errors.Is(err, identity.ErrMemberNotFound) {
		t.Errorf("unknown user err = %v", err)
	}

	api.err = restErr(http.StatusInternalServerError, 0)
	if _, err := d.Member(ctx, "g", "100000000000000001"); err == nil || errors.Is(err, identity.ErrMemberNotFound) {
		t.Errorf("server error mapped to %v", err)
	}
}

func TestDirectory_MemberIDsCached(t *testing.T) {
	api := &fakeMemberAPI{}
	d := NewDirectory(api, nil, time.Minute)
	now := time.Unix(1_700_000_000, 0)
	d.now = func() time.Time { return now }

	ids, err := d.MemberIDs(context.Background(), "g")
	if err != nil || len(ids) != 2 || ids[0] != "1" || ids[1] != "3" {
		t.Fatalf("ids = %v, %v", ids, err)
	}
	if _, err := d.MemberIDs(context.Background(), "g"); err != nil || api.pages != 1 {
		t.Errorf("pages = %d, want cached result", api.pages)
	}

	now = now.Add(2 * time.Minute)
	if _, err := d.MemberIDs(context.Background(), "g"); err != nil || api.pages != 2 {
		t.Errorf("pages = %d after expiry", api.pages)
	}
}

func TestDirectory_MemberIDsSurvivesCancelledCaller(t *testing.T) {
	api := &fakeMemberAPI{block: make(chan struct{})}
	d := NewDirectory(api, nil, time.Minute)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := d.MemberIDs(ctx, "300000000000000003"); !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v", err)
	}

	// the listing started for the cancelled caller still completes
	close(api.block)
	ids, err := d.MemberIDs(context.Background(), "300000000000000003")
	if err != nil {
		t.Fatal(err)
	}
	if strings.Join(ids, ",") != "1,3" {
		t.Errorf("ids = %v", ids)
	}
	api.mu.Lock()
	defer api.mu.Unlock()
	if api.pages != 1 {
		t.Errorf("listed %d pages, want 1", api.pages)
	}
}
