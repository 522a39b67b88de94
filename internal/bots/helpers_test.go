package bots

import (
	"context"
	"errors"
	"sync"
	"testing"

	"go.uber.org/goleak"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/condition"
	"github.com/nextlevelbuilder/chorus/internal/identity"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeSender struct {
	mu      sync.Mutex
	sent    []bus.OutboundMessage
	err     error
	discard bool
}

func (s *fakeSender) Send(_ context.Context, msg bus.OutboundMessage) (channels.SendResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return channels.SendResult{}, s.err
	}
	s.sent = append(s.sent, msg)
	return channels.SendResult{Discarded: s.discard}, nil
}

func (s *fakeSender) messages() []bus.OutboundMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]bus.OutboundMessage(nil), s.sent...)
}

func (s *fakeSender) reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}

type recordingSink struct {
	mu         sync.Mutex
	triggers   []telemetry.TriggerEvent
	dispatches []telemetry.DispatchEvent
}

func (r *recordingSink) TriggerEvaluated(_ context.Context, ev telemetry.TriggerEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.triggers = append(r.triggers, ev)
}

func (r *recordingSink) DispatchFinished(_ context.Context, ev telemetry.DispatchEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.dispatches = append(r.dispatches, ev)
}

type failingResolver struct{ err error }

func (f failingResolver) Strategy() string { return "failing" }

func (f failingResolver) Resolve(context.Context, *bus.InboundMessage) (identity.Identity, error) {
	return identity.Identity{}, f.err
}

var errBoom = errors.New("boom")

func staticIdentity(t *testing.T, name string) identity.Resolver {
	t.Helper()
	s, err := identity.NewStatic(identity.Identity{DisplayName: name, AvatarURL: "https://cdn.test/" + name + ".png"})
	if err != nil {
		t.Fatal(err)
	}
	return s
}

// countingCond matches according to v and counts evaluations.
func countingCond(v bool, n *int) condition.Condition {
	return condition.Func(func(context.Context, *bus.InboundMessage) (bool, error) {
		*n++
		return v, nil
	})
}

func countingResponder(text string, n *int) Responder {
	return ResponderFunc(func(context.Context, *bus.InboundMessage) (string, error) {
		*n++
		return text, nil
	})
}

func humanMsg(content string) *bus.InboundMessage {
	return &bus.InboundMessage{
		ID:        "m1",
		Channel:   "discord",
		SenderID:  "100000000000000001",
		ChannelID: "200000000000000002",
		GuildID:   "300000000000000003",
		Content:   content,
	}
}
