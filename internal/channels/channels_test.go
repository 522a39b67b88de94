package channels

import (
	"context"
	"errors"
	"strconv"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

type stubChannel struct {
	*BaseChannel
	startErr error
	sent     []bus.OutboundMessage
}

func (c *stubChannel) Start(context.Context) error {
	if c.startErr != nil {
		return c.startErr
	}
	c.SetRunning(true)
	return nil
}

func (c *stubChannel) Stop(context.Context) error {
	c.SetRunning(false)
	return nil
}

func (c *stubChannel) Send(_ context.Context, msg bus.OutboundMessage) (SendResult, error) {
	c.sent = append(c.sent, msg)
	return SendResult{}, nil
}

func TestBaseChannel_ListenList(t *testing.T) {
	b := bus.NewWithBuffer(4)
	ch := NewBaseChannel("discord", b, []string{"200000000000000002"})

	if ch.HandleMessage(bus.InboundMessage{ID: "1", ChannelID: "999999999999999999"}) {
		t.Fatal("message from unlisted channel accepted")
	}
	if !ch.HandleMessage(bus.InboundMessage{ID: "2", ChannelID: "200000000000000002"}) {
		t.Fatal("message from listed channel rejected")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	msg, ok := b.ConsumeInbound(ctx)
	if !ok || msg.ID != "2" || msg.Channel != "discord" {
		t.Fatalf("consumed %+v, %v", msg, ok)
	}

	open := NewBaseChannel("discord", b, nil)
	if !open.IsAllowed("anything") {
		t.Error("empty listen list should accept every channel")
	}
}

func TestDebugFilter(t *testing.T) {
	var zero DebugFilter
	if !zero.Permits("1") {
		t.Error("zero filter should permit")
	}
	off := NewDebugFilter(false, []string{"1"})
	if !off.Permits("2") {
		t.Error("disabled filter should permit")
	}
	on := NewDebugFilter(true, []string{"1"})
	if !on.Permits("1") || on.Permits("2") {
		t.Error("enabled filter should only permit whitelisted channels")
	}
}

func TestManager_SendAndLifecycle(t *testing.T) {
	m := NewManager()
	good := &stubChannel{BaseChannel: NewBaseChannel("discord", bus.New(), nil)}
	bad := &stubChannel{BaseChannel: NewBaseChannel("broken", bus.New(), nil), startErr: errors.New("no token")}
	m.RegisterChannel(good)
	m.RegisterChannel(bad)

	if got := m.EnabledChannels(); len(got) != 2 || got[0] != "broken" || got[1] != "discord" {
		t.Fatalf("EnabledChannels() = %v", got)
	}
	if err := m.StartAll(context.Background()); err != nil {
		t.Fatalf("StartAll: %v", err)
	}
	if st := m.Status(); !st["discord"] || st["broken"] {
		t.Errorf("status = %v", st)
	}

	if _, err := m.Send(context.Background(), bus.OutboundMessage{Channel: "discord", Content: "hi"}); err != nil {
		t.Fatal(err)
	}
	if len(good.sent) != 1 {
		t.Errorf("sent %d", len(good.sent))
	}
	if _, err := m.Send(context.Background(), bus.OutboundMessage{Channel: "irc"}); err == nil {
		t.Error("expected unknown channel error")
	}

	m.StopAll(context.Background())
	if good.IsRunning() {
		t.Error("channel still running after StopAll")
	}
}

func TestManager_StartAllFailsWhenNoneStart(t *testing.T) {
	m := NewManager()
	m.RegisterChannel(&stubChannel{BaseChannel: NewBaseChannel("broken", bus.New(), nil), startErr: errors.New("no token")})
	if err := m.StartAll(context.Background()); err == nil {
		t.Fatal("expected error")
	}
}

func TestChannelLimiter_Burst(t *testing.T) {
	l := NewChannelLimiter(time.Hour, 2)
	if !l.Allow("a") || !l.Allow("a") {
		t.Fatal("burst not honored")
	}
	if l.Allow("a") {
		t.Fatal("third delivery allowed inside the interval")
	}
	if !l.Allow("b") {
		t.Fatal("channels must not share a bucket")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	if err := l.Wait(ctx, "a"); err == nil {
		t.Fatal("Wait should fail when the deadline is shorter than the refill")
	}
}

func TestChannelLimiter_Unpaced(t *testing.T) {
	l := NewChannelLimiter(0, 1)
	for i := 0; i < 100; i++ {
		if !l.Allow("a") {
			t.Fatalf("delivery %d blocked with pacing disabled", i)
		}
	}
}

func TestChannelLimiter_KeyCap(t *testing.T) {
	l := NewChannelLimiter(time.Second, 1)
	base := time.Unix(1_700_000_000, 0)
	l.now = func() time.Time { return base }

	for i := 0; i < maxTrackedKeys; i++ {
		l.Allow(strconv.Itoa(i))
	}
	if l.Len() != maxTrackedKeys {
		t.Fatalf("Len() = %d", l.Len())
	}

	// idle entries are pruned first
	l.now = func() time.Time { return base.Add(idleLimiterTTL) }
	l.Allow("fresh")
	if l.Len() != 1 {
		t.Fatalf("after pruning Len() = %d, want 1", l.Len())
	}

	for i := 0; i < maxTrackedKeys+10; i++ {
		l.Allow("k" + strconv.Itoa(i))
	}
	if l.Len() > maxTrackedKeys {
		t.Fatalf("Len() = %d exceeds cap", l.Len())
	}
}
