package bots

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

// RegistryConfig configures dispatch fan-out.
type RegistryConfig struct {
	// SelfID is the platform account id of this process. Messages it
	// authored are dropped before any bot sees them.
	SelfID string
	// MaxConcurrent bounds how many bots handle one message at once.
	// 1 evaluates bots sequentially in registration order; <= 0 means no limit.
	MaxConcurrent int
	// NewDispatchID generates the id shared by all reports of one message.
	// Nil uses random UUIDs.
	NewDispatchID func() string
}

// Registry holds the ordered set of bots. Reads take an immutable snapshot,
// so Register and Replace never block a dispatch in flight.
type Registry struct {
	handler *Handler
	cfg     RegistryConfig

	mu   sync.Mutex // serialises writers
	snap atomic.Pointer[[]*Bot]
}

// NewRegistry creates an empty registry dispatching through h.
func NewRegistry(h *Handler, cfg RegistryConfig) *Registry {
	if cfg.NewDispatchID == nil {
		cfg.NewDispatchID = uuid.NewString
	}
	r := &Registry{handler: h, cfg: cfg}
	r.snap.Store(&[]*Bot{})
	return r
}

// SetSelfID sets the account id used to drop self-authored messages. The
// platform only reports it after connecting.
func (r *Registry) SetSelfID(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cfg.SelfID = id
}

func (r *Registry) selfID() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.cfg.SelfID
}

// Register appends b. The first registration of a name wins; a duplicate is
// logged and ignored.
func (r *Registry) Register(b *Bot) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	cur := *r.snap.Load()
	for _, existing := range cur {
		if existing.Name == b.Name {
			slog.Warn("duplicate bot name, keeping first registration", telemetry.FieldBot, b.Name)
			return false
		}
	}
	next := make([]*Bot, len(cur), len(cur)+1)
	copy(next, cur)
	next = append(next, b)
	r.snap.Store(&next)
	return true
}

// Replace swaps the whole bot set, keeping the given order. Duplicate names
// after the first are dropped with a warning. A bot that replaces one of the
// same name inherits its last-responded time, so reloads keep open "within"
// windows. Dispatches already running finish against the previous set.
func (r *Registry) Replace(bots []*Bot) {
	next := make([]*Bot, 0, len(bots))
	seen := make(map[string]bool, len(bots))
	for _, b := range bots {
		if seen[b.Name] {
			slog.Warn("duplicate bot name, keeping first registration", telemetry.FieldBot, b.Name)
			continue
		}
		seen[b.Name] = true
		next = append(next, b)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	prev := make(map[string]*Bot, len(next))
	for _, b := range *r.snap.Load() {
		prev[b.Name] = b
	}
	for _, b := range next {
		if old, ok := prev[b.Name]; ok && old != b {
			b.inheritClock(old)
		}
	}
	r.snap.Store(&next)
}

// Bots returns the registered bots in registration order.
func (r *Registry) Bots() []*Bot {
	cur := *r.snap.Load()
	out := make([]*Bot, len(cur))
	copy(out, cur)
	return out
}

// Len returns the number of registered bots.
func (r *Registry) Len() int {
	return len(*r.snap.Load())
}

// Dispatch hands msg to every registered bot and returns one report per bot,
// in registration order. A failing or panicking bot never affects the others.
func (r *Registry) Dispatch(ctx context.Context, msg *bus.InboundMessage) []Report {
	if self := r.selfID(); self != "" && msg.SenderID == self {
		slog.Debug("dropping self-authored message", telemetry.FieldMessageID, msg.ID)
		return nil
	}

	bots := *r.snap.Load()
	if len(bots) == 0 {
		return nil
	}

	dispatchID := r.cfg.NewDispatchID()
	slog.Debug("dispatching message",
		telemetry.FieldDispatchID, dispatchID,
		telemetry.FieldMessageID, msg.ID,
		telemetry.FieldChannelID, msg.ChannelID,
		telemetry.FieldSenderID, msg.SenderID,
		telemetry.FieldPreview, textutil.Preview(msg.Content, telemetry.PreviewWidth),
		"bots", len(bots))

	reports := make([]Report, len(bots))
	var g errgroup.Group
	if r.cfg.MaxConcurrent > 0 {
		g.SetLimit(r.cfg.MaxConcurrent)
	}
	for i, b := range bots {
		g.Go(func() error {
			reports[i] = r.dispatchOne(ctx, b, msg, dispatchID)
			return nil
		})
	}
	_ = g.Wait()
	return reports
}

func (r *Registry) dispatchOne(ctx context.Context, b *Bot, msg *bus.InboundMessage, dispatchID string) (rep Report) {
	defer func() {
		if p := recover(); p != nil {
			slog.Error("bot dispatch panicked", telemetry.FieldBot, b.Name, "panic", p)
			rep = Report{
				DispatchID: dispatchID,
				Bot:        b.Name,
				Outcome:    telemetry.OutcomeFailed,
				Err:        fmt.Errorf("panic: %v", p),
			}
		}
	}()
	return r.handler.Handle(ctx, b, msg, dispatchID)
}
