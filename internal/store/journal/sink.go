package journal

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

const (
	defaultSinkBuffer = 512
	writeTimeout      = 5 * time.Second
)

// Sink is a telemetry.Sink that writes dispatch events to a Journal from a
// background goroutine so database latency stays off the dispatch path.
// Events are dropped with a warning when the buffer is full.
type Sink struct {
	journal *Journal
	events  chan telemetry.DispatchEvent
	done    chan struct{}

	closeOnce sync.Once
	mu        sync.RWMutex
	closed    bool
}

var _ telemetry.Sink = (*Sink)(nil)

// NewSink starts a writer over j. Close must be called to flush and stop it.
func NewSink(j *Journal, buffer int) *Sink {
	if buffer <= 0 {
		buffer = defaultSinkBuffer
	}
	s := &Sink{
		journal: j,
		events:  make(chan telemetry.DispatchEvent, buffer),
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

// TriggerEvaluated is not journaled; per-trigger detail goes to logs and traces.
func (s *Sink) TriggerEvaluated(context.Context, telemetry.TriggerEvent) {}

// DispatchFinished queues ev for writing.
func (s *Sink) DispatchFinished(_ context.Context, ev telemetry.DispatchEvent) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return
	}
	select {
	case s.events <- ev:
	default:
		slog.Warn("journal buffer full, dropping dispatch",
			telemetry.FieldDispatchID, ev.DispatchID,
			telemetry.FieldBot, ev.Bot,
		)
	}
}

// Close writes the queued events and stops the writer. It does not close the
// Journal.
func (s *Sink) Close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closed = true
		close(s.events)
		s.mu.Unlock()
		<-s.done
	})
}

func (s *Sink) run() {
	defer close(s.done)
	for ev := range s.events {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		if err := s.journal.Record(ctx, ev); err != nil {
			slog.Warn("journal write failed", telemetry.FieldDispatchID, ev.DispatchID, telemetry.FieldError, err)
		}
		cancel()
	}
}
