package telemetry

import (
	"context"
	"time"
)

// Outcome is the terminal state of one (bot, message) dispatch.
type Outcome string

const (
	OutcomeSkipped   Outcome = "skipped"   // sender class filtered out
	OutcomeNoMatch   Outcome = "no_match"  // no trigger matched
	OutcomeDelivered Outcome = "delivered" // response posted
	OutcomeDiscarded Outcome = "discarded" // response rendered, dropped by the sender's filter
	OutcomeFailed    Outcome = "failed"    // matched trigger failed downstream
)

// Stage names where a matched trigger failed.
type Stage string

const (
	StageIdentity Stage = "identity"
	StageRespond  Stage = "respond"
	StageDeliver  Stage = "deliver"
)

// TriggerOutcome is the result of evaluating one trigger's condition.
type TriggerOutcome string

const (
	TriggerMatched    TriggerOutcome = "matched"
	TriggerNotMatched TriggerOutcome = "not_matched"
	TriggerError      TriggerOutcome = "error"
)

// TriggerEvent describes one condition evaluation.
type TriggerEvent struct {
	DispatchID    string
	Bot           string
	Trigger       string
	ConditionKind string
	Outcome       TriggerOutcome
	Err           error
	Duration      time.Duration
}

// DispatchEvent describes the end of one (bot, message) dispatch.
// The stage durations are only set once a trigger matched.
type DispatchEvent struct {
	DispatchID string
	Bot        string
	MessageID  string
	ChannelID  string
	GuildID    string
	Trigger    string
	Outcome    Outcome
	Stage      Stage
	Err        error

	Identity time.Duration
	Render   time.Duration
	Delivery time.Duration
	Total    time.Duration
	At       time.Time
}

// Sink receives dispatch events. Implementations must be safe for concurrent
// use and must not block for long: they run on the dispatch path.
type Sink interface {
	TriggerEvaluated(ctx context.Context, ev TriggerEvent)
	DispatchFinished(ctx context.Context, ev DispatchEvent)
}

// Nop discards every event.
type Nop struct{}

func (Nop) TriggerEvaluated(context.Context, TriggerEvent)   {}
func (Nop) DispatchFinished(context.Context, DispatchEvent) {}

// Multi fans events out to several sinks in order.
type Multi []Sink

func (m Multi) TriggerEvaluated(ctx context.Context, ev TriggerEvent) {
	for _, s := range m {
		s.TriggerEvaluated(ctx, ev)
	}
}

func (m Multi) DispatchFinished(ctx context.Context, ev DispatchEvent) {
	for _, s := range m {
		s.DispatchFinished(ctx, ev)
	}
}
