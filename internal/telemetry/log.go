package telemetry

import (
	"context"
	"log/slog"
)

// LogSink writes events to a slog.Logger. Trigger evaluations are logged at
// debug level; dispatch results at info, or warn when they failed.
type LogSink struct {
	Logger *slog.Logger // nil uses slog.Default()
}

func (s LogSink) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}

func (s LogSink) TriggerEvaluated(ctx context.Context, ev TriggerEvent) {
	attrs := []any{
		FieldDispatchID, ev.DispatchID,
		FieldBot, ev.Bot,
		FieldTrigger, ev.Trigger,
		FieldConditionKind, ev.ConditionKind,
		FieldOutcome, string(ev.Outcome),
		FieldDurationMS, ev.Duration.Milliseconds(),
	}
	if ev.Err != nil {
		s.logger().WarnContext(ctx, "trigger evaluation failed", append(attrs, FieldError, ev.Err.Error())...)
		return
	}
	s.logger().DebugContext(ctx, "trigger evaluated", attrs...)
}

func (s LogSink) DispatchFinished(ctx context.Context, ev DispatchEvent) {
	attrs := []any{
		FieldDispatchID, ev.DispatchID,
		FieldBot, ev.Bot,
		FieldOutcome, string(ev.Outcome),
		FieldMessageID, ev.MessageID,
		FieldChannelID, ev.ChannelID,
		FieldDurationMS, ev.Total.Milliseconds(),
	}
	if ev.Trigger != "" {
		attrs = append(attrs, FieldTrigger, ev.Trigger)
	}
	switch ev.Outcome {
	case OutcomeFailed:
		errText := ""
		if ev.Err != nil {
			errText = ev.Err.Error()
		}
		s.logger().WarnContext(ctx, "dispatch failed", append(attrs, FieldStage, string(ev.Stage), FieldError, errText)...)
	case OutcomeDelivered, OutcomeDiscarded:
		s.logger().InfoContext(ctx, "dispatch finished", append(attrs,
			"identity_ms", ev.Identity.Milliseconds(),
			"render_ms", ev.Render.Milliseconds(),
			"delivery_ms", ev.Delivery.Milliseconds())...)
	default:
		s.logger().DebugContext(ctx, "dispatch finished", attrs...)
	}
}
