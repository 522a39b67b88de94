package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics records dispatch counters and latency histograms through the
// OpenTelemetry metric API. Without a configured MeterProvider the
// instruments are no-ops.
type Metrics struct {
	triggers   metric.Int64Counter
	dispatches metric.Int64Counter
	latency    metric.Float64Histogram
	delivery   metric.Float64Histogram
}

// NewMetrics creates the instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	triggers, err := meter.Int64Counter("chorus.trigger.evaluations",
		metric.WithDescription("Trigger condition evaluations by outcome."))
	if err != nil {
		return nil, fmt.Errorf("trigger counter: %w", err)
	}
	dispatches, err := meter.Int64Counter("chorus.dispatches",
		metric.WithDescription("Per-bot dispatches by outcome."))
	if err != nil {
		return nil, fmt.Errorf("dispatch counter: %w", err)
	}
	latency, err := meter.Float64Histogram("chorus.dispatch.duration",
		metric.WithDescription("End-to-end per-bot dispatch latency."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("dispatch histogram: %w", err)
	}
	delivery, err := meter.Float64Histogram("chorus.delivery.duration",
		metric.WithDescription("Time spent posting a response."),
		metric.WithUnit("ms"))
	if err != nil {
		return nil, fmt.Errorf("delivery histogram: %w", err)
	}
	return &Metrics{triggers: triggers, dispatches: dispatches, latency: latency, delivery: delivery}, nil
}

func (m *Metrics) TriggerEvaluated(ctx context.Context, ev TriggerEvent) {
	m.triggers.Add(ctx, 1, metric.WithAttributes(
		attribute.String(FieldBot, ev.Bot),
		attribute.String(FieldConditionKind, ev.ConditionKind),
		attribute.String(FieldOutcome, string(ev.Outcome)),
	))
}

func (m *Metrics) DispatchFinished(ctx context.Context, ev DispatchEvent) {
	attrs := metric.WithAttributes(
		attribute.String(FieldBot, ev.Bot),
		attribute.String(FieldOutcome, string(ev.Outcome)),
	)
	m.dispatches.Add(ctx, 1, attrs)
	m.latency.Record(ctx, ms(ev.Total.Seconds()), attrs)
	if ev.Outcome == OutcomeDelivered || ev.Outcome == OutcomeDiscarded {
		m.delivery.Record(ctx, ms(ev.Delivery.Seconds()), attrs)
	}
}

func ms(seconds float64) float64 { return seconds * 1000 }
