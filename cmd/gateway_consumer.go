package cmd

import (
	"context"
	"log/slog"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/bots"
	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

// consumeInboundMessages dispatches inbound messages to the registry one at a
// time, in arrival order, until ctx is done. Each message gets timeout to
// finish its whole fan-out.
func consumeInboundMessages(ctx context.Context, router bus.MessageRouter, registry *bots.Registry, timeout time.Duration) {
	slog.Info("inbound message consumer started")
	for {
		msg, ok := router.ConsumeInbound(ctx)
		if !ok {
			slog.Info("inbound message consumer stopped")
			return
		}
		dispatchOne(ctx, registry, &msg, timeout)
	}
}

func dispatchOne(ctx context.Context, registry *bots.Registry, msg *bus.InboundMessage, timeout time.Duration) []bots.Report {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	reports := registry.Dispatch(ctx, msg)

	var delivered, failed int
	for _, r := range reports {
		switch r.Outcome {
		case telemetry.OutcomeDelivered:
			delivered++
		case telemetry.OutcomeFailed:
			failed++
		}
	}
	if len(reports) > 0 {
		slog.Debug("message dispatched",
			telemetry.FieldMessageID, msg.ID,
			"bots", len(reports),
			"delivered", delivered,
			"failed", failed,
			telemetry.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	}
	return reports
}
