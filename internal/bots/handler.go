package bots

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/channels"
	"github.com/nextlevelbuilder/chorus/internal/condition"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
	"github.com/nextlevelbuilder/chorus/internal/template"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

const tracerName = "github.com/nextlevelbuilder/chorus/internal/bots"

// Report is the result of dispatching one message to one bot.
type Report struct {
	DispatchID string
	Bot        string
	Trigger    string // matched trigger, empty unless one matched
	Outcome    telemetry.Outcome
	Stage      telemetry.Stage // set when Outcome is failed after a match
	Err        error

	Identity time.Duration
	Render   time.Duration
	Delivery time.Duration
	Total    time.Duration
}

// Handler runs the per-bot state machine: sender filter, ordered trigger
// evaluation, then identity, response, template and delivery for the first
// matching trigger.
type Handler struct {
	sender    channels.Sender
	templates *template.Resolver
	sink      telemetry.Sink
	tracer    trace.Tracer
	now       func() time.Time
}

// HandlerConfig holds the handler's collaborators. Only Sender is required.
type HandlerConfig struct {
	Sender    channels.Sender
	Templates *template.Resolver // nil uses template.New()
	Sink      telemetry.Sink     // nil discards events
	Tracer    trace.Tracer       // nil uses the global provider
	Now       func() time.Time   // nil uses time.Now
}

// NewHandler creates a Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	h := &Handler{
		sender:    cfg.Sender,
		templates: cfg.Templates,
		sink:      cfg.Sink,
		tracer:    cfg.Tracer,
		now:       cfg.Now,
	}
	if h.templates == nil {
		h.templates = template.New()
	}
	if h.sink == nil {
		h.sink = telemetry.Nop{}
	}
	if h.tracer == nil {
		h.tracer = otel.Tracer(tracerName)
	}
	if h.now == nil {
		h.now = time.Now
	}
	return h
}

// Handle dispatches msg to bot. It never panics and never returns an error:
// every failure is reported in the Report.
func (h *Handler) Handle(ctx context.Context, bot *Bot, msg *bus.InboundMessage, dispatchID string) (rep Report) {
	start := h.now()
	rep = Report{DispatchID: dispatchID, Bot: bot.Name}

	ctx, span := h.tracer.Start(ctx, "bot.dispatch", trace.WithAttributes(
		attribute.String(telemetry.FieldDispatchID, dispatchID),
		attribute.String(telemetry.FieldBot, bot.Name),
		attribute.String(telemetry.FieldMessageID, msg.ID),
		attribute.String(telemetry.FieldChannelID, msg.ChannelID),
	))

	defer func() {
		if r := recover(); r != nil {
			rep.Outcome = telemetry.OutcomeFailed
			rep.Err = fmt.Errorf("panic: %v", r)
			slog.Error("bot handler panicked",
				telemetry.FieldBot, bot.Name,
				telemetry.FieldDispatchID, dispatchID,
				"panic", r,
				"stack", string(debug.Stack()))
		}
		rep.Total = h.now().Sub(start)

		span.SetAttributes(attribute.String(telemetry.FieldOutcome, string(rep.Outcome)))
		if rep.Trigger != "" {
			span.SetAttributes(attribute.String(telemetry.FieldTrigger, rep.Trigger))
		}
		if rep.Err != nil {
			span.RecordError(rep.Err)
			span.SetStatus(codes.Error, rep.Err.Error())
		}
		span.End()

		h.sink.DispatchFinished(ctx, telemetry.DispatchEvent{
			DispatchID: dispatchID,
			Bot:        bot.Name,
			MessageID:  msg.ID,
			ChannelID:  msg.ChannelID,
			GuildID:    msg.GuildID,
			Trigger:    rep.Trigger,
			Outcome:    rep.Outcome,
			Stage:      rep.Stage,
			Err:        rep.Err,
			Identity:   rep.Identity,
			Render:     rep.Render,
			Delivery:   rep.Delivery,
			Total:      rep.Total,
			At:         start,
		})
	}()

	if !bot.accepts(msg) {
		rep.Outcome = telemetry.OutcomeSkipped
		return rep
	}

	for i := range bot.Triggers {
		tr := &bot.Triggers[i]
		evalStart := h.now()
		res := condition.Eval(ctx, tr.Condition, msg)

		ev := telemetry.TriggerEvent{
			DispatchID:    dispatchID,
			Bot:           bot.Name,
			Trigger:       tr.Name,
			ConditionKind: string(tr.Meta.ConditionKind),
			Duration:      h.now().Sub(evalStart),
		}
		switch {
		case res.Err != nil:
			ev.Outcome, ev.Err = telemetry.TriggerError, res.Err
			h.sink.TriggerEvaluated(ctx, ev)
			if ctxErr := ctx.Err(); ctxErr != nil && errors.Is(res.Err, ctxErr) {
				rep.Outcome, rep.Err = telemetry.OutcomeFailed, ctxErr
				return rep
			}
			continue
		case !res.Matched:
			ev.Outcome = telemetry.TriggerNotMatched
			h.sink.TriggerEvaluated(ctx, ev)
			continue
		}

		ev.Outcome = telemetry.TriggerMatched
		h.sink.TriggerEvaluated(ctx, ev)
		rep.Trigger = tr.Name
		h.respond(ctx, bot, tr, msg, &rep)
		return rep
	}

	rep.Outcome = telemetry.OutcomeNoMatch
	return rep
}

// respond runs the post-match pipeline. A failure at any stage ends the
// dispatch; later triggers are never tried.
func (h *Handler) respond(ctx context.Context, bot *Bot, tr *Trigger, msg *bus.InboundMessage, rep *Report) {
	fail := func(stage telemetry.Stage, err error) {
		rep.Outcome, rep.Stage, rep.Err = telemetry.OutcomeFailed, stage, err
	}

	t0 := h.now()
	if bot.Identity == nil {
		fail(telemetry.StageIdentity, errors.New("bot has no identity resolver"))
		return
	}
	id, err := bot.Identity.Resolve(ctx, msg)
	if err == nil {
		err = id.Validate()
	}
	rep.Identity = h.now().Sub(t0)
	if err != nil {
		fail(telemetry.StageIdentity, fmt.Errorf("resolve %s identity: %w", bot.Identity.Strategy(), err))
		return
	}

	t1 := h.now()
	if tr.Response == nil {
		fail(telemetry.StageRespond, errors.New("trigger has no responder"))
		return
	}
	raw, err := tr.Response.Respond(ctx, msg)
	if err != nil {
		fail(telemetry.StageRespond, err)
		return
	}
	content := h.templates.Resolve(raw, msg)
	rep.Render = h.now().Sub(t1)
	if strings.TrimSpace(content) == "" {
		fail(telemetry.StageRespond, errors.New("response rendered empty"))
		return
	}

	t2 := h.now()
	res, err := h.sender.Send(ctx, bus.OutboundMessage{
		Channel:     msg.Channel,
		ChannelID:   msg.ChannelID,
		Content:     content,
		DisplayName: id.DisplayName,
		AvatarURL:   id.AvatarURL,
	})
	rep.Delivery = h.now().Sub(t2)
	if err != nil {
		fail(telemetry.StageDeliver, err)
		return
	}

	if res.Discarded {
		rep.Outcome = telemetry.OutcomeDiscarded
		slog.Debug("response discarded by sender",
			telemetry.FieldBot, bot.Name,
			telemetry.FieldChannelID, msg.ChannelID,
			telemetry.FieldPreview, textutil.Preview(content, telemetry.PreviewWidth))
		return
	}
	rep.Outcome = telemetry.OutcomeDelivered
	bot.markResponded(h.now())
}
