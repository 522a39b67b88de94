// Package condition implements the predicates that decide whether a trigger
// fires for a message: primitives (pattern, probability, time windows, sender
// identity) and the boolean combinators that compose them.
//
// Every condition is a Condition value carrying its Kind, so callers can
// report what was evaluated without inspecting concrete types.
package condition

import (
	"context"
	"fmt"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// Kind identifies a condition variant.
type Kind string

const (
	KindPattern     Kind = "pattern"
	KindWord        Kind = "word"
	KindPhrase      Kind = "phrase"
	KindUser        Kind = "user"
	KindChannel     Kind = "channel"
	KindMentions    Kind = "mentions"
	KindProbability Kind = "probability"
	KindWithin      Kind = "within"
	KindSchedule    Kind = "schedule"
	KindAutomated   Kind = "automated"
	KindSelf        Kind = "self"
	KindAnd         Kind = "and"
	KindOr          Kind = "or"
	KindNot         Kind = "not"
	KindOneOf       Kind = "one_of"
	KindLLM         Kind = "llm"
	KindFunc        Kind = "func"
)

// Condition is a predicate over an inbound message. Implementations may block
// (e.g. calling an external classifier) and must honour ctx.
type Condition interface {
	Kind() Kind
	Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error)
}

// Result is the outcome of evaluating one condition.
type Result struct {
	Matched bool
	Err     error
}

// Eval evaluates c, converting a panic into an error result.
// A cancelled context is reported as an error without calling c.
func Eval(ctx context.Context, c Condition, msg *bus.InboundMessage) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			res = Result{Err: fmt.Errorf("%s condition panicked: %v", c.Kind(), r)}
		}
	}()
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}
	ok, err := c.Evaluate(ctx, msg)
	if err != nil {
		return Result{Err: err}
	}
	return Result{Matched: ok}
}

// Func adapts a plain function into a Condition.
type Func func(ctx context.Context, msg *bus.InboundMessage) (bool, error)

func (Func) Kind() Kind { return KindFunc }

func (f Func) Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error) {
	return f(ctx, msg)
}

// Const returns a condition that always evaluates to v.
func Const(v bool) Condition {
	return Func(func(context.Context, *bus.InboundMessage) (bool, error) { return v, nil })
}
