package condition

import (
	"context"
	"log/slog"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// And matches when every sub-condition matches. Sub-conditions run one at a
// time in declared order and evaluation stops at the first non-match.
// An error from any sub-condition stops evaluation and is returned.
type And struct {
	Conditions []Condition
}

// AllOf returns an And over conds.
func AllOf(conds ...Condition) *And { return &And{Conditions: conds} }

func (a *And) Kind() Kind { return KindAnd }

func (a *And) Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error) {
	for _, c := range a.Conditions {
		res := Eval(ctx, c, msg)
		if res.Err != nil {
			return false, res.Err
		}
		if !res.Matched {
			return false, nil
		}
	}
	return true, nil
}

// Or matches when any sub-condition matches, stopping at the first match.
// A failing branch is logged and counted as a non-match so one broken
// predicate cannot hide the others.
type Or struct {
	Conditions []Condition
}

// AnyOf returns an Or over conds.
func AnyOf(conds ...Condition) *Or { return &Or{Conditions: conds} }

func (o *Or) Kind() Kind { return KindOr }

func (o *Or) Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error) {
	return firstMatch(ctx, KindOr, o.Conditions, msg), nil
}

// Not inverts a condition. Errors are returned unchanged.
type Not struct {
	Condition Condition
}

// Negate returns a Not over c.
func Negate(c Condition) *Not { return &Not{Condition: c} }

func (n *Not) Kind() Kind { return KindNot }

func (n *Not) Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error) {
	res := Eval(ctx, n.Condition, msg)
	if res.Err != nil {
		return false, res.Err
	}
	return !res.Matched, nil
}

// OneOf matches when any named option matches. It evaluates like Or and is
// used to group alternatives under names, typically a deterministic pattern
// next to a probability-gated composite.
type OneOf struct {
	Names   []string
	Options []Condition
}

// NewOneOf builds a OneOf from parallel name and condition slices.
func NewOneOf(names []string, options []Condition) *OneOf {
	return &OneOf{Names: names, Options: options}
}

func (o *OneOf) Kind() Kind { return KindOneOf }

func (o *OneOf) Evaluate(ctx context.Context, msg *bus.InboundMessage) (bool, error) {
	return firstMatch(ctx, KindOneOf, o.Options, msg), nil
}

func firstMatch(ctx context.Context, kind Kind, conds []Condition, msg *bus.InboundMessage) bool {
	for i, c := range conds {
		res := Eval(ctx, c, msg)
		if res.Err != nil {
			slog.WarnContext(ctx, "condition branch failed",
				"combinator", string(kind),
				"branch", i,
				"branch_kind", string(c.Kind()),
				"error", res.Err,
			)
			continue
		}
		if res.Matched {
			return true
		}
	}
	return false
}
