package condition

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// ParseWindow converts a magnitude and a unit (ms, s, m, h, d) into a duration.
func ParseWindow(magnitude float64, unit string) (time.Duration, error) {
	if magnitude < 0 {
		return 0, fmt.Errorf("window: negative magnitude %v", magnitude)
	}
	var base time.Duration
	switch strings.ToLower(strings.TrimSpace(unit)) {
	case "ms":
		base = time.Millisecond
	case "s":
		base = time.Second
	case "m":
		base = time.Minute
	case "h":
		base = time.Hour
	case "d":
		base = 24 * time.Hour
	default:
		return 0, fmt.Errorf("window: unknown unit %q", unit)
	}
	return time.Duration(magnitude * float64(base)), nil
}

// Within matches while less than Window has passed since the timestamp
// returned by Since. The owner of Since decides what it measures, e.g. the
// last time its bot responded. A zero timestamp never matches.
type Within struct {
	Window time.Duration
	Since  func() time.Time
	Now    func() time.Time // nil uses time.Now
}

func (w *Within) Kind() Kind { return KindWithin }

func (w *Within) Evaluate(context.Context, *bus.InboundMessage) (bool, error) {
	if w.Since == nil {
		return false, errors.New("within: no timestamp source")
	}
	ts := w.Since()
	if ts.IsZero() {
		return false, nil
	}
	now := time.Now()
	if w.Now != nil {
		now = w.Now()
	}
	return now.Sub(ts) <= w.Window, nil
}

func (w *Within) String() string { return "within " + w.Window.String() }

// Schedule matches while the current minute satisfies a cron expression,
// e.g. "* 9-17 * * 1-5" for office hours.
type Schedule struct {
	Expr     string
	Location *time.Location // nil uses time.Local
	Now      func() time.Time
}

// NewSchedule validates expr and returns a Schedule condition.
func NewSchedule(expr string, loc *time.Location) (*Schedule, error) {
	g := gronx.New()
	if !g.IsValid(expr) {
		return nil, fmt.Errorf("schedule: invalid cron expression %q", expr)
	}
	return &Schedule{Expr: expr, Location: loc}, nil
}

func (s *Schedule) Kind() Kind { return KindSchedule }

func (s *Schedule) Evaluate(context.Context, *bus.InboundMessage) (bool, error) {
	now := time.Now()
	if s.Now != nil {
		now = s.Now()
	}
	if s.Location != nil {
		now = now.In(s.Location)
	}
	g := gronx.New()
	due, err := g.IsDue(s.Expr, now)
	if err != nil {
		return false, fmt.Errorf("schedule %q: %w", s.Expr, err)
	}
	return due, nil
}
