package condition

import (
	"context"
	"fmt"
	"math/rand/v2"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// Probability matches when a uniform draw in [0,100) falls below Percent.
type Probability struct {
	Percent float64
	// AlwaysOn forces a match. It is set from the debug flag in configuration
	// so staging environments respond deterministically.
	AlwaysOn bool
	// Draw returns a value in [0,100). Nil uses math/rand/v2.
	Draw func() float64
}

// NewProbability validates percent (0..100) and returns a Probability condition.
func NewProbability(percent float64, alwaysOn bool) (*Probability, error) {
	if percent < 0 || percent > 100 {
		return nil, fmt.Errorf("probability: percent %v out of range [0,100]", percent)
	}
	return &Probability{Percent: percent, AlwaysOn: alwaysOn}, nil
}

func (p *Probability) Kind() Kind { return KindProbability }

func (p *Probability) Evaluate(context.Context, *bus.InboundMessage) (bool, error) {
	if p.AlwaysOn {
		return true, nil
	}
	draw := p.Draw
	if draw == nil {
		draw = func() float64 { return rand.Float64() * 100 }
	}
	return draw() < p.Percent, nil
}

func (p *Probability) String() string { return fmt.Sprintf("probability %g%%", p.Percent) }
