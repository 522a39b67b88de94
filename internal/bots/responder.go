package bots

import (
	"context"
	"errors"
	"math/rand/v2"

	"github.com/nextlevelbuilder/chorus/internal/bus"
)

// ErrNotWired is returned by extension points that have no backend yet.
var ErrNotWired = errors.New("responder not wired")

// Responder produces the raw response template for a matched trigger.
// Placeholders in the result are expanded by the handler afterwards.
type Responder interface {
	Respond(ctx context.Context, msg *bus.InboundMessage) (string, error)
}

// ResponderFunc adapts a function into a Responder.
type ResponderFunc func(ctx context.Context, msg *bus.InboundMessage) (string, error)

func (f ResponderFunc) Respond(ctx context.Context, msg *bus.InboundMessage) (string, error) {
	return f(ctx, msg)
}

// Text always responds with the same template.
type Text string

func (t Text) Respond(context.Context, *bus.InboundMessage) (string, error) {
	return string(t), nil
}

// Pool picks one template uniformly at random per response.
type Pool struct {
	Templates []string
	// IntN returns a value in [0, n). Nil uses math/rand/v2.
	IntN func(n int) int
}

// NewPool returns a Pool over templates, which must not be empty.
func NewPool(templates []string) (*Pool, error) {
	if len(templates) == 0 {
		return nil, errors.New("empty response pool")
	}
	return &Pool{Templates: templates}, nil
}

func (p *Pool) Respond(context.Context, *bus.InboundMessage) (string, error) {
	if len(p.Templates) == 0 {
		return "", errors.New("empty response pool")
	}
	intN := p.IntN
	if intN == nil {
		intN = rand.IntN
	}
	return p.Templates[intN(len(p.Templates))], nil
}

// LLMResponder is the extension point for model-generated responses.
// Until a model is wired in it always fails with ErrNotWired.
type LLMResponder struct {
	Prompt string
}

func (LLMResponder) Respond(context.Context, *bus.InboundMessage) (string, error) {
	return "", ErrNotWired
}
