// Package bots holds bot definitions, the per-bot dispatch state machine and
// the registry that fans one inbound message out to every registered bot.
package bots

import (
	"sync/atomic"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/condition"
	"github.com/nextlevelbuilder/chorus/internal/identity"
)

// TriggerMeta describes a trigger for logs and tooling.
type TriggerMeta struct {
	ConditionKind condition.Kind
	Description   string
	Details       map[string]string
}

// Trigger pairs a condition with the response sent when it matches.
type Trigger struct {
	Name      string
	Condition condition.Condition
	Response  Responder
	Meta      TriggerMeta
}

// NewTrigger fills Meta from the condition tree.
func NewTrigger(name string, cond condition.Condition, resp Responder) Trigger {
	return Trigger{
		Name:      name,
		Condition: cond,
		Response:  resp,
		Meta: TriggerMeta{
			ConditionKind: cond.Kind(),
			Description:   condition.Describe(cond),
		},
	}
}

// Bot is a named persona with an ordered trigger list. The first trigger
// whose condition matches decides the response; later ones are not evaluated.
type Bot struct {
	Name     string
	Identity identity.Resolver
	Triggers []Trigger

	IgnoreAutomated bool // skip messages from bot accounts and webhooks
	IgnoreHumans    bool // skip messages from people

	lastResponded atomic.Int64 // unix nanoseconds, 0 = never
}

// LastResponded returns when the bot last delivered a response.
// The zero time means it never has.
func (b *Bot) LastResponded() time.Time {
	ns := b.lastResponded.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (b *Bot) markResponded(t time.Time) {
	b.lastResponded.Store(t.UnixNano())
}

// inheritClock takes over old's last-responded time unless b has a later one.
func (b *Bot) inheritClock(old *Bot) {
	if ns := old.lastResponded.Load(); ns > b.lastResponded.Load() {
		b.lastResponded.Store(ns)
	}
}

// accepts applies the sender-class filter.
func (b *Bot) accepts(msg *bus.InboundMessage) bool {
	if msg.IsAutomated() {
		return !b.IgnoreAutomated
	}
	return !b.IgnoreHumans
}
