package bots

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/condition"
	"github.com/nextlevelbuilder/chorus/internal/config"
	"github.com/nextlevelbuilder/chorus/internal/identity"
)

// Deps are the runtime collaborators bot definitions are bound to.
type Deps struct {
	Directory identity.Directory // required by mimic and random identities
	Debug     bool               // probability conditions always match
	SelfID    string             // account id for self conditions
	Location  *time.Location     // zone for schedule conditions
	Personas  []string           // default names for automated conditions
	Now       func() time.Time   // clock for time conditions, nil = time.Now
}

// Build turns a bot definition into a validated Bot. Any error means the
// definition is unusable and the bot must not be registered.
func Build(spec config.BotSpec, deps Deps) (*Bot, error) {
	if spec.Name == "" {
		return nil, errors.New("bot has no name")
	}
	b := &Bot{
		Name:            spec.Name,
		IgnoreAutomated: spec.IgnoreAutomated,
		IgnoreHumans:    spec.IgnoreHumans,
	}

	id, err := buildIdentity(spec.Identity, deps)
	if err != nil {
		return nil, fmt.Errorf("bot %s: identity: %w", spec.Name, err)
	}
	b.Identity = id

	cb := condBuilder{deps: deps, bot: b}
	seen := make(map[string]bool, len(spec.Triggers))
	for i, ts := range spec.Triggers {
		name := ts.Name
		if name == "" {
			name = fmt.Sprintf("trigger-%d", i+1)
		}
		if seen[name] {
			return nil, fmt.Errorf("bot %s: duplicate trigger name %q", spec.Name, name)
		}
		seen[name] = true

		cond, err := cb.build(ts.When)
		if err != nil {
			return nil, fmt.Errorf("bot %s: trigger %s: %w", spec.Name, name, err)
		}
		resp, err := buildResponder(ts)
		if err != nil {
			return nil, fmt.Errorf("bot %s: trigger %s: %w", spec.Name, name, err)
		}
		tr := NewTrigger(name, cond, resp)
		tr.Meta.Description = firstNonEmpty(ts.Description, tr.Meta.Description)
		b.Triggers = append(b.Triggers, tr)
	}
	return b, nil
}

// BuildAll builds every definition, collecting errors instead of stopping at
// the first. Bots that fail are left out of the result.
func BuildAll(specs []config.BotSpec, deps Deps) ([]*Bot, error) {
	var (
		out  []*Bot
		errs []error
	)
	for _, spec := range specs {
		b, err := Build(spec, deps)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		out = append(out, b)
	}
	return out, errors.Join(errs...)
}

func buildIdentity(spec config.IdentitySpec, deps Deps) (identity.Resolver, error) {
	switch spec.Type {
	case identity.StrategyStatic:
		return identity.NewStatic(identity.Identity{DisplayName: spec.DisplayName, AvatarURL: spec.AvatarURL})
	case identity.StrategyMimic:
		if err := condition.ValidateID(spec.MemberID); err != nil {
			return nil, fmt.Errorf("mimic member: %w", err)
		}
		if deps.Directory == nil {
			return nil, errors.New("mimic identity needs a member directory")
		}
		return &identity.Mimic{Directory: deps.Directory, MemberID: spec.MemberID}, nil
	case identity.StrategyRandom:
		if deps.Directory == nil {
			return nil, errors.New("random identity needs a member directory")
		}
		return &identity.RandomMember{Directory: deps.Directory}, nil
	case "":
		return nil, errors.New("missing identity type")
	default:
		return nil, fmt.Errorf("unknown identity type %q", spec.Type)
	}
}

func buildResponder(ts config.TriggerSpec) (Responder, error) {
	switch ts.Responder {
	case "llm":
		return LLMResponder{Prompt: ts.Prompt}, nil
	case "", "template":
	default:
		return nil, fmt.Errorf("unknown responder %q", ts.Responder)
	}
	switch {
	case len(ts.Responses) > 0:
		return NewPool(ts.Responses)
	case ts.Response != "":
		return Text(ts.Response), nil
	default:
		return nil, errors.New("empty response pool")
	}
}

type condBuilder struct {
	deps Deps
	bot  *Bot
}

func (cb condBuilder) build(cs config.ConditionSpec) (condition.Condition, error) {
	switch condition.Kind(cs.Type) {
	case condition.KindPattern:
		return condition.NewPattern(cs.Pattern)
	case condition.KindWord:
		if len(cs.Words) == 0 {
			return nil, errors.New("word: no words")
		}
		for i, w := range cs.Words {
			if strings.TrimSpace(w) == "" {
				return nil, fmt.Errorf("word: word %d is blank", i)
			}
		}
		return condition.Word{Words: cs.Words}, nil
	case condition.KindPhrase:
		if len(cs.Phrases) == 0 {
			return nil, errors.New("phrase: no phrases")
		}
		return condition.Phrase{Phrases: cs.Phrases}, nil
	case condition.KindUser:
		return condition.NewUser(cs.ID)
	case condition.KindChannel:
		return condition.NewChannel(cs.ID)
	case condition.KindMentions:
		if err := condition.ValidateID(cs.ID); err != nil {
			return nil, fmt.Errorf("mentions: %w", err)
		}
		return condition.Mentions{UserID: cs.ID}, nil
	case condition.KindProbability:
		return condition.NewProbability(cs.Percent, cb.deps.Debug)
	case condition.KindWithin:
		window, err := condition.ParseWindow(cs.Amount, cs.Unit)
		if err != nil {
			return nil, err
		}
		if window <= 0 {
			return nil, fmt.Errorf("window: %v must be positive", window)
		}
		return &condition.Within{Window: window, Since: cb.bot.LastResponded, Now: cb.deps.Now}, nil
	case condition.KindSchedule:
		s, err := condition.NewSchedule(cs.Cron, cb.deps.Location)
		if err != nil {
			return nil, err
		}
		s.Now = cb.deps.Now
		return s, nil
	case condition.KindAutomated:
		personas := cs.Personas
		if len(personas) == 0 {
			personas = cb.deps.Personas
		}
		return condition.NewAutomated(personas), nil
	case condition.KindSelf:
		return condition.Self{ID: cb.deps.SelfID}, nil
	case condition.KindLLM:
		return condition.LLM{Prompt: cs.Prompt}, nil
	case condition.KindAnd, condition.KindOr, condition.KindOneOf:
		if len(cs.Conditions) == 0 {
			return nil, fmt.Errorf("%s: no conditions", cs.Type)
		}
		children := make([]condition.Condition, 0, len(cs.Conditions))
		names := make([]string, 0, len(cs.Conditions))
		for i, child := range cs.Conditions {
			c, err := cb.build(child)
			if err != nil {
				return nil, fmt.Errorf("%s[%d]: %w", cs.Type, i, err)
			}
			children = append(children, c)
			names = append(names, child.Name)
		}
		switch condition.Kind(cs.Type) {
		case condition.KindAnd:
			return condition.AllOf(children...), nil
		case condition.KindOr:
			return condition.AnyOf(children...), nil
		default:
			return condition.NewOneOf(names, children), nil
		}
	case condition.KindNot:
		if cs.Condition == nil {
			return nil, errors.New("not: no condition")
		}
		c, err := cb.build(*cs.Condition)
		if err != nil {
			return nil, fmt.Errorf("not: %w", err)
		}
		return condition.Negate(c), nil
	case "":
		return nil, errors.New("missing condition type")
	default:
		return nil, fmt.Errorf("unknown condition type %q", cs.Type)
	}
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
