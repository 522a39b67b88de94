package bots

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/condition"
	"github.com/nextlevelbuilder/chorus/internal/config"
	"github.com/nextlevelbuilder/chorus/internal/identity"
	"github.com/nextlevelbuilder/chorus/internal/telemetry"
)

type stubDirectory struct{}

func (stubDirectory) Member(_ context.Context, _, memberID string) (identity.Member, error) {
	return identity.Member{ID: memberID, Username: "member" + memberID, AvatarURL: "https://cdn.test/m.png"}, nil
}

func (stubDirectory) MemberIDs(context.Context, string) ([]string, error) {
	return []string{"1"}, nil
}

var staticSpec = config.IdentitySpec{Type: "static", DisplayName: "Echo", AvatarURL: "https://cdn.test/echo.png"}

func TestBuild_Full(t *testing.T) {
	specs, err := config.ParseBots([]byte(`
bots:
  - name: greeter
    ignore_automated: true
    identity: {type: static, display_name: Greeter, avatar_url: https://cdn.test/g.png}
    triggers:
      - name: hello
        when:
          type: one_of
          conditions:
            - {name: direct, type: word, words: [hello, hi]}
            - name: sometimes
              type: and
              conditions:
                - {type: phrase, phrases: ["good morning"]}
                - {type: probability, percent: 0}
        responses: ["{start} hello!"]
      - name: fallback
        when: {type: not, condition: {type: automated, personas: [Greeter]}}
        response: "..."
`))
	if err != nil {
		t.Fatal(err)
	}

	b, err := Build(specs[0], Deps{Debug: true})
	if err != nil {
		t.Fatal(err)
	}
	if b.Name != "greeter" || !b.IgnoreAutomated || len(b.Triggers) != 2 {
		t.Fatalf("bot = %+v", b)
	}
	tr := b.Triggers[0]
	if tr.Meta.ConditionKind != condition.KindOneOf {
		t.Errorf("kind = %s", tr.Meta.ConditionKind)
	}
	if !strings.Contains(tr.Meta.Description, "direct=word hello|hi") {
		t.Errorf("description = %q", tr.Meta.Description)
	}

	// debug forces the 0% probability branch on
	h := NewHandler(HandlerConfig{Sender: &fakeSender{}})
	rep := h.Handle(context.Background(), b, humanMsg("Good morning all"), "d1")
	if rep.Trigger != "hello" || rep.Outcome != telemetry.OutcomeDelivered {
		t.Fatalf("report = %+v", rep)
	}
}

func TestBuild_WithinUsesBotClock(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	b, err := Build(config.BotSpec{
		Name:     "chatty",
		Identity: staticSpec,
		Triggers: []config.TriggerSpec{{
			Name:     "follow-up",
			When:     config.ConditionSpec{Type: "within", Amount: 5, Unit: "m"},
			Response: "yes?",
		}},
	}, Deps{Now: func() time.Time { return now }})
	if err != nil {
		t.Fatal(err)
	}

	msg := humanMsg("x")
	if ok, _ := b.Triggers[0].Condition.Evaluate(context.Background(), msg); ok {
		t.Fatal("matched before the bot ever responded")
	}
	b.markResponded(now.Add(-time.Minute))
	if ok, _ := b.Triggers[0].Condition.Evaluate(context.Background(), msg); !ok {
		t.Fatal("did not match inside the window")
	}
}

func TestBuild_Identities(t *testing.T) {
	mimic := config.BotSpec{Name: "m", Identity: config.IdentitySpec{Type: "mimic", MemberID: "123456789012345678"}}
	b, err := Build(mimic, Deps{Directory: stubDirectory{}})
	if err != nil {
		t.Fatal(err)
	}
	id, err := b.Identity.Resolve(context.Background(), &bus.InboundMessage{GuildID: "1"})
	if err != nil || id.DisplayName != "member123456789012345678" {
		t.Fatalf("mimic resolve = %+v, %v", id, err)
	}

	random := config.BotSpec{Name: "r", Identity: config.IdentitySpec{Type: "random"}}
	if b, err = Build(random, Deps{Directory: stubDirectory{}}); err != nil || b.Identity.Strategy() != identity.StrategyRandom {
		t.Fatalf("random = %v, %v", b, err)
	}
}

func TestBuild_Errors(t *testing.T) {
	okTrigger := func(when config.ConditionSpec) []config.TriggerSpec {
		return []config.TriggerSpec{{Name: "t", When: when, Response: "x"}}
	}
	tests := []struct {
		name string
		spec config.BotSpec
		deps Deps
		want string
	}{
		{"no name", config.BotSpec{Identity: staticSpec}, Deps{}, "no name"},
		{"unknown identity", config.BotSpec{Name: "b", Identity: config.IdentitySpec{Type: "ghost"}}, Deps{}, "unknown identity type"},
		{"missing identity", config.BotSpec{Name: "b"}, Deps{}, "missing identity type"},
		{"static without avatar", config.BotSpec{Name: "b", Identity: config.IdentitySpec{Type: "static", DisplayName: "x"}}, Deps{}, "avatar"},
		{"mimic bad id", config.BotSpec{Name: "b", Identity: config.IdentitySpec{Type: "mimic", MemberID: "abc"}}, Deps{Directory: stubDirectory{}}, "snowflake"},
		{"mimic no directory", config.BotSpec{Name: "b", Identity: config.IdentitySpec{Type: "mimic", MemberID: "123456789012345678"}}, Deps{}, "directory"},
		{"random no directory", config.BotSpec{Name: "b", Identity: config.IdentitySpec{Type: "random"}}, Deps{}, "directory"},
		{"empty pool", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: []config.TriggerSpec{{Name: "t", When: config.ConditionSpec{Type: "word", Words: []string{"x"}}}}}, Deps{}, "empty response pool"},
		{"unknown responder", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: []config.TriggerSpec{{Name: "t", When: config.ConditionSpec{Type: "word", Words: []string{"x"}}, Responder: "magic", Response: "x"}}}, Deps{}, "unknown responder"},
		{"blank word", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "word", Words: []string{"hi", " "}})}, Deps{}, "word 1 is blank"},
		{"bad regexp", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "pattern", Pattern: "("})}, Deps{}, "pattern"},
		{"bad user id", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "user", ID: "42"})}, Deps{}, "snowflake"},
		{"bad cron", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "schedule", Cron: "every day"})}, Deps{}, "cron"},
		{"bad unit", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "within", Amount: 1, Unit: "fortnight"})}, Deps{}, "unit"},
		{"zero window", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "within", Unit: "m"})}, Deps{}, "positive"},
		{"probability range", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "probability", Percent: 150})}, Deps{}, "out of range"},
		{"unknown condition", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "vibes"})}, Deps{}, "unknown condition type"},
		{"empty and", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "and"})}, Deps{}, "no conditions"},
		{"empty not", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "not"})}, Deps{}, "no condition"},
		{"nested error", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: okTrigger(config.ConditionSpec{Type: "or", Conditions: []config.ConditionSpec{{Type: "word", Words: []string{"a"}}, {Type: "channel", ID: "x"}}})}, Deps{}, "or[1]"},
		{"duplicate trigger", config.BotSpec{Name: "b", Identity: staticSpec, Triggers: []config.TriggerSpec{
			{Name: "t", When: config.ConditionSpec{Type: "word", Words: []string{"a"}}, Response: "x"},
			{Name: "t", When: config.ConditionSpec{Type: "word", Words: []string{"b"}}, Response: "y"},
		}}, Deps{}, "duplicate trigger"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Build(tt.spec, tt.deps)
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("err = %v, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestBuildAll_CollectsErrors(t *testing.T) {
	specs := []config.BotSpec{
		{Name: "good", Identity: staticSpec},
		{Name: "bad", Identity: config.IdentitySpec{Type: "ghost"}},
		{Name: "also-bad", Identity: staticSpec, Triggers: []config.TriggerSpec{{Name: "t", When: config.ConditionSpec{Type: "user", ID: "1"}, Response: "x"}}},
	}
	bots, err := BuildAll(specs, Deps{})
	if len(bots) != 1 || bots[0].Name != "good" {
		t.Fatalf("bots = %v", bots)
	}
	if err == nil || !strings.Contains(err.Error(), "bad") || !strings.Contains(err.Error(), "also-bad") {
		t.Fatalf("err = %v", err)
	}
	if !errors.Is(err, condition.ErrInvalidID) {
		t.Errorf("joined error lost ErrInvalidID: %v", err)
	}
}
