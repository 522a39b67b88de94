package condition

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

// ErrInvalidID is returned when a user or channel id is not a platform snowflake.
var ErrInvalidID = errors.New("invalid snowflake id")

var snowflakeRe = regexp.MustCompile(`^[0-9]{17,20}$`)

// ValidateID checks that id is a Discord snowflake.
func ValidateID(id string) error {
	if !snowflakeRe.MatchString(id) {
		return fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return nil
}

// Pattern matches message content against a case-insensitive regular expression.
type Pattern struct {
	re *regexp.Regexp
}

// NewPattern compiles expr with case-insensitive matching.
func NewPattern(expr string) (*Pattern, error) {
	if expr == "" {
		return nil, errors.New("pattern: empty expression")
	}
	re, err := regexp.Compile("(?i)" + expr)
	if err != nil {
		return nil, fmt.Errorf("pattern: %w", err)
	}
	return &Pattern{re: re}, nil
}

func (p *Pattern) Kind() Kind { return KindPattern }

func (p *Pattern) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	return p.re.MatchString(msg.Content), nil
}

func (p *Pattern) String() string { return "pattern /" + strings.TrimPrefix(p.re.String(), "(?i)") + "/" }

// Word matches when any of Words appears in the content as a whole word, ignoring case.
type Word struct {
	Words []string
}

func (w Word) Kind() Kind { return KindWord }

func (w Word) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	for _, word := range w.Words {
		if textutil.ContainsWord(msg.Content, word) {
			return true, nil
		}
	}
	return false, nil
}

func (w Word) String() string { return "word " + strings.Join(w.Words, "|") }

// Phrase matches when any of Phrases appears anywhere in the content, ignoring case.
type Phrase struct {
	Phrases []string
}

func (p Phrase) Kind() Kind { return KindPhrase }

func (p Phrase) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	content := strings.ToLower(msg.Content)
	for _, ph := range p.Phrases {
		if ph != "" && strings.Contains(content, strings.ToLower(ph)) {
			return true, nil
		}
	}
	return false, nil
}

// User matches messages authored by one specific sender.
type User struct {
	ID string
}

// NewUser validates id and returns a User condition.
func NewUser(id string) (User, error) {
	if err := ValidateID(id); err != nil {
		return User{}, fmt.Errorf("user: %w", err)
	}
	return User{ID: id}, nil
}

func (u User) Kind() Kind { return KindUser }

func (u User) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	return msg.SenderID == u.ID, nil
}

// Channel matches messages posted in one specific channel.
type Channel struct {
	ID string
}

// NewChannel validates id and returns a Channel condition.
func NewChannel(id string) (Channel, error) {
	if err := ValidateID(id); err != nil {
		return Channel{}, fmt.Errorf("channel: %w", err)
	}
	return Channel{ID: id}, nil
}

func (c Channel) Kind() Kind { return KindChannel }

func (c Channel) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	return msg.ChannelID == c.ID, nil
}

// Mentions matches messages that mention UserID.
type Mentions struct {
	UserID string
}

func (m Mentions) Kind() Kind { return KindMentions }

func (m Mentions) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	return msg.Mentioned(m.UserID), nil
}

// Self matches messages authored by the running process's own account.
// The registry already drops these; Self exists so configs can express it explicitly.
type Self struct {
	ID string
}

func (s Self) Kind() Kind { return KindSelf }

func (s Self) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	return s.ID != "" && msg.SenderID == s.ID, nil
}

// Automated matches automated senders (bot accounts or webhooks) whose name
// belongs to a known system persona. It lets bots ignore each other's output.
type Automated struct {
	personas map[string]bool
}

// NewAutomated builds an Automated condition from persona names.
func NewAutomated(personas []string) *Automated {
	set := make(map[string]bool, len(personas))
	for _, p := range personas {
		if n := NormalizeName(p); n != "" {
			set[n] = true
		}
	}
	return &Automated{personas: set}
}

func (a *Automated) Kind() Kind { return KindAutomated }

func (a *Automated) Evaluate(_ context.Context, msg *bus.InboundMessage) (bool, error) {
	if !msg.IsAutomated() {
		return false, nil
	}
	for _, name := range []string{msg.SenderUsername, msg.SenderGlobalName, msg.SenderNick} {
		if n := NormalizeName(name); n != "" && a.personas[n] {
			return true, nil
		}
	}
	return false, nil
}

// NormalizeName lowercases s and keeps only letters and digits.
func NormalizeName(s string) string {
	return strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			return unicode.ToLower(r)
		}
		return -1
	}, s)
}

// LLM is the extension point for model-backed classification.
// It is not wired to a model yet and never matches.
type LLM struct {
	Prompt string
}

func (LLM) Kind() Kind { return KindLLM }

func (LLM) Evaluate(context.Context, *bus.InboundMessage) (bool, error) {
	return false, nil
}
