// Package template expands placeholders in bot response strings.
//
// Supported placeholders:
//
//	{start}                 first three words of the message, emphasised: ***Hello world thi...***
//	{random:MIN-MAX:CHAR}   CHAR repeated a random number of times in [MIN, MAX]
//	{swap_message:W1:W2}    the message with whole words W1 and W2 swapped, case preserved
//
// Placeholders that do not parse are left in the output untouched.
package template

import (
	"math/rand/v2"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/nextlevelbuilder/chorus/internal/bus"
	"github.com/nextlevelbuilder/chorus/internal/textutil"
)

const (
	// MaxRepeat caps the repetition count of {random}, whatever MAX says.
	MaxRepeat = 1000
	// MaxRepeatUnit is the longest CHAR accepted by {random}, in runes.
	MaxRepeatUnit = 32

	startWords    = 3
	startMaxRunes = 15
)

// One alternation so the template is scanned once and replacements are never rescanned.
var placeholderRe = regexp.MustCompile(`\{start\}|\{random:([^:}]*):([^}]*)\}|\{swap_message:([^:}]+):([^:}]+)\}`)

// Resolver expands templates. The zero value is not usable; use New.
type Resolver struct {
	intN func(n int) int
}

// New returns a Resolver backed by math/rand/v2.
func New() *Resolver {
	return &Resolver{intN: rand.IntN}
}

// NewWithSource returns a Resolver that draws repetition counts from intN,
// which must return a value in [0, n).
func NewWithSource(intN func(n int) int) *Resolver {
	return &Resolver{intN: intN}
}

// Resolve expands every placeholder in tmpl using msg. It never fails.
func (r *Resolver) Resolve(tmpl string, msg *bus.InboundMessage) string {
	if !strings.Contains(tmpl, "{") {
		return tmpl
	}
	return placeholderRe.ReplaceAllStringFunc(tmpl, func(match string) string {
		sub := placeholderRe.FindStringSubmatch(match)
		switch {
		case match == "{start}":
			return StartQuote(msg.Content)
		case strings.HasPrefix(match, "{random:"):
			if out, ok := r.repeat(sub[1], sub[2]); ok {
				return out
			}
		case strings.HasPrefix(match, "{swap_message:"):
			return SwapWords(msg.Content, sub[3], sub[4])
		}
		return match
	})
}

// StartQuote formats the opening words of content as an interrupted quote.
func StartQuote(content string) string {
	words := strings.Fields(content)
	if len(words) > startWords {
		words = words[:startWords]
	}
	text := textutil.TruncateRunes(strings.Join(words, " "), startMaxRunes)
	return "***" + text + "...***"
}

func (r *Resolver) repeat(bounds, unit string) (string, bool) {
	minStr, maxStr, ok := strings.Cut(bounds, "-")
	if !ok {
		return "", false
	}
	lo, ok := parseCount(minStr)
	if !ok {
		return "", false
	}
	hi, ok := parseCount(maxStr)
	if !ok {
		return "", false
	}
	n := utf8.RuneCountInString(unit)
	if n == 0 || n > MaxRepeatUnit {
		return "", false
	}
	if lo > hi {
		lo, hi = hi, lo
	}
	count := lo
	if hi > lo {
		count += r.intN(hi - lo + 1)
	}
	return strings.Repeat(unit, min(count, MaxRepeat)), true
}

// parseCount accepts a non-empty string of ASCII digits. Values beyond
// MaxRepeat, including ones that overflow int, are clamped.
func parseCount(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	v, err := strconv.Atoi(s)
	if err != nil || v > MaxRepeat {
		return MaxRepeat, true
	}
	return v, true
}

// SwapWords exchanges whole-word occurrences of a and b in content, ignoring
// case when matching and copying the casing of the replaced word.
func SwapWords(content, a, b string) string {
	var sb strings.Builder
	last := 0
	for pos := 0; pos < len(content); {
		spA, okA := textutil.IndexWord(content, a, pos)
		spB, okB := textutil.IndexWord(content, b, pos)
		var sp textutil.Span
		var repl string
		switch {
		case okA && (!okB || spA.Start < spB.Start || (spA.Start == spB.Start && spA.End >= spB.End)):
			sp, repl = spA, b
		case okB:
			sp, repl = spB, a
		default:
			pos = len(content)
			continue
		}
		if last == 0 {
			sb.Grow(len(content))
		}
		sb.WriteString(content[last:sp.Start])
		sb.WriteString(MatchCase(repl, content[sp.Start:sp.End]))
		last, pos = sp.End, sp.End
	}
	if last == 0 {
		return content
	}
	sb.WriteString(content[last:])
	return sb.String()
}

// MatchCase returns word rewritten in the casing pattern of like:
// all upper, title case, or lower case.
func MatchCase(word, like string) string {
	if word == "" {
		return word
	}
	switch casePattern(like) {
	case caseUpper:
		return strings.ToUpper(word)
	case caseTitle:
		first, size := utf8.DecodeRuneInString(word)
		return string(unicode.ToUpper(first)) + strings.ToLower(word[size:])
	default:
		return strings.ToLower(word)
	}
}

type casing int

const (
	caseLower casing = iota
	caseTitle
	caseUpper
)

func casePattern(s string) casing {
	var letters, upper int
	firstUpper := false
	for i, r := range s {
		if !unicode.IsLetter(r) {
			continue
		}
		letters++
		if unicode.IsUpper(r) {
			upper++
			if i == 0 {
				firstUpper = true
			}
		}
	}
	switch {
	case letters > 1 && upper == letters:
		return caseUpper
	case firstUpper:
		return caseTitle
	default:
		return caseLower
	}
}
