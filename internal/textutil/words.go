// Package textutil holds small text helpers shared by condition matching and templating.
package textutil

import (
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

// Span is a half-open byte range [Start, End) of a word inside a string.
type Span struct {
	Start, End int
}

// IsWordRune reports whether r can be part of a word.
func IsWordRune(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

// IndexWord returns the byte range of the first occurrence of word in s at or
// after byte offset from, ignoring case. An occurrence counts only when it is
// not glued to surrounding word runes, so "don't" matches in "I don't" but
// "check" does not match in "checking". Punctuation inside word is matched
// literally.
func IndexWord(s, word string, from int) (Span, bool) {
	if word == "" || from < 0 || from > len(s) {
		return Span{}, false
	}
	first, _ := utf8.DecodeRuneInString(word)
	last, _ := utf8.DecodeLastRuneInString(word)
	needLeft, needRight := IsWordRune(first), IsWordRune(last)

	prev := utf8.RuneError
	if from > 0 {
		prev, _ = utf8.DecodeLastRuneInString(s[:from])
	}
	for i := from; i < len(s); {
		r, size := utf8.DecodeRuneInString(s[i:])
		if !needLeft || !IsWordRune(prev) {
			if end := matchFold(s, i, word); end >= 0 {
				next, _ := utf8.DecodeRuneInString(s[end:])
				if !needRight || end == len(s) || !IsWordRune(next) {
					return Span{i, end}, true
				}
			}
		}
		prev = r
		i += size
	}
	return Span{}, false
}

// ContainsWord reports whether s contains word as a whole word, ignoring case.
func ContainsWord(s, word string) bool {
	_, ok := IndexWord(s, word, 0)
	return ok
}

// matchFold returns the end offset of a case-insensitive match of word
// starting at s[i:], or -1.
func matchFold(s string, i int, word string) int {
	for _, wr := range word {
		if i >= len(s) {
			return -1
		}
		r, size := utf8.DecodeRuneInString(s[i:])
		if !equalFoldRune(r, wr) {
			return -1
		}
		i += size
	}
	return i
}

func equalFoldRune(a, b rune) bool {
	if a == b {
		return true
	}
	for f := unicode.SimpleFold(a); f != a; f = unicode.SimpleFold(f) {
		if f == b {
			return true
		}
	}
	return false
}

// TruncateRunes shortens s to at most n runes.
func TruncateRunes(s string, n int) string {
	if n <= 0 {
		return ""
	}
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	i := 0
	for pos := range s {
		if i == n {
			return s[:pos]
		}
		i++
	}
	return s
}

// Preview shortens s to maxWidth terminal cells for log output, appending "...".
func Preview(s string, maxWidth int) string {
	s = strings.Join(strings.Fields(s), " ")
	return runewidth.Truncate(s, maxWidth, "...")
}
