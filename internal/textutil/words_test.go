package textutil

import "testing"

func TestContainsWord(t *testing.T) {
	tests := []struct {
		s, word string
		want    bool
	}{
		{"check this out", "check", true},
		{"CHECK this", "check", true},
		{"checking this", "check", false},
		{"recheck", "check", false},
		{"well, check!", "check", true},
		{"", "check", false},
		{"café au lait", "café", true},
		{"I don't care", "don't", true},
		{"I DON'T care", "don't", true},
		{"CAN'T STOP", "can't", true},
		{"send an e-mail now", "e-mail", true},
		{"send an e-mailer", "e-mail", false},
		{"wow!!", "!!", true},
		{"abc", "", false},
	}
	for _, tt := range tests {
		if got := ContainsWord(tt.s, tt.word); got != tt.want {
			t.Errorf("ContainsWord(%q, %q) = %v, want %v", tt.s, tt.word, got, tt.want)
		}
	}
}

func TestIndexWord(t *testing.T) {
	s := "check, recheck, CHECK"
	sp, ok := IndexWord(s, "check", 0)
	if !ok || sp != (Span{0, 5}) {
		t.Fatalf("first = %+v, %v", sp, ok)
	}
	sp, ok = IndexWord(s, "check", sp.End)
	if !ok || s[sp.Start:sp.End] != "CHECK" {
		t.Fatalf("second = %+v, %v", sp, ok)
	}
	if _, ok := IndexWord(s, "check", sp.End); ok {
		t.Error("unexpected third match")
	}
	// resuming mid-word must not match the tail of that word
	if _, ok := IndexWord("rechecked", "checked", 2); ok {
		t.Error("matched inside a word")
	}
}

func TestTruncateRunes(t *testing.T) {
	if got := TruncateRunes("Hello world this", 15); got != "Hello world thi" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("héllo", 2); got != "hé" {
		t.Errorf("got %q", got)
	}
	if got := TruncateRunes("short", 15); got != "short" {
		t.Errorf("got %q", got)
	}
}

func TestPreview(t *testing.T) {
	if got := Preview("a\n  b", 10); got != "a b" {
		t.Errorf("got %q", got)
	}
	if got := Preview("abcdefghij", 6); got != "abc..." {
		t.Errorf("got %q", got)
	}
}
