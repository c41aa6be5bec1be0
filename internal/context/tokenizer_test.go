package context

import (
	"strings"
	"testing"
)

func newTokenizer(t *testing.T) *Tokenizer {
	t.Helper()
	tok, err := NewTokenizer()
	if err != nil {
		t.Skipf("cl100k_base encoding unavailable: %v", err)
	}
	return tok
}

func TestTokenizer_Count(t *testing.T) {
	tok := newTokenizer(t)

	count := tok.Count("Hello, world!")
	if count <= 0 {
		t.Errorf("expected positive token count, got %d", count)
	}
}

func TestTokenizer_Count_EmptyString(t *testing.T) {
	tok := newTokenizer(t)

	if count := tok.Count(""); count != 0 {
		t.Errorf("expected 0 tokens for empty string, got %d", count)
	}
}

func TestTokenizer_Truncate(t *testing.T) {
	tok := newTokenizer(t)

	long := "This is a fairly long string that should have more than five tokens in total."
	truncated := tok.Truncate(long, 5)

	if len(truncated) >= len(long) {
		t.Error("truncated string should be shorter than original")
	}
	if n := tok.Count(truncated); n > 5 {
		t.Errorf("truncated to 5 tokens but Count says %d", n)
	}
}

func TestTokenizer_Truncate_ShortString(t *testing.T) {
	tok := newTokenizer(t)

	short := "Hi"
	if result := tok.Truncate(short, 100); result != short {
		t.Errorf("short string should not be truncated: got %q", result)
	}
}

func TestApproxTokenizer(t *testing.T) {
	var tok ApproxTokenizer

	tests := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"abc", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"héllo wörld", 3},
	}
	for _, tt := range tests {
		if got := tok.Count(tt.in); got != tt.want {
			t.Errorf("Count(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}

	long := strings.Repeat("é", 100)
	cut := tok.Truncate(long, 10)
	if got := len([]rune(cut)); got != 40 {
		t.Errorf("Truncate kept %d runes, want 40", got)
	}
	if tok.Truncate("short", 10) != "short" {
		t.Error("short string should be unchanged")
	}
	if tok.Truncate("anything", 0) != "" {
		t.Error("zero budget should yield empty string")
	}
}
