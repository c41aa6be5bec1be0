package context

import (
	"strings"
	"testing"

	"github.com/memvra/memory-agent/internal/memory"
)

func TestFormatHeader(t *testing.T) {
	f := NewFormatter()
	if got := f.FormatHeader("database choice"); got != "## Memories relevant to \"database choice\"\n\n" {
		t.Errorf("unexpected header %q", got)
	}
	if got := f.FormatHeader(""); got != "## Memories\n\n" {
		t.Errorf("unexpected empty-query header %q", got)
	}
}

func TestFormatResult(t *testing.T) {
	f := NewFormatter()
	r := memory.Result{Memory: memory.Memory{
		ID:         7,
		Content:    "We chose Postgres\nfor   the ledger",
		Importance: 4,
		MemoryType: memory.TypeDecision,
	}}
	want := "- [decision, importance 4] We chose Postgres for the ledger\n"
	if got := f.FormatResult(r); got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestFormatMemories(t *testing.T) {
	f := NewFormatter()
	items := []memory.Memory{
		{Content: "Use React"},
		{Content: "Use TypeScript"},
	}

	result := f.FormatMemories(memory.TypePreference, items)
	if !strings.Contains(result, "### Preferences") {
		t.Errorf("missing heading in %q", result)
	}
	if !strings.Contains(result, "- Use React\n") || !strings.Contains(result, "- Use TypeScript\n") {
		t.Errorf("missing items in %q", result)
	}
}

func TestFormatMemories_Empty(t *testing.T) {
	f := NewFormatter()
	if result := f.FormatMemories(memory.TypeFact, nil); result != "" {
		t.Errorf("expected empty string for no items, got %q", result)
	}
}

func TestTypeLabel(t *testing.T) {
	tests := []struct {
		in   memory.MemoryType
		want string
	}{
		{memory.TypeDecision, "Decisions"},
		{memory.TypeFact, "Facts"},
		{memory.TypeGeneral, "General"},
		{"", "General"},
		{"strategy", "Strategies"},
	}
	for _, tt := range tests {
		if got := TypeLabel(tt.in); got != tt.want {
			t.Errorf("TypeLabel(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
