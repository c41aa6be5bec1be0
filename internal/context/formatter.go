package context

import (
	"fmt"
	"strings"

	"github.com/memvra/memory-agent/internal/memory"
)

// Formatter renders memories into prompt-ready markdown.
type Formatter struct{}

// NewFormatter creates a Formatter.
func NewFormatter() *Formatter { return &Formatter{} }

// FormatHeader renders the heading of a recall block.
func (f *Formatter) FormatHeader(query string) string {
	if query == "" {
		return "## Memories\n\n"
	}
	return fmt.Sprintf("## Memories relevant to %q\n\n", query)
}

// FormatResult renders one search hit as a list item.
func (f *Formatter) FormatResult(r memory.Result) string {
	return fmt.Sprintf("- [%s, importance %d] %s\n", r.MemoryType, r.Importance, oneLine(r.Content))
}

// FormatMemories renders memories of one type as a titled markdown list.
func (f *Formatter) FormatMemories(memType memory.MemoryType, items []memory.Memory) string {
	return f.FormatSection(TypeLabel(memType), items)
}

// FormatSection renders memories under a level-3 heading.
func (f *Formatter) FormatSection(title string, items []memory.Memory) string {
	if len(items) == 0 {
		return ""
	}
	var b strings.Builder
	fmt.Fprintf(&b, "### %s\n\n", title)
	for _, m := range items {
		fmt.Fprintf(&b, "- %s\n", oneLine(m.Content))
	}
	b.WriteString("\n")
	return b.String()
}

// TypeLabel returns the plural heading for a memory type ("Decisions").
func TypeLabel(t memory.MemoryType) string {
	s := string(t)
	if s == "" {
		s = string(memory.TypeGeneral)
	}
	label := strings.ToUpper(s[:1]) + s[1:]
	switch {
	case s == string(memory.TypeGeneral):
		return label
	case strings.HasSuffix(label, "y"):
		return strings.TrimSuffix(label, "y") + "ies"
	}
	return label + "s"
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
