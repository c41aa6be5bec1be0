package export

import (
	"fmt"
	"strings"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
)

// MarkdownExporter renders memories as a markdown document, one section per
// memory type.
type MarkdownExporter struct{}

func (e *MarkdownExporter) Export(data ExportData) (string, error) {
	var b strings.Builder
	b.WriteString("# Memory Export\n\n")
	fmt.Fprintf(&b, "_%d memories, %d links, generated %s_\n\n",
		len(data.Memories), len(data.Links), data.GeneratedAt.UTC().Format("2006-01-02 15:04 MST"))

	order, groups := groupByType(data.Memories)
	for _, t := range order {
		fmt.Fprintf(&b, "## %s\n\n", ctxpkg.TypeLabel(t))
		for _, m := range groups[t] {
			fmt.Fprintf(&b, "- %s _(#%d, importance %d", oneLine(m.Content), m.ID, m.Importance)
			if len(m.TopicTags) > 0 {
				fmt.Fprintf(&b, ", tags: %s", strings.Join(m.TopicTags, ", "))
			}
			b.WriteString(")_\n")
		}
		b.WriteString("\n")
	}

	if len(data.Links) > 0 {
		b.WriteString("## Links\n\n")
		for _, l := range data.Links {
			fmt.Fprintf(&b, "- #%d %s #%d\n", l.FromID, l.Relationship, l.ToID)
		}
		b.WriteString("\n")
	}
	return b.String(), nil
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
