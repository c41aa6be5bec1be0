package cli

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/memory"
)

func newSearchCmd() *cobra.Command {
	var (
		limit     int
		threshold float64
		memType   string
		minImp    int
	)

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search memories by meaning",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := memory.SearchOptions{Limit: limit, Threshold: threshold, MinImportance: minImp}
			if memType != "" {
				opts.MemoryType = memory.NormalizeType(memType)
			}
			results, err := a.store.Search(ctx, query, opts)
			if err != nil {
				return err
			}
			if len(results) == 0 {
				fmt.Println("No results found.")
				return nil
			}

			now := time.Now()
			fmt.Printf("%d result(s) for %q\n\n", len(results), query)
			for _, r := range results {
				fmt.Printf("#%d  score=%.3f  sim=%.3f  imp=%d  %s\n", r.ID, r.Score, r.Similarity, r.Importance, r.MemoryType)
				fmt.Printf("  %s\n", truncateLabel(r.Content, 120))
				fmt.Printf("  %s  accessed=%dx  %s\n\n", fmtAge(now, r.CreatedAt), r.AccessCount, fmtTags(r.TopicTags))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", memory.DefaultSearchLimit, "maximum results")
	cmd.Flags().Float64Var(&threshold, "threshold", memory.DefaultSearchThreshold, "minimum score")
	cmd.Flags().StringVarP(&memType, "type", "t", "", "only this memory type")
	cmd.Flags().IntVar(&minImp, "min-importance", memory.MinImportance, "minimum importance")
	return cmd
}

func newGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <id>",
		Short: "Show one memory with its links",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			m, err := a.store.Get(ctx, id)
			if err != nil {
				return err
			}
			if m == nil {
				fmt.Printf("Memory #%d not found.\n", id)
				return nil
			}
			return printMemory(ctx, a.store, m)
		},
	}
}

func printMemory(ctx context.Context, store *memory.Store, m *memory.Memory) error {
	now := time.Now()
	tags := strings.Join(m.TopicTags, ", ")
	if tags == "" {
		tags = "none"
	}
	session := m.SourceSession
	if session == "" {
		session = "unknown"
	}
	last := "never"
	if m.LastAccessed != nil {
		last = fmtAge(now, *m.LastAccessed)
	}

	fmt.Printf("Memory #%d\n", m.ID)
	fmt.Printf("  Type:       %s\n", m.MemoryType)
	fmt.Printf("  Importance: %d\n", m.Importance)
	fmt.Printf("  Tags:       %s\n", tags)
	fmt.Printf("  Session:    %s\n", session)
	fmt.Printf("  Created:    %s\n", fmtAge(now, m.CreatedAt))
	fmt.Printf("  Accessed:   %dx (last: %s)\n", m.AccessCount, last)
	fmt.Printf("  Content:\n    %s\n", m.Content)

	links, err := store.Links(ctx, m.ID)
	if err != nil {
		return err
	}
	backlinks, err := store.Backlinks(ctx, m.ID)
	if err != nil {
		return err
	}
	if len(links)+len(backlinks) == 0 {
		return nil
	}
	fmt.Println("  Links:")
	for _, l := range links {
		fmt.Printf("    -> #%d (%s)%s\n", l.ToID, l.Relationship, linkedPreview(ctx, store, l.ToID))
	}
	for _, l := range backlinks {
		fmt.Printf("    <- #%d (%s)%s\n", l.FromID, l.Relationship, linkedPreview(ctx, store, l.FromID))
	}
	return nil
}

func linkedPreview(ctx context.Context, store *memory.Store, id int64) string {
	m, err := store.Get(ctx, id)
	if err != nil || m == nil {
		return ""
	}
	return ": " + truncateLabel(m.Content, 60)
}

func newListCmd() *cobra.Command {
	var (
		limit   int
		offset  int
		sortBy  string
		memType string
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List memories",
		Long: `List stored memories without a query.

Sort keys: created_at, importance, access_count, last_accessed, id. Prefix
with '-' for descending order; the default is newest first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := memory.ListOptions{Limit: limit, Offset: offset, Sort: sortBy}
			if memType != "" {
				opts.MemoryType = memory.NormalizeType(memType)
			}
			items, total, err := a.store.List(ctx, opts)
			if err != nil {
				return err
			}

			now := time.Now()
			fmt.Printf("Showing %d of %d memories\n\n", len(items), total)
			for _, m := range items {
				fmt.Printf("#%-4d imp=%d %-12s %-10s %s\n",
					m.ID, m.Importance, m.MemoryType, fmtAge(now, m.CreatedAt), truncateLabel(m.Content, 80))
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum memories")
	cmd.Flags().IntVar(&offset, "offset", 0, "skip this many memories")
	cmd.Flags().StringVar(&sortBy, "sort", "-created_at", "sort key")
	cmd.Flags().StringVarP(&memType, "type", "t", "", "only this memory type")
	return cmd
}

func newLinkCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "link <from-id> <to-id> <relationship>",
		Short: "Record a relationship between two memories",
		Long: `Create a directed, labelled link between two memories.

Example:
  memory-agent link 12 4 supersedes`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			from, err := parseID(args[0])
			if err != nil {
				return err
			}
			to, err := parseID(args[1])
			if err != nil {
				return err
			}
			rel := strings.TrimSpace(args[2])
			if rel == "" {
				return fmt.Errorf("relationship must not be empty")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			ok, err := a.store.Link(ctx, from, to, rel)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Printf("No link created: #%d or #%d does not exist, or the link already exists.\n", from, to)
				return nil
			}
			fmt.Printf("Linked #%d -[%s]-> #%d\n", from, rel, to)
			return nil
		},
	}
}

// fmtAge renders t relative to now: minutes, hours or days ago, then a date.
func fmtAge(now, t time.Time) string {
	if t.IsZero() {
		return "never"
	}
	age := now.Sub(t)
	switch {
	case age < time.Hour:
		return fmt.Sprintf("%dm ago", int(age.Minutes()))
	case age < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(age.Hours()))
	case age < 7*24*time.Hour:
		return fmt.Sprintf("%dd ago", int(age.Hours()/24))
	}
	return t.Format("2006-01-02")
}

func fmtTags(tags []string) string {
	var b strings.Builder
	for i, t := range tags {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString("[" + t + "]")
	}
	return b.String()
}
