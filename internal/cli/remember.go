package cli

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/memory"
)

func newStoreCmd() *cobra.Command {
	var (
		importance int
		memType    string
		tags       []string
		session    string
	)

	cmd := &cobra.Command{
		Use:     "store <statement>",
		Aliases: []string{"remember"},
		Short:   "Store a memory",
		Long: `Manually save something the agent should remember. A warning is printed
when a near-duplicate already exists; the memory is stored anyway.

Examples:
  memory-agent store "We switched billing to Postgres" --type decision -i 4
  memory-agent store "Alice prefers dark mode" --type preference --tags alice,ui`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			statement := strings.Join(args, " ")
			if importance < memory.MinImportance || importance > memory.MaxImportance {
				return fmt.Errorf("importance must be between %d and %d", memory.MinImportance, memory.MaxImportance)
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			dups, err := a.store.FindDuplicates(ctx, statement, memory.DefaultDedupThreshold)
			if err != nil {
				return err
			}
			if len(dups) > 0 {
				fmt.Printf("Warning: found %d similar memor%s:\n", len(dups), pluralY(len(dups)))
				for _, d := range dups {
					fmt.Printf("  [%d] (%.2f) %s\n", d.ID, d.Similarity, truncateLabel(d.Content, 80))
				}
				fmt.Println("Storing anyway...")
			}

			mt := memory.NormalizeType(memType)
			id, err := a.store.Store(ctx, memory.NewMemory{
				Content:       statement,
				Importance:    importance,
				MemoryType:    mt,
				TopicTags:     tags,
				SourceSession: session,
			})
			if err != nil {
				return fmt.Errorf("store memory: %w", err)
			}

			fmt.Printf("Stored memory #%d (importance=%d, type=%s)\n", id, importance, mt)
			return nil
		},
	}

	cmd.Flags().IntVarP(&importance, "importance", "i", memory.DefaultImportance, "importance 1-5")
	cmd.Flags().StringVarP(&memType, "type", "t", string(memory.TypeGeneral),
		"memory type: decision, insight, fact, preference, project, conversation, general")
	cmd.Flags().StringSliceVar(&tags, "tags", nil, "comma-separated topic tags")
	cmd.Flags().StringVarP(&session, "session", "s", "cli", "source session label")
	return cmd
}

func truncateLabel(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
