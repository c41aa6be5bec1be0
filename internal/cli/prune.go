package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/memory"
)

func newPruneCmd() *cobra.Command {
	var (
		maxImportance int
		olderThanDays int
		unaccessed    bool
		dryRun        bool
	)

	cmd := &cobra.Command{
		Use:   "prune",
		Short: "Delete low-value memories in bulk",
		Long: `Remove memories matching every given condition. At least one condition is
required.

  memory-agent prune --max-importance 1 --older-than 90
  memory-agent prune --unaccessed --older-than 30 --dry-run`,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := memory.PruneOptions{
				MaxImportance:  maxImportance,
				OlderThan:      time.Duration(olderThanDays) * 24 * time.Hour,
				UnaccessedOnly: unaccessed,
				DryRun:         dryRun,
			}
			if opts.MaxImportance == 0 && opts.OlderThan == 0 && !opts.UnaccessedOnly {
				return fmt.Errorf("prune needs --max-importance, --older-than or --unaccessed")
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			before, _ := a.store.Count(ctx)
			ids, err := a.store.Prune(ctx, opts)
			if err != nil {
				return err
			}

			if dryRun {
				fmt.Printf("Would delete %d of %d memories\n", len(ids), before)
				for _, id := range ids {
					fmt.Printf("  #%d\n", id)
				}
				return nil
			}
			after, _ := a.store.Count(ctx)
			fmt.Printf("Pruned %d memories (%d -> %d)\n", len(ids), before, after)
			return nil
		},
	}

	cmd.Flags().IntVar(&maxImportance, "max-importance", 0, "only memories with importance at most N")
	cmd.Flags().IntVar(&olderThanDays, "older-than", 0, "only memories created more than N days ago")
	cmd.Flags().BoolVar(&unaccessed, "unaccessed", false, "only memories never returned by a search")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "preview what would be pruned without deleting")
	return cmd
}
