package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
	"github.com/memvra/memory-agent/internal/memory"
)

func newRecallCmd() *cobra.Command {
	var (
		budget    int
		limit     int
		threshold float64
		memType   string
		pinned    bool
		verbose   bool
	)

	cmd := &cobra.Command{
		Use:   "recall <query>",
		Short: "Print a token-budgeted block of relevant memories",
		Long: `Search for memories relevant to the query and render them as a markdown
block that fits the token budget, ready to paste into a prompt.

Examples:
  memory-agent recall "database choice"
  memory-agent recall "deploy process" --budget 500 --pinned`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			opts := ctxpkg.BuildOptions{
				Query:     query,
				Budget:    budget,
				Limit:     limit,
				Threshold: threshold,
				Pinned:    pinned,
			}
			if memType != "" {
				opts.MemoryType = memory.NormalizeType(memType)
			}

			b := ctxpkg.NewBuilder(a.store, ctxpkg.NewFormatter(), a.counter)
			rc, err := b.Build(ctx, opts)
			if err != nil {
				return err
			}
			if rc.Text == "" {
				fmt.Fprintln(os.Stderr, "No relevant memories.")
				return nil
			}

			fmt.Print(rc.Text)
			if verbose {
				fmt.Fprintf(os.Stderr, "\n%d memories, %d/%d tokens", rc.MemoriesUsed, rc.TokensUsed, budget)
				if rc.Truncated {
					fmt.Fprint(os.Stderr, " (last entry truncated)")
				}
				fmt.Fprintln(os.Stderr)
				for _, s := range rc.Sources {
					fmt.Fprintf(os.Stderr, "  %s\n", s)
				}
			}
			return nil
		},
	}

	cmd.Flags().IntVarP(&budget, "budget", "b", 2000, "token budget")
	cmd.Flags().IntVarP(&limit, "limit", "l", 10, "maximum memories searched")
	cmd.Flags().Float64Var(&threshold, "threshold", memory.DefaultSearchThreshold, "minimum score")
	cmd.Flags().StringVarP(&memType, "type", "t", "", "only recall this memory type")
	cmd.Flags().BoolVar(&pinned, "pinned", false, "always include importance-5 memories")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "list what was included on stderr")
	return cmd
}
