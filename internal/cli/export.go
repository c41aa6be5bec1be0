package cli

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/export"
	"github.com/memvra/memory-agent/internal/memory"
)

func newExportCmd() *cobra.Command {
	var (
		format  string
		section string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export all memories as markdown or JSON",
		Long: `Render every stored memory grouped by type, with the links between them.
Output is written to stdout unless --output is given.

Examples:
  memory-agent export > MEMORIES.md
  memory-agent export --format json --output memories.json
  memory-agent export --type decision`,
		RunE: func(cmd *cobra.Command, args []string) error {
			exporter, ok := export.Get(strings.ToLower(format))
			if !ok {
				return fmt.Errorf("unknown format %q; valid formats: %s",
					format, strings.Join(export.ValidFormats(), ", "))
			}

			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			data, err := export.Collect(ctx, a.store, time.Now())
			if err != nil {
				return err
			}
			if section != "" {
				data.Memories = filterType(data.Memories, memory.NormalizeType(section))
			}

			out, err := exporter.Export(data)
			if err != nil {
				return fmt.Errorf("export: %w", err)
			}

			if output == "" || output == "-" {
				_, err = cmd.OutOrStdout().Write([]byte(out))
				return err
			}
			if err := os.WriteFile(output, []byte(out), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", output, err)
			}
			fmt.Fprintf(os.Stderr, "Exported %d memories to %s\n", len(data.Memories), output)
			return nil
		},
	}

	cmd.Flags().StringVar(&format, "format", "markdown", "output format: markdown, json")
	cmd.Flags().StringVarP(&section, "type", "t", "", "export only memories of this type")
	cmd.Flags().StringVarP(&output, "output", "o", "", "write to this file instead of stdout")
	return cmd
}

func filterType(ms []memory.Memory, t memory.MemoryType) []memory.Memory {
	var out []memory.Memory
	for _, m := range ms {
		if m.MemoryType == t {
			out = append(out, m)
		}
	}
	return out
}
