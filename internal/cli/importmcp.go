package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/memory"
)

const (
	mcpImportSession   = "mcp-import"
	mcpImportThreshold = 0.90
)

// mcpGraph is the read_graph export of the MCP memory server.
type mcpGraph struct {
	Entities []mcpEntity `json:"entities"`
}

type mcpEntity struct {
	Name         string   `json:"name"`
	EntityType   string   `json:"entityType"`
	Observations []string `json:"observations"`
}

func newImportMCPCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "import-mcp [file]",
		Short: "Import an MCP memory graph export as seed memories",
		Long: `Read a knowledge-graph export from the MCP memory server and store each
observation as a fact memory "[name] (type): observation". Observations that
closely match an existing memory are skipped.

The default file is <data_dir>/mcp_export.json.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			path := filepath.Join(a.cfg.ResolvedDataDir(), "mcp_export.json")
			if len(args) == 1 {
				path = args[0]
			}
			g, err := readMCPGraph(path)
			if err != nil {
				return err
			}

			imported, skipped, err := importGraph(ctx, a.store, g)
			fmt.Printf("Imported %d memories from %d MCP entities\n", imported, len(g.Entities))
			fmt.Printf("Skipped %d duplicates\n", skipped)
			return err
		},
	}
}

func readMCPGraph(path string) (mcpGraph, error) {
	var g mcpGraph
	data, err := os.ReadFile(path)
	if err != nil {
		return g, fmt.Errorf("read MCP export: %w", err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parse MCP export %s: %w", path, err)
	}
	return g, nil
}

// importGraph stores every observation that has no near-duplicate.
func importGraph(ctx context.Context, store *memory.Store, g mcpGraph) (imported, skipped int, err error) {
	for _, e := range g.Entities {
		tags := []string{strings.ToLower(e.EntityType), strings.ReplaceAll(strings.ToLower(e.Name), " ", "-")}
		for _, obs := range e.Observations {
			if strings.TrimSpace(obs) == "" {
				continue
			}
			content := fmt.Sprintf("[%s] (%s): %s", e.Name, e.EntityType, obs)

			dups, err := store.FindDuplicates(ctx, content, mcpImportThreshold)
			if err != nil {
				return imported, skipped, err
			}
			if len(dups) > 0 {
				skipped++
				continue
			}
			if _, err := store.Store(ctx, memory.NewMemory{
				Content:       content,
				Importance:    memory.DefaultImportance,
				MemoryType:    memory.TypeFact,
				TopicTags:     tags,
				SourceSession: mcpImportSession,
			}); err != nil {
				return imported, skipped, err
			}
			imported++
		}
	}
	return imported, skipped, nil
}
