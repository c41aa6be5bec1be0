package cli

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/memory"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show memory store statistics",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.store.Stats(ctx)
			if err != nil {
				return err
			}
			raw, err := a.store.RawChunkStats(ctx)
			if err != nil {
				return err
			}

			var dbSize int64
			if fi, err := os.Stat(a.cfg.DBPath()); err == nil {
				dbSize = fi.Size()
			}

			now := time.Now()
			fmt.Printf("\nMemories:   %d\n", st.TotalMemories)
			fmt.Printf("Links:      %d\n", st.TotalLinks)
			fmt.Printf("Avg imp.:   %.2f\n", st.AvgImportance)
			fmt.Printf("Accesses:   %d\n", st.TotalAccesses)
			if st.Oldest != nil && st.Newest != nil {
				fmt.Printf("Oldest:     %s\n", fmtAge(now, *st.Oldest))
				fmt.Printf("Newest:     %s\n", fmtAge(now, *st.Newest))
			}
			fmt.Printf("Raw chunks: %d (%d chars, %d sessions)\n", raw.TotalChunks, raw.TotalChars, raw.Sessions)
			fmt.Printf("Index:      %s (%d indexed, %s, %d dims)\n", st.IndexBackend, st.Indexed, st.EmbedModel, st.Dimension)
			fmt.Printf("DB size:    %s\n", formatBytes(dbSize))

			if len(st.ByType) > 0 {
				fmt.Println("\nBy type:")
				types := make([]string, 0, len(st.ByType))
				for t := range st.ByType {
					types = append(types, string(t))
				}
				sort.Strings(types)
				for _, t := range types {
					fmt.Printf("  %-15s %d\n", t, st.ByType[memory.MemoryType(t)])
				}
			}
			fmt.Println("\nBy importance:")
			for i := memory.MinImportance; i <= memory.MaxImportance; i++ {
				n := st.ByImportance[i]
				fmt.Printf("  %d: %4d %s\n", i, n, strings.Repeat("█", min(n, 60)))
			}
			fmt.Println()
			return nil
		},
	}
}

func newHealthCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check the embedding provider and database",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var h adapter.Health
			if hc, ok := a.store.Embedder().(adapter.HealthChecker); ok {
				h = hc.Health(ctx)
			} else {
				h = adapter.Health{Available: true, ModelLoaded: true, Model: a.store.Embedder().Model()}
			}

			status := "OK"
			switch {
			case !h.Available:
				status = "UNREACHABLE"
			case !h.ModelLoaded:
				status = "MODEL MISSING"
			case h.Error != "":
				status = "FAIL"
			}
			fmt.Printf("Embeddings (%s): %s\n", h.Model, status)
			if h.Error != "" {
				fmt.Printf("  error: %s\n", h.Error)
			}
			if h.Latency > 0 {
				fmt.Printf("  latency: %dms\n", h.Latency.Milliseconds())
			}

			if n, err := a.store.Count(ctx); err != nil {
				fmt.Printf("SQLite: FAIL (%v)\n", err)
			} else {
				fmt.Printf("SQLite: OK (%d memories, %s)\n", n, a.cfg.DBPath())
			}
			fmt.Printf("Index:  %s\n", a.store.Backend())

			if !h.OK() || h.Error != "" {
				return fmt.Errorf("embedding provider unhealthy")
			}
			return nil
		},
	}
}

func formatBytes(b int64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "KMGTPE"[exp])
}
