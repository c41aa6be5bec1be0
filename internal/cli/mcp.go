package cli

import (
	"github.com/spf13/cobra"

	mcpserver "github.com/memvra/memory-agent/internal/mcp"
)

func newMCPCmd() *cobra.Command {
	var (
		withPipeline bool
		pf           pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "mcp",
		Short: "Run the MCP tool server on stdio",
		Long: `Expose the memory store to an MCP client (Claude Desktop, Claude Code,
Cursor) over stdin/stdout.

Tools: memory_store, memory_search, memory_get, memory_delete, memory_link,
memory_recall, and memory_ingest when --with-pipeline is set.

Logs go to stderr; stdout carries the protocol.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp(cmd.Context())
			if err != nil {
				return err
			}
			defer a.Close()

			opts := []mcpserver.Option{
				mcpserver.WithLogger(componentLogger("mcp")),
				mcpserver.WithTokenCounter(a.counter),
			}
			if withPipeline {
				pipe, err := a.pipeline(pf)
				if err != nil {
					return err
				}
				opts = append(opts, mcpserver.WithPipeline(pipe, a.cfg.Pipeline.ChunkSize, a.cfg.Pipeline.Overlap))
			}

			return mcpserver.New(a.store, version, opts...).ServeStdio()
		},
	}

	cmd.Flags().BoolVar(&withPipeline, "with-pipeline", false, "enable the memory_ingest tool")
	addPipelineFlags(cmd, &pf)
	return cmd
}
