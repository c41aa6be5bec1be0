// Package cli defines the Cobra command tree for the memory-agent CLI.
package cli

import (
	"fmt"
	"os"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
)

var (
	// version, commit, date are set via -ldflags at build time.
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
)

// Persistent flags shared by every command.
var (
	configPath string
	dataDir    string
	logLevel   string
)

// logger is the root logger; components derive children with With.
var logger = log.NewWithOptions(os.Stderr, log.Options{
	ReportTimestamp: true,
	Prefix:          "memory-agent",
})

// rootCmd is the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "memory-agent",
	Short: "Semantic long-term memory for conversational agents",
	Long: `memory-agent keeps durable facts, decisions and preferences distilled from
conversations in a local SQLite database and retrieves them by meaning.

Conversations reach it through the ingest commands, the gateway listener,
the HTTP API ('memory-agent serve') or the MCP server ('memory-agent mcp').
A gate model decides whether a chunk is worth remembering and an extract
model turns it into memories, which are deduplicated against what is stored.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if logLevel == "" {
			return nil
		}
		return setLogLevel(logLevel)
	},
}

// Execute runs the root command.
func Execute(v, c, d string) {
	version, commit, date = v, c, d
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "config file (default ~/.config/memory-agent/config.toml)")
	pf.StringVar(&dataDir, "data-dir", "", "directory holding the memory database and listener state")
	pf.StringVar(&logLevel, "log-level", "", "debug, info, warn or error (default from config)")

	rootCmd.AddCommand(
		newServeCmd(),
		newMCPCmd(),
		newListenCmd(),
		newIngestCmd(),
		newIngestDirCmd(),
		newBackfillCmd(),
		newWatchCmd(),
		newWrapCmd(),
		newImportMCPCmd(),
		newRecallCmd(),
		newExportCmd(),
		newStoreCmd(),
		newSearchCmd(),
		newGetCmd(),
		newDeleteCmd(),
		newListCmd(),
		newLinkCmd(),
		newStatsCmd(),
		newHealthCmd(),
		newPruneCmd(),
		newSetupCmd(),
		newVersionCmd(),
	)
}

func setLogLevel(s string) error {
	lvl, err := log.ParseLevel(s)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", s, err)
	}
	logger.SetLevel(lvl)
	return nil
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("memory-agent %s (commit %s, built %s)\n", version, commit, date)
		},
	}
}
