package cli

import (
	"bufio"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/config"
)

func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive first-time configuration",
		Long:  "Choose the gate and extract backends, the embedding provider and API keys, and write the config file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				cfg = config.Default()
			}

			path := configPath
			if path == "" {
				if path, err = config.Path(); err != nil {
					return err
				}
			}

			cfg = runSetup(bufio.NewReader(cmd.InOrStdin()), cmd.OutOrStdout(), cfg)
			if err := cfg.Validate(); err != nil {
				return err
			}
			if err := config.Save(path, cfg); err != nil {
				return fmt.Errorf("save config: %w", err)
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Configuration saved to %s\n", path)
			fmt.Fprintln(cmd.OutOrStdout(), "Run `memory-agent health` to check the embedding provider.")
			return nil
		},
	}
}

var backendChoices = []struct {
	name  string
	label string
}{
	{"local", "Ollama on this machine"},
	{"remote", "Ollama on another host"},
	{"anthropic", "Claude (Anthropic)"},
	{"gemini", "Gemini (Google)"},
	{"openai", "OpenAI"},
}

// runSetup walks through the questions and returns the updated config.
// Empty answers keep the current value.
func runSetup(r *bufio.Reader, w io.Writer, cfg config.Config) config.Config {
	fmt.Fprintln(w, "Let's configure memory-agent.")
	fmt.Fprintln(w)

	cfg.Gate.Backend = chooseBackend(r, w, "Which backend should decide whether a conversation is worth remembering?", cfg.Gate.Backend)
	cfg.Extract.Backend = chooseBackend(r, w, "Which backend should extract memories?", cfg.Extract.Backend)

	for _, b := range []string{cfg.Gate.Backend, cfg.Extract.Backend} {
		switch b {
		case "remote":
			fmt.Fprintf(w, "Remote Ollama host (Enter for %s): ", cfg.Ollama.RemoteHost)
			if v := readLine(r); v != "" {
				cfg.Ollama.RemoteHost = v
			}
		case "anthropic":
			if cfg.Keys.Anthropic == "" {
				fmt.Fprintf(w, "Anthropic API key (Enter to set %s later): ", config.EnvAnthropic)
				cfg.Keys.Anthropic = readLine(r)
			}
		case "gemini":
			if cfg.Keys.Gemini == "" {
				fmt.Fprintf(w, "Gemini API key (Enter to set %s later): ", config.EnvGemini)
				cfg.Keys.Gemini = readLine(r)
			}
		case "openai":
			if cfg.Keys.OpenAI == "" {
				fmt.Fprintf(w, "OpenAI API key (Enter to set %s later): ", config.EnvOpenAI)
				cfg.Keys.OpenAI = readLine(r)
			}
		}
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "For embeddings (semantic search), use:")
	fmt.Fprintln(w, "  [1] Ollama (private, free; requires Ollama)")
	fmt.Fprintln(w, "  [2] OpenAI embeddings")
	fmt.Fprint(w, "> ")
	switch readLine(r) {
	case "2":
		cfg.Embedding.Backend = "openai"
		cfg.Embedding.Model = "text-embedding-3-small"
		cfg.Embedding.Dimension = 1536
		if cfg.Keys.OpenAI == "" {
			fmt.Fprint(w, "OpenAI API key: ")
			cfg.Keys.OpenAI = readLine(r)
		}
	case "1":
		cfg.Embedding.Backend = "ollama"
		fmt.Fprintf(w, "Ollama host (Enter for %s): ", cfg.Embedding.Host)
		if v := readLine(r); v != "" {
			cfg.Embedding.Host = v
		}
	}
	fmt.Fprintln(w)
	return cfg
}

func chooseBackend(r *bufio.Reader, w io.Writer, question, current string) string {
	fmt.Fprintln(w, question)
	for i, c := range backendChoices {
		mark := ""
		if c.name == current {
			mark = " (current)"
		}
		fmt.Fprintf(w, "  [%d] %s%s\n", i+1, c.label, mark)
	}
	fmt.Fprint(w, "> ")
	n, err := strconv.Atoi(readLine(r))
	if err != nil || n < 1 || n > len(backendChoices) {
		return current
	}
	return backendChoices[n-1].name
}

// readLine reads a trimmed line from a bufio.Reader.
func readLine(r *bufio.Reader) string {
	line, _ := r.ReadString('\n')
	return strings.TrimSpace(line)
}
