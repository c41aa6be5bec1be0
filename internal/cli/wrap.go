package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	ctxpkg "github.com/memvra/memory-agent/internal/context"
)

var (
	ansiEscape = regexp.MustCompile(`\x1b\[[0-9;?]*[a-zA-Z]|\x1b[^\[a-zA-Z]|\r`)
	blankRuns  = regexp.MustCompile(`\n{3,}`)
)

// Wrapped sessions shorter than this are not ingested.
const minWrapChars = 50

// wrapPreambleBudget is the token budget of the injected context.
const wrapPreambleBudget = 1000

func newWrapCmd() *cobra.Command {
	var (
		inject   bool
		query    string
		noIngest bool
		pf       pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "wrap <tool> [tool-args...]",
		Short: "Wrap a chat CLI and remember the conversation",
		Long: `Launch a chat CLI (claude, gemini, ollama run ...) as a child process,
proxy all I/O transparently, and on exit run the captured transcript through
the extraction pipeline under the session wrap-<tool>.

With --inject, pinned memories and those relevant to --query are typed into
the tool as its first message.

Examples:
  memory-agent wrap claude
  memory-agent wrap --inject --query "billing service" gemini
  memory-agent wrap ollama run llama3.2`,
		Args:               cobra.MinimumNArgs(1),
		FParseErrWhitelist: cobra.FParseErrWhitelist{UnknownFlags: true},
		RunE: func(cmd *cobra.Command, args []string) error {
			toolName := args[0]
			toolArgs := args[1:]
			ctx := cmd.Context()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			var preamble string
			if inject {
				b := ctxpkg.NewBuilder(a.store, ctxpkg.NewFormatter(), a.counter)
				preamble = buildWrapContext(ctx, b, query)
				if preamble != "" {
					fmt.Fprintf(os.Stderr, "[memory-agent] injecting context into %s...\n", toolName)
				}
			}

			var capture bytes.Buffer
			var runErr error
			if term.IsTerminal(int(os.Stdin.Fd())) {
				runErr = runInPTY(toolName, toolArgs, &capture, preamble)
			} else {
				runErr = runWithoutPTY(toolName, toolArgs, &capture, preamble)
			}
			if runErr != nil {
				fmt.Fprintf(os.Stderr, "\n[memory-agent wrap] %s exited: %v\n", toolName, runErr)
			}

			if noIngest {
				return nil
			}
			transcript := stripAnsi(capture.String())
			if len(transcript) < minWrapChars {
				return nil
			}

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}
			session := wrapSession(toolName)
			fmt.Fprintf(os.Stderr, "\n[memory-agent wrap] ingesting %d chars as %s...\n", len(transcript), session)
			ids, err := pipe.ProcessConversation(ctx, transcript, session, a.cfg.Pipeline.ChunkSize, a.cfg.Pipeline.Overlap)
			if err != nil {
				logger.Warn("ingest failed", "session", session, "chars", len(transcript), "stage", "wrap", "err", err)
			}
			fmt.Fprintf(os.Stderr, "[memory-agent wrap] %d memor%s stored\n", len(ids), pluralY(len(ids)))
			return nil
		},
	}

	cmd.Flags().BoolVar(&inject, "inject", false, "type remembered context into the tool on start")
	cmd.Flags().StringVar(&query, "query", "", "topic used to pick injected memories")
	cmd.Flags().BoolVar(&noIngest, "no-ingest", false, "do not ingest the captured session")
	addPipelineFlags(cmd, &pf)
	return cmd
}

func wrapSession(tool string) string {
	return "wrap-" + filepath.Base(tool)
}

func pluralY(n int) string {
	if n == 1 {
		return "y"
	}
	return "ies"
}

// runInPTY launches toolName in a pseudo-terminal, proxying all I/O.
// A non-empty preamble is typed into the child after a short startup delay.
// Output is tee'd into capture. Returns when the child exits.
func runInPTY(toolName string, toolArgs []string, capture *bytes.Buffer, preamble string) error {
	cmd := exec.Command(toolName, toolArgs...)
	cmd.Env = os.Environ()

	ptmx, err := pty.Start(cmd)
	if err != nil {
		return fmt.Errorf("pty start: %w", err)
	}
	defer func() { _ = ptmx.Close() }()

	winchCh := make(chan os.Signal, 1)
	signal.Notify(winchCh, syscall.SIGWINCH)
	go func() {
		for range winchCh {
			_ = pty.InheritSize(os.Stdin, ptmx)
		}
	}()
	winchCh <- syscall.SIGWINCH
	defer func() { signal.Stop(winchCh); close(winchCh) }()

	// Raw mode: every keystroke (including Ctrl+C) goes to the child.
	oldState, err := term.MakeRaw(int(os.Stdin.Fd()))
	if err != nil {
		return fmt.Errorf("raw mode: %w", err)
	}
	defer func() { _ = term.Restore(int(os.Stdin.Fd()), oldState) }()

	go func() {
		if preamble != "" {
			time.Sleep(800 * time.Millisecond)
			_, _ = ptmx.Write([]byte(preamble))
		}
		_, _ = io.Copy(ptmx, os.Stdin)
	}()

	_, _ = io.Copy(os.Stdout, io.TeeReader(ptmx, capture))
	return cmd.Wait()
}

// runWithoutPTY runs the tool with plain pipes for non-terminal stdin.
func runWithoutPTY(toolName string, toolArgs []string, capture *bytes.Buffer, preamble string) error {
	cmd := exec.Command(toolName, toolArgs...)
	cmd.Env = os.Environ()
	if preamble != "" {
		cmd.Stdin = io.MultiReader(strings.NewReader(preamble), os.Stdin)
	} else {
		cmd.Stdin = os.Stdin
	}
	cmd.Stdout = io.MultiWriter(os.Stdout, capture)
	cmd.Stderr = os.Stderr
	return cmd.Run()
}

// buildWrapContext renders pinned memories and those relevant to query as
// a first message for the wrapped tool. It returns "" when nothing applies.
func buildWrapContext(ctx context.Context, b *ctxpkg.Builder, query string) string {
	rc, err := b.Build(ctx, ctxpkg.BuildOptions{Query: query, Budget: wrapPreambleBudget, Pinned: true})
	if err != nil {
		logger.Warn("wrap context failed", "err", err)
		return ""
	}
	if rc.Text == "" {
		return ""
	}
	return "Here is context remembered from earlier conversations (provided by memory-agent):\n\n" +
		rc.Text + "\nPlease keep it in mind for this session.\n"
}

// stripAnsi removes ANSI escape codes, carriage returns, and collapses
// excessive blank lines from PTY-captured output.
func stripAnsi(s string) string {
	clean := ansiEscape.ReplaceAllString(s, "")
	clean = blankRuns.ReplaceAllString(clean, "\n\n")
	return strings.TrimSpace(clean)
}
