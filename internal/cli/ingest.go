package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/memvra/memory-agent/internal/scanner"
)

// conversationProcessor chunks and ingests a whole transcript.
// extract.Pipeline implements it.
type conversationProcessor interface {
	ProcessConversation(ctx context.Context, text, session string, chunkSize, overlap int) ([]int64, error)
}

func newProgress(w io.Writer, n int, desc string) *progressbar.ProgressBar {
	return progressbar.NewOptions(n,
		progressbar.OptionSetDescription(desc),
		progressbar.OptionSetWriter(w),
		progressbar.OptionShowCount(),
		progressbar.OptionClearOnFinish(),
	)
}

func newIngestCmd() *cobra.Command {
	var (
		session string
		pf      pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "ingest [file|-]",
		Short: "Extract memories from a conversation transcript",
		Long: `Run a transcript through the gate and extract models and store what is
worth remembering. Reads stdin when the argument is '-' or missing.

.jsonl files holding {role, content} records are rendered as User:/Assistant:
turns first.

Examples:
  memory-agent ingest chat.txt
  memory-agent ingest export.jsonl --session planning
  pbpaste | memory-agent ingest -`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			path := "-"
			if len(args) == 1 {
				path = args[0]
			}

			var (
				text string
				err  error
			)
			if path == "-" {
				b, rerr := io.ReadAll(cmd.InOrStdin())
				text, err = string(b), rerr
			} else {
				text, err = scanner.ReadTranscript(path)
			}
			if err != nil {
				return fmt.Errorf("read transcript: %w", err)
			}
			if strings.TrimSpace(text) == "" {
				return fmt.Errorf("transcript is empty")
			}
			if session == "" {
				session = defaultSession(path)
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}

			ids, err := pipe.ProcessConversation(ctx, text, session, a.cfg.Pipeline.ChunkSize, a.cfg.Pipeline.Overlap)
			st := pipe.Stats()
			fmt.Printf("Chunks: %d (%d passed gate)\n", st.ChunksProcessed, st.ChunksPassedGate)
			fmt.Printf("Stored: %d  Deduped: %d  Updated: %d\n", st.MemoriesStored, st.MemoriesDeduped, st.MemoriesUpdated)
			if len(ids) > 0 {
				fmt.Printf("Memory ids: %v\n", ids)
			}
			return err
		},
	}

	cmd.Flags().StringVar(&session, "session", "", "provenance label (default ingest-<file name>)")
	addPipelineFlags(cmd, &pf)
	return cmd
}

func defaultSession(path string) string {
	if path == "-" {
		return "ingest-stdin"
	}
	base := filepath.Base(path)
	return "ingest-" + strings.TrimSuffix(base, filepath.Ext(base))
}

func newIngestDirCmd() *cobra.Command {
	var (
		workers  int
		maxBytes int64
		exclude  []string
		pf       pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "ingest-dir <dir>",
		Short: "Ingest every transcript under a directory",
		Long: `Walk a directory for transcript files (.txt, .md, .log, .jsonl), honouring
.gitignore, and ingest each one under the session ingest-<relative path>.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			result := scanner.Scan(scanner.ScanOptions{Root: root, MaxBytes: maxBytes, Exclude: exclude})
			for _, e := range result.Errors {
				logger.Warn("scan", "err", e)
			}
			if len(result.Files) == 0 {
				fmt.Println("No transcripts found.")
				return nil
			}

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}

			bar := newProgress(os.Stderr, len(result.Files), "Ingesting")
			res := ingestTranscripts(ctx, pipe, result.Files, ingestSettings{
				chunkSize: a.cfg.Pipeline.ChunkSize,
				overlap:   a.cfg.Pipeline.Overlap,
				workers:   workers,
			}, bar)
			_ = bar.Finish()

			st := pipe.Stats()
			fmt.Printf("Files: %d ingested, %d failed\n", res.files, len(res.failed))
			fmt.Printf("Chunks: %d (%d passed gate)\n", st.ChunksProcessed, st.ChunksPassedGate)
			fmt.Printf("Stored: %d  Deduped: %d  Updated: %d\n", st.MemoriesStored, st.MemoriesDeduped, st.MemoriesUpdated)
			for _, f := range res.failed {
				fmt.Printf("  failed: %s\n", f)
			}
			return nil
		},
	}

	cmd.Flags().IntVar(&workers, "workers", 1, "files ingested concurrently")
	cmd.Flags().Int64Var(&maxBytes, "max-bytes", 0, "skip files larger than this")
	cmd.Flags().StringSliceVar(&exclude, "exclude", nil, "extra gitignore-style patterns to skip")
	addPipelineFlags(cmd, &pf)
	return cmd
}

type ingestSettings struct {
	chunkSize int
	overlap   int
	workers   int
}

type ingestResult struct {
	files  int
	ids    []int64
	failed []string
}

// ingestTranscripts runs each file through proc. A failing file is recorded
// and does not stop the others.
func ingestTranscripts(ctx context.Context, proc conversationProcessor, files []scanner.Transcript, s ingestSettings, bar *progressbar.ProgressBar) ingestResult {
	if s.workers < 1 {
		s.workers = 1
	}
	var (
		mu  sync.Mutex
		res ingestResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)

	for _, f := range files {
		g.Go(func() error {
			defer func() { _ = bar.Add(1) }()
			ids, err := ingestFile(gctx, proc, f, s)
			mu.Lock()
			defer mu.Unlock()
			res.ids = append(res.ids, ids...)
			if err != nil {
				logger.Warn("ingest failed", "session", "ingest-"+f.Path, "chars", f.Size, "stage", "file", "err", err)
				res.failed = append(res.failed, f.Path)
				return nil
			}
			res.files++
			return nil
		})
	}
	_ = g.Wait()
	return res
}

func ingestFile(ctx context.Context, proc conversationProcessor, f scanner.Transcript, s ingestSettings) ([]int64, error) {
	text, err := scanner.ReadTranscript(f.AbsPath)
	if err != nil {
		return nil, err
	}
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	return proc.ProcessConversation(ctx, text, "ingest-"+filepath.ToSlash(f.Path), s.chunkSize, s.overlap)
}
