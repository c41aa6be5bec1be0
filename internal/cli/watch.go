package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/cobra"

	"github.com/memvra/memory-agent/internal/scanner"
)

func newWatchCmd() *cobra.Command {
	var (
		debounceMs int
		pf         pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "watch <dir>",
		Short: "Watch a directory and ingest text appended to transcripts",
		Long: `Start a long-running watcher over transcript files (.txt, .md, .log, .jsonl).
Only text appended after the watcher starts is ingested; files created while
watching are ingested from the beginning. Each file is ingested under the
session watch-<relative path>.

Changes are debounced so that a burst of writes is ingested once.

Press Ctrl-C to stop.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			root, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			a, err := openApp(ctx)
			if err != nil {
				return err
			}
			defer a.Close()

			pipe, err := a.pipeline(pf)
			if err != nil {
				return err
			}

			watcher, err := fsnotify.NewWatcher()
			if err != nil {
				return fmt.Errorf("create watcher: %w", err)
			}
			defer watcher.Close()

			ignore := scanner.NewIgnoreMatcher(root)
			if err := addWatchDirs(watcher, root, ignore); err != nil {
				return fmt.Errorf("add watch directories: %w", err)
			}

			t := newTailer(root)
			t.prime(scanner.Scan(scanner.ScanOptions{Root: root}).Files)

			debounce := time.Duration(debounceMs) * time.Millisecond
			fmt.Printf("Watching %s for transcript changes (debounce %s). Press Ctrl-C to stop.\n", root, debounce)

			pending := make(map[string]bool)
			timer := time.NewTimer(debounce)
			timer.Stop()

			for {
				select {
				case <-ctx.Done():
					fmt.Println("\nStopping watcher.")
					return nil

				case event, ok := <-watcher.Events:
					if !ok {
						return nil
					}
					rel, err := filepath.Rel(root, event.Name)
					if err != nil || rel == "." {
						continue
					}
					if shouldIgnoreEvent(rel, ignore) {
						continue
					}

					if event.Has(fsnotify.Create) {
						if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
							if !scanner.HardIgnore(filepath.Base(event.Name)) {
								_ = addWatchDirs(watcher, event.Name, ignore)
							}
							continue
						}
					}
					if event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename) {
						t.forget(rel)
						continue
					}
					if !scanner.Accept(rel, ignore) {
						continue
					}

					pending[rel] = true
					timer.Reset(debounce)

				case err, ok := <-watcher.Errors:
					if !ok {
						return nil
					}
					logger.Warn("watch error", "err", err)

				case <-timer.C:
					if len(pending) == 0 {
						continue
					}
					batch := pending
					pending = make(map[string]bool)
					ingestAppended(ctx, pipe, t, batch, ingestSettings{
						chunkSize: a.cfg.Pipeline.ChunkSize,
						overlap:   a.cfg.Pipeline.Overlap,
					})
				}
			}
		},
	}

	cmd.Flags().IntVar(&debounceMs, "debounce", 2000, "debounce interval in milliseconds")
	addPipelineFlags(cmd, &pf)
	return cmd
}

// addWatchDirs recursively adds directories to the watcher, skipping ignored ones.
func addWatchDirs(watcher *fsnotify.Watcher, root string, ignore *scanner.IgnoreMatcher) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if !d.IsDir() {
			return nil
		}
		if scanner.HardIgnore(d.Name()) {
			return filepath.SkipDir
		}
		rel, _ := filepath.Rel(root, path)
		if rel != "." && ignore.Match(rel+"/") {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
}

// shouldIgnoreEvent checks whether a relative path should be ignored by the watcher.
func shouldIgnoreEvent(rel string, ignore *scanner.IgnoreMatcher) bool {
	for _, p := range strings.Split(rel, string(filepath.Separator)) {
		if scanner.HardIgnore(p) {
			return true
		}
	}
	return ignore.Match(rel)
}

// tailer remembers how far each transcript has been ingested.
type tailer struct {
	root    string
	offsets map[string]int64
}

func newTailer(root string) *tailer {
	return &tailer{root: root, offsets: map[string]int64{}}
}

// prime marks the current contents of files as already seen.
func (t *tailer) prime(files []scanner.Transcript) {
	for _, f := range files {
		t.offsets[f.Path] = f.Size
	}
}

func (t *tailer) forget(rel string) {
	delete(t.offsets, rel)
}

// next returns the complete lines appended to rel since the last call and
// advances the offset past them. A trailing partial line is left for later.
// A file that shrank is read again from the start.
func (t *tailer) next(rel string) (string, error) {
	f, err := os.Open(filepath.Join(t.root, rel))
	if err != nil {
		return "", err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return "", err
	}
	off := t.offsets[rel]
	if info.Size() < off {
		off = 0
	}
	if info.Size() == off {
		t.offsets[rel] = off
		return "", nil
	}

	if _, err := f.Seek(off, io.SeekStart); err != nil {
		return "", err
	}
	data, err := io.ReadAll(f)
	if err != nil {
		return "", err
	}
	end := bytes.LastIndexByte(data, '\n')
	if end < 0 {
		t.offsets[rel] = off
		return "", nil
	}
	data = data[:end+1]
	t.offsets[rel] = off + int64(len(data))

	if strings.EqualFold(filepath.Ext(rel), ".jsonl") {
		return scanner.RenderJSONL(data), nil
	}
	return string(data), nil
}

func ingestAppended(ctx context.Context, proc conversationProcessor, t *tailer, batch map[string]bool, s ingestSettings) {
	for rel := range batch {
		text, err := t.next(rel)
		if err != nil {
			logger.Warn("read failed", "session", "watch-"+rel, "stage", "read", "err", err)
			continue
		}
		if strings.TrimSpace(text) == "" {
			continue
		}
		session := "watch-" + filepath.ToSlash(rel)
		ids, err := proc.ProcessConversation(ctx, text, session, s.chunkSize, s.overlap)
		if err != nil {
			logger.Warn("ingest failed", "session", session, "chars", len(text), "stage", "ingest", "err", err)
		}
		fmt.Printf("[%s] %s: +%d chars, %d memories\n", time.Now().Format("15:04:05"), rel, len(text), len(ids))
	}
}
