package cli

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fsnotify/fsnotify"

	"github.com/memvra/memory-agent/internal/scanner"
)

func TestShouldIgnoreEvent(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, ".gitignore"), []byte("private/\n"), 0o644)
	ignore := scanner.NewIgnoreMatcher(dir)

	tests := []struct {
		rel  string
		want bool
	}{
		{"chat.txt", false},
		{"logs/today.md", false},
		{"node_modules/pkg/readme.md", true},
		{".git/HEAD", true},
		{".memory-agent/memories.db", true},
		{"private/notes.txt", true},
	}

	for _, tt := range tests {
		got := shouldIgnoreEvent(tt.rel, ignore)
		if got != tt.want {
			t.Errorf("shouldIgnoreEvent(%q) = %v, want %v", tt.rel, got, tt.want)
		}
	}
}

func TestAddWatchDirs_SkipsIgnored(t *testing.T) {
	dir := t.TempDir()

	os.MkdirAll(filepath.Join(dir, "logs"), 0o755)
	os.MkdirAll(filepath.Join(dir, "node_modules", "pkg"), 0o755)
	os.MkdirAll(filepath.Join(dir, ".git", "objects"), 0o755)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		t.Fatalf("NewWatcher: %v", err)
	}
	defer watcher.Close()

	ignore := scanner.NewIgnoreMatcher(dir)
	if err := addWatchDirs(watcher, dir, ignore); err != nil {
		t.Fatalf("addWatchDirs: %v", err)
	}

	watched := make(map[string]bool)
	for _, p := range watcher.WatchList() {
		rel, _ := filepath.Rel(dir, p)
		watched[rel] = true
	}

	if !watched["."] {
		t.Error("root directory should be watched")
	}
	if !watched["logs"] {
		t.Error("logs/ should be watched")
	}
	if watched["node_modules"] || watched[filepath.Join("node_modules", "pkg")] {
		t.Error("node_modules should not be watched")
	}
	if watched[".git"] || watched[filepath.Join(".git", "objects")] {
		t.Error(".git should not be watched")
	}
}

func appendFile(t *testing.T, path, text string) {
	t.Helper()
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer f.Close()
	if _, err := f.WriteString(text); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func primedTailer(t *testing.T, dir string) *tailer {
	t.Helper()
	tl := newTailer(dir)
	tl.prime(scanner.Scan(scanner.ScanOptions{Root: dir}).Files)
	return tl
}

func TestTailer_OnlyAppendedText(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.txt")
	appendFile(t, path, "User: old history\n")

	tl := primedTailer(t, dir)
	got, err := tl.next("chat.txt")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if got != "" {
		t.Errorf("existing content returned: %q", got)
	}

	appendFile(t, path, "User: what port does postgres use?\nAssistant: 5432.\n")
	got, err = tl.next("chat.txt")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := "User: what port does postgres use?\nAssistant: 5432.\n"; got != want {
		t.Errorf("next = %q, want %q", got, want)
	}

	got, _ = tl.next("chat.txt")
	if got != "" {
		t.Errorf("second read returned %q", got)
	}
}

func TestTailer_HoldsPartialLine(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.txt")
	tl := primedTailer(t, dir)

	appendFile(t, path, "User: first line\nAssistant: half")
	got, _ := tl.next("chat.txt")
	if got != "User: first line\n" {
		t.Errorf("next = %q", got)
	}

	appendFile(t, path, " done\n")
	got, _ = tl.next("chat.txt")
	if got != "Assistant: half done\n" {
		t.Errorf("next = %q", got)
	}
}

func TestTailer_TruncatedFileStartsOver(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "chat.txt")
	appendFile(t, path, strings.Repeat("User: padding line\n", 10))
	tl := primedTailer(t, dir)

	if err := os.WriteFile(path, []byte("User: fresh start\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	got, _ := tl.next("chat.txt")
	if got != "User: fresh start\n" {
		t.Errorf("next = %q", got)
	}
}

func TestTailer_RendersJSONL(t *testing.T) {
	dir := t.TempDir()
	tl := primedTailer(t, dir)

	appendFile(t, filepath.Join(dir, "chat.jsonl"),
		`{"role":"user","content":"Which cache?"}`+"\n"+
			`{"role":"assistant","content":"Ristretto."}`+"\n")
	got, err := tl.next("chat.jsonl")
	if err != nil {
		t.Fatalf("next: %v", err)
	}
	if want := "User: Which cache?\n\nAssistant: Ristretto."; got != want {
		t.Errorf("next = %q, want %q", got, want)
	}
}

func TestIngestAppended(t *testing.T) {
	dir := t.TempDir()
	tl := primedTailer(t, dir)
	appendFile(t, filepath.Join(dir, "a.txt"), "User: we deploy on fridays\n")
	appendFile(t, filepath.Join(dir, "b.txt"), "   \n")

	proc := &recordingProcessor{}
	ingestAppended(context.Background(), proc, tl, map[string]bool{"a.txt": true, "b.txt": true, "gone.txt": true},
		ingestSettings{chunkSize: 1500, overlap: 200})

	if len(proc.calls) != 1 {
		t.Fatalf("calls = %d, want 1", len(proc.calls))
	}
	c := proc.calls[0]
	if c.session != "watch-a.txt" || c.chunkSize != 1500 || c.overlap != 200 {
		t.Errorf("call = %+v", c)
	}
}
