package scanner

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
}

func paths(res ScanResult) []string {
	var out []string
	for _, f := range res.Files {
		out = append(out, f.Path)
	}
	return out
}

func TestScan_FindsTranscripts(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "b.txt", "User: hi")
	writeFile(t, dir, "a.md", "# notes")
	writeFile(t, dir, "sub/chat.jsonl", `{"role":"user","content":"hi"}`)
	writeFile(t, dir, "image.png", "\x89PNG")
	writeFile(t, dir, "node_modules/pkg/readme.md", "ignored")

	res := Scan(ScanOptions{Root: dir})
	if len(res.Errors) > 0 {
		t.Fatalf("unexpected errors: %v", res.Errors)
	}
	got := strings.Join(paths(res), ",")
	want := strings.Join([]string{"a.md", "b.txt", filepath.Join("sub", "chat.jsonl")}, ",")
	if got != want {
		t.Errorf("got %s, want %s", got, want)
	}
	for _, f := range res.Files {
		if !filepath.IsAbs(f.AbsPath) {
			t.Errorf("%s: AbsPath not absolute: %q", f.Path, f.AbsPath)
		}
		if f.Size == 0 {
			t.Errorf("%s: size not recorded", f.Path)
		}
	}
}

func TestScan_RespectsGitignoreAndExclude(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, ".gitignore", "secret/\n*.log\n")
	writeFile(t, dir, "keep.txt", "keep")
	writeFile(t, dir, "debug.log", "noise")
	writeFile(t, dir, "secret/chat.txt", "hidden")
	writeFile(t, dir, "drafts/old.md", "old")

	res := Scan(ScanOptions{Root: dir, Exclude: []string{"drafts/"}})
	if got := paths(res); len(got) != 1 || got[0] != "keep.txt" {
		t.Errorf("got %v, want [keep.txt]", got)
	}
}

func TestScan_MaxBytes(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "small.txt", "tiny")
	writeFile(t, dir, "big.txt", strings.Repeat("x", 1000))

	res := Scan(ScanOptions{Root: dir, MaxBytes: 100})
	if got := paths(res); len(got) != 1 || got[0] != "small.txt" {
		t.Errorf("got %v, want [small.txt]", got)
	}
}

func TestAccept(t *testing.T) {
	ignore := NewIgnoreLines("private/")
	tests := []struct {
		path string
		want bool
	}{
		{"chat.txt", true},
		{filepath.Join("day1", "chat.md"), true},
		{filepath.Join("node_modules", "x.md"), false},
		{filepath.Join("private", "chat.txt"), false},
		{"script.sh", false},
	}
	for _, tt := range tests {
		if got := Accept(tt.path, ignore); got != tt.want {
			t.Errorf("Accept(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestReadTranscript_JSONL(t *testing.T) {
	dir := t.TempDir()
	lines := strings.Join([]string{
		`{"role": "user", "content": "Which queue should we use?"}`,
		`{"role": "system", "content": "be brief"}`,
		`not json`,
		`{"message": {"role": "assistant", "content": [{"type": "text", "text": "NATS, for its simplicity."}, {"type": "tool_use"}]}}`,
		``,
		`{"role": "assistant", "content": ""}`,
	}, "\n")
	writeFile(t, dir, "chat.jsonl", lines)

	text, err := ReadTranscript(filepath.Join(dir, "chat.jsonl"))
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	want := "User: Which queue should we use?\n\nAssistant: NATS, for its simplicity."
	if text != want {
		t.Errorf("got %q, want %q", text, want)
	}
}

func TestReadTranscript_PlainText(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, dir, "chat.txt", "User: hello\n")

	text, err := ReadTranscript(filepath.Join(dir, "chat.txt"))
	if err != nil {
		t.Fatalf("ReadTranscript: %v", err)
	}
	if text != "User: hello\n" {
		t.Errorf("got %q", text)
	}

	if _, err := ReadTranscript(filepath.Join(dir, "missing.txt")); err == nil {
		t.Error("expected error for a missing file")
	}
}
