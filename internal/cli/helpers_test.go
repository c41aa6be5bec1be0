package cli

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/memvra/memory-agent/internal/adapter/adaptertest"
	"github.com/memvra/memory-agent/internal/config"
	"github.com/memvra/memory-agent/internal/db"
	"github.com/memvra/memory-agent/internal/memory"
)

type processCall struct {
	text      string
	session   string
	chunkSize int
	overlap   int
}

// recordingProcessor records every conversation it is given.
type recordingProcessor struct {
	mu    sync.Mutex
	calls []processCall
	fail  map[string]error
}

func (p *recordingProcessor) ProcessConversation(_ context.Context, text, session string, chunkSize, overlap int) ([]int64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.fail[session]; err != nil {
		return nil, err
	}
	p.calls = append(p.calls, processCall{text, session, chunkSize, overlap})
	return []int64{int64(len(p.calls))}, nil
}

func (p *recordingProcessor) sessions() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.calls))
	for i, c := range p.calls {
		out[i] = c.session
	}
	return out
}

func openTestStore(t *testing.T) *memory.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "memories.db"), db.WithDimension(adaptertest.DefaultDimension))
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { database.Close() })
	return memory.NewStore(database, adaptertest.NewEmbedder())
}

func TestParseID(t *testing.T) {
	tests := []struct {
		in      string
		want    int64
		wantErr bool
	}{
		{"42", 42, false},
		{"#7", 7, false},
		{"0", 0, true},
		{"-3", 0, true},
		{"abc", 0, true},
	}
	for _, tt := range tests {
		got, err := parseID(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseID(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("parseID(%q) = %d, want %d", tt.in, got, tt.want)
		}
	}
}

func TestParseIDs_StopsAtFirstBad(t *testing.T) {
	if _, err := parseIDs([]string{"1", "x", "3"}); err == nil {
		t.Error("expected error for non-numeric id")
	}
	ids, err := parseIDs([]string{"1", "#2"})
	if err != nil {
		t.Fatalf("parseIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Errorf("parseIDs = %v", ids)
	}
}

func TestConfirmPrompt(t *testing.T) {
	for in, want := range map[string]bool{
		"y\n":   true,
		"YES\n": true,
		"n\n":   false,
		"\n":    false,
		"":      false,
	} {
		var out bytes.Buffer
		if got := confirmPrompt(strings.NewReader(in), &out, "Delete?"); got != want {
			t.Errorf("confirmPrompt(%q) = %v, want %v", in, got, want)
		}
		if !strings.Contains(out.String(), "Delete? [y/N]") {
			t.Errorf("prompt not written: %q", out.String())
		}
	}
}

func TestFmtAge(t *testing.T) {
	now := time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)
	tests := []struct {
		t    time.Time
		want string
	}{
		{now.Add(-5 * time.Minute), "5m ago"},
		{now.Add(-3 * time.Hour), "3h ago"},
		{now.Add(-50 * time.Hour), "2d ago"},
		{now.AddDate(0, 0, -30), "2026-02-08"},
		{time.Time{}, "never"},
	}
	for _, tt := range tests {
		if got := fmtAge(now, tt.t); got != tt.want {
			t.Errorf("fmtAge(%v) = %q, want %q", tt.t, got, tt.want)
		}
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[int64]string{
		512:             "512 B",
		2048:            "2.0 KB",
		5 * 1024 * 1024: "5.0 MB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %q, want %q", in, got, want)
		}
	}
}

func TestTruncateLabel(t *testing.T) {
	if got := truncateLabel("short", 10); got != "short" {
		t.Errorf("got %q", got)
	}
	if got := truncateLabel("line one\nline two", 100); got != "line one line two" {
		t.Errorf("newlines not flattened: %q", got)
	}
	if got := truncateLabel("abcdefghijkl", 8); got != "abcde..." {
		t.Errorf("got %q", got)
	}
}

func TestFmtTags(t *testing.T) {
	if got := fmtTags([]string{"db", "ops"}); got != "[db] [ops]" {
		t.Errorf("fmtTags = %q", got)
	}
	if got := fmtTags(nil); got != "" {
		t.Errorf("fmtTags(nil) = %q", got)
	}
}

func TestDefaultSession(t *testing.T) {
	if got := defaultSession("-"); got != "ingest-stdin" {
		t.Errorf("got %q", got)
	}
	if got := defaultSession("/tmp/logs/planning.jsonl"); got != "ingest-planning" {
		t.Errorf("got %q", got)
	}
}

func TestRunSetup(t *testing.T) {
	cfg := config.Default()
	answers := strings.Join([]string{
		"1",           // gate: local
		"3",           // extract: anthropic
		"sk-ant-test", // anthropic key
		"2",           // openai embeddings
		"sk-openai",   // openai key
	}, "\n") + "\n"

	got := runSetup(bufio.NewReader(strings.NewReader(answers)), io.Discard, cfg)
	if got.Gate.Backend != "local" || got.Extract.Backend != "anthropic" {
		t.Errorf("backends = %s/%s", got.Gate.Backend, got.Extract.Backend)
	}
	if got.Keys.Anthropic != "sk-ant-test" || got.Keys.OpenAI != "sk-openai" {
		t.Errorf("keys = %+v", got.Keys)
	}
	if got.Embedding.Backend != "openai" || got.Embedding.Dimension != 1536 {
		t.Errorf("embedding = %+v", got.Embedding)
	}
	if err := got.Validate(); err != nil {
		t.Errorf("Validate: %v", err)
	}
}

func TestRunSetup_EmptyAnswersKeepConfig(t *testing.T) {
	cfg := config.Default()
	got := runSetup(bufio.NewReader(strings.NewReader("")), io.Discard, cfg)
	if got.Gate.Backend != cfg.Gate.Backend || got.Extract.Backend != cfg.Extract.Backend {
		t.Errorf("backends changed: %s/%s", got.Gate.Backend, got.Extract.Backend)
	}
	if got.Embedding != cfg.Embedding {
		t.Errorf("embedding changed: %+v", got.Embedding)
	}
}
