package export

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/memvra/memory-agent/internal/memory"
)

var exportTime = time.Date(2025, 6, 1, 8, 30, 0, 0, time.UTC)

func sampleExportData() ExportData {
	created := time.Date(2025, 5, 20, 10, 0, 0, 0, time.UTC)
	return ExportData{
		GeneratedAt: exportTime,
		Memories: []memory.Memory{
			{ID: 1, Content: "Use PostgreSQL for the ledger", MemoryType: memory.TypeDecision, Importance: 4, TopicTags: []string{"db"}, CreatedAt: created},
			{ID: 2, Content: "The user prefers tabs", MemoryType: memory.TypePreference, Importance: 3, CreatedAt: created},
			{ID: 3, Content: "Staging runs on\nport 5433", MemoryType: memory.TypeFact, Importance: 2, CreatedAt: created},
			{ID: 4, Content: "Quarterly review checklist", MemoryType: "checklist", Importance: 3, CreatedAt: created},
			{ID: 5, Content: "Use sqlite for local dev", MemoryType: memory.TypeDecision, Importance: 3, CreatedAt: created},
		},
		Links: []memory.Link{{FromID: 5, ToID: 1, Relationship: "contrasts", CreatedAt: created}},
	}
}

func TestGet_ValidFormats(t *testing.T) {
	for _, name := range []string{"markdown", "json"} {
		exp, ok := Get(name)
		if !ok || exp == nil {
			t.Errorf("Get(%q) returned no exporter", name)
		}
	}
}

func TestGet_InvalidFormat(t *testing.T) {
	if _, ok := Get("claude"); ok {
		t.Error("expected Get('claude') to return false")
	}
}

func TestValidFormats(t *testing.T) {
	formats := ValidFormats()
	if len(formats) != 2 || formats[0] != "json" || formats[1] != "markdown" {
		t.Errorf("got %v", formats)
	}
}

func TestMarkdownExporter(t *testing.T) {
	exp, _ := Get("markdown")
	result, err := exp.Export(sampleExportData())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	checks := []string{
		"# Memory Export",
		"_5 memories, 1 links, generated 2025-06-01 08:30 UTC_",
		"## Decisions",
		"- Use PostgreSQL for the ledger _(#1, importance 4, tags: db)_",
		"## Preferences",
		"## Facts",
		"- Staging runs on port 5433 _(#3, importance 2)_",
		"## Checklists",
		"## Links",
		"- #5 contrasts #1",
	}
	for _, check := range checks {
		if !strings.Contains(result, check) {
			t.Errorf("markdown export missing %q", check)
		}
	}

	order := []string{"## Decisions", "## Facts", "## Preferences", "## Checklists"}
	last := -1
	for _, h := range order {
		idx := strings.Index(result, h)
		if idx < last {
			t.Errorf("%s out of order", h)
		}
		last = idx
	}
	if strings.Count(result, "## Decisions") != 1 {
		t.Error("memories of one type belong to a single section")
	}
}

func TestJSONExporter(t *testing.T) {
	exp, _ := Get("json")
	result, err := exp.Export(sampleExportData())
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}

	var parsed struct {
		GeneratedAt time.Time `json:"generated_at"`
		Total       int       `json:"total"`
		Memories    map[string][]struct {
			ID         int64    `json:"id"`
			Content    string   `json:"content"`
			Importance int      `json:"importance"`
			TopicTags  []string `json:"topic_tags"`
		} `json:"memories"`
		Links []memory.Link `json:"links"`
	}
	if err := json.Unmarshal([]byte(result), &parsed); err != nil {
		t.Fatalf("invalid JSON: %v", err)
	}
	if parsed.Total != 5 {
		t.Errorf("total: got %d", parsed.Total)
	}
	if !parsed.GeneratedAt.Equal(exportTime) {
		t.Errorf("generated_at: got %s", parsed.GeneratedAt)
	}
	decisions := parsed.Memories["decision"]
	if len(decisions) != 2 || decisions[0].ID != 1 || decisions[1].ID != 5 {
		t.Errorf("decisions: got %+v", decisions)
	}
	if facts := parsed.Memories["fact"]; len(facts) != 1 || facts[0].TopicTags == nil {
		t.Errorf("facts should carry an empty tag list, got %+v", facts)
	}
	if len(parsed.Links) != 1 || parsed.Links[0].Relationship != "contrasts" {
		t.Errorf("links: got %+v", parsed.Links)
	}
}

func TestJSONExporter_Empty(t *testing.T) {
	exp, _ := Get("json")
	result, err := exp.Export(ExportData{GeneratedAt: exportTime})
	if err != nil {
		t.Fatalf("Export error: %v", err)
	}
	if !strings.Contains(result, `"memories": {}`) || !strings.Contains(result, `"links": []`) {
		t.Errorf("empty export should have empty collections:\n%s", result)
	}
}

type fakeSource struct {
	memories []memory.Memory
	links    map[int64][]memory.Link
	pages    int
}

func (f *fakeSource) List(_ context.Context, opts memory.ListOptions) ([]memory.Memory, int, error) {
	f.pages++
	if opts.Offset >= len(f.memories) {
		return nil, len(f.memories), nil
	}
	end := min(opts.Offset+opts.Limit, len(f.memories))
	return f.memories[opts.Offset:end], len(f.memories), nil
}

func (f *fakeSource) Links(_ context.Context, id int64) ([]memory.Link, error) {
	return f.links[id], nil
}

func TestCollect(t *testing.T) {
	src := &fakeSource{links: map[int64][]memory.Link{
		3: {{FromID: 3, ToID: 1, Relationship: "refines"}},
	}}
	for i := int64(1); i <= pageSize+20; i++ {
		src.memories = append(src.memories, memory.Memory{ID: i, Content: "m", MemoryType: memory.TypeFact})
	}

	data, err := Collect(context.Background(), src, exportTime)
	if err != nil {
		t.Fatalf("Collect: %v", err)
	}
	if len(data.Memories) != pageSize+20 {
		t.Errorf("memories: got %d", len(data.Memories))
	}
	if src.pages != 2 {
		t.Errorf("expected 2 pages, got %d", src.pages)
	}
	if len(data.Links) != 1 || data.Links[0].FromID != 3 {
		t.Errorf("links: got %+v", data.Links)
	}
	if !data.GeneratedAt.Equal(exportTime) {
		t.Error("generated time not carried")
	}
}
