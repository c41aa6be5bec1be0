package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/memory-agent/internal/adapter/adaptertest"
	"github.com/memvra/memory-agent/internal/db"
	"github.com/memvra/memory-agent/internal/extract"
	"github.com/memvra/memory-agent/internal/memory"
)

type fixture struct {
	srv      *Server
	store    *memory.Store
	embedder *adaptertest.Embedder
}

func newFixture(t *testing.T, withPipeline bool) *fixture {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "memory.db"), db.WithDimension(adaptertest.DefaultDimension))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })

	emb := adaptertest.NewEmbedder()
	store := memory.NewStore(database, emb)
	opts := []Option{WithClock(func() time.Time { return time.Now().Add(48 * time.Hour) })}
	if withPipeline {
		gate := adaptertest.Static(`{"remember": true, "reason": "decision"}`)
		ext := adaptertest.Static(`[{"op": "create", "content": "The team deploys with blue-green switching", "importance": 4, "memory_type": "decision", "topic_tags": ["deploy"]}]`)
		opts = append(opts, WithPipeline(extract.New(store, gate, ext, extract.DefaultConfig())))
	}
	return &fixture{srv: New(store, opts...), store: store, embedder: emb}
}

func (f *fixture) do(t *testing.T, method, path string, body any) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		r = strings.NewReader(string(data))
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	var out map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return resp.StatusCode, out
}

func (f *fixture) seed(t *testing.T, content string, imp int) int64 {
	t.Helper()
	id, err := f.store.Store(context.Background(), memory.NewMemory{Content: content, Importance: imp, MemoryType: memory.TypeFact})
	require.NoError(t, err)
	return id
}

func TestHealth(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "Postgres runs on port 5432", 3)

	code, body := f.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(1), body["memories"])
	assert.Equal(t, false, body["pipeline"])
	assert.NotEmpty(t, body["index"])
}

func TestStoreGetDelete(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/store", map[string]any{
		"content":     "The staging cluster lives in eu-west-1",
		"importance":  4,
		"memory_type": "Fact",
		"topic_tags":  []string{"infra"},
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["stored"])
	id := int64(body["id"].(float64))

	code, body = f.do(t, http.MethodGet, "/memories/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, "The staging cluster lives in eu-west-1", body["content"])
	assert.Equal(t, "fact", body["memory_type"])
	assert.Equal(t, float64(4), body["importance"])
	assert.Equal(t, float64(2), body["age_days"])
	assert.Equal(t, []any{}, body["links"])
	assert.Equal(t, float64(0), body["access_count"], "get must not count as an access")

	code, body = f.do(t, http.MethodDelete, "/memories/"+itoa(id), nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["deleted"])

	code, body = f.do(t, http.MethodGet, "/memories/"+itoa(id), nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.Contains(t, body["error"], "not found")

	code, _ = f.do(t, http.MethodDelete, "/memories/"+itoa(id), nil)
	assert.Equal(t, http.StatusNotFound, code)
}

func TestStoreValidation(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/memories", map[string]any{"content": "  "})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing 'content' field", body["error"])

	code, _ = f.do(t, http.MethodGet, "/memories/abc", nil)
	assert.Equal(t, http.StatusBadRequest, code)

	req := httptest.NewRequest(http.MethodPost, "/store", strings.NewReader("{not json"))
	req.Header.Set("Content-Type", "application/json")
	resp, err := f.srv.App().Test(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStoreEmbeddingFailure(t *testing.T) {
	f := newFixture(t, false)
	f.embedder.Err = errors.New("ollama down")

	code, body := f.do(t, http.MethodPost, "/store", map[string]any{"content": "anything"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Contains(t, body["error"], "ollama down")
}

func TestSearch(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "We use Redis for caching sessions", 4)
	f.seed(t, "The office plant needs water on Mondays", 2)

	code, body := f.do(t, http.MethodPost, "/search", map[string]any{"query": "Redis caching sessions", "limit": 5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["count"])
	results := body["results"].([]any)
	require.Len(t, results, 1)
	first := results[0].(map[string]any)
	assert.Equal(t, "We use Redis for caching sessions", first["content"])
	assert.Greater(t, first["score"].(float64), 0.4)

	code, body = f.do(t, http.MethodPost, "/search", map[string]any{"query": ""})
	assert.Equal(t, http.StatusBadRequest, code)
	assert.Equal(t, "Missing 'query' field", body["error"])

	code, body = f.do(t, http.MethodPost, "/search", map[string]any{"query": "Redis caching sessions", "min_importance": 5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(0), body["count"])
}

func TestListPaging(t *testing.T) {
	f := newFixture(t, false)
	for _, c := range []string{"alpha fact", "beta fact", "gamma fact"} {
		f.seed(t, c, 3)
	}

	code, body := f.do(t, http.MethodGet, "/memories?limit=2&offset=0&sort=id", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(3), body["total"])
	items := body["memories"].([]any)
	require.Len(t, items, 2)
	assert.Equal(t, "alpha fact", items[0].(map[string]any)["content"])

	code, _ = f.do(t, http.MethodGet, "/memories?limit=x", nil)
	assert.Equal(t, http.StatusBadRequest, code)
}

func TestUpdateAndLinks(t *testing.T) {
	f := newFixture(t, false)
	a := f.seed(t, "Use Postgres for the ledger", 3)
	b := f.seed(t, "Use sqlite for local development", 3)

	code, body := f.do(t, http.MethodPatch, "/memories/"+itoa(a), map[string]any{"importance": 5})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["updated"])

	code, _ = f.do(t, http.MethodPatch, "/memories/999", map[string]any{"importance": 5})
	assert.Equal(t, http.StatusNotFound, code)

	code, body = f.do(t, http.MethodPost, "/memories/"+itoa(b)+"/links", map[string]any{"to_id": a, "relationship": "contrasts"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, true, body["linked"])

	code, body = f.do(t, http.MethodPost, "/memories/"+itoa(b)+"/links", map[string]any{"to_id": a, "relationship": "contrasts"})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, false, body["linked"], "duplicate link")

	code, _ = f.do(t, http.MethodPost, "/memories/"+itoa(b)+"/links", map[string]any{"to_id": a})
	assert.Equal(t, http.StatusBadRequest, code)

	_, body = f.do(t, http.MethodGet, "/memories/"+itoa(a), nil)
	assert.Equal(t, float64(5), body["importance"])
	backlinks := body["backlinks"].([]any)
	require.Len(t, backlinks, 1)
	assert.Equal(t, "contrasts", backlinks[0].(map[string]any)["relationship"])
}

func TestIngestWithoutPipeline(t *testing.T) {
	f := newFixture(t, false)

	code, body := f.do(t, http.MethodPost, "/ingest", map[string]any{"chunk": "User: hi"})
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "Extraction pipeline not initialized", body["error"])

	code, _ = f.do(t, http.MethodPost, "/ingest", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, code)

	code, _ = f.do(t, http.MethodGet, "/pipeline/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
	code, _ = f.do(t, http.MethodGet, "/listener/stats", nil)
	assert.Equal(t, http.StatusServiceUnavailable, code)
}

func TestIngest(t *testing.T) {
	f := newFixture(t, true)

	code, body := f.do(t, http.MethodPost, "/ingest", map[string]any{
		"text":    "User: how do we deploy?\n\nAssistant: We switch between blue and green stacks.",
		"session": "api-test",
	})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["memories_stored"])
	stats := body["pipeline_stats"].(map[string]any)
	assert.Equal(t, float64(1), stats["chunks_processed"])

	ids := body["stored_ids"].([]any)
	require.Len(t, ids, 1)
	m, err := f.store.Get(context.Background(), int64(ids[0].(float64)))
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "api-test", m.SourceSession)

	code, body = f.do(t, http.MethodGet, "/pipeline/stats", nil)
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["memories_stored"])
}

func TestRecall(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "We use Redis for caching sessions", 4)

	code, body := f.do(t, http.MethodPost, "/recall", map[string]any{"query": "Redis caching sessions", "budget": 500})
	require.Equal(t, http.StatusOK, code)
	assert.Equal(t, float64(1), body["memories_used"])
	assert.Contains(t, body["text"], "We use Redis for caching sessions")
}

func TestStats(t *testing.T) {
	f := newFixture(t, false)
	f.seed(t, "a fact worth keeping", 3)

	code, body := f.do(t, http.MethodGet, "/stats", nil)
	require.Equal(t, http.StatusOK, code)
	mem := body["memories"].(map[string]any)
	assert.Equal(t, float64(1), mem["total_memories"])
	assert.Contains(t, body, "raw_chunks")
}

func TestUnknownRoute(t *testing.T) {
	f := newFixture(t, false)
	code, body := f.do(t, http.MethodGet, "/nope", nil)
	assert.Equal(t, http.StatusNotFound, code)
	assert.NotEmpty(t, body["error"])
}

func itoa(id int64) string {
	return strconv.FormatInt(id, 10)
}
