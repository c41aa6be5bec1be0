package extract

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/adapter/adaptertest"
	"github.com/memvra/memory-agent/internal/db"
	"github.com/memvra/memory-agent/internal/memory"
)

const (
	keep   = `{"remember": true, "reason": "contains a decision"}`
	reject = `{"remember": false, "reason": "shell noise"}`
)

func newTestStore(t *testing.T) *memory.Store {
	t.Helper()
	database, err := db.Open(filepath.Join(t.TempDir(), "memory.db"), db.WithDimension(adaptertest.DefaultDimension))
	require.NoError(t, err)
	t.Cleanup(func() { database.Close() })
	return memory.NewStore(database, adaptertest.NewEmbedder())
}

func newTestPipeline(t *testing.T, gate, extract *adaptertest.LLM, mutate func(*Config)) (*Pipeline, *memory.Store) {
	t.Helper()
	store := newTestStore(t)
	cfg := DefaultConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	return New(store, gate, extract, cfg), store
}

func mustStore(t *testing.T, store *memory.Store, content string) int64 {
	t.Helper()
	id, err := store.Store(context.Background(), memory.NewMemory{Content: content})
	require.NoError(t, err)
	return id
}

func failOnCall(t *testing.T) *adaptertest.LLM {
	return &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
		t.Error("extractor must not be called")
		return "[]", nil
	}}
}

func TestPipeline_GateRejectionStoresNothing(t *testing.T) {
	p, store := newTestPipeline(t, adaptertest.Static(reject), failOnCall(t), nil)
	ctx := context.Background()

	chunk := "User: ls\n\nAssistant: Desktop Documents Downloads Music\n\nUser: ok"
	ids, err := p.ProcessChunk(ctx, chunk, "main")
	require.NoError(t, err)
	assert.Empty(t, ids)

	st := p.Stats()
	assert.Equal(t, int64(1), st.ChunksProcessed)
	assert.Equal(t, int64(0), st.ChunksPassedGate)
	assert.Equal(t, int64(0), st.MemoriesStored)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)

	raw, err := store.RawChunks(ctx, "main")
	require.NoError(t, err)
	require.Len(t, raw, 1)
	assert.Equal(t, chunk, raw[0].Text)
}

func TestPipeline_GatePromptIsCapped(t *testing.T) {
	gate := adaptertest.Static(reject)
	p, _ := newTestPipeline(t, gate, failOnCall(t), nil)

	_, err := p.ProcessChunk(context.Background(), strings.Repeat("z", 5000), "main")
	require.NoError(t, err)

	calls := gate.Calls()
	require.Len(t, calls, 1)
	assert.Equal(t, gateSystem, calls[0].SystemPrompt)
	assert.Contains(t, calls[0].UserMessage, strings.Repeat("z", 2000))
	assert.NotContains(t, calls[0].UserMessage, strings.Repeat("z", 2001))
	assert.InDelta(t, 0.3, calls[0].Temperature, 1e-9)
}

func TestPipeline_StoresCreates(t *testing.T) {
	extract := adaptertest.Static(`[
		{"op": "create", "content": "Tim decided to host the wiki on a raspberry pi", "importance": 4, "memory_type": "decision", "topic_tags": ["wiki", "homelab"]},
		{"op": "create", "content": "The homelab router is a mikrotik hex", "importance": 2, "memory_type": "fact"}
	]`)
	p, store := newTestPipeline(t, adaptertest.Static(keep), extract, nil)
	ctx := context.Background()

	ids, err := p.ProcessChunk(ctx, "User: I'll host the wiki on the pi. The router is a hex.", "homelab")
	require.NoError(t, err)
	require.Len(t, ids, 2)

	m, err := store.Get(ctx, ids[0])
	require.NoError(t, err)
	require.NotNil(t, m)
	assert.Equal(t, "Tim decided to host the wiki on a raspberry pi", m.Content)
	assert.Equal(t, 4, m.Importance)
	assert.Equal(t, memory.TypeDecision, m.MemoryType)
	assert.Equal(t, []string{"wiki", "homelab"}, m.TopicTags)
	assert.Equal(t, "homelab", m.SourceSession)

	st := p.Stats()
	assert.Equal(t, int64(1), st.ChunksPassedGate)
	assert.Equal(t, int64(2), st.MemoriesExtracted)
	assert.Equal(t, int64(2), st.MemoriesStored)

	calls := extract.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].UserMessage, "(none)")
}

func TestPipeline_DedupScenario(t *testing.T) {
	extract := adaptertest.Static(`[{"op": "create", "content": "Redis has five data types: strings, lists, sets, sorted sets and hashes", "importance": 3, "memory_type": "fact"}]`)
	p, store := newTestPipeline(t, adaptertest.Static(keep), extract, nil)
	ctx := context.Background()

	mustStore(t, store, "Redis has five data types: strings, lists, sets, sorted sets, hashes")

	ids, err := p.ProcessChunk(ctx, "User: remind me, redis supports strings, lists, sets, sorted sets and hashes right?", "main")
	require.NoError(t, err)
	assert.Empty(t, ids)

	st := p.Stats()
	assert.GreaterOrEqual(t, st.MemoriesDeduped, int64(1))
	assert.Equal(t, int64(0), st.MemoriesStored)

	n, _ := store.Count(ctx)
	assert.Equal(t, 1, n)
}

func TestPipeline_ReconciliationUpdatesRetrievedMemory(t *testing.T) {
	var p *Pipeline
	var store *memory.Store
	var original int64

	extract := &adaptertest.LLM{Reply: func(req adapter.CompletionRequest) (string, error) {
		if !strings.Contains(req.UserMessage, fmt.Sprintf("[ID=%d]", original)) {
			return "[]", nil
		}
		return fmt.Sprintf(`[{"op": "update", "memory_id": %d, "content": "The team switched from Slack to Discord; the switch is decided", "importance": 4}]`, original), nil
	}}
	p, store = newTestPipeline(t, adaptertest.Static(keep), extract, func(c *Config) { c.ContextThreshold = 0.3 })
	ctx := context.Background()

	original = mustStore(t, store, "Team uses Slack, considering Discord")

	chunk := "User: The team uses Slack but we are considering Discord.\n\nUser: Update: we switched to Discord, decided today."
	ids, err := p.ProcessChunk(ctx, chunk, "main")
	require.NoError(t, err)
	assert.Equal(t, []int64{original}, ids)

	m, err := store.Get(ctx, original)
	require.NoError(t, err)
	assert.Contains(t, m.Content, "Discord")
	assert.Contains(t, m.Content, "switched")
	assert.Equal(t, 4, m.Importance)

	st := p.Stats()
	assert.Equal(t, int64(1), st.MemoriesUpdated)
	assert.Equal(t, int64(0), st.MemoriesDeduped)
	assert.Equal(t, int64(0), st.UpdatesRejected)

	calls := extract.Calls()
	require.Len(t, calls, 1)
	assert.Contains(t, calls[0].UserMessage, "(type=general, imp=3) Team uses Slack, considering Discord")
}

func TestPipeline_UpdatePolicy(t *testing.T) {
	const unrelated = "The office coffee machine is on floor three"
	chunk := "User: We adopted trunk based development for the monorepo."

	run := func(t *testing.T, policy UpdatePolicy) (*Pipeline, *memory.Store, int64, []int64) {
		var target int64
		extract := &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
			return fmt.Sprintf(`[{"op": "update", "memory_id": %d, "content": "Trunk based development is used in the monorepo"}]`, target), nil
		}}
		p, store := newTestPipeline(t, adaptertest.Static(keep), extract, func(c *Config) { c.UpdatePolicy = policy })
		target = mustStore(t, store, unrelated)
		ids, err := p.ProcessChunk(context.Background(), chunk, "main")
		require.NoError(t, err)
		return p, store, target, ids
	}

	t.Run("retrieved rejects unseen target", func(t *testing.T) {
		p, store, target, ids := run(t, UpdateRetrieved)
		require.Len(t, ids, 1)
		assert.NotEqual(t, target, ids[0])

		m, _ := store.Get(context.Background(), target)
		assert.Equal(t, unrelated, m.Content)

		st := p.Stats()
		assert.Equal(t, int64(1), st.UpdatesRejected)
		assert.Equal(t, int64(1), st.MemoriesStored)
		assert.Equal(t, int64(0), st.MemoriesUpdated)
	})

	t.Run("any applies update", func(t *testing.T) {
		p, store, target, ids := run(t, UpdateAny)
		assert.Equal(t, []int64{target}, ids)

		m, _ := store.Get(context.Background(), target)
		assert.Equal(t, "Trunk based development is used in the monorepo", m.Content)

		st := p.Stats()
		assert.Equal(t, int64(0), st.UpdatesRejected)
		assert.Equal(t, int64(1), st.MemoriesUpdated)
	})
}

func TestPipeline_UpdateKeepsImportanceWhenOmitted(t *testing.T) {
	var target int64
	importance := ""
	extract := &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
		return fmt.Sprintf(`[{"op": "update", "memory_id": %d, "content": "Production backups run every six hours"%s}]`, target, importance), nil
	}}
	p, store := newTestPipeline(t, adaptertest.Static(keep), extract, func(c *Config) { c.UpdatePolicy = UpdateAny })
	ctx := context.Background()

	target, err := store.Store(ctx, memory.NewMemory{Content: "Production backups run nightly", Importance: 5})
	require.NoError(t, err)

	ids, err := p.ProcessChunk(ctx, "User: backups now run every six hours", "ops")
	require.NoError(t, err)
	assert.Equal(t, []int64{target}, ids)

	m, err := store.Get(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, "Production backups run every six hours", m.Content)
	assert.Equal(t, 5, m.Importance)

	importance = `, "importance": 2`
	_, err = p.ProcessChunk(ctx, "User: backups are less critical now", "ops")
	require.NoError(t, err)
	m, err = store.Get(ctx, target)
	require.NoError(t, err)
	assert.Equal(t, 2, m.Importance)
}

func TestPipeline_UpdateMissingTargetCreates(t *testing.T) {
	extract := adaptertest.Static(`[{"op": "update", "memory_id": 999, "content": "Nightly builds publish to the staging bucket"}]`)
	p, store := newTestPipeline(t, adaptertest.Static(keep), extract, func(c *Config) { c.UpdatePolicy = UpdateAny })

	ids, err := p.ProcessChunk(context.Background(), "User: nightly builds go to staging now", "ci")
	require.NoError(t, err)
	require.Len(t, ids, 1)
	assert.NotEqual(t, int64(999), ids[0])
	assert.Equal(t, int64(1), p.Stats().MemoriesStored)

	m, _ := store.Get(context.Background(), ids[0])
	assert.Equal(t, "ci", m.SourceSession)
}

func TestPipeline_BackendErrors(t *testing.T) {
	t.Run("gate", func(t *testing.T) {
		gate := &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
			return "", errors.New("connection refused")
		}}
		p, store := newTestPipeline(t, gate, failOnCall(t), nil)

		_, err := p.ProcessChunk(context.Background(), "User: anything", "main")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "connection refused")
		assert.Equal(t, int64(1), p.Stats().Errors)

		raw, _ := store.RawChunks(context.Background(), "main")
		assert.Empty(t, raw)
	})

	t.Run("extract", func(t *testing.T) {
		extract := &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
			return "", errors.New("timeout")
		}}
		p, _ := newTestPipeline(t, adaptertest.Static(keep), extract, nil)

		_, err := p.ProcessChunk(context.Background(), "User: anything", "main")
		require.Error(t, err)
		assert.Equal(t, int64(1), p.Stats().Errors)
		assert.Equal(t, int64(1), p.Stats().ChunksPassedGate)
	})
}

func TestPipeline_MalformedExtractionIsNotAnError(t *testing.T) {
	p, _ := newTestPipeline(t, adaptertest.Static(keep), adaptertest.Static("I found nothing worth saving."), nil)

	ids, err := p.ProcessChunk(context.Background(), "User: hello there", "main")
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Equal(t, int64(0), p.Stats().Errors)
	assert.Equal(t, int64(0), p.Stats().MemoriesExtracted)
}

func TestPipeline_ProcessConversation(t *testing.T) {
	facts := []string{
		"alpha project is written in rust",
		"beta service deploys every hour",
		"gamma team owns the billing database",
		"delta cluster runs in frankfurt",
		"epsilon queue uses nats jetstream",
		"zeta dashboard lives in grafana",
	}
	var mu sync.Mutex
	next := 0
	extract := &adaptertest.LLM{Reply: func(adapter.CompletionRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		f := facts[next%len(facts)]
		next++
		return fmt.Sprintf(`[{"op": "create", "content": %q}]`, f), nil
	}}
	p, store := newTestPipeline(t, adaptertest.Static(keep), extract, nil)
	ctx := context.Background()

	var b strings.Builder
	for i := 0; i < 12; i++ {
		fmt.Fprintf(&b, "User: paragraph %d %s\n\n", i, strings.Repeat("talk ", 40))
	}
	text := b.String()
	chunks := SplitText(text, 1000, 200)
	require.Greater(t, len(chunks), 1)

	ids, err := p.ProcessConversation(ctx, text, "long-session", 1000, 200)
	require.NoError(t, err)
	assert.Len(t, ids, len(chunks))
	for i := 1; i < len(ids); i++ {
		assert.Less(t, ids[i-1], ids[i], "ids must follow chunk order")
	}
	assert.Equal(t, int64(len(chunks)), p.Stats().ChunksProcessed)

	raw, err := store.RawChunks(ctx, "long-session")
	require.NoError(t, err)
	require.Len(t, raw, len(chunks))
	for i, c := range raw {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, chunks[i], c.Text)
		assert.Equal(t, []int64{ids[i]}, c.MemoryIDs)
	}
}

func TestPipeline_ConcurrentChunks(t *testing.T) {
	p, _ := newTestPipeline(t, adaptertest.Static(reject), failOnCall(t), func(c *Config) { c.KeepRawChunks = false })

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := p.ProcessChunk(context.Background(), fmt.Sprintf("User: message %d", i), "s")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()
	assert.Equal(t, int64(8), p.Stats().ChunksProcessed)
}

func TestRenderContext(t *testing.T) {
	assert.Equal(t, "(none)", RenderContext(nil))

	long := strings.Repeat("a", 200)
	got := RenderContext([]memory.Result{
		{Memory: memory.Memory{ID: 7, Content: "short", MemoryType: memory.TypeFact, Importance: 2}},
		{Memory: memory.Memory{ID: 9, Content: long, MemoryType: memory.TypeDecision, Importance: 5}},
	})
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "[ID=7] (type=fact, imp=2) short", lines[0])
	assert.Equal(t, "[ID=9] (type=decision, imp=5) "+strings.Repeat("a", 150), lines[1])
}

func TestParseUpdatePolicy(t *testing.T) {
	p, err := ParseUpdatePolicy("")
	require.NoError(t, err)
	assert.Equal(t, UpdateRetrieved, p)

	p, err = ParseUpdatePolicy("any")
	require.NoError(t, err)
	assert.Equal(t, UpdateAny, p)

	_, err = ParseUpdatePolicy("sometimes")
	assert.Error(t, err)
}
