// Package extract turns conversation text into memories: a gate model
// filters chunks, an extraction model proposes create/update operations
// against related memories, and the pipeline commits them to the store.
package extract

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync/atomic"

	"github.com/charmbracelet/log"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/memory"
)

// UpdatePolicy decides which update operations may replace stored content.
type UpdatePolicy string

const (
	// UpdateRetrieved allows an update only when its target was among the
	// related memories shown to the extractor for the same chunk.
	UpdateRetrieved UpdatePolicy = "retrieved"
	// UpdateAny allows an update to any existing memory.
	UpdateAny UpdatePolicy = "any"
)

// ParseUpdatePolicy maps a config value to a policy.
func ParseUpdatePolicy(s string) (UpdatePolicy, error) {
	switch UpdatePolicy(s) {
	case "", UpdateRetrieved:
		return UpdateRetrieved, nil
	case UpdateAny:
		return UpdateAny, nil
	}
	return "", fmt.Errorf("unknown update policy %q; valid: retrieved, any", s)
}

// Config tunes the pipeline.
type Config struct {
	DedupThreshold   float64
	ContextThreshold float64
	ContextLimit     int
	Temperature      float64
	UpdatePolicy     UpdatePolicy
	KeepRawChunks    bool
}

// DefaultConfig returns the standard pipeline settings.
func DefaultConfig() Config {
	return Config{
		DedupThreshold:   memory.DefaultDedupThreshold,
		ContextThreshold: 0.60,
		ContextLimit:     5,
		Temperature:      0.3,
		UpdatePolicy:     UpdateRetrieved,
		KeepRawChunks:    true,
	}
}

// TokenCounter counts model tokens in a string.
type TokenCounter interface {
	Count(s string) int
}

// Stats is a snapshot of the pipeline counters.
type Stats struct {
	ChunksProcessed   int64 `json:"chunks_processed"`
	ChunksPassedGate  int64 `json:"chunks_passed_gate"`
	MemoriesExtracted int64 `json:"memories_extracted"`
	MemoriesStored    int64 `json:"memories_stored"`
	MemoriesUpdated   int64 `json:"memories_updated"`
	MemoriesDeduped   int64 `json:"memories_deduped"`
	UpdatesRejected   int64 `json:"updates_rejected"`
	Errors            int64 `json:"errors"`
}

type counters struct {
	chunksProcessed   atomic.Int64
	chunksPassedGate  atomic.Int64
	memoriesExtracted atomic.Int64
	memoriesStored    atomic.Int64
	memoriesUpdated   atomic.Int64
	memoriesDeduped   atomic.Int64
	updatesRejected   atomic.Int64
	errors            atomic.Int64
}

// Pipeline runs gate, context retrieval, extraction and commit for each
// chunk. It is safe for concurrent use.
type Pipeline struct {
	store     *memory.Store
	gate      *Gate
	extractor *Extractor
	cfg       Config
	logger    *log.Logger
	tokens    TokenCounter
	stats     counters
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithLogger sets the pipeline logger.
func WithLogger(l *log.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithTokenCounter enables per-chunk token counts in debug logs.
func WithTokenCounter(tc TokenCounter) Option {
	return func(p *Pipeline) { p.tokens = tc }
}

// New creates a Pipeline writing to store.
func New(store *memory.Store, gate, extract adapter.LLMAdapter, cfg Config, opts ...Option) *Pipeline {
	if cfg.ContextLimit <= 0 {
		cfg.ContextLimit = 5
	}
	if cfg.UpdatePolicy == "" {
		cfg.UpdatePolicy = UpdateRetrieved
	}
	p := &Pipeline{
		store:     store,
		gate:      NewGate(gate, cfg.Temperature),
		extractor: NewExtractor(extract, cfg.Temperature),
		cfg:       cfg,
		logger:    log.New(io.Discard),
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

// Stats returns a snapshot of the counters.
func (p *Pipeline) Stats() Stats {
	return Stats{
		ChunksProcessed:   p.stats.chunksProcessed.Load(),
		ChunksPassedGate:  p.stats.chunksPassedGate.Load(),
		MemoriesExtracted: p.stats.memoriesExtracted.Load(),
		MemoriesStored:    p.stats.memoriesStored.Load(),
		MemoriesUpdated:   p.stats.memoriesUpdated.Load(),
		MemoriesDeduped:   p.stats.memoriesDeduped.Load(),
		UpdatesRejected:   p.stats.updatesRejected.Load(),
		Errors:            p.stats.errors.Load(),
	}
}

// ProcessChunk runs one chunk through the pipeline and returns the ids of
// memories stored or updated, in operation order. session is recorded as
// the provenance of new memories.
func (p *Pipeline) ProcessChunk(ctx context.Context, text, session string) ([]int64, error) {
	return p.processChunk(ctx, text, session, 0)
}

// ProcessConversation splits text into overlapping chunks and processes
// each one. A failing chunk does not stop the rest; the ids of all chunks
// are returned in chunk order together with the joined errors.
func (p *Pipeline) ProcessConversation(ctx context.Context, text, session string, chunkSize, overlap int) ([]int64, error) {
	var (
		ids  []int64
		errs []error
	)
	for i, chunk := range SplitText(text, chunkSize, overlap) {
		if err := ctx.Err(); err != nil {
			errs = append(errs, err)
			break
		}
		got, err := p.processChunk(ctx, chunk, session, i)
		ids = append(ids, got...)
		if err != nil {
			errs = append(errs, fmt.Errorf("chunk %d: %w", i, err))
		}
	}
	return ids, errors.Join(errs...)
}

func (p *Pipeline) processChunk(ctx context.Context, text, session string, index int) (ids []int64, err error) {
	p.stats.chunksProcessed.Add(1)
	logger := p.logger.With("session", session, "chars", len(text))
	if p.tokens != nil {
		logger.Debug("processing chunk", "tokens", p.tokens.Count(text), "index", index)
	}

	stage := "gate"
	defer func() {
		if err != nil {
			p.stats.errors.Add(1)
			logger.Error("pipeline failed", "stage", stage, "err", err)
		}
		if p.cfg.KeepRawChunks && err == nil {
			if _, rerr := p.store.StoreRawChunk(ctx, session, text, index, ids); rerr != nil {
				logger.Warn("keeping raw chunk", "err", rerr)
			}
		}
	}()

	decision, err := p.gate.Decide(ctx, text)
	if err != nil {
		return nil, err
	}
	if !decision.Remember {
		logger.Debug("gate rejected chunk", "reason", decision.Reason)
		return nil, nil
	}
	p.stats.chunksPassedGate.Add(1)

	stage = "context"
	related, err := p.store.Search(ctx, truncate(text, contextQueryChars), memory.SearchOptions{
		Limit:         p.cfg.ContextLimit,
		Threshold:     p.cfg.ContextThreshold,
		MinImportance: memory.MinImportance,
	})
	if err != nil {
		return nil, err
	}
	shown := make(map[int64]bool, len(related))
	for _, r := range related {
		shown[r.ID] = true
	}

	stage = "extract"
	ops, err := p.extractor.Extract(ctx, text, RenderContext(related))
	if errors.Is(err, ErrMalformedOutput) {
		logger.Warn("discarding unparseable extraction", "err", err)
		ops, err = nil, nil
	}
	if err != nil {
		return nil, err
	}
	p.stats.memoriesExtracted.Add(int64(len(ops)))

	stage = "commit"
	for _, op := range ops {
		id, err := p.commit(ctx, op, session, shown, logger)
		if err != nil {
			return ids, err
		}
		if id != 0 {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

// commit applies one op and returns the affected id, or 0 for a duplicate.
func (p *Pipeline) commit(ctx context.Context, op Op, session string, shown map[int64]bool, logger *log.Logger) (int64, error) {
	if op.Kind == OpUpdate {
		if p.cfg.UpdatePolicy == UpdateRetrieved && !shown[op.TargetID] {
			p.stats.updatesRejected.Add(1)
			logger.Info("update target was not retrieved for this chunk, creating instead", "target", op.TargetID)
		} else {
			target, err := p.store.Get(ctx, op.TargetID)
			if err != nil {
				return 0, err
			}
			if target != nil {
				content := op.Content
				patch := memory.Patch{Content: &content}
				if op.HasImportance {
					importance := op.Importance
					patch.Importance = &importance
				}
				if len(op.TopicTags) > 0 {
					patch.TopicTags = op.TopicTags
				}
				if _, err := p.store.Update(ctx, op.TargetID, patch); err != nil {
					return 0, err
				}
				p.stats.memoriesUpdated.Add(1)
				logger.Debug("updated memory", "id", op.TargetID)
				return op.TargetID, nil
			}
		}
	}

	dupes, err := p.store.FindDuplicates(ctx, op.Content, p.cfg.DedupThreshold)
	if err != nil {
		return 0, err
	}
	if len(dupes) > 0 {
		p.stats.memoriesDeduped.Add(1)
		logger.Debug("skipping duplicate", "of", dupes[0].ID, "score", dupes[0].Score)
		return 0, nil
	}
	id, err := p.store.Store(ctx, memory.NewMemory{
		Content:       op.Content,
		Importance:    op.Importance,
		MemoryType:    op.MemoryType,
		TopicTags:     op.TopicTags,
		SourceSession: session,
	})
	if err != nil {
		return 0, err
	}
	p.stats.memoriesStored.Add(1)
	logger.Debug("stored memory", "id", id, "type", op.MemoryType)
	return id, nil
}
