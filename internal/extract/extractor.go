package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/memory"
)

// Extractor asks a stronger model for create/update operations.
type Extractor struct {
	llm         adapter.LLMAdapter
	temperature float64
}

// NewExtractor creates an Extractor backed by llm.
func NewExtractor(llm adapter.LLMAdapter, temperature float64) *Extractor {
	return &Extractor{llm: llm, temperature: temperature}
}

// Extract proposes operations for chunk given the rendered related
// memories. A response that cannot be parsed returns an error wrapping
// ErrMalformedOutput and no ops.
func (e *Extractor) Extract(ctx context.Context, chunk, existing string) ([]Op, error) {
	if strings.TrimSpace(existing) == "" {
		existing = noContext
	}
	raw, err := e.llm.Complete(ctx, adapter.CompletionRequest{
		SystemPrompt: extractSystem,
		UserMessage:  fmt.Sprintf(extractPrompt, existing, truncate(chunk, extractInputChars)),
		Temperature:  e.temperature,
	})
	if err != nil {
		return nil, fmt.Errorf("extract: %w", err)
	}
	return ParseOps(raw)
}

// RenderContext formats related memories for the extraction prompt.
func RenderContext(results []memory.Result) string {
	if len(results) == 0 {
		return noContext
	}
	lines := make([]string, 0, len(results))
	for _, r := range results {
		lines = append(lines, fmt.Sprintf("[ID=%d] (type=%s, imp=%d) %s",
			r.ID, r.MemoryType, r.Importance, truncate(r.Content, contextSnippet)))
	}
	return strings.Join(lines, "\n")
}
