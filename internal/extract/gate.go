package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/memory-agent/internal/adapter"
)

// Decision is the gate's verdict on a chunk.
type Decision struct {
	Remember bool   `json:"remember"`
	Reason   string `json:"reason"`
	// Fallback is set when the verdict came from keywords, not JSON.
	Fallback bool `json:"-"`
}

// Gate asks a cheap model whether a chunk holds anything worth keeping.
type Gate struct {
	llm         adapter.LLMAdapter
	temperature float64
}

// NewGate creates a Gate backed by llm.
func NewGate(llm adapter.LLMAdapter, temperature float64) *Gate {
	return &Gate{llm: llm, temperature: temperature}
}

// Decide sends the first 2000 characters of chunk to the gate model.
// Backend failures are returned; malformed output is not an error.
func (g *Gate) Decide(ctx context.Context, chunk string) (Decision, error) {
	raw, err := g.llm.Complete(ctx, adapter.CompletionRequest{
		SystemPrompt: gateSystem,
		UserMessage:  fmt.Sprintf(gatePrompt, truncate(chunk, gateInputChars)),
		Temperature:  g.temperature,
	})
	if err != nil {
		return Decision{}, fmt.Errorf("gate: %w", err)
	}
	return ParseGate(raw), nil
}

// ParseGate reads a {"remember": ..., "reason": ...} object from raw. When
// no object can be decoded it falls back to keywords: "true", "yes" or
// "remember" anywhere in the text means keep.
func ParseGate(raw string) Decision {
	var obj map[string]any
	if err := decodeLenient(raw, '{', '}', &obj); err == nil {
		reason, _ := obj["reason"].(string)
		return Decision{Remember: truthy(obj["remember"]), Reason: reason}
	}
	text := StripThinking(raw)
	lower := strings.ToLower(text)
	keep := strings.Contains(lower, "true") ||
		strings.Contains(lower, "yes") ||
		strings.Contains(lower, "remember")
	return Decision{Remember: keep, Reason: truncate(text, 100), Fallback: true}
}

func truthy(v any) bool {
	switch x := v.(type) {
	case bool:
		return x
	case string:
		s := strings.ToLower(strings.TrimSpace(x))
		return s == "true" || s == "yes"
	case float64:
		return x != 0
	}
	return false
}
