// Package adaptertest provides deterministic in-process stand-ins for the
// embedding and completion backends.
package adaptertest

import (
	"context"
	"hash/fnv"
	"math"
	"strings"
	"sync"
	"unicode"

	"github.com/memvra/memory-agent/internal/adapter"
)

// DefaultDimension is the vector length produced by NewEmbedder.
const DefaultDimension = 256

// Embedder is a bag-of-words embedder: each lower-cased word is hashed into
// a bucket and the vector is L2-normalised. Texts with the same words embed
// identically regardless of order, so paraphrases that reuse vocabulary score
// close to 1.0.
type Embedder struct {
	dim int

	mu    sync.Mutex
	calls []string
	// Err, when set, is returned from every Embed call.
	Err error
}

// NewEmbedder creates an Embedder with DefaultDimension.
func NewEmbedder() *Embedder {
	return &Embedder{dim: DefaultDimension}
}

func (e *Embedder) Dimension() int { return e.dim }
func (e *Embedder) Model() string  { return "bag-of-words" }

func (e *Embedder) Embed(_ context.Context, text string, _ adapter.Usage) ([]float32, error) {
	e.mu.Lock()
	e.calls = append(e.calls, text)
	err := e.Err
	e.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return Vector(text, e.dim), nil
}

// Calls returns the texts embedded so far.
func (e *Embedder) Calls() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.calls...)
}

// Health always reports a healthy provider.
func (e *Embedder) Health(context.Context) adapter.Health {
	return adapter.Health{Available: true, ModelLoaded: true, Model: e.Model()}
}

// Vector returns the normalised bag-of-words vector for text.
func Vector(text string, dim int) []float32 {
	vec := make([]float32, dim)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	if len(words) == 0 {
		vec[0] = 1
		return vec
	}
	for _, w := range words {
		h := fnv.New32a()
		h.Write([]byte(w))
		vec[int(h.Sum32())%dim]++
	}
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
	return vec
}

// LLM is a scripted completion backend.
type LLM struct {
	// Reply produces the response for each request.
	Reply func(req adapter.CompletionRequest) (string, error)

	mu    sync.Mutex
	calls []adapter.CompletionRequest
}

// Static returns an LLM that always answers with reply.
func Static(reply string) *LLM {
	return &LLM{Reply: func(adapter.CompletionRequest) (string, error) { return reply, nil }}
}

func (l *LLM) Complete(_ context.Context, req adapter.CompletionRequest) (string, error) {
	l.mu.Lock()
	l.calls = append(l.calls, req)
	l.mu.Unlock()
	return l.Reply(req)
}

func (l *LLM) Info() adapter.ModelInfo {
	return adapter.ModelInfo{Name: "scripted", Provider: "test"}
}

// Calls returns the requests received so far.
func (l *LLM) Calls() []adapter.CompletionRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return append([]adapter.CompletionRequest(nil), l.calls...)
}
