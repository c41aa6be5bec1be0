package adapter

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/dgraph-io/ristretto"
	"github.com/ollama/ollama/api"
	openai "github.com/sashabaranov/go-openai"
)

// Usage tells the embedder what the text will be used for. Providers that
// distinguish documents from queries map it to their own convention.
type Usage int

const (
	UsageDocument Usage = iota
	UsageQuery
)

func (u Usage) String() string {
	if u == UsageQuery {
		return "query"
	}
	return "document"
}

// Embedder maps text to a fixed-length vector.
type Embedder interface {
	Embed(ctx context.Context, text string, usage Usage) ([]float32, error)
	Dimension() int
	Model() string
}

// Health is the result of an embedding provider health check.
type Health struct {
	Available   bool          `json:"available"`
	ModelLoaded bool          `json:"model_loaded"`
	Model       string        `json:"model"`
	Latency     time.Duration `json:"latency"`
	Error       string        `json:"error,omitempty"`
}

// OK reports whether the provider is reachable and serving the model.
func (h Health) OK() bool { return h.Available && h.ModelLoaded }

// HealthChecker is implemented by embedders that can probe their provider.
type HealthChecker interface {
	Health(ctx context.Context) Health
}

// EmbedderOptions configures NewEmbedder.
type EmbedderOptions struct {
	Backend   string // "ollama" or "openai"
	Host      string
	Model     string
	APIKey    string
	Dimension int
	Timeout   time.Duration
	BaseURL   string
}

// NewEmbedder constructs the embedder for opts.Backend.
func NewEmbedder(opts EmbedderOptions) (Embedder, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	switch opts.Backend {
	case "", "ollama":
		host := opts.Host
		if host == "" {
			host = "http://localhost:11434"
		}
		model := opts.Model
		if model == "" {
			model = "nomic-embed-text"
		}
		dim := opts.Dimension
		if dim <= 0 {
			dim = 768
		}
		return NewOllamaEmbedder(host, model, dim, opts.Timeout)
	case BackendOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingKey)
		}
		return NewOpenAIEmbedder(opts.APIKey, opts.Model, opts.Dimension, opts.Timeout, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w %q for embeddings; valid: ollama, openai", ErrUnknownBackend, opts.Backend)
	}
}

// ---- Ollama ----

// nomic-embed-text task prefixes.
const (
	documentPrefix = "search_document: "
	queryPrefix    = "search_query: "
)

type ollamaEmbedder struct {
	client    *api.Client
	model     string
	dimension int
}

// NewOllamaEmbedder creates an embedder backed by Ollama's embed API.
func NewOllamaEmbedder(host, model string, dimension int, timeout time.Duration) (Embedder, error) {
	client, err := newOllamaClient(host, timeout)
	if err != nil {
		return nil, err
	}
	return &ollamaEmbedder{client: client, model: model, dimension: dimension}, nil
}

func (o *ollamaEmbedder) Dimension() int { return o.dimension }
func (o *ollamaEmbedder) Model() string  { return o.model }

func (o *ollamaEmbedder) Embed(ctx context.Context, text string, usage Usage) ([]float32, error) {
	prefix := documentPrefix
	if usage == UsageQuery {
		prefix = queryPrefix
	}
	res, err := o.client.Embed(ctx, &api.EmbedRequest{
		Model: o.model,
		Input: prefix + text,
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(res.Embeddings) == 0 || len(res.Embeddings[0]) == 0 {
		return nil, errors.New("ollama embed: empty embedding in response")
	}
	vec := res.Embeddings[0]
	if len(vec) != o.dimension {
		return nil, fmt.Errorf("ollama embed: got %d dimensions, want %d", len(vec), o.dimension)
	}
	return vec, nil
}

// Health lists the local models, checks the embedding model is present and
// times one embedding round trip.
func (o *ollamaEmbedder) Health(ctx context.Context) Health {
	h := Health{Model: o.model}
	list, err := o.client.List(ctx)
	if err != nil {
		h.Error = err.Error()
		return h
	}
	h.Available = true
	for _, m := range list.Models {
		if strings.Contains(m.Name, o.model) {
			h.ModelLoaded = true
			break
		}
	}
	if !h.ModelLoaded {
		return h
	}
	start := time.Now()
	if _, err := o.Embed(ctx, "health check", UsageQuery); err != nil {
		h.Error = err.Error()
		return h
	}
	h.Latency = time.Since(start)
	return h
}

// ---- OpenAI ----

type openaiEmbedder struct {
	client    *openai.Client
	model     openai.EmbeddingModel
	dimension int
}

// NewOpenAIEmbedder creates an embedder backed by the OpenAI embeddings API.
// OpenAI models take no task prefix, so usage is ignored.
func NewOpenAIEmbedder(apiKey, model string, dimension int, timeout time.Duration, baseURL string) Embedder {
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	if dimension <= 0 {
		dimension = 1536
	}
	return &openaiEmbedder{
		client:    newOpenAIClient(apiKey, timeout, baseURL),
		model:     openai.EmbeddingModel(model),
		dimension: dimension,
	}
}

func (o *openaiEmbedder) Dimension() int { return o.dimension }
func (o *openaiEmbedder) Model() string  { return string(o.model) }

func (o *openaiEmbedder) Embed(ctx context.Context, text string, _ Usage) ([]float32, error) {
	resp, err := o.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input:      []string{text},
		Model:      o.model,
		Dimensions: o.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("openai embed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, errors.New("openai embed: empty response")
	}
	return resp.Data[0].Embedding, nil
}

// ---- Query cache ----

// CachedEmbedder memoises query embeddings. Document embeddings are computed
// once per write and are never cached.
type CachedEmbedder struct {
	Embedder
	cache *ristretto.Cache
}

// NewCachedEmbedder wraps inner with a query cache holding up to size vectors.
func NewCachedEmbedder(inner Embedder, size int64) (*CachedEmbedder, error) {
	if size <= 0 {
		size = 1024
	}
	cache, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: size * 10,
		MaxCost:     size,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("embed cache: %w", err)
	}
	return &CachedEmbedder{Embedder: inner, cache: cache}, nil
}

// Embed serves query embeddings from the cache. Callers always receive their
// own copy of the vector.
func (c *CachedEmbedder) Embed(ctx context.Context, text string, usage Usage) ([]float32, error) {
	if usage != UsageQuery {
		return c.Embedder.Embed(ctx, text, usage)
	}
	if v, ok := c.cache.Get(text); ok {
		return slices.Clone(v.([]float32)), nil
	}
	vec, err := c.Embedder.Embed(ctx, text, usage)
	if err != nil {
		return nil, err
	}
	c.cache.Set(text, slices.Clone(vec), 1)
	c.cache.Wait()
	return vec, nil
}

// Health forwards to the wrapped embedder when it supports health checks.
func (c *CachedEmbedder) Health(ctx context.Context) Health {
	if hc, ok := c.Embedder.(HealthChecker); ok {
		return hc.Health(ctx)
	}
	return Health{Available: true, ModelLoaded: true, Model: c.Model()}
}

// Close releases the cache.
func (c *CachedEmbedder) Close() {
	c.cache.Close()
}
