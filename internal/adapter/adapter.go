// Package adapter provides the model backends used for gating, extraction
// and embedding.
package adapter

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Backend name constants.
const (
	BackendLocal     = "local"
	BackendRemote    = "remote"
	BackendAnthropic = "anthropic"
	BackendGemini    = "gemini"
	BackendOpenAI    = "openai"
)

// Role selects per-role default models: the gate is cheap, the extractor is stronger.
type Role string

const (
	RoleGate    Role = "gate"
	RoleExtract Role = "extract"
)

var (
	// ErrUnknownBackend is returned by New for an unrecognised backend name.
	ErrUnknownBackend = errors.New("adapter: unknown backend")
	// ErrMissingKey is returned when a cloud backend has no API key.
	ErrMissingKey = errors.New("adapter: missing API key")
)

// CompletionRequest holds the parameters for a completion call.
type CompletionRequest struct {
	SystemPrompt string
	UserMessage  string
	Model        string
	MaxTokens    int
	Temperature  float64
}

// ModelInfo describes the backend behind an adapter.
type ModelInfo struct {
	Name     string
	Provider string
}

// LLMAdapter is the common interface all completion backends implement.
type LLMAdapter interface {
	// Complete sends one system + user exchange and returns the raw reply text.
	Complete(ctx context.Context, req CompletionRequest) (string, error)

	// Info returns metadata about the adapter/model.
	Info() ModelInfo
}

// Options carries connection settings shared by all backends.
type Options struct {
	Model         string
	APIKey        string
	LocalHost     string
	RemoteHost    string
	OllamaTimeout time.Duration
	CloudTimeout  time.Duration
	NumPredict    int
	// BaseURL overrides the cloud API endpoint (used in tests).
	BaseURL string
}

const (
	defaultLocalHost     = "http://127.0.0.1:11434"
	defaultOllamaTimeout = 300 * time.Second
	defaultCloudTimeout  = 60 * time.Second
	defaultNumPredict    = 1024
	cloudMaxTokens       = 2048
)

var defaultModels = map[string]map[Role]string{
	BackendLocal:     {RoleGate: "qwen3:4b", RoleExtract: "qwen3:8b"},
	BackendRemote:    {RoleGate: "qwen3:8b", RoleExtract: "qwen3:32b"},
	BackendAnthropic: {RoleGate: "claude-3-haiku-20240307", RoleExtract: "claude-sonnet-4-20250514"},
	BackendGemini:    {RoleGate: "gemini-2.5-flash", RoleExtract: "gemini-2.5-flash"},
	BackendOpenAI:    {RoleGate: "gpt-4o-mini", RoleExtract: "gpt-4o"},
}

// DefaultModel returns the model used for role when none is configured.
func DefaultModel(backend string, role Role) string {
	return defaultModels[backend][role]
}

// Backends lists the valid backend names.
func Backends() []string {
	return []string{BackendLocal, BackendRemote, BackendAnthropic, BackendGemini, BackendOpenAI}
}

// New constructs the LLMAdapter for the named backend and role.
func New(backend string, role Role, opts Options) (LLMAdapter, error) {
	model := opts.Model
	if model == "" {
		model = DefaultModel(backend, role)
	}
	if opts.OllamaTimeout <= 0 {
		opts.OllamaTimeout = defaultOllamaTimeout
	}
	if opts.CloudTimeout <= 0 {
		opts.CloudTimeout = defaultCloudTimeout
	}
	if opts.NumPredict <= 0 {
		opts.NumPredict = defaultNumPredict
	}

	switch backend {
	case BackendLocal:
		host := opts.LocalHost
		if host == "" {
			host = defaultLocalHost
		}
		return NewOllama(BackendLocal, host, model, opts.OllamaTimeout, opts.NumPredict)
	case BackendRemote:
		if opts.RemoteHost == "" {
			return nil, fmt.Errorf("adapter: remote backend needs an ollama remote host")
		}
		return NewOllama(BackendRemote, opts.RemoteHost, model, opts.OllamaTimeout, opts.NumPredict)
	case BackendAnthropic:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: ANTHROPIC_API_KEY", ErrMissingKey)
		}
		return NewClaude(opts.APIKey, model, opts.CloudTimeout, opts.BaseURL), nil
	case BackendGemini:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: GEMINI_API_KEY", ErrMissingKey)
		}
		return NewGemini(opts.APIKey, model, opts.CloudTimeout, opts.BaseURL), nil
	case BackendOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("%w: OPENAI_API_KEY", ErrMissingKey)
		}
		return NewOpenAI(opts.APIKey, model, opts.CloudTimeout, opts.BaseURL), nil
	default:
		return nil, fmt.Errorf("%w %q; valid backends: local, remote, anthropic, gemini, openai", ErrUnknownBackend, backend)
	}
}
