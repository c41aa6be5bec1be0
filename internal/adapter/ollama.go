package adapter

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
)

// ollamaAdapter implements LLMAdapter for a local or remote Ollama instance.
type ollamaAdapter struct {
	client     *api.Client
	provider   string
	model      string
	numPredict int
}

// NewOllama creates an Ollama chat adapter. provider is the backend label
// ("local" or "remote") reported by Info.
func NewOllama(provider, host, model string, timeout time.Duration, numPredict int) (LLMAdapter, error) {
	client, err := newOllamaClient(host, timeout)
	if err != nil {
		return nil, err
	}
	return &ollamaAdapter{
		client:     client,
		provider:   provider,
		model:      model,
		numPredict: numPredict,
	}, nil
}

func newOllamaClient(host string, timeout time.Duration) (*api.Client, error) {
	u, err := url.Parse(strings.TrimRight(host, "/"))
	if err != nil {
		return nil, fmt.Errorf("ollama: parse host %q: %w", host, err)
	}
	return api.NewClient(u, &http.Client{Timeout: timeout}), nil
}

func (o *ollamaAdapter) Info() ModelInfo {
	return ModelInfo{Name: o.model, Provider: o.provider}
}

func (o *ollamaAdapter) Complete(ctx context.Context, req CompletionRequest) (string, error) {
	model := req.Model
	if model == "" {
		model = o.model
	}

	var messages []api.Message
	if req.SystemPrompt != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, api.Message{Role: "user", Content: req.UserMessage})

	numPredict := o.numPredict
	if req.MaxTokens > 0 {
		numPredict = req.MaxTokens
	}

	stream := false
	var sb strings.Builder
	err := o.client.Chat(ctx, &api.ChatRequest{
		Model:    model,
		Messages: messages,
		Stream:   &stream,
		Options: map[string]any{
			"temperature": req.Temperature,
			"num_predict": numPredict,
		},
	}, func(resp api.ChatResponse) error {
		sb.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama complete: %w", err)
	}
	return sb.String(), nil
}
