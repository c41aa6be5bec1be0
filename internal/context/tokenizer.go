// Package context builds token-budgeted recall blocks from stored memories.
package context

import (
	"fmt"

	tiktoken "github.com/pkoukk/tiktoken-go"
)

// Counter counts and truncates text in model tokens.
type Counter interface {
	Count(s string) int
	Truncate(s string, maxTokens int) string
}

// Tokenizer wraps tiktoken for approximate token counting.
type Tokenizer struct {
	enc *tiktoken.Tiktoken
}

// NewTokenizer creates a Tokenizer using the cl100k_base encoding, a close
// enough approximation for every supported backend.
func NewTokenizer() (*Tokenizer, error) {
	enc, err := tiktoken.GetEncoding("cl100k_base")
	if err != nil {
		return nil, fmt.Errorf("tokenizer: get encoding: %w", err)
	}
	return &Tokenizer{enc: enc}, nil
}

// Count returns the approximate number of tokens in s.
func (t *Tokenizer) Count(s string) int {
	return len(t.enc.Encode(s, nil, nil))
}

// Truncate truncates s to at most maxTokens tokens.
func (t *Tokenizer) Truncate(s string, maxTokens int) string {
	tokens := t.enc.Encode(s, nil, nil)
	if len(tokens) <= maxTokens {
		return s
	}
	if maxTokens <= 0 {
		return ""
	}
	return t.enc.Decode(tokens[:maxTokens])
}

// ApproxTokenizer estimates four characters per token. It stands in when
// the tiktoken encoding cannot be loaded (offline first run).
type ApproxTokenizer struct{}

const charsPerToken = 4

func (ApproxTokenizer) Count(s string) int {
	n := len([]rune(s))
	return (n + charsPerToken - 1) / charsPerToken
}

func (ApproxTokenizer) Truncate(s string, maxTokens int) string {
	r := []rune(s)
	limit := max(maxTokens, 0) * charsPerToken
	if len(r) <= limit {
		return s
	}
	return string(r[:limit])
}

// DefaultCounter returns the tiktoken tokenizer, or ApproxTokenizer when the
// encoding is unavailable.
func DefaultCounter() Counter {
	if tok, err := NewTokenizer(); err == nil {
		return tok
	}
	return ApproxTokenizer{}
}
