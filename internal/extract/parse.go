package extract

import (
	"encoding/json"
	"errors"
	"strings"
)

var (
	// ErrMalformedOutput marks model output that could not be decoded.
	ErrMalformedOutput = errors.New("malformed model output")

	errNoJSON = errors.New("no JSON found")
)

// StripThinking drops chain-of-thought markup, keeping only the text after
// the last closing </think> tag.
func StripThinking(s string) string {
	if i := strings.LastIndex(s, "</think>"); i >= 0 {
		return strings.TrimSpace(s[i+len("</think>"):])
	}
	return s
}

// cleanResponse removes reasoning blocks and a surrounding markdown fence.
func cleanResponse(raw string) string {
	text := strings.TrimSpace(StripThinking(raw))
	if strings.HasPrefix(text, "```") {
		if nl := strings.IndexByte(text, '\n'); nl >= 0 {
			text = text[nl+1:]
		} else {
			text = strings.TrimPrefix(text, "```")
		}
		if i := strings.LastIndex(text, "```"); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
	}
	return text
}

// decodeLenient decodes the span between the first open and the last close
// delimiter of a model response into v.
func decodeLenient(raw string, open, close byte, v any) error {
	text := cleanResponse(raw)
	i := strings.IndexByte(text, open)
	j := strings.LastIndexByte(text, close)
	if i < 0 || j < i {
		return errNoJSON
	}
	return json.Unmarshal([]byte(text[i:j+1]), v)
}

// truncate returns at most n characters of s.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
