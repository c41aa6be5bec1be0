package scanner

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// ReadTranscript returns the text of a transcript file. JSON Lines files are
// rendered as "User: ..." / "Assistant: ..." turns; other files are
// returned as-is.
func ReadTranscript(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read transcript: %w", err)
	}
	if strings.EqualFold(filepath.Ext(path), ".jsonl") {
		return RenderJSONL(data), nil
	}
	return string(data), nil
}

type jsonlTurn struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
	Message *struct {
		Role    string          `json:"role"`
		Content json.RawMessage `json:"content"`
	} `json:"message"`
}

// RenderJSONL converts chat log lines to transcript text. A line holds either
// {"role", "content"} or {"message": {"role", "content"}}; content is a
// string or a list of {"type": "text", "text"} parts. Lines that do not
// parse, and roles other than user and assistant, are skipped.
func RenderJSONL(data []byte) string {
	var turns []string
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	for sc.Scan() {
		line := bytes.TrimSpace(sc.Bytes())
		if len(line) == 0 {
			continue
		}
		var t jsonlTurn
		if err := json.Unmarshal(line, &t); err != nil {
			continue
		}
		role, content := t.Role, t.Content
		if t.Message != nil {
			role, content = t.Message.Role, t.Message.Content
		}
		text := strings.TrimSpace(contentText(content))
		if text == "" {
			continue
		}
		switch role {
		case "user":
			turns = append(turns, "User: "+text)
		case "assistant":
			turns = append(turns, "Assistant: "+text)
		}
	}
	return strings.Join(turns, "\n\n")
}

func contentText(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var parts []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parts); err != nil {
		return ""
	}
	var texts []string
	for _, p := range parts {
		if p.Type == "text" && p.Text != "" {
			texts = append(texts, p.Text)
		}
	}
	return strings.Join(texts, "\n")
}
