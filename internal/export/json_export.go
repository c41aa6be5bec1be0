package export

import (
	"encoding/json"
	"time"

	"github.com/memvra/memory-agent/internal/memory"
)

// JSONExporter renders memories as structured JSON grouped by type.
type JSONExporter struct{}

type jsonOutput struct {
	GeneratedAt time.Time               `json:"generated_at"`
	Total       int                     `json:"total"`
	Memories    map[string][]jsonMemory `json:"memories"`
	Links       []memory.Link           `json:"links"`
}

type jsonMemory struct {
	ID            int64      `json:"id"`
	Content       string     `json:"content"`
	Importance    int        `json:"importance"`
	TopicTags     []string   `json:"topic_tags"`
	SourceSession string     `json:"source_session,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
	AccessCount   int        `json:"access_count"`
}

func (e *JSONExporter) Export(data ExportData) (string, error) {
	out := jsonOutput{
		GeneratedAt: data.GeneratedAt.UTC(),
		Total:       len(data.Memories),
		Memories:    map[string][]jsonMemory{},
		Links:       data.Links,
	}
	if out.Links == nil {
		out.Links = []memory.Link{}
	}
	for _, m := range data.Memories {
		tags := m.TopicTags
		if tags == nil {
			tags = []string{}
		}
		key := string(m.MemoryType)
		out.Memories[key] = append(out.Memories[key], jsonMemory{
			ID:            m.ID,
			Content:       m.Content,
			Importance:    m.Importance,
			TopicTags:     tags,
			SourceSession: m.SourceSession,
			CreatedAt:     m.CreatedAt,
			LastAccessed:  m.LastAccessed,
			AccessCount:   m.AccessCount,
		})
	}

	b, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return "", err
	}
	return string(b) + "\n", nil
}
