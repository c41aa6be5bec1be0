// Package memory is the semantic memory store: memories persisted in SQLite,
// searchable by meaning through a vector index, and connected by typed links.
package memory

import (
	"errors"
	"strings"
	"time"
)

// MemoryType classifies a stored memory. The set is open: any non-empty
// string is accepted, the constants below are the ones the extractor emits.
type MemoryType string

const (
	TypeDecision     MemoryType = "decision"
	TypeInsight      MemoryType = "insight"
	TypeFact         MemoryType = "fact"
	TypePreference   MemoryType = "preference"
	TypeProject      MemoryType = "project"
	TypeConversation MemoryType = "conversation"
	TypeGeneral      MemoryType = "general"
)

// KnownTypes lists the memory types the extraction prompt asks for.
var KnownTypes = []MemoryType{
	TypeDecision, TypeInsight, TypeFact, TypePreference,
	TypeProject, TypeConversation, TypeGeneral,
}

// NormalizeType lower-cases t and maps empty to TypeGeneral.
func NormalizeType(t string) MemoryType {
	t = strings.ToLower(strings.TrimSpace(t))
	if t == "" {
		return TypeGeneral
	}
	return MemoryType(t)
}

const (
	MinImportance     = 1
	MaxImportance     = 5
	DefaultImportance = 3
)

// ClampImportance forces v into [MinImportance, MaxImportance].
func ClampImportance(v int) int {
	if v < MinImportance {
		return MinImportance
	}
	if v > MaxImportance {
		return MaxImportance
	}
	return v
}

var (
	// ErrEmbedding wraps failures of the embedding provider. Nothing is
	// persisted when it is returned.
	ErrEmbedding = errors.New("embedding failed")
	// ErrNotFound is returned when an operation targets a missing memory.
	ErrNotFound = errors.New("memory not found")
)

// Memory is a single stored memory record.
type Memory struct {
	ID            int64      `json:"id"`
	Content       string     `json:"content"`
	Importance    int        `json:"importance"`
	MemoryType    MemoryType `json:"memory_type"`
	TopicTags     []string   `json:"topic_tags"`
	SourceSession string     `json:"source_session"`
	CreatedAt     time.Time  `json:"created_at"`
	LastAccessed  *time.Time `json:"last_accessed,omitempty"`
	AccessCount   int        `json:"access_count"`
}

// NewMemory is the input to Store.Store. A zero Importance means
// DefaultImportance; other values are clamped.
type NewMemory struct {
	Content       string
	Importance    int
	MemoryType    MemoryType
	TopicTags     []string
	SourceSession string
}

// Patch describes a partial update. Nil fields are left unchanged.
type Patch struct {
	Content    *string
	Importance *int
	TopicTags  []string
}

// Result is a memory returned from Search with its scores.
type Result struct {
	Memory
	Score      float64 `json:"score"`
	Similarity float64 `json:"similarity"`
}

// Search defaults.
const (
	DefaultSearchLimit     = 5
	DefaultSearchThreshold = 0.40
	DefaultDedupThreshold  = 0.85
	dedupLimit             = 3
)

// SearchOptions narrows a Search. Threshold is applied to the final score
// and is used as given; callers wanting the default pass
// DefaultSearchThreshold.
type SearchOptions struct {
	Limit         int
	Threshold     float64
	MemoryType    MemoryType
	MinImportance int
	ExcludeIDs    []int64
}

// DefaultSearchOptions returns limit 5, threshold 0.40, min importance 1.
func DefaultSearchOptions() SearchOptions {
	return SearchOptions{
		Limit:         DefaultSearchLimit,
		Threshold:     DefaultSearchThreshold,
		MinImportance: MinImportance,
	}
}

// ListOptions pages through memories without a query.
type ListOptions struct {
	Limit  int
	Offset int
	// Sort is one of created_at, importance, access_count, last_accessed, id.
	// A leading '-' or the default sorts descending.
	Sort       string
	MemoryType MemoryType
}

// PruneOptions selects memories for bulk deletion. All set conditions must
// hold for a memory to be removed.
type PruneOptions struct {
	MaxImportance  int
	OlderThan      time.Duration
	UnaccessedOnly bool
	DryRun         bool
}

// Link is a directed, labelled edge between two memories.
type Link struct {
	FromID       int64     `json:"from_id"`
	ToID         int64     `json:"to_id"`
	Relationship string    `json:"relationship"`
	CreatedAt    time.Time `json:"created_at"`
}

// Stats summarises the store.
type Stats struct {
	TotalMemories int                `json:"total_memories"`
	TotalLinks    int                `json:"total_links"`
	ByType        map[MemoryType]int `json:"by_type"`
	ByImportance  map[int]int        `json:"by_importance"`
	AvgImportance float64            `json:"avg_importance"`
	TotalAccesses int                `json:"total_accesses"`
	Oldest        *time.Time         `json:"oldest,omitempty"`
	Newest        *time.Time         `json:"newest,omitempty"`
	IndexBackend  string             `json:"index_backend"`
	Indexed       int                `json:"indexed"`
	EmbedModel    string             `json:"embed_model"`
	Dimension     int                `json:"dimension"`
}

// RawChunk is a conversation chunk kept after processing.
type RawChunk struct {
	ID         int64     `json:"id"`
	Session    string    `json:"session"`
	Text       string    `json:"chunk_text"`
	Index      int       `json:"chunk_index"`
	IngestedAt time.Time `json:"ingested_at"`
	MemoryIDs  []int64   `json:"memory_ids"`
}

// RawChunkStats summarises the raw chunk table.
type RawChunkStats struct {
	TotalChunks int `json:"total_chunks"`
	TotalChars  int `json:"total_chars"`
	Sessions    int `json:"sessions"`
}
