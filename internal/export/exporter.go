// Package export renders the memory store as markdown or JSON.
package export

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/memvra/memory-agent/internal/memory"
)

// ExportData is passed to every Exporter.
type ExportData struct {
	Memories    []memory.Memory
	Links       []memory.Link
	GeneratedAt time.Time
}

// Exporter renders ExportData to a string in a specific format.
type Exporter interface {
	Export(data ExportData) (string, error)
}

// registry maps format names to Exporter implementations.
var registry = map[string]Exporter{
	"markdown": &MarkdownExporter{},
	"json":     &JSONExporter{},
}

// Get returns the Exporter registered under name, and whether it was found.
func Get(name string) (Exporter, bool) {
	e, ok := registry[name]
	return e, ok
}

// ValidFormats returns the supported export format names, sorted.
func ValidFormats() []string {
	formats := make([]string, 0, len(registry))
	for k := range registry {
		formats = append(formats, k)
	}
	sort.Strings(formats)
	return formats
}

// Source is the part of memory.Store an export reads.
type Source interface {
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, int, error)
	Links(ctx context.Context, id int64) ([]memory.Link, error)
}

const pageSize = 500

// Collect loads every memory in id order together with its outgoing links.
func Collect(ctx context.Context, src Source, now time.Time) (ExportData, error) {
	data := ExportData{GeneratedAt: now}
	for offset := 0; ; offset += pageSize {
		page, total, err := src.List(ctx, memory.ListOptions{Sort: "id", Limit: pageSize, Offset: offset})
		if err != nil {
			return data, fmt.Errorf("export: %w", err)
		}
		data.Memories = append(data.Memories, page...)
		if len(page) == 0 || len(data.Memories) >= total {
			break
		}
	}
	for _, m := range data.Memories {
		links, err := src.Links(ctx, m.ID)
		if err != nil {
			return data, fmt.Errorf("export: links of %d: %w", m.ID, err)
		}
		data.Links = append(data.Links, links...)
	}
	return data, nil
}

// groupByType buckets memories by type. Known types come first in their
// canonical order, any others follow alphabetically.
func groupByType(memories []memory.Memory) ([]memory.MemoryType, map[memory.MemoryType][]memory.Memory) {
	groups := map[memory.MemoryType][]memory.Memory{}
	for _, m := range memories {
		groups[m.MemoryType] = append(groups[m.MemoryType], m)
	}

	var order []memory.MemoryType
	known := map[memory.MemoryType]bool{}
	for _, t := range memory.KnownTypes {
		known[t] = true
		if len(groups[t]) > 0 {
			order = append(order, t)
		}
	}
	var extra []memory.MemoryType
	for t := range groups {
		if !known[t] {
			extra = append(extra, t)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	return append(order, extra...), groups
}
