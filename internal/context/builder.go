package context

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/memory-agent/internal/memory"
)

// Store is the part of memory.Store the builder reads from.
type Store interface {
	Search(ctx context.Context, query string, opts memory.SearchOptions) ([]memory.Result, error)
	List(ctx context.Context, opts memory.ListOptions) ([]memory.Memory, int, error)
}

// BuildOptions controls how a recall block is assembled.
type BuildOptions struct {
	Query         string
	Budget        int // tokens
	Limit         int
	Threshold     float64
	MemoryType    memory.MemoryType
	MinImportance int
	// Pinned prepends every importance-5 memory regardless of the query.
	Pinned bool
}

// Recall is the result of a build.
type Recall struct {
	Text         string
	TokensUsed   int
	MemoriesUsed int
	Truncated    bool
	IDs          []int64
	// Sources lists what was included, for verbose output.
	Sources []string
}

const (
	defaultBudget  = 2000
	defaultLimit   = 10
	pinnedLimit    = 20
	truncateMargin = 100
	truncateSlack  = 50
)

// Builder assembles token-budgeted recall blocks.
type Builder struct {
	store     Store
	formatter *Formatter
	tokenizer Counter
}

// NewBuilder creates a Builder.
func NewBuilder(store Store, formatter *Formatter, tokenizer Counter) *Builder {
	return &Builder{store: store, formatter: formatter, tokenizer: tokenizer}
}

// Build searches for opts.Query and renders as many hits as fit the budget.
// When the next hit does not fit but more than 100 tokens remain, it is
// truncated to fill the rest.
func (b *Builder) Build(ctx context.Context, opts BuildOptions) (*Recall, error) {
	if opts.Budget <= 0 {
		opts.Budget = defaultBudget
	}
	if opts.Limit <= 0 {
		opts.Limit = defaultLimit
	}
	if opts.Threshold == 0 {
		opts.Threshold = memory.DefaultSearchThreshold
	}
	if opts.MinImportance <= 0 {
		opts.MinImportance = memory.MinImportance
	}

	header := b.formatter.FormatHeader(opts.Query)
	remaining := opts.Budget - b.tokenizer.Count(header)
	if remaining <= 0 {
		return &Recall{}, nil
	}

	out := &Recall{}
	var sections []string
	seen := map[int64]bool{}

	if opts.Pinned {
		pinned, err := b.pinned(ctx)
		if err != nil {
			return nil, err
		}
		if block := b.formatter.FormatSection("Pinned", pinned); block != "" {
			if tokens := b.tokenizer.Count(block); tokens <= remaining {
				sections = append(sections, block)
				remaining -= tokens
				for _, m := range pinned {
					seen[m.ID] = true
					out.IDs = append(out.IDs, m.ID)
					out.Sources = append(out.Sources, fmt.Sprintf("pinned #%d: %s", m.ID, truncateStr(m.Content, 60)))
				}
				out.MemoriesUsed += len(pinned)
			}
		}
	}

	results, err := b.store.Search(ctx, opts.Query, memory.SearchOptions{
		Limit:         opts.Limit,
		Threshold:     opts.Threshold,
		MemoryType:    opts.MemoryType,
		MinImportance: opts.MinImportance,
	})
	if err != nil {
		return nil, fmt.Errorf("recall: %w", err)
	}

	for _, r := range results {
		if seen[r.ID] {
			continue
		}
		block := b.formatter.FormatResult(r)
		tokens := b.tokenizer.Count(block)
		if tokens <= remaining {
			sections = append(sections, block)
			remaining -= tokens
		} else if remaining > truncateMargin {
			r.Content = b.tokenizer.Truncate(r.Content, remaining-truncateSlack) + "..."
			block = b.formatter.FormatResult(r)
			sections = append(sections, block)
			remaining = 0
			out.Truncated = true
		} else {
			break
		}
		out.MemoriesUsed++
		out.IDs = append(out.IDs, r.ID)
		out.Sources = append(out.Sources, fmt.Sprintf("memory #%d (%s, score %.3f): %s",
			r.ID, r.MemoryType, r.Score, truncateStr(r.Content, 60)))
		if remaining == 0 {
			break
		}
	}

	if out.MemoriesUsed == 0 {
		return out, nil
	}
	out.Text = header + strings.Join(sections, "")
	out.TokensUsed = opts.Budget - remaining
	return out, nil
}

func (b *Builder) pinned(ctx context.Context) ([]memory.Memory, error) {
	items, _, err := b.store.List(ctx, memory.ListOptions{Sort: "-importance", Limit: pinnedLimit})
	if err != nil {
		return nil, fmt.Errorf("recall: pinned: %w", err)
	}
	var out []memory.Memory
	for _, m := range items {
		if m.Importance >= memory.MaxImportance {
			out = append(out, m)
		}
	}
	return out, nil
}

func truncateStr(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
