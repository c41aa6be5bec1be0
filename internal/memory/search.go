package memory

import (
	"context"
	"fmt"
	"strings"

	"github.com/memvra/memory-agent/internal/adapter"
)

// Search embeds query and returns the best matching memories by final
// score. Only the returned memories have their access statistics bumped.
func (s *Store) Search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	results, err := s.search(ctx, query, opts)
	if err != nil {
		return nil, err
	}
	if err := s.touch(ctx, results); err != nil {
		return nil, err
	}
	return results, nil
}

// FindDuplicates returns up to three memories whose score against content
// reaches threshold. It does not count as an access.
func (s *Store) FindDuplicates(ctx context.Context, content string, threshold float64) ([]Result, error) {
	return s.search(ctx, content, SearchOptions{
		Limit:         dedupLimit,
		Threshold:     threshold,
		MinImportance: MinImportance,
	})
}

func (s *Store) search(ctx context.Context, query string, opts SearchOptions) ([]Result, error) {
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = DefaultSearchLimit
	}
	qvec, err := s.embed(ctx, query, adapter.UsageQuery)
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	cands, err := s.index.Candidates(ctx, qvec, filter{
		memoryType:    opts.MemoryType,
		minImportance: opts.MinImportance,
		excludeIDs:    opts.ExcludeIDs,
	})
	if err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}
	return rank(cands, opts.Threshold, limit, s.now()), nil
}

// touch records an access on every result.
func (s *Store) touch(ctx context.Context, results []Result) error {
	if len(results) == 0 {
		return nil
	}
	args := []any{formatTime(s.now())}
	for _, r := range results {
		args = append(args, r.ID)
	}
	marks := strings.TrimSuffix(strings.Repeat("?,", len(results)), ",")
	_, err := s.conn.ExecContext(ctx,
		`UPDATE memories SET last_accessed = ?, access_count = access_count + 1 WHERE id IN (`+marks+`)`,
		args...)
	if err != nil {
		return fmt.Errorf("search: record access: %w", err)
	}
	return nil
}
