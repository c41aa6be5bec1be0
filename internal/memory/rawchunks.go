package memory

import (
	"context"
	"encoding/json"
	"fmt"
)

// ---- Raw chunks ----

// StoreRawChunk keeps a processed conversation chunk together with the ids
// of the memories it produced.
func (s *Store) StoreRawChunk(ctx context.Context, session, text string, index int, memoryIDs []int64) (int64, error) {
	if memoryIDs == nil {
		memoryIDs = []int64{}
	}
	ids, err := json.Marshal(memoryIDs)
	if err != nil {
		return 0, fmt.Errorf("raw chunk: encode ids: %w", err)
	}
	res, err := s.conn.ExecContext(ctx,
		`INSERT INTO raw_chunks (session, chunk_text, chunk_index, ingested_at, memory_ids) VALUES (?, ?, ?, ?, ?)`,
		session, text, index, formatTime(s.now()), string(ids),
	)
	if err != nil {
		return 0, fmt.Errorf("raw chunk: insert: %w", err)
	}
	return res.LastInsertId()
}

// RawChunks returns the chunks kept for a session in ingestion order.
func (s *Store) RawChunks(ctx context.Context, session string) ([]RawChunk, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT id, session, chunk_text, chunk_index, ingested_at, memory_ids
		   FROM raw_chunks WHERE session = ? ORDER BY id`, session)
	if err != nil {
		return nil, fmt.Errorf("raw chunks: %w", err)
	}
	defer rows.Close()

	var out []RawChunk
	for rows.Next() {
		var c RawChunk
		var ingested, ids string
		if err := rows.Scan(&c.ID, &c.Session, &c.Text, &c.Index, &ingested, &ids); err != nil {
			return nil, err
		}
		c.IngestedAt = parseTime(ingested)
		if err := json.Unmarshal([]byte(ids), &c.MemoryIDs); err != nil {
			c.MemoryIDs = nil
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RawChunkStats summarises the raw chunk table.
func (s *Store) RawChunkStats(ctx context.Context) (RawChunkStats, error) {
	var st RawChunkStats
	err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(LENGTH(chunk_text)), 0), COUNT(DISTINCT session) FROM raw_chunks`,
	).Scan(&st.TotalChunks, &st.TotalChars, &st.Sessions)
	if err != nil {
		return st, fmt.Errorf("raw chunk stats: %w", err)
	}
	return st, nil
}
