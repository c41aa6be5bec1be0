package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
)

// ---- Relations ----

// Link records a directed relationship from one memory to another. It
// returns false when either memory is missing or the identical link already
// exists.
func (s *Store) Link(ctx context.Context, fromID, toID int64, relationship string) (bool, error) {
	relationship = strings.TrimSpace(relationship)
	if relationship == "" {
		return false, fmt.Errorf("link: empty relationship")
	}
	res, err := s.conn.ExecContext(ctx,
		`INSERT OR IGNORE INTO memory_links (from_id, to_id, relationship, created_at)
		 SELECT ?, ?, ?, ?
		  WHERE EXISTS (SELECT 1 FROM memories WHERE id = ?)
		    AND EXISTS (SELECT 1 FROM memories WHERE id = ?)`,
		fromID, toID, relationship, formatTime(s.now()), fromID, toID,
	)
	if err != nil {
		return false, fmt.Errorf("link %d -> %d: %w", fromID, toID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("link %d -> %d: %w", fromID, toID, err)
	}
	return n > 0, nil
}

// Links returns the outgoing links of a memory, oldest first.
func (s *Store) Links(ctx context.Context, id int64) ([]Link, error) {
	return s.queryLinks(ctx, `WHERE from_id = ?`, id)
}

// Backlinks returns the links pointing at a memory, oldest first.
func (s *Store) Backlinks(ctx context.Context, id int64) ([]Link, error) {
	return s.queryLinks(ctx, `WHERE to_id = ?`, id)
}

func (s *Store) queryLinks(ctx context.Context, where string, id int64) ([]Link, error) {
	rows, err := s.conn.QueryContext(ctx,
		`SELECT from_id, to_id, relationship, created_at FROM memory_links `+where+` ORDER BY id`, id)
	if err != nil {
		return nil, fmt.Errorf("links for %d: %w", id, err)
	}
	defer rows.Close()

	out := []Link{}
	for rows.Next() {
		var l Link
		var created sql.NullString
		if err := rows.Scan(&l.FromID, &l.ToID, &l.Relationship, &created); err != nil {
			return nil, err
		}
		l.CreatedAt = parseTime(created.String)
		out = append(out, l)
	}
	return out, rows.Err()
}
