package memory

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	"github.com/charmbracelet/log"
)

// Index answers similarity queries over stored embeddings. Implementations
// return raw cosine similarity for every memory passing the filter; scoring
// and thresholding happen in the Store so both backends rank identically.
//
// Put and Delete run inside the transaction that writes the memory row, so a
// memory is never visible in one place without the other.
type Index interface {
	Name() string
	Put(ctx context.Context, tx *sql.Tx, id int64, embedding []float32) error
	Delete(ctx context.Context, tx *sql.Tx, id int64) error
	Candidates(ctx context.Context, query []float32, f filter) ([]candidate, error)
	Count(ctx context.Context) (int, error)
}

type candidate struct {
	memory     Memory
	similarity float64
}

type filter struct {
	memoryType    MemoryType
	minImportance int
	excludeIDs    []int64
}

// where renders the filter as a SQL predicate over the memories alias m.
func (f filter) where() (string, []any) {
	clauses := []string{"m.importance >= ?"}
	args := []any{max(f.minImportance, MinImportance)}
	if f.memoryType != "" {
		clauses = append(clauses, "m.memory_type = ?")
		args = append(args, string(f.memoryType))
	}
	if len(f.excludeIDs) > 0 {
		marks := strings.TrimSuffix(strings.Repeat("?,", len(f.excludeIDs)), ",")
		clauses = append(clauses, "m.id NOT IN ("+marks+")")
		for _, id := range f.excludeIDs {
			args = append(args, id)
		}
	}
	return strings.Join(clauses, " AND "), args
}

// ---- Linear scan ----

// scanIndex computes cosine similarity in Go over the embedding column of
// the memories table. It needs no extension and is exact.
type scanIndex struct {
	conn *sql.DB
}

func (s *scanIndex) Name() string { return "scan" }

func (s *scanIndex) Put(context.Context, *sql.Tx, int64, []float32) error { return nil }
func (s *scanIndex) Delete(context.Context, *sql.Tx, int64) error         { return nil }

func (s *scanIndex) Candidates(ctx context.Context, query []float32, f filter) ([]candidate, error) {
	where, args := f.where()
	rows, err := s.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+`, m.embedding FROM memories m WHERE `+where, args...)
	if err != nil {
		return nil, fmt.Errorf("scan index: query: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var blob []byte
		m, err := scanMemory(rows, &blob)
		if err != nil {
			return nil, fmt.Errorf("scan index: %w", err)
		}
		out = append(out, candidate{memory: m, similarity: CosineSimilarity(query, BlobToFloat32Slice(blob))})
	}
	return out, rows.Err()
}

func (s *scanIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// ---- sqlite-vec ----

// vecIndex keeps a copy of every embedding in the memory_vec virtual table,
// keyed by rowid = memories.id, and lets sqlite-vec compute the distance.
type vecIndex struct {
	conn      *sql.DB
	dimension int
	logger    *log.Logger
}

func (v *vecIndex) Name() string { return "sqlite-vec" }

func (v *vecIndex) Put(ctx context.Context, tx *sql.Tx, id int64, embedding []float32) error {
	if len(embedding) != v.dimension {
		return fmt.Errorf("vec index: embedding has %d dimensions, index has %d", len(embedding), v.dimension)
	}
	blob, err := vec.SerializeFloat32(embedding)
	if err != nil {
		return fmt.Errorf("vec index: serialize: %w", err)
	}
	// vec0 tables do not support upsert.
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vec WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("vec index: delete: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO memory_vec(rowid, embedding) VALUES (?, ?)`, id, blob); err != nil {
		return fmt.Errorf("vec index: insert: %w", err)
	}
	return nil
}

func (v *vecIndex) Delete(ctx context.Context, tx *sql.Tx, id int64) error {
	if _, err := tx.ExecContext(ctx, `DELETE FROM memory_vec WHERE rowid = ?`, id); err != nil {
		return fmt.Errorf("vec index: delete: %w", err)
	}
	return nil
}

func (v *vecIndex) Candidates(ctx context.Context, query []float32, f filter) ([]candidate, error) {
	blob, err := vec.SerializeFloat32(query)
	if err != nil {
		return nil, fmt.Errorf("vec index: serialize: %w", err)
	}
	where, args := f.where()
	rows, err := v.conn.QueryContext(ctx,
		`SELECT `+memoryColumns+`, vec_distance_cosine(v.embedding, ?)
		   FROM memory_vec v JOIN memories m ON m.id = v.rowid
		  WHERE `+where,
		append([]any{blob}, args...)...)
	if err != nil {
		return nil, fmt.Errorf("vec index: query: %w", err)
	}
	defer rows.Close()

	var out []candidate
	for rows.Next() {
		var distance float64
		m, err := scanMemory(rows, &distance)
		if err != nil {
			return nil, fmt.Errorf("vec index: %w", err)
		}
		out = append(out, candidate{memory: m, similarity: 1 - distance})
	}
	return out, rows.Err()
}

func (v *vecIndex) Count(ctx context.Context) (int, error) {
	var n int
	err := v.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_vec`).Scan(&n)
	return n, err
}

// sync indexes memories missing from memory_vec and drops index rows whose
// memory is gone. It returns the number of memories added.
func (v *vecIndex) sync(ctx context.Context) (int, error) {
	type pending struct {
		id  int64
		vec []float32
	}
	rows, err := v.conn.QueryContext(ctx,
		`SELECT id, embedding FROM memories WHERE id NOT IN (SELECT rowid FROM memory_vec)`)
	if err != nil {
		return 0, fmt.Errorf("vec index: sync query: %w", err)
	}
	var todo []pending
	for rows.Next() {
		var p pending
		var blob []byte
		if err := rows.Scan(&p.id, &blob); err != nil {
			rows.Close()
			return 0, fmt.Errorf("vec index: sync scan: %w", err)
		}
		p.vec = BlobToFloat32Slice(blob)
		todo = append(todo, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return 0, err
	}

	tx, err := v.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("vec index: sync begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM memory_vec WHERE rowid NOT IN (SELECT id FROM memories)`); err != nil {
		return 0, fmt.Errorf("vec index: sync prune: %w", err)
	}
	added := 0
	for _, p := range todo {
		if len(p.vec) != v.dimension {
			v.logger.Warn("skipping memory with mismatched embedding", "id", p.id, "dims", len(p.vec), "want", v.dimension)
			continue
		}
		if err := v.Put(ctx, tx, p.id, p.vec); err != nil {
			return 0, err
		}
		added++
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("vec index: sync commit: %w", err)
	}
	return added, nil
}
