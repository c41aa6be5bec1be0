package memory

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/memvra/memory-agent/internal/adapter"
	"github.com/memvra/memory-agent/internal/db"
)

// timeLayout is fixed-width so stored timestamps sort lexicographically.
const timeLayout = "2006-01-02 15:04:05.000000"

// Store provides all read/write operations against the memory database.
type Store struct {
	conn     *sql.DB
	db       *db.DB
	embedder adapter.Embedder
	index    Index
	logger   *log.Logger
	now      func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger used for index maintenance warnings.
func WithLogger(l *log.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// WithClock overrides the time source used for timestamps and recency.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithScanIndex forces the linear-scan index even when sqlite-vec is loaded.
func WithScanIndex() Option {
	return func(s *Store) { s.index = &scanIndex{conn: s.conn} }
}

// NewStore creates a Store backed by database. The sqlite-vec index is used
// when the database has it; call SyncIndex once after opening to index rows
// written without it.
func NewStore(database *db.DB, embedder adapter.Embedder, opts ...Option) *Store {
	s := &Store{
		conn:     database.Conn(),
		db:       database,
		embedder: embedder,
		logger:   log.New(io.Discard),
		now:      time.Now,
	}
	for _, o := range opts {
		o(s)
	}
	if s.index == nil {
		if database.VecAvailable() {
			s.index = &vecIndex{conn: s.conn, dimension: database.Dimension(), logger: s.logger}
		} else {
			s.index = &scanIndex{conn: s.conn}
		}
	}
	return s
}

// Backend names the active similarity index: "sqlite-vec" or "scan".
func (s *Store) Backend() string { return s.index.Name() }

// Embedder returns the embedder the store writes with.
func (s *Store) Embedder() adapter.Embedder { return s.embedder }

// SyncIndex brings the vector index in line with the memories table and
// returns how many memories were added to it.
func (s *Store) SyncIndex(ctx context.Context) (int, error) {
	vi, ok := s.index.(*vecIndex)
	if !ok {
		return 0, nil
	}
	n, err := vi.sync(ctx)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("indexed memories", "count", n, "backend", vi.Name())
	}
	return n, nil
}

func (s *Store) embed(ctx context.Context, text string, usage adapter.Usage) ([]float32, error) {
	v, err := s.embedder.Embed(ctx, text, usage)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrEmbedding, err)
	}
	if len(v) != s.db.Dimension() {
		return nil, fmt.Errorf("%w: got %d dimensions, store expects %d", ErrEmbedding, len(v), s.db.Dimension())
	}
	return v, nil
}

// ---- Memories ----

// Store embeds and persists a new memory and returns its id. Nothing is
// written if embedding fails.
func (s *Store) Store(ctx context.Context, nm NewMemory) (int64, error) {
	content := strings.TrimSpace(nm.Content)
	if content == "" {
		return 0, fmt.Errorf("store: empty content")
	}
	importance := nm.Importance
	if importance == 0 {
		importance = DefaultImportance
	}
	importance = ClampImportance(importance)
	mt := NormalizeType(string(nm.MemoryType))

	embedding, err := s.embed(ctx, content, adapter.UsageDocument)
	if err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	tags, err := encodeTags(nm.TopicTags)
	if err != nil {
		return 0, err
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`INSERT INTO memories (content, embedding, importance, memory_type, topic_tags, source_session, created_at, access_count)
		 VALUES (?, ?, ?, ?, ?, ?, ?, 0)`,
		content, float32SliceToBlob(embedding), importance, string(mt), tags, nm.SourceSession, formatTime(s.now()),
	)
	if err != nil {
		return 0, fmt.Errorf("store: insert memory: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: last insert id: %w", err)
	}
	if err := s.index.Put(ctx, tx, id, embedding); err != nil {
		return 0, fmt.Errorf("store: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("store: commit: %w", err)
	}
	return id, nil
}

// Get returns the memory with id, or nil when it does not exist.
func (s *Store) Get(ctx context.Context, id int64) (*Memory, error) {
	row := s.conn.QueryRowContext(ctx, `SELECT `+memoryColumns+` FROM memories m WHERE m.id = ?`, id)
	m, err := scanMemory(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("store: get memory %d: %w", id, err)
	}
	return &m, nil
}

// Embedding returns the stored vector of a memory.
func (s *Store) Embedding(ctx context.Context, id int64) ([]float32, error) {
	var blob []byte
	err := s.conn.QueryRowContext(ctx, `SELECT embedding FROM memories WHERE id = ?`, id).Scan(&blob)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get embedding %d: %w", id, err)
	}
	return BlobToFloat32Slice(blob), nil
}

// Update applies p to the memory with id. A changed content is re-embedded.
// It returns false when the memory does not exist or nothing changed.
func (s *Store) Update(ctx context.Context, id int64, p Patch) (bool, error) {
	cur, err := s.Get(ctx, id)
	if err != nil || cur == nil {
		return false, err
	}

	var (
		sets      []string
		args      []any
		embedding []float32
	)
	if p.Content != nil {
		content := strings.TrimSpace(*p.Content)
		if content == "" {
			return false, fmt.Errorf("store: update %d: empty content", id)
		}
		if content != cur.Content {
			embedding, err = s.embed(ctx, content, adapter.UsageDocument)
			if err != nil {
				return false, fmt.Errorf("store: update %d: %w", id, err)
			}
			sets = append(sets, "content = ?", "embedding = ?")
			args = append(args, content, float32SliceToBlob(embedding))
		}
	}
	if p.Importance != nil {
		sets = append(sets, "importance = ?")
		args = append(args, ClampImportance(*p.Importance))
	}
	if p.TopicTags != nil {
		tags, err := encodeTags(p.TopicTags)
		if err != nil {
			return false, err
		}
		sets = append(sets, "topic_tags = ?")
		args = append(args, tags)
	}
	if len(sets) == 0 {
		return false, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	res, err := tx.ExecContext(ctx,
		`UPDATE memories SET `+strings.Join(sets, ", ")+` WHERE id = ?`,
		append(args, id)...)
	if err != nil {
		return false, fmt.Errorf("store: update %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	if embedding != nil {
		if err := s.index.Put(ctx, tx, id, embedding); err != nil {
			return false, fmt.Errorf("store: update %d: %w", id, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return true, nil
}

// Delete removes a memory, its index entry and every link touching it.
// It returns false when the memory did not exist.
func (s *Store) Delete(ctx context.Context, id int64) (bool, error) {
	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	ok, err := s.deleteTx(ctx, tx, id)
	if err != nil || !ok {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("store: commit: %w", err)
	}
	return true, nil
}

func (s *Store) deleteTx(ctx context.Context, tx *sql.Tx, id int64) (bool, error) {
	res, err := tx.ExecContext(ctx, `DELETE FROM memories WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("store: delete %d: %w", id, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return false, nil
	}
	// memory_links rows go with the memory via ON DELETE CASCADE.
	if err := s.index.Delete(ctx, tx, id); err != nil {
		return false, fmt.Errorf("store: delete %d: %w", id, err)
	}
	return true, nil
}

var listSorts = map[string]string{
	"created_at":    "m.created_at",
	"importance":    "m.importance",
	"access_count":  "m.access_count",
	"last_accessed": "m.last_accessed",
	"id":            "m.id",
}

// List pages through memories and returns the page with the total count of
// memories matching the type filter.
func (s *Store) List(ctx context.Context, opts ListOptions) ([]Memory, int, error) {
	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := max(opts.Offset, 0)

	key := strings.TrimPrefix(opts.Sort, "-")
	col, ok := listSorts[key]
	if !ok {
		col = "m.created_at"
	}
	dir := "DESC"
	if opts.Sort != "" && !strings.HasPrefix(opts.Sort, "-") && ok {
		dir = "ASC"
	}

	where := "1 = 1"
	var args []any
	if opts.MemoryType != "" {
		where = "m.memory_type = ?"
		args = append(args, string(opts.MemoryType))
	}

	var total int
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM memories m WHERE `+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("store: count memories: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx,
		fmt.Sprintf(`SELECT %s FROM memories m WHERE %s ORDER BY %s %s, m.id %s LIMIT ? OFFSET ?`,
			memoryColumns, where, col, dir, dir),
		append(args, limit, offset)...)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list memories: %w", err)
	}
	defer rows.Close()
	out, err := scanMemories(rows)
	if err != nil {
		return nil, 0, fmt.Errorf("store: list memories: %w", err)
	}
	return out, total, nil
}

// Count returns the number of stored memories.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memories`).Scan(&n)
	return n, err
}

// Prune deletes memories matching every criterion set in opts and returns
// their ids. With DryRun nothing is deleted.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) ([]int64, error) {
	var (
		clauses []string
		args    []any
	)
	if opts.MaxImportance > 0 {
		clauses = append(clauses, "importance <= ?")
		args = append(args, opts.MaxImportance)
	}
	if opts.OlderThan > 0 {
		clauses = append(clauses, "created_at < ?")
		args = append(args, formatTime(s.now().Add(-opts.OlderThan)))
	}
	if opts.UnaccessedOnly {
		clauses = append(clauses, "access_count = 0")
	}
	if len(clauses) == 0 {
		return nil, fmt.Errorf("store: prune needs at least one criterion")
	}

	rows, err := s.conn.QueryContext(ctx,
		`SELECT id FROM memories WHERE `+strings.Join(clauses, " AND ")+` ORDER BY id`, args...)
	if err != nil {
		return nil, fmt.Errorf("store: prune select: %w", err)
	}
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if opts.DryRun || len(ids) == 0 {
		return ids, nil
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck
	for _, id := range ids {
		if _, err := s.deleteTx(ctx, tx, id); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("store: commit: %w", err)
	}
	return ids, nil
}

// Stats summarises the store contents.
func (s *Store) Stats(ctx context.Context) (Stats, error) {
	st := Stats{
		ByType:       map[MemoryType]int{},
		ByImportance: map[int]int{},
		IndexBackend: s.index.Name(),
		EmbedModel:   s.embedder.Model(),
		Dimension:    s.db.Dimension(),
	}

	var avg sql.NullFloat64
	var accesses sql.NullInt64
	var oldest, newest sql.NullString
	if err := s.conn.QueryRowContext(ctx,
		`SELECT COUNT(*), AVG(importance), SUM(access_count), MIN(created_at), MAX(created_at) FROM memories`,
	).Scan(&st.TotalMemories, &avg, &accesses, &oldest, &newest); err != nil {
		return st, fmt.Errorf("store: stats: %w", err)
	}
	st.AvgImportance = avg.Float64
	st.TotalAccesses = int(accesses.Int64)
	if oldest.Valid {
		t := parseTime(oldest.String)
		st.Oldest = &t
	}
	if newest.Valid {
		t := parseTime(newest.String)
		st.Newest = &t
	}

	if err := s.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM memory_links`).Scan(&st.TotalLinks); err != nil {
		return st, fmt.Errorf("store: stats links: %w", err)
	}

	rows, err := s.conn.QueryContext(ctx, `SELECT memory_type, COUNT(*) FROM memories GROUP BY memory_type`)
	if err != nil {
		return st, fmt.Errorf("store: stats by type: %w", err)
	}
	for rows.Next() {
		var t string
		var n int
		if err := rows.Scan(&t, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByType[MemoryType(t)] = n
	}
	rows.Close()

	rows, err = s.conn.QueryContext(ctx, `SELECT importance, COUNT(*) FROM memories GROUP BY importance`)
	if err != nil {
		return st, fmt.Errorf("store: stats by importance: %w", err)
	}
	for rows.Next() {
		var imp, n int
		if err := rows.Scan(&imp, &n); err != nil {
			rows.Close()
			return st, err
		}
		st.ByImportance[imp] = n
	}
	rows.Close()

	st.Indexed, err = s.index.Count(ctx)
	if err != nil {
		return st, fmt.Errorf("store: stats index: %w", err)
	}
	return st, nil
}

// ---- Helpers ----

const memoryColumns = `m.id, m.content, m.importance, m.memory_type, m.topic_tags, m.source_session, m.created_at, m.last_accessed, m.access_count`

type rowScanner interface {
	Scan(dest ...any) error
}

// scanMemory reads memoryColumns followed by any extra columns.
func scanMemory(r rowScanner, extra ...any) (Memory, error) {
	var (
		m        Memory
		mt, tags string
		created  string
		accessed sql.NullString
	)
	dest := append([]any{&m.ID, &m.Content, &m.Importance, &mt, &tags, &m.SourceSession, &created, &accessed, &m.AccessCount}, extra...)
	if err := r.Scan(dest...); err != nil {
		return m, err
	}
	m.MemoryType = MemoryType(mt)
	m.TopicTags = decodeTags(tags)
	m.CreatedAt = parseTime(created)
	if accessed.Valid && accessed.String != "" {
		t := parseTime(accessed.String)
		m.LastAccessed = &t
	}
	return m, nil
}

func scanMemories(rows *sql.Rows) ([]Memory, error) {
	var out []Memory
	for rows.Next() {
		m, err := scanMemory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func encodeTags(tags []string) (string, error) {
	if tags == nil {
		tags = []string{}
	}
	b, err := json.Marshal(tags)
	if err != nil {
		return "", fmt.Errorf("store: encode tags: %w", err)
	}
	return string(b), nil
}

func decodeTags(s string) []string {
	var tags []string
	if err := json.Unmarshal([]byte(s), &tags); err != nil || tags == nil {
		return []string{}
	}
	return tags
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

// parseTime tries multiple SQLite timestamp layouts.
func parseTime(s string) time.Time {
	layouts := []string{
		timeLayout,
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
		"2006-01-02T15:04:05",
	}
	for _, layout := range layouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
