package db

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strconv"

	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
	_ "github.com/mattn/go-sqlite3"
)

func init() {
	// Register sqlite-vec as an auto-extension so every SQLite connection
	// opened by this process has the vec0 virtual table module available.
	vec.Auto()
}

const (
	// DefaultEmbeddingDimension matches nomic-embed-text, the default Ollama
	// embedding model. text-embedding-3-small produces 1536.
	DefaultEmbeddingDimension = 768
)

// ErrDimensionMismatch is returned by Open when the database already holds
// embeddings of a different dimension than requested.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// DB wraps a *sql.DB and exposes helpers.
type DB struct {
	conn      *sql.DB
	path      string
	dimension int
	vec       bool
}

// Option configures Open.
type Option func(*options)

type options struct {
	dimension int
	noVec     bool
}

// WithDimension sets the embedding dimension of the vec0 index table.
func WithDimension(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.dimension = n
		}
	}
}

// WithoutVec skips the sqlite-vec index even when the extension is loaded.
func WithoutVec() Option {
	return func(o *options) { o.noVec = true }
}

// Open opens (or creates) the SQLite database at path and applies migrations.
func Open(path string, opts ...Option) (*DB, error) {
	o := options{dimension: DefaultEmbeddingDimension}
	for _, opt := range opts {
		opt(&o)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	absPath, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("resolve path: %w", err)
	}

	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000", absPath)
	conn, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// Single writer, multiple readers.
	conn.SetMaxOpenConns(1)

	if err := applyMigrations(conn); err != nil {
		conn.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	stored, err := storedDimension(conn)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if stored > 0 && stored != o.dimension {
		conn.Close()
		return nil, fmt.Errorf("%w: %s holds %d-dimensional embeddings, embedder produces %d; re-embed or switch back the embedding model",
			ErrDimensionMismatch, absPath, stored, o.dimension)
	}

	d := &DB{conn: conn, path: absPath, dimension: o.dimension}

	if !o.noVec && probeVec(conn) {
		// Non-fatal: without the vec0 table, search falls back to a linear scan.
		if err := applyVectorTables(conn, o.dimension); err == nil {
			d.vec = true
		}
	}

	return d, nil
}

var vecDimension = regexp.MustCompile(`float\[(\d+)\]`)

// storedDimension returns the dimension already committed to by the
// database: the declared width of memory_vec, else the width of a stored
// embedding. It returns 0 for a database without either.
func storedDimension(conn *sql.DB) (int, error) {
	var ddl string
	err := conn.QueryRow(`SELECT sql FROM sqlite_master WHERE name = 'memory_vec'`).Scan(&ddl)
	switch {
	case err == nil:
		if m := vecDimension.FindStringSubmatch(ddl); m != nil {
			return strconv.Atoi(m[1])
		}
	case !errors.Is(err, sql.ErrNoRows):
		return 0, fmt.Errorf("read vector table: %w", err)
	}

	var size int
	err = conn.QueryRow(`SELECT length(embedding) FROM memories LIMIT 1`).Scan(&size)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("read embedding size: %w", err)
	}
	return size / 4, nil
}

// probeVec reports whether the sqlite-vec functions are callable.
func probeVec(conn *sql.DB) bool {
	var version string
	if err := conn.QueryRow(`SELECT vec_version()`).Scan(&version); err != nil {
		return false
	}
	return version != ""
}

// Conn returns the underlying *sql.DB for use by store/vector layers.
func (d *DB) Conn() *sql.DB {
	return d.conn
}

// VecAvailable reports whether the memory_vec index table is usable.
func (d *DB) VecAvailable() bool {
	return d.vec
}

// Dimension returns the configured embedding dimension.
func (d *DB) Dimension() int {
	return d.dimension
}

// Path returns the absolute database file path.
func (d *DB) Path() string {
	return d.path
}

// Close closes the database connection.
func (d *DB) Close() error {
	return d.conn.Close()
}

// Ping checks the connection is live.
func (d *DB) Ping() error {
	return d.conn.Ping()
}
