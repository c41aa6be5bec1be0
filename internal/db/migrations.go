package db

import (
	"database/sql"
	"fmt"
)

// migrations is an ordered list of SQL migration statements.
// Each entry is applied once in order. New migrations are appended at the end.
var migrations = []string{
	// Migration 0: memories and their relations
	`CREATE TABLE IF NOT EXISTS memories (
		id             INTEGER PRIMARY KEY AUTOINCREMENT,
		content        TEXT    NOT NULL,
		embedding      BLOB    NOT NULL,
		importance     INTEGER NOT NULL DEFAULT 3 CHECK (importance >= 1 AND importance <= 5),
		memory_type    TEXT    NOT NULL DEFAULT 'general',
		topic_tags     TEXT    NOT NULL DEFAULT '[]',
		source_session TEXT    NOT NULL DEFAULT '',
		created_at     DATETIME NOT NULL,
		last_accessed  DATETIME,
		access_count   INTEGER NOT NULL DEFAULT 0
	)`,

	`CREATE TABLE IF NOT EXISTS memory_links (
		id           INTEGER PRIMARY KEY AUTOINCREMENT,
		from_id      INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		to_id        INTEGER NOT NULL REFERENCES memories(id) ON DELETE CASCADE,
		relationship TEXT    NOT NULL,
		created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
		UNIQUE (from_id, to_id, relationship)
	)`,

	`CREATE INDEX IF NOT EXISTS idx_memories_type       ON memories(memory_type)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_importance ON memories(importance)`,
	`CREATE INDEX IF NOT EXISTS idx_memories_created    ON memories(created_at)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_links_from   ON memory_links(from_id)`,
	`CREATE INDEX IF NOT EXISTS idx_memory_links_to     ON memory_links(to_id)`,

	// Migration 7: raw conversation chunks kept for reprocessing
	`CREATE TABLE IF NOT EXISTS raw_chunks (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		session     TEXT    NOT NULL DEFAULT '',
		chunk_text  TEXT    NOT NULL,
		chunk_index INTEGER NOT NULL DEFAULT 0,
		ingested_at DATETIME NOT NULL,
		memory_ids  TEXT    NOT NULL DEFAULT '[]'
	)`,

	`CREATE INDEX IF NOT EXISTS idx_raw_chunks_session  ON raw_chunks(session)`,
	`CREATE INDEX IF NOT EXISTS idx_raw_chunks_ingested ON raw_chunks(ingested_at)`,
}

// applyMigrations runs any migrations that have not yet been applied.
func applyMigrations(conn *sql.DB) error {
	// Ensure the migration tracking table exists first.
	if _, err := conn.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
		version    INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("create schema_migrations: %w", err)
	}

	for i, stmt := range migrations {
		var count int
		row := conn.QueryRow(`SELECT COUNT(*) FROM schema_migrations WHERE version = ?`, i)
		if err := row.Scan(&count); err != nil {
			return fmt.Errorf("check migration %d: %w", i, err)
		}
		if count > 0 {
			continue
		}

		if _, err := conn.Exec(stmt); err != nil {
			return fmt.Errorf("apply migration %d: %w", i, err)
		}

		if _, err := conn.Exec(`INSERT INTO schema_migrations (version) VALUES (?)`, i); err != nil {
			return fmt.Errorf("record migration %d: %w", i, err)
		}
	}

	return nil
}

// applyVectorTables creates the sqlite-vec index table. Rows are keyed by
// rowid, which is always the owning memories.id.
func applyVectorTables(conn *sql.DB, dimension int) error {
	stmt := fmt.Sprintf(`CREATE VIRTUAL TABLE IF NOT EXISTS memory_vec USING vec0(
		embedding float[%d] distance_metric=cosine
	)`, dimension)
	if _, err := conn.Exec(stmt); err != nil {
		return fmt.Errorf("create vector table: %w", err)
	}
	return nil
}
