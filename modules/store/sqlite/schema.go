package sqlite

import (
	"context"
	"database/sql"
	"fmt"
)

// migrations[i] moves the schema from version i to i+1. Timestamps are
// stored as UTC unix nanoseconds.
var migrations = [][]string{
	{
		`CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT    PRIMARY KEY,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL,
			context    TEXT    NOT NULL DEFAULT '{}',
			entities   TEXT    NOT NULL DEFAULT '[]',
			insights   TEXT    NOT NULL DEFAULT '[]'
		)`,
		`CREATE INDEX IF NOT EXISTS idx_conversations_updated ON conversations(updated_at)`,
		`CREATE TABLE IF NOT EXISTS messages (
			conversation_id TEXT    NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
			seq             INTEGER NOT NULL,
			id              TEXT    NOT NULL,
			role            TEXT    NOT NULL,
			content         TEXT    NOT NULL DEFAULT '',
			created_at      INTEGER NOT NULL,
			PRIMARY KEY (conversation_id, seq)
		)`,
	},
	{
		`CREATE TABLE IF NOT EXISTS interactions (
			id               INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id  TEXT    NOT NULL DEFAULT '',
			invocation_id    TEXT    NOT NULL DEFAULT '',
			query_text       TEXT    NOT NULL,
			bind_vars        TEXT    NOT NULL DEFAULT 'null',
			explained        INTEGER NOT NULL DEFAULT 0,
			success          INTEGER NOT NULL,
			from_cache       INTEGER NOT NULL DEFAULT 0,
			error            TEXT    NOT NULL DEFAULT '',
			result           BLOB,
			truncated        INTEGER NOT NULL DEFAULT 0,
			estimated_tokens INTEGER NOT NULL DEFAULT 0,
			elapsed_ns       INTEGER NOT NULL DEFAULT 0,
			recorded_at      INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_interactions_conversation ON interactions(conversation_id, id)`,
	},
}

// schemaVersion is the version migrate brings a database to.
var schemaVersion = len(migrations)

// migrate applies every pending migration, each in its own transaction.
func migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("sqlite: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("sqlite: read schema version: %w", err)
	}

	for v := current; v < schemaVersion; v++ {
		tx, err := db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlite: begin migration %d: %w", v+1, err)
		}
		for _, stmt := range migrations[v] {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				_ = tx.Rollback()
				return fmt.Errorf("sqlite: migrate to %d: %w\nstatement: %s", v+1, err, stmt)
			}
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_version (version) VALUES (?)", v+1); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("sqlite: record schema version: %w", err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("sqlite: commit migration %d: %w", v+1, err)
		}
	}
	return nil
}
