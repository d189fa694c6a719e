package store

import (
	"context"
	"database/sql"
	"fmt"
)

const schemaVersion = 1

// schemaStatements are executed in order to create the database schema.
// All use IF NOT EXISTS for idempotent re-application.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS records (
		key       TEXT PRIMARY KEY,
		version   TEXT NOT NULL DEFAULT '',
		payload   BLOB NOT NULL,
		cached_at TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS actors (
		account_id   TEXT PRIMARY KEY,
		email        TEXT NOT NULL DEFAULT '',
		display_name TEXT NOT NULL DEFAULT '',
		payload      BLOB NOT NULL,
		cached_at    TEXT NOT NULL
	)`,

	`CREATE INDEX IF NOT EXISTS idx_actors_email ON actors(email)`,

	`CREATE INDEX IF NOT EXISTS idx_actors_display ON actors(display_name COLLATE NOCASE)`,

	`CREATE TABLE IF NOT EXISTS query_index (
		fingerprint TEXT PRIMARY KEY,
		query       TEXT NOT NULL,
		keys        TEXT NOT NULL,
		cached_at   TEXT NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS metadata (
		category    TEXT NOT NULL,
		key         TEXT NOT NULL DEFAULT '',
		payload     BLOB NOT NULL,
		ttl_seconds INTEGER NOT NULL,
		cached_at   TEXT NOT NULL,
		PRIMARY KEY (category, key)
	)`,
}

// migrate creates or updates the schema to the latest version. All DDL uses
// IF NOT EXISTS, making migration idempotent.
func migrate(db *sql.DB) error {
	ctx := context.Background()

	if _, err := db.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_version (version INTEGER PRIMARY KEY)"); err != nil {
		return fmt.Errorf("store: create schema_version: %w", err)
	}

	var current int
	if err := db.QueryRowContext(ctx, "SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("store: read schema version: %w", err)
	}

	if current >= schemaVersion {
		return nil
	}

	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("store: migrate: %w\nstatement: %s", err, stmt)
		}
	}

	if _, err := db.ExecContext(ctx, "INSERT OR REPLACE INTO schema_version (version) VALUES (?)", schemaVersion); err != nil {
		return fmt.Errorf("store: record schema version: %w", err)
	}

	return nil
}
