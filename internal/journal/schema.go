package journal

import (
	"fmt"
	"log"
	"time"
)

// currentSchemaVersion is the journal schema version.
// Increment this when making schema changes and add a migration.
const currentSchemaVersion = 1

// initSchema applies any migrations the database has not seen yet.
func (s *Store) initSchema() error {
	const schemaVersionTable = `
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at TEXT NOT NULL
		);
	`
	if _, err := s.db.Exec(schemaVersionTable); err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var version int
	if err := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&version); err != nil {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < 1 {
		if err := s.migrateToV1(); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}
	return nil
}

// migrateToV1 creates the journal table.
func (s *Store) migrateToV1() error {
	log.Printf("journal: applying migration to schema version 1")

	// Timestamps are RFC3339 strings in UTC.
	const journalTable = `
		CREATE TABLE IF NOT EXISTS journal (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			kind TEXT NOT NULL,
			from_phase TEXT NOT NULL DEFAULT '',
			to_phase TEXT NOT NULL DEFAULT '',
			version INTEGER NOT NULL DEFAULT 0,
			recipient TEXT NOT NULL DEFAULT '',
			ok INTEGER NOT NULL DEFAULT 0,
			code TEXT NOT NULL DEFAULT '',
			detail TEXT NOT NULL DEFAULT '',
			at TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_journal_kind ON journal(kind);
	`
	if _, err := s.db.Exec(journalTable); err != nil {
		return fmt.Errorf("create journal table: %w", err)
	}

	_, err := s.db.Exec(
		"INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
		1,
		time.Now().UTC().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("record migration: %w", err)
	}
	return nil
}
