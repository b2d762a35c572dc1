package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/dusk-indust/replaylab/internal/logging"
)

// migration is a schema change applied once, in version order.
type migration struct {
	version     int
	description string
	up          string
}

var migrations = []migration{
	{
		version:     1,
		description: "checkpoints table",
		up: `
			CREATE TABLE checkpoints (
				conversation_id TEXT NOT NULL,
				step INTEGER NOT NULL,
				project_path TEXT NOT NULL DEFAULT '',
				messages TEXT NOT NULL,
				created_at INTEGER NOT NULL,
				PRIMARY KEY (conversation_id, step)
			);
		`,
	},
	{
		version:     2,
		description: "runs table",
		up: `
			CREATE TABLE runs (
				run_id TEXT PRIMARY KEY,
				conversation_id TEXT NOT NULL,
				fork_at_step INTEGER NOT NULL,
				status TEXT NOT NULL,
				branch_count INTEGER NOT NULL,
				successful INTEGER NOT NULL,
				total_duration_ms INTEGER NOT NULL,
				created_at INTEGER NOT NULL,
				result TEXT NOT NULL
			);
			CREATE INDEX idx_runs_created_at ON runs(created_at);
			CREATE INDEX idx_runs_conversation ON runs(conversation_id);
		`,
	},
}

// runMigrations executes all pending migrations.
func runMigrations(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS schema_version (
			version INTEGER PRIMARY KEY,
			applied_at INTEGER NOT NULL,
			description TEXT
		)
	`)
	if err != nil {
		return fmt.Errorf("create schema_version table: %w", err)
	}

	var current int
	if err := db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version").Scan(&current); err != nil {
		return fmt.Errorf("get current version: %w", err)
	}

	log := logging.Component("store")
	for _, m := range migrations {
		if m.version <= current {
			continue
		}
		log.Info().
			Int("version", m.version).
			Str("description", m.description).
			Msg("applying migration")

		tx, err := db.Begin()
		if err != nil {
			return err
		}
		if _, err := tx.Exec(m.up); err != nil {
			tx.Rollback()
			return fmt.Errorf("migration %d failed: %w", m.version, err)
		}
		if _, err := tx.Exec(
			"INSERT INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)",
			m.version, time.Now().UnixMilli(), m.description,
		); err != nil {
			tx.Rollback()
			return fmt.Errorf("record migration %d: %w", m.version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %d: %w", m.version, err)
		}
	}
	return nil
}
