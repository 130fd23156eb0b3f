package store

import (
	"database/sql"
	"fmt"
)

// migrations[i] moves the schema from user_version i to i+1.
var migrations = []func(*sql.Tx) error{
	schemaV1,
}

func Migrate(db *sql.DB) error {
	tx, err := db.Begin()
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	var v int
	if err := tx.QueryRow(`PRAGMA user_version;`).Scan(&v); err != nil {
		return err
	}
	if v >= len(migrations) {
		return tx.Commit()
	}

	for i := v; i < len(migrations); i++ {
		if err := migrations[i](tx); err != nil {
			return fmt.Errorf("schema v%d: %w", i+1, err)
		}
	}
	if _, err := tx.Exec(fmt.Sprintf(`PRAGMA user_version = %d;`, len(migrations))); err != nil {
		return err
	}
	return tx.Commit()
}

func schemaV1(tx *sql.Tx) error {
	stmts := []string{`
CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  company_name TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  skills TEXT NOT NULL DEFAULT '[]',
  url TEXT NOT NULL DEFAULT '',
  start_date TEXT NOT NULL DEFAULT '',
  remote INTEGER NOT NULL DEFAULT 0,
  company_logo_url TEXT NOT NULL DEFAULT '',
  original_publication_date TEXT,
  first_seen_at TEXT NOT NULL,
  last_seen_at TEXT NOT NULL,
  is_active INTEGER NOT NULL DEFAULT 1
);`, `
CREATE INDEX IF NOT EXISTS idx_listings_first_seen
ON listings(first_seen_at DESC, id);`, `
CREATE TABLE IF NOT EXISTS scrape_runs (
  id TEXT PRIMARY KEY,
  trigger_kind TEXT NOT NULL,
  pages TEXT NOT NULL DEFAULT '[]',
  started_at TEXT NOT NULL,
  finished_at TEXT,
  status TEXT NOT NULL,
  fetched_count INTEGER NOT NULL DEFAULT 0,
  new_count INTEGER NOT NULL DEFAULT 0,
  updated_count INTEGER NOT NULL DEFAULT 0,
  failure_kind TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT ''
);`, `
CREATE INDEX IF NOT EXISTS idx_scrape_runs_finished
ON scrape_runs(finished_at);`, `
CREATE TABLE IF NOT EXISTS highlights (
  id TEXT PRIMARY KEY,
  added_at TEXT NOT NULL
);`,
	}
	for _, s := range stmts {
		if _, err := tx.Exec(s); err != nil {
			return err
		}
	}
	return nil
}
