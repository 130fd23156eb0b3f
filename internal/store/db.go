// Package store is the SQLite listing store.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"projectscout-engine/internal/domain"

	_ "modernc.org/sqlite"
)

type DB struct {
	Pool *sql.DB
}

// Open opens (creating if needed) the database at path and migrates it.
func Open(path string) (*DB, error) {
	// modernc sqlite uses DSN like: file:foo.db?_pragma=busy_timeout(5000)
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", path)

	pool, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, unavailable("open", err)
	}

	// sqlite wants a single writer
	pool.SetMaxOpenConns(1)
	pool.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := pool.PingContext(ctx); err != nil {
		_ = pool.Close()
		return nil, unavailable("ping", err)
	}
	if err := Migrate(pool); err != nil {
		_ = pool.Close()
		return nil, unavailable("migrate", err)
	}

	return &DB{Pool: pool}, nil
}

func (d *DB) Close() error {
	if d == nil || d.Pool == nil {
		return nil
	}
	return d.Pool.Close()
}

func (d *DB) Ping(ctx context.Context) error {
	if err := d.Pool.PingContext(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

// Timestamps are stored as fixed-width UTC text so they compare correctly
// as strings.
const tsLayout = "2006-01-02T15:04:05.000000000Z"

func formatTS(t time.Time) string { return t.UTC().Format(tsLayout) }

func parseTS(s string) (time.Time, error) { return time.Parse(tsLayout, s) }

// Checkpoint folds the WAL back into the database file.
func (d *DB) Checkpoint(ctx context.Context) error {
	if _, err := d.Pool.ExecContext(ctx, `PRAGMA wal_checkpoint(FULL);`); err != nil {
		return unavailable("wal checkpoint", err)
	}
	return nil
}
