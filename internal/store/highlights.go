package store

import (
	"context"
	"time"
)

// AddHighlights marks ids as new to the user until RemoveHighlights.
func (d *DB) AddHighlights(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("add highlights", err)
	}
	defer func() { _ = tx.Rollback() }()

	ts := formatTS(now)
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`INSERT OR IGNORE INTO highlights (id, added_at) VALUES (?, ?);`, id, ts); err != nil {
			return unavailable("add highlights", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("add highlights", err)
	}
	return nil
}

func (d *DB) RemoveHighlights(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("remove highlights", err)
	}
	defer func() { _ = tx.Rollback() }()

	for _, id := range ids {
		if _, err := tx.ExecContext(ctx, `DELETE FROM highlights WHERE id = ?;`, id); err != nil {
			return unavailable("remove highlights", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return unavailable("remove highlights", err)
	}
	return nil
}

// Highlights returns the highlighted ids, most recently added first.
func (d *DB) Highlights(ctx context.Context) ([]string, error) {
	rows, err := d.Pool.QueryContext(ctx, `SELECT id FROM highlights ORDER BY added_at DESC, id ASC;`)
	if err != nil {
		return nil, unavailable("highlights", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, unavailable("highlights", err)
		}
		out = append(out, id)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("highlights", err)
	}
	return out, nil
}
