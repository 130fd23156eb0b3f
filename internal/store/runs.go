package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"projectscout-engine/internal/domain"
)

// runRetention is how many runs SaveRun keeps.
const runRetention = 200

const runCols = `id, trigger_kind, pages, started_at, finished_at, status,
fetched_count, new_count, updated_count, failure_kind, error`

func scanRun(r rowScanner) (domain.ScrapeRun, error) {
	var run domain.ScrapeRun
	var pagesJSON, started string
	var finished sql.NullString
	var trigger, status string
	if err := r.Scan(
		&run.ID,
		&trigger,
		&pagesJSON,
		&started,
		&finished,
		&status,
		&run.FetchedCount,
		&run.NewCount,
		&run.UpdatedCount,
		&run.FailureKind,
		&run.Error,
	); err != nil {
		return run, err
	}
	run.Trigger = domain.Trigger(trigger)
	run.Status = domain.RunStatus(status)
	_ = json.Unmarshal([]byte(pagesJSON), &run.Pages)
	var err error
	if run.StartedAt, err = parseTS(started); err != nil {
		return run, fmt.Errorf("started_at %q: %w", started, err)
	}
	if finished.Valid {
		t, err := parseTS(finished.String)
		if err != nil {
			return run, fmt.Errorf("finished_at %q: %w", finished.String, err)
		}
		run.FinishedAt = &t
	}
	return run, nil
}

// SaveRun writes run, replacing any earlier snapshot with the same id.
func (d *DB) SaveRun(ctx context.Context, run domain.ScrapeRun) error {
	pages := run.Pages
	if pages == nil {
		pages = []int{}
	}
	pagesJSON, _ := json.Marshal(pages)
	var finished any
	if run.FinishedAt != nil {
		finished = formatTS(*run.FinishedAt)
	}

	_, err := d.Pool.ExecContext(ctx, `
INSERT INTO scrape_runs (`+runCols+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
  finished_at = excluded.finished_at,
  status = excluded.status,
  fetched_count = excluded.fetched_count,
  new_count = excluded.new_count,
  updated_count = excluded.updated_count,
  failure_kind = excluded.failure_kind,
  error = excluded.error;`,
		run.ID, string(run.Trigger), string(pagesJSON), formatTS(run.StartedAt), finished,
		string(run.Status), run.FetchedCount, run.NewCount, run.UpdatedCount, run.FailureKind, run.Error,
	)
	if err != nil {
		return unavailable("save run", err)
	}

	_, err = d.Pool.ExecContext(ctx, `
DELETE FROM scrape_runs
WHERE id NOT IN (SELECT id FROM scrape_runs ORDER BY started_at DESC LIMIT ?);`, runRetention)
	if err != nil {
		return unavailable("prune runs", err)
	}
	return nil
}

// LastRun returns the most recently finished run, or nil. With
// succeededOnly it skips failed runs.
func (d *DB) LastRun(ctx context.Context, succeededOnly bool) (*domain.ScrapeRun, error) {
	q := `SELECT ` + runCols + ` FROM scrape_runs WHERE finished_at IS NOT NULL`
	var args []any
	if succeededOnly {
		q += ` AND status = ?`
		args = append(args, string(domain.RunSucceeded))
	}
	q += ` ORDER BY finished_at DESC LIMIT 1;`

	run, err := scanRun(d.Pool.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("last run", err)
	}
	return &run, nil
}

// ListRuns returns up to limit runs, newest first.
func (d *DB) ListRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error) {
	if limit <= 0 || limit > runRetention {
		limit = 20
	}
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+runCols+` FROM scrape_runs ORDER BY started_at DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, unavailable("list runs", err)
	}
	defer rows.Close()

	out := []domain.ScrapeRun{}
	for rows.Next() {
		run, err := scanRun(rows)
		if err != nil {
			return nil, unavailable("scan run", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list runs", err)
	}
	return out, nil
}
