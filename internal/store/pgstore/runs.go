package pgstore

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"projectscout-engine/internal/domain"
)

const runRetention = 200

const runCols = `id, trigger_kind, pages, started_at, finished_at, status,
fetched_count, new_count, updated_count, failure_kind, error`

func scanRun(row pgx.Row) (domain.ScrapeRun, error) {
	var run domain.ScrapeRun
	var trigger, status string
	var pages []int32
	err := row.Scan(
		&run.ID,
		&trigger,
		&pages,
		&run.StartedAt,
		&run.FinishedAt,
		&status,
		&run.FetchedCount,
		&run.NewCount,
		&run.UpdatedCount,
		&run.FailureKind,
		&run.Error,
	)
	run.Trigger = domain.Trigger(trigger)
	run.Status = domain.RunStatus(status)
	for _, p := range pages {
		run.Pages = append(run.Pages, int(p))
	}
	return run, err
}

func (s *Store) SaveRun(ctx context.Context, run domain.ScrapeRun) error {
	pages := make([]int32, 0, len(run.Pages))
	for _, p := range run.Pages {
		pages = append(pages, int32(p))
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO scrape_runs (`+runCols+`)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
ON CONFLICT (id) DO UPDATE SET
  finished_at = EXCLUDED.finished_at,
  status = EXCLUDED.status,
  fetched_count = EXCLUDED.fetched_count,
  new_count = EXCLUDED.new_count,
  updated_count = EXCLUDED.updated_count,
  failure_kind = EXCLUDED.failure_kind,
  error = EXCLUDED.error`,
		run.ID, string(run.Trigger), pages, run.StartedAt.UTC(), run.FinishedAt,
		string(run.Status), run.FetchedCount, run.NewCount, run.UpdatedCount, run.FailureKind, run.Error,
	)
	if err != nil {
		return unavailable("save run", err)
	}
	_, err = s.pool.Exec(ctx, `
DELETE FROM scrape_runs
WHERE id NOT IN (SELECT id FROM scrape_runs ORDER BY started_at DESC LIMIT $1)`, runRetention)
	if err != nil {
		return unavailable("prune runs", err)
	}
	return nil
}

func (s *Store) LastRun(ctx context.Context, succeededOnly bool) (*domain.ScrapeRun, error) {
	q := `SELECT ` + runCols + ` FROM scrape_runs WHERE finished_at IS NOT NULL`
	var args []any
	if succeededOnly {
		q += ` AND status = $1`
		args = append(args, string(domain.RunSucceeded))
	}
	q += ` ORDER BY finished_at DESC LIMIT 1`

	run, err := scanRun(s.pool.QueryRow(ctx, q, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("last run", err)
	}
	return &run, nil
}

func (s *Store) ListRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error) {
	if limit <= 0 || limit > runRetention {
		limit = 20
	}
	rows, err := s.pool.Query(ctx, `SELECT `+runCols+` FROM scrape_runs ORDER BY started_at DESC LIMIT $1`, limit)
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

func (s *Store) AddHighlights(ctx context.Context, ids []string, now time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx, `
INSERT INTO highlights (id, added_at)
SELECT unnest($1::text[]), $2
ON CONFLICT (id) DO NOTHING`, ids, now.UTC())
	if err != nil {
		return unavailable("add highlights", err)
	}
	return nil
}

func (s *Store) RemoveHighlights(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `DELETE FROM highlights WHERE id = ANY($1)`, ids); err != nil {
		return unavailable("remove highlights", err)
	}
	return nil
}

func (s *Store) Highlights(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx, `SELECT id FROM highlights ORDER BY added_at DESC, id ASC`)
	if err != nil {
		return nil, unavailable("highlights", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, unavailable("highlights", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}
