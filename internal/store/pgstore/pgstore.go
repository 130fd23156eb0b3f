// Package pgstore is the PostgreSQL listing store, used when
// storage.driver is postgres.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"projectscout-engine/internal/domain"
)

type Store struct {
	pool *pgxpool.Pool
}

func Open(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, unavailable("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, unavailable("ping", err)
	}
	s := &Store{pool: pool}
	if err := s.migrate(ctx); err != nil {
		pool.Close()
		return nil, unavailable("migrate", err)
	}
	return s, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return unavailable("ping", err)
	}
	return nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, domain.ErrStorageUnavailable, err)
}

func (s *Store) migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS listings (
  id TEXT PRIMARY KEY,
  title TEXT NOT NULL DEFAULT '',
  description TEXT NOT NULL DEFAULT '',
  company_name TEXT NOT NULL DEFAULT '',
  location TEXT NOT NULL DEFAULT '',
  skills TEXT[] NOT NULL DEFAULT '{}',
  url TEXT NOT NULL DEFAULT '',
  start_date TEXT NOT NULL DEFAULT '',
  remote BOOLEAN NOT NULL DEFAULT FALSE,
  company_logo_url TEXT NOT NULL DEFAULT '',
  original_publication_date TIMESTAMPTZ,
  first_seen_at TIMESTAMPTZ NOT NULL,
  last_seen_at TIMESTAMPTZ NOT NULL,
  is_active BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_listings_first_seen ON listings (first_seen_at DESC, id);
CREATE TABLE IF NOT EXISTS scrape_runs (
  id TEXT PRIMARY KEY,
  trigger_kind TEXT NOT NULL,
  pages INTEGER[] NOT NULL DEFAULT '{}',
  started_at TIMESTAMPTZ NOT NULL,
  finished_at TIMESTAMPTZ,
  status TEXT NOT NULL,
  fetched_count INTEGER NOT NULL DEFAULT 0,
  new_count INTEGER NOT NULL DEFAULT 0,
  updated_count INTEGER NOT NULL DEFAULT 0,
  failure_kind TEXT NOT NULL DEFAULT '',
  error TEXT NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS highlights (
  id TEXT PRIMARY KEY,
  added_at TIMESTAMPTZ NOT NULL
);`)
	return err
}

const listingCols = `id, title, description, company_name, location, skills, url, start_date,
remote, company_logo_url, original_publication_date, first_seen_at, last_seen_at`

func scanListing(row pgx.Row) (domain.Listing, error) {
	var l domain.Listing
	err := row.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.CompanyName,
		&l.Location,
		&l.Skills,
		&l.URL,
		&l.StartDate,
		&l.IsRemoteWorkPossible,
		&l.CompanyLogoURL,
		&l.OriginalPublicationDate,
		&l.FirstSeenAt,
		&l.LastSeenAt,
	)
	return l, err
}

func (s *Store) Upsert(ctx context.Context, draft domain.ListingDraft, now time.Time) (domain.UpsertOutcome, error) {
	if draft.ID == "" {
		return 0, errors.New("upsert listing: empty id")
	}
	skills := draft.Skills
	if skills == nil {
		skills = []string{}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, unavailable("upsert listing", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	outcome := domain.OutcomeCreated
	prev, err := scanListing(tx.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1 FOR UPDATE`, draft.ID))
	switch {
	case err == nil:
		outcome = domain.OutcomeUpdated
		if prev.ListingDraft.SameContent(draft) {
			outcome = domain.OutcomeUnchanged
		}
	case !errors.Is(err, pgx.ErrNoRows):
		return 0, unavailable("upsert listing", err)
	}

	_, err = tx.Exec(ctx, `
INSERT INTO listings (`+listingCols+`, is_active)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $12, TRUE)
ON CONFLICT (id) DO UPDATE SET
  title = EXCLUDED.title,
  description = EXCLUDED.description,
  company_name = EXCLUDED.company_name,
  location = EXCLUDED.location,
  skills = EXCLUDED.skills,
  url = EXCLUDED.url,
  start_date = EXCLUDED.start_date,
  remote = EXCLUDED.remote,
  company_logo_url = EXCLUDED.company_logo_url,
  original_publication_date = EXCLUDED.original_publication_date,
  last_seen_at = GREATEST(listings.last_seen_at, EXCLUDED.last_seen_at)`,
		draft.ID, draft.Title, draft.Description, draft.CompanyName, draft.Location,
		skills, draft.URL, draft.StartDate, draft.IsRemoteWorkPossible, draft.CompanyLogoURL,
		draft.OriginalPublicationDate, now.UTC(),
	)
	if err != nil {
		return 0, unavailable("upsert listing", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return 0, unavailable("upsert listing", err)
	}
	return outcome, nil
}

func (s *Store) Get(ctx context.Context, id string, now time.Time, window time.Duration) (domain.Listing, error) {
	l, err := scanListing(s.pool.QueryRow(ctx, `SELECT `+listingCols+` FROM listings WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return l, fmt.Errorf("listing %q: %w", id, domain.ErrNotFound)
	}
	if err != nil {
		return l, unavailable("get listing", err)
	}
	l.IsActive = domain.IsActiveAt(l.FirstSeenAt, now, window)
	return l, nil
}

func (s *Store) Exists(ctx context.Context, id string) (bool, error) {
	var ok bool
	if err := s.pool.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM listings WHERE id = $1)`, id).Scan(&ok); err != nil {
		return false, unavailable("exists", err)
	}
	return ok, nil
}

func (s *Store) Query(ctx context.Context, f domain.Filter, now time.Time) (domain.Page, error) {
	f = f.Normalize()

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return fmt.Sprintf("$%d", len(args))
	}

	cutoff := now.Add(-f.Window).UTC()
	switch f.Partition {
	case domain.PartitionActive:
		conds = append(conds, "first_seen_at > "+arg(cutoff))
	case domain.PartitionArchived:
		conds = append(conds, "first_seen_at <= "+arg(cutoff))
	}
	if q := strings.TrimSpace(f.Search); q != "" {
		p := arg("%" + escapeLike(q) + "%")
		conds = append(conds, fmt.Sprintf(
			"(title ILIKE %[1]s OR description ILIKE %[1]s OR company_name ILIKE %[1]s OR array_to_string(skills, ' ') ILIKE %[1]s)", p))
	}
	if loc := strings.TrimSpace(f.Location); loc != "" {
		conds = append(conds, "location ILIKE "+arg("%"+escapeLike(loc)+"%"))
	}
	if f.Remote != nil {
		conds = append(conds, "remote = "+arg(*f.Remote))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM listings`+where, args...).Scan(&total); err != nil {
		return domain.Page{}, unavailable("count listings", err)
	}

	lim, off := arg(f.Limit), arg(f.Offset())
	rows, err := s.pool.Query(ctx,
		`SELECT `+listingCols+` FROM listings`+where+` ORDER BY first_seen_at DESC, id ASC LIMIT `+lim+` OFFSET `+off,
		args...)
	if err != nil {
		return domain.Page{}, unavailable("query listings", err)
	}
	defer rows.Close()

	var out []domain.Listing
	for rows.Next() {
		l, err := scanListing(rows)
		if err != nil {
			return domain.Page{}, unavailable("scan listing", err)
		}
		l.IsActive = domain.IsActiveAt(l.FirstSeenAt, now, f.Window)
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return domain.Page{}, unavailable("query listings", err)
	}
	return domain.NewPage(f, total, out), nil
}

func escapeLike(s string) string {
	return strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`).Replace(s)
}

func (s *Store) RecomputeActive(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE listings SET is_active = (first_seen_at > $1)
WHERE is_active IS DISTINCT FROM (first_seen_at > $1)`, now.Add(-window).UTC())
	if err != nil {
		return 0, unavailable("recompute active", err)
	}
	return tag.RowsAffected(), nil
}

func (s *Store) Counts(ctx context.Context, now time.Time, window time.Duration) (active, archived int, err error) {
	err = s.pool.QueryRow(ctx, `
SELECT COUNT(*) FILTER (WHERE first_seen_at > $1), COUNT(*) FILTER (WHERE first_seen_at <= $1)
FROM listings`, now.Add(-window).UTC()).Scan(&active, &archived)
	if err != nil {
		return 0, 0, unavailable("count listings", err)
	}
	return active, archived, nil
}
