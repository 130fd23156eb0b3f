package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"projectscout-engine/internal/domain"
)

const listingCols = `id, title, description, company_name, location, skills, url, start_date,
remote, company_logo_url, original_publication_date, first_seen_at, last_seen_at`

type rowScanner interface {
	Scan(dest ...any) error
}

type queryRower interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func scanListing(r rowScanner) (domain.Listing, error) {
	var l domain.Listing
	var skillsJSON, first, last string
	var remote int
	var pub sql.NullString
	if err := r.Scan(
		&l.ID,
		&l.Title,
		&l.Description,
		&l.CompanyName,
		&l.Location,
		&skillsJSON,
		&l.URL,
		&l.StartDate,
		&remote,
		&l.CompanyLogoURL,
		&pub,
		&first,
		&last,
	); err != nil {
		return l, err
	}
	l.IsRemoteWorkPossible = remote != 0
	_ = json.Unmarshal([]byte(skillsJSON), &l.Skills)
	if pub.Valid && pub.String != "" {
		if t, err := parseTS(pub.String); err == nil {
			l.OriginalPublicationDate = &t
		}
	}
	var err error
	if l.FirstSeenAt, err = parseTS(first); err != nil {
		return l, fmt.Errorf("first_seen_at %q: %w", first, err)
	}
	if l.LastSeenAt, err = parseTS(last); err != nil {
		return l, fmt.Errorf("last_seen_at %q: %w", last, err)
	}
	return l, nil
}

func getListing(ctx context.Context, q queryRower, id string) (domain.Listing, error) {
	row := q.QueryRowContext(ctx, `SELECT `+listingCols+` FROM listings WHERE id = ?;`, id)
	l, err := scanListing(row)
	if errors.Is(err, sql.ErrNoRows) {
		return l, fmt.Errorf("listing %q: %w", id, domain.ErrNotFound)
	}
	return l, err
}

// Upsert inserts d or refreshes the stored copy. FirstSeenAt is only ever
// written by the insert; LastSeenAt never moves backwards.
func (d *DB) Upsert(ctx context.Context, draft domain.ListingDraft, now time.Time) (domain.UpsertOutcome, error) {
	if draft.ID == "" {
		return 0, errors.New("upsert listing: empty id")
	}
	skills := draft.Skills
	if skills == nil {
		skills = []string{}
	}
	skillsJSON, err := json.Marshal(skills)
	if err != nil {
		return 0, err
	}
	var pub any
	if draft.OriginalPublicationDate != nil {
		pub = formatTS(*draft.OriginalPublicationDate)
	}

	tx, err := d.Pool.BeginTx(ctx, nil)
	if err != nil {
		return 0, unavailable("upsert listing", err)
	}
	defer func() { _ = tx.Rollback() }()

	outcome := domain.OutcomeCreated
	prev, err := getListing(ctx, tx, draft.ID)
	switch {
	case err == nil:
		outcome = domain.OutcomeUpdated
		if prev.ListingDraft.SameContent(draft) {
			outcome = domain.OutcomeUnchanged
		}
	case !errors.Is(err, domain.ErrNotFound):
		return 0, unavailable("upsert listing", err)
	}

	ts := formatTS(now)
	remote := 0
	if draft.IsRemoteWorkPossible {
		remote = 1
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO listings (`+listingCols+`, is_active)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, 1)
ON CONFLICT(id) DO UPDATE SET
  title = excluded.title,
  description = excluded.description,
  company_name = excluded.company_name,
  location = excluded.location,
  skills = excluded.skills,
  url = excluded.url,
  start_date = excluded.start_date,
  remote = excluded.remote,
  company_logo_url = excluded.company_logo_url,
  original_publication_date = excluded.original_publication_date,
  last_seen_at = CASE WHEN excluded.last_seen_at > listings.last_seen_at
                      THEN excluded.last_seen_at ELSE listings.last_seen_at END;`,
		draft.ID, draft.Title, draft.Description, draft.CompanyName, draft.Location,
		string(skillsJSON), draft.URL, draft.StartDate, remote, draft.CompanyLogoURL,
		pub, ts, ts,
	)
	if err != nil {
		return 0, unavailable("upsert listing", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, unavailable("upsert listing", err)
	}
	return outcome, nil
}

func (d *DB) Get(ctx context.Context, id string, now time.Time, window time.Duration) (domain.Listing, error) {
	l, err := getListing(ctx, d.Pool, id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return l, err
		}
		return l, unavailable("get listing", err)
	}
	l.IsActive = domain.IsActiveAt(l.FirstSeenAt, now, window)
	return l, nil
}

func (d *DB) Exists(ctx context.Context, id string) (bool, error) {
	var one int
	err := d.Pool.QueryRowContext(ctx, `SELECT 1 FROM listings WHERE id = ? LIMIT 1;`, id).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, unavailable("exists", err)
	}
	return true, nil
}

// Query returns one page of listings matching f, newest first. Activity is
// derived from first_seen_at against now, never from the stored flag.
func (d *DB) Query(ctx context.Context, f domain.Filter, now time.Time) (domain.Page, error) {
	f = f.Normalize()
	where, args := buildWhere(f, now)

	var total int
	if err := d.Pool.QueryRowContext(ctx, `SELECT COUNT(*) FROM listings`+where+`;`, args...).Scan(&total); err != nil {
		return domain.Page{}, unavailable("count listings", err)
	}

	pageArgs := append(append([]any{}, args...), f.Limit, f.Offset())
	rows, err := d.Pool.QueryContext(ctx, `
SELECT `+listingCols+`
FROM listings`+where+`
ORDER BY first_seen_at DESC, id ASC
LIMIT ? OFFSET ?;`, pageArgs...)
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

func buildWhere(f domain.Filter, now time.Time) (string, []any) {
	var conds []string
	var args []any

	cutoff := formatTS(now.Add(-f.Window))
	switch f.Partition {
	case domain.PartitionActive:
		conds = append(conds, "first_seen_at > ?")
		args = append(args, cutoff)
	case domain.PartitionArchived:
		conds = append(conds, "first_seen_at <= ?")
		args = append(args, cutoff)
	}

	if s := strings.TrimSpace(f.Search); s != "" {
		pat := "%" + escapeLike(strings.ToLower(s)) + "%"
		conds = append(conds, `(lower(title) LIKE ? ESCAPE '\' OR lower(description) LIKE ? ESCAPE '\'
 OR lower(company_name) LIKE ? ESCAPE '\' OR lower(skills) LIKE ? ESCAPE '\')`)
		args = append(args, pat, pat, pat, pat)
	}
	if loc := strings.TrimSpace(f.Location); loc != "" {
		conds = append(conds, `lower(location) LIKE ? ESCAPE '\'`)
		args = append(args, "%"+escapeLike(strings.ToLower(loc))+"%")
	}
	if f.Remote != nil {
		v := 0
		if *f.Remote {
			v = 1
		}
		conds = append(conds, "remote = ?")
		args = append(args, v)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return "\nWHERE " + strings.Join(conds, "\n  AND "), args
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}

// RecomputeActive brings the persisted is_active column in line with the
// window and returns how many rows flipped.
func (d *DB) RecomputeActive(ctx context.Context, now time.Time, window time.Duration) (int64, error) {
	cutoff := formatTS(now.Add(-window))
	res, err := d.Pool.ExecContext(ctx, `
UPDATE listings
SET is_active = CASE WHEN first_seen_at > ? THEN 1 ELSE 0 END
WHERE is_active != CASE WHEN first_seen_at > ? THEN 1 ELSE 0 END;`, cutoff, cutoff)
	if err != nil {
		return 0, unavailable("recompute active", err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func (d *DB) Counts(ctx context.Context, now time.Time, window time.Duration) (active, archived int, err error) {
	cutoff := formatTS(now.Add(-window))
	var total int
	err = d.Pool.QueryRowContext(ctx, `
SELECT COALESCE(SUM(CASE WHEN first_seen_at > ? THEN 1 ELSE 0 END), 0), COUNT(*)
FROM listings;`, cutoff).Scan(&active, &total)
	if err != nil {
		return 0, 0, unavailable("count listings", err)
	}
	return active, total - active, nil
}
