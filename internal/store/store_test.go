package store

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"projectscout-engine/internal/domain"
)

var t0 = time.Date(2025, 3, 10, 8, 0, 0, 0, time.UTC)

func openTest(t *testing.T) (*DB, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })
	return db, path
}

func draft(id, title string) domain.ListingDraft {
	return domain.ListingDraft{
		ID:          id,
		Title:       title,
		Description: "Go backend work",
		CompanyName: "Acme GmbH",
		Location:    "Berlin",
		Skills:      []string{"Go", "PostgreSQL"},
		URL:         "https://example.com/p/" + id,
	}
}

func TestUpsertIsIdempotent(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	out, err := db.Upsert(ctx, draft("a", "Go Dev"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if out != domain.OutcomeCreated {
		t.Fatalf("first upsert = %v, want created", out)
	}

	out, err = db.Upsert(ctx, draft("a", "Go Dev"), t0)
	if err != nil {
		t.Fatal(err)
	}
	if out != domain.OutcomeUnchanged {
		t.Errorf("second upsert = %v, want unchanged", out)
	}

	got, err := db.Get(ctx, "a", t0, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !got.FirstSeenAt.Equal(t0) || !got.LastSeenAt.Equal(t0) {
		t.Errorf("timestamps = %v / %v, want %v", got.FirstSeenAt, got.LastSeenAt, t0)
	}
	if len(got.Skills) != 2 || got.Skills[0] != "Go" {
		t.Errorf("skills = %v", got.Skills)
	}
}

func TestUpsertKeepsFirstSeenAndAdvancesLastSeen(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	if _, err := db.Upsert(ctx, draft("a", "Go Dev"), t0); err != nil {
		t.Fatal(err)
	}
	later := t0.Add(30 * time.Hour)
	out, err := db.Upsert(ctx, draft("a", "Senior Go Dev"), later)
	if err != nil {
		t.Fatal(err)
	}
	if out != domain.OutcomeUpdated {
		t.Errorf("outcome = %v, want updated", out)
	}

	// an older observation must not move LastSeenAt back
	if _, err := db.Upsert(ctx, draft("a", "Senior Go Dev"), t0.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	got, err := db.Get(ctx, "a", later, 24*time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !got.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt = %v, want %v", got.FirstSeenAt, t0)
	}
	if !got.LastSeenAt.Equal(later) {
		t.Errorf("LastSeenAt = %v, want %v", got.LastSeenAt, later)
	}
	if got.Title != "Senior Go Dev" {
		t.Errorf("title = %q", got.Title)
	}
	// seen again after 30h: still archived
	if got.IsActive {
		t.Error("reappearance re-activated the listing")
	}
}

func TestGetMissing(t *testing.T) {
	db, _ := openTest(t)
	_, err := db.Get(context.Background(), "nope", t0, time.Hour)
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
	ok, err := db.Exists(context.Background(), "nope")
	if err != nil || ok {
		t.Fatalf("Exists = %v, %v", ok, err)
	}
}

func TestQueryPartitionsByFirstSeen(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	window := 24 * time.Hour

	if _, err := db.Upsert(ctx, draft("old", "Old"), t0); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Upsert(ctx, draft("new", "New"), t0.Add(20*time.Hour)); err != nil {
		t.Fatal(err)
	}
	now := t0.Add(25 * time.Hour)

	active, err := db.Query(ctx, domain.Filter{Partition: domain.PartitionActive, Window: window}, now)
	if err != nil {
		t.Fatal(err)
	}
	if active.Total != 1 || active.Data[0].ID != "new" || !active.Data[0].IsActive {
		t.Errorf("active = %+v", active)
	}

	archived, err := db.Query(ctx, domain.Filter{Partition: domain.PartitionArchived, Window: window}, now)
	if err != nil {
		t.Fatal(err)
	}
	if archived.Total != 1 || archived.Data[0].ID != "old" || archived.Data[0].IsActive {
		t.Errorf("archived = %+v", archived)
	}

	a, ar, err := db.Counts(ctx, now, window)
	if err != nil {
		t.Fatal(err)
	}
	if a != 1 || ar != 1 {
		t.Errorf("counts = %d/%d, want 1/1", a, ar)
	}

	// exactly one window after first seen is archived
	a, _, err = db.Counts(ctx, t0.Add(20*time.Hour+window), window)
	if err != nil {
		t.Fatal(err)
	}
	if a != 0 {
		t.Errorf("active at boundary = %d, want 0", a)
	}
}

func TestQueryFiltersAndPagination(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		d := draft(fmt.Sprintf("p%d", i), fmt.Sprintf("Project %d", i))
		d.IsRemoteWorkPossible = i%2 == 0
		if i == 3 {
			d.Location = "München"
			d.Skills = []string{"Kubernetes"}
			d.Description = "50% remote_ok"
		}
		if _, err := db.Upsert(ctx, d, t0.Add(time.Duration(i)*time.Minute)); err != nil {
			t.Fatal(err)
		}
	}
	// same first-seen instant: ordered by id
	if _, err := db.Upsert(ctx, draft("p5", "Project 5"), t0.Add(4*time.Minute)); err != nil {
		t.Fatal(err)
	}
	now := t0.Add(time.Hour)

	page, err := db.Query(ctx, domain.Filter{Partition: domain.PartitionAll, Limit: 2, Page: 1}, now)
	if err != nil {
		t.Fatal(err)
	}
	if page.Total != 6 || page.TotalPages != 3 || len(page.Data) != 2 {
		t.Fatalf("page = total %d pages %d len %d", page.Total, page.TotalPages, len(page.Data))
	}
	if page.Data[0].ID != "p4" || page.Data[1].ID != "p5" {
		t.Errorf("order = %s,%s want p4,p5", page.Data[0].ID, page.Data[1].ID)
	}

	last, err := db.Query(ctx, domain.Filter{Partition: domain.PartitionAll, Limit: 2, Page: 3}, now)
	if err != nil {
		t.Fatal(err)
	}
	if len(last.Data) != 2 || last.Data[1].ID != "p0" {
		t.Errorf("last page = %+v", last.Data)
	}

	tests := []struct {
		name   string
		filter domain.Filter
		want   int
	}{
		{"search title", domain.Filter{Search: "project 3"}, 1},
		{"search skills", domain.Filter{Search: "kubernetes"}, 1},
		{"search company case-insensitive", domain.Filter{Search: "ACME"}, 6},
		{"search literal percent", domain.Filter{Search: "50%"}, 1},
		{"search literal underscore", domain.Filter{Search: "remote_ok"}, 1},
		{"location", domain.Filter{Location: "münchen"}, 1},
		{"remote", domain.Filter{Remote: ptr(true)}, 3},
		{"not remote", domain.Filter{Remote: ptr(false)}, 3},
		{"combined", domain.Filter{Search: "project", Remote: ptr(true), Location: "berlin"}, 3},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f := tc.filter
			f.Partition = domain.PartitionAll
			got, err := db.Query(ctx, f, now)
			if err != nil {
				t.Fatal(err)
			}
			if got.Total != tc.want {
				t.Errorf("total = %d, want %d", got.Total, tc.want)
			}
		})
	}
}

func ptr[T any](v T) *T { return &v }

func TestRecomputeActive(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()
	window := 24 * time.Hour

	if _, err := db.Upsert(ctx, draft("a", "A"), t0); err != nil {
		t.Fatal(err)
	}
	n, err := db.RecomputeActive(ctx, t0.Add(time.Hour), window)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("flipped %d rows before the window passed", n)
	}
	n, err = db.RecomputeActive(ctx, t0.Add(25*time.Hour), window)
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("flipped %d rows, want 1", n)
	}
	var flag int
	if err := db.Pool.QueryRow(`SELECT is_active FROM listings WHERE id = 'a'`).Scan(&flag); err != nil {
		t.Fatal(err)
	}
	if flag != 0 {
		t.Errorf("is_active = %d, want 0", flag)
	}
}

func TestRunsSurviveReopen(t *testing.T) {
	db, path := openTest(t)
	ctx := context.Background()

	fin := t0.Add(time.Minute)
	ok := domain.ScrapeRun{ID: "r1", Trigger: domain.TriggerScheduled, Pages: []int{1, 2}, StartedAt: t0,
		FinishedAt: &fin, Status: domain.RunSucceeded, FetchedCount: 10, NewCount: 4}
	if err := db.SaveRun(ctx, ok); err != nil {
		t.Fatal(err)
	}
	fin2 := t0.Add(time.Hour)
	bad := domain.ScrapeRun{ID: "r2", Trigger: domain.TriggerManual, StartedAt: t0.Add(50 * time.Minute),
		FinishedAt: &fin2, Status: domain.RunFailed, FailureKind: "timeout", Error: "deadline"}
	if err := db.SaveRun(ctx, bad); err != nil {
		t.Fatal(err)
	}
	if _, err := db.Upsert(ctx, draft("a", "A"), t0); err != nil {
		t.Fatal(err)
	}
	if err := db.Close(); err != nil {
		t.Fatal(err)
	}

	db2, err := Open(path)
	if err != nil {
		t.Fatal(err)
	}
	defer db2.Close()

	last, err := db2.LastRun(ctx, false)
	if err != nil || last == nil {
		t.Fatalf("LastRun = %v, %v", last, err)
	}
	if last.ID != "r2" || last.FailureKind != "timeout" {
		t.Errorf("last = %+v", last)
	}
	good, err := db2.LastRun(ctx, true)
	if err != nil || good == nil {
		t.Fatalf("LastRun(succeeded) = %v, %v", good, err)
	}
	if good.ID != "r1" || good.NewCount != 4 || len(good.Pages) != 2 {
		t.Errorf("good = %+v", good)
	}
	l, err := db2.Get(ctx, "a", t0, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	if !l.FirstSeenAt.Equal(t0) {
		t.Errorf("FirstSeenAt after reopen = %v", l.FirstSeenAt)
	}
	runs, err := db2.ListRuns(ctx, 10)
	if err != nil || len(runs) != 2 || runs[0].ID != "r2" {
		t.Errorf("ListRuns = %v, %v", runs, err)
	}
}

func TestHighlights(t *testing.T) {
	db, _ := openTest(t)
	ctx := context.Background()

	if err := db.AddHighlights(ctx, []string{"a", "b"}, t0); err != nil {
		t.Fatal(err)
	}
	if err := db.AddHighlights(ctx, []string{"b", "c"}, t0.Add(time.Minute)); err != nil {
		t.Fatal(err)
	}
	if err := db.RemoveHighlights(ctx, []string{"a", "zzz"}); err != nil {
		t.Fatal(err)
	}
	got, err := db.Highlights(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != "c" || got[1] != "b" {
		t.Errorf("highlights = %v, want [c b]", got)
	}
}
