// Package reconcile merges a freshly fetched batch into the listing store.
package reconcile

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"projectscout-engine/internal/domain"
)

// Store is the part of the listing store the reconciler writes to.
type Store interface {
	Upsert(ctx context.Context, d domain.ListingDraft, now time.Time) (domain.UpsertOutcome, error)
	RecomputeActive(ctx context.Context, now time.Time, window time.Duration) (int64, error)
}

type Result struct {
	NewIDs         []string `json:"newIds"`
	UpdatedCount   int      `json:"updatedCount"`
	UnchangedCount int      `json:"unchangedCount"`
	Archived       int64    `json:"archived"`
}

type Reconciler struct {
	store  Store
	window time.Duration
	log    *slog.Logger
}

func New(store Store, window time.Duration, log *slog.Logger) *Reconciler {
	if window <= 0 {
		window = domain.DefaultActiveWindow
	}
	if log == nil {
		log = slog.Default()
	}
	return &Reconciler{store: store, window: window, log: log}
}

// Merge upserts every draft and then re-derives activity over the whole
// store. Listings missing from batch are left alone. The first store error
// aborts the merge; records already written stay written.
func (r *Reconciler) Merge(ctx context.Context, batch []domain.ListingDraft, now time.Time) (Result, error) {
	res := Result{NewIDs: []string{}}

	for _, d := range batch {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		out, err := r.store.Upsert(ctx, d, now)
		if err != nil {
			return res, fmt.Errorf("merge %q: %w", d.ID, err)
		}
		switch out {
		case domain.OutcomeCreated:
			res.NewIDs = append(res.NewIDs, d.ID)
		case domain.OutcomeUpdated:
			res.UpdatedCount++
		default:
			res.UnchangedCount++
		}
	}

	flipped, err := r.store.RecomputeActive(ctx, now, r.window)
	if err != nil {
		return res, fmt.Errorf("recompute active: %w", err)
	}
	res.Archived = flipped

	r.log.Info("batch merged",
		"fetched", len(batch),
		"new", len(res.NewIDs),
		"updated", res.UpdatedCount,
		"unchanged", res.UnchangedCount,
		"flipped", flipped,
	)
	return res, nil
}
