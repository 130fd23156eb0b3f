package scrape

import (
	"slices"
	"time"

	"projectscout-engine/internal/domain"
)

// Status is a point-in-time view of the coordinator.
type Status struct {
	IsRunning         bool              `json:"isRunning"`
	CurrentRun        *domain.ScrapeRun `json:"currentRun,omitempty"`
	LastRun           *domain.ScrapeRun `json:"lastRun,omitempty"`
	LastSuccessfulRun *domain.ScrapeRun `json:"lastSuccessfulRun,omitempty"`
	ActiveCount       int               `json:"activeCount"`
	ArchivedCount     int               `json:"archivedCount"`
	CountsAt          *time.Time        `json:"countsAt,omitempty"`
	NewListingIDs     []string          `json:"newListingIds"`
	NotifyError       string            `json:"notifyError,omitempty"`
	LastNotifiedAt    *time.Time        `json:"lastNotifiedAt,omitempty"`
}

// Status never touches the store or waits on a run; counts are those of
// the last refresh.
func (c *Coordinator) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()

	st := Status{
		IsRunning:         c.state.Load() == stateRunning,
		CurrentRun:        clonePtr(c.current),
		LastRun:           clonePtr(c.lastRun),
		LastSuccessfulRun: clonePtr(c.lastOK),
		ActiveCount:       c.active,
		ArchivedCount:     c.archived,
		NewListingIDs:     slices.Clone(c.newIDs),
		NotifyError:       c.notifyErr,
		LastNotifiedAt:    clonePtr(c.notifiedAt),
	}
	if !c.countsAt.IsZero() {
		at := c.countsAt
		st.CountsAt = &at
	}
	if st.NewListingIDs == nil {
		st.NewListingIDs = []string{}
	}
	return st
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
