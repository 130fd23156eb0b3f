package domain

import (
	"slices"
	"time"
)

type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerScheduled Trigger = "scheduled"
)

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunSucceeded RunStatus = "succeeded"
	RunFailed    RunStatus = "failed"
)

// ScrapeRun records one attempt. It is not modified after FinishedAt is set.
type ScrapeRun struct {
	ID           string     `json:"id"`
	Trigger      Trigger    `json:"trigger"`
	Pages        []int      `json:"pages"`
	StartedAt    time.Time  `json:"startedAt"`
	FinishedAt   *time.Time `json:"finishedAt,omitempty"`
	Status       RunStatus  `json:"status"`
	FetchedCount int        `json:"fetchedCount"`
	NewCount     int        `json:"newCount"`
	UpdatedCount int        `json:"updatedCount"`
	FailureKind  string     `json:"failureKind,omitempty"`
	Error        string     `json:"error,omitempty"`
}

func (r ScrapeRun) Finished() bool { return r.FinishedAt != nil }

// PageSpec selects the result pages of one crawl. An empty Pages means every
// configured page.
type PageSpec struct {
	Pages []int
}

func AllPages() PageSpec { return PageSpec{} }

// Resolve returns the concrete, sorted, de-duplicated page list. Pages below 1
// are dropped.
func (p PageSpec) Resolve(configured []int) []int {
	src := p.Pages
	if len(src) == 0 {
		src = configured
	}
	out := make([]int, 0, len(src))
	for _, n := range src {
		if n >= 1 {
			out = append(out, n)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
