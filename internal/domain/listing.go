package domain

import (
	"slices"
	"time"
)

// DefaultActiveWindow is how long a listing stays in the active view after
// it was first seen.
const DefaultActiveWindow = 24 * time.Hour

// ListingDraft is one listing as the extractor produced it. The reconciler
// owns the timestamps, so a draft never carries them.
type ListingDraft struct {
	ID                      string     `json:"id"`
	Title                   string     `json:"title"`
	Description             string     `json:"description"`
	CompanyName             string     `json:"companyName"`
	Location                string     `json:"location"`
	Skills                  []string   `json:"skills"`
	URL                     string     `json:"url"`
	StartDate               string     `json:"startDate"`
	IsRemoteWorkPossible    bool       `json:"isRemoteWorkPossible"`
	CompanyLogoURL          string     `json:"companyLogoUrl"`
	OriginalPublicationDate *time.Time `json:"originalPublicationDate,omitempty"`
}

// SameContent reports whether two drafts carry identical descriptive fields.
func (d ListingDraft) SameContent(o ListingDraft) bool {
	if d.Title != o.Title ||
		d.Description != o.Description ||
		d.CompanyName != o.CompanyName ||
		d.Location != o.Location ||
		d.URL != o.URL ||
		d.StartDate != o.StartDate ||
		d.IsRemoteWorkPossible != o.IsRemoteWorkPossible ||
		d.CompanyLogoURL != o.CompanyLogoURL {
		return false
	}
	if !slices.Equal(d.Skills, o.Skills) {
		return false
	}
	switch {
	case d.OriginalPublicationDate == nil && o.OriginalPublicationDate == nil:
		return true
	case d.OriginalPublicationDate == nil || o.OriginalPublicationDate == nil:
		return false
	default:
		return d.OriginalPublicationDate.Equal(*o.OriginalPublicationDate)
	}
}

// Listing is a stored listing. FirstSeenAt is written once; LastSeenAt only
// moves forward.
type Listing struct {
	ListingDraft
	FirstSeenAt time.Time `json:"firstSeenAt"`
	LastSeenAt  time.Time `json:"lastSeenAt"`
	IsActive    bool      `json:"isActive"`
}

// IsActiveAt is the active predicate. Queries derive activity from it and
// never from a stored flag.
func IsActiveAt(firstSeen, now time.Time, window time.Duration) bool {
	return now.Sub(firstSeen) < window
}

// UpsertOutcome tells the caller what an upsert did to the stored record.
type UpsertOutcome int

const (
	OutcomeCreated UpsertOutcome = iota
	OutcomeUpdated
	OutcomeUnchanged
)

func (o UpsertOutcome) String() string {
	switch o {
	case OutcomeCreated:
		return "created"
	case OutcomeUpdated:
		return "updated"
	default:
		return "unchanged"
	}
}

type Partition string

const (
	PartitionActive   Partition = "active"
	PartitionArchived Partition = "archived"
	PartitionAll      Partition = "all"
)

// Filter is a listing query. Zero values mean "no constraint", except Page
// and Limit which are clamped by Normalize.
type Filter struct {
	Search    string
	Location  string
	Remote    *bool
	Partition Partition
	Window    time.Duration
	Page      int
	Limit     int
}

const (
	DefaultPageLimit = 10
	MaxPageLimit     = 200
)

func (f Filter) Normalize() Filter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.Limit < 1 {
		f.Limit = DefaultPageLimit
	}
	if f.Limit > MaxPageLimit {
		f.Limit = MaxPageLimit
	}
	if f.Partition == "" {
		f.Partition = PartitionActive
	}
	if f.Window <= 0 {
		f.Window = DefaultActiveWindow
	}
	return f
}

func (f Filter) Offset() int { return (f.Page - 1) * f.Limit }

type Page struct {
	Total      int       `json:"total"`
	Page       int       `json:"page"`
	Limit      int       `json:"limit"`
	TotalPages int       `json:"totalPages"`
	Data       []Listing `json:"data"`
}

// NewPage fills the pagination fields for a filter and total row count.
func NewPage(f Filter, total int, data []Listing) Page {
	pages := 0
	if f.Limit > 0 {
		pages = (total + f.Limit - 1) / f.Limit
	}
	if data == nil {
		data = []Listing{}
	}
	return Page{Total: total, Page: f.Page, Limit: f.Limit, TotalPages: pages, Data: data}
}
