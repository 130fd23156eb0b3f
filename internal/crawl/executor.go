// Package crawl runs the extractor over a set of result pages and turns the
// pages into one de-duplicated batch.
package crawl

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"projectscout-engine/internal/domain"
)

// Extractor fetches the drafts of one result page.
type Extractor interface {
	Fetch(ctx context.Context, page int) ([]domain.ListingDraft, error)
}

type Options struct {
	Pages       []int
	Timeout     time.Duration
	Concurrency int
}

type Executor struct {
	ext  Extractor
	opts Options
	log  *slog.Logger
}

func NewExecutor(ext Extractor, opts Options, log *slog.Logger) *Executor {
	if opts.Timeout <= 0 {
		opts.Timeout = 5 * time.Minute
	}
	if opts.Concurrency <= 0 {
		opts.Concurrency = 1
	}
	if len(opts.Pages) == 0 {
		opts.Pages = []int{1, 2, 3}
	}
	if log == nil {
		log = slog.Default()
	}
	return &Executor{ext: ext, opts: opts, log: log}
}

// Pages resolves spec against the configured page list.
func (e *Executor) Pages(spec domain.PageSpec) []int {
	return spec.Resolve(e.opts.Pages)
}

// Fetch crawls the pages in spec under the run timeout. It returns either
// the complete batch or an error, never a partial batch.
func (e *Executor) Fetch(ctx context.Context, spec domain.PageSpec) ([]domain.ListingDraft, error) {
	pages := e.Pages(spec)
	if len(pages) == 0 {
		return []domain.ListingDraft{}, nil
	}

	ctx, cancel := context.WithTimeout(ctx, e.opts.Timeout)
	defer cancel()

	results := make([][]domain.ListingDraft, len(pages))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.opts.Concurrency)
	for i, p := range pages {
		i, p := i, p
		g.Go(func() error {
			start := time.Now()
			drafts, err := e.ext.Fetch(gctx, p)
			if err != nil {
				return fmt.Errorf("page %d: %w", p, err)
			}
			e.log.Debug("page fetched", "page", p, "drafts", len(drafts), "took", time.Since(start).Round(time.Millisecond))
			results[i] = drafts
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, classify(ctx, err)
	}

	var all []domain.ListingDraft
	for _, r := range results {
		all = append(all, r...)
	}
	batch, dropped := Dedupe(all)
	if dropped > 0 {
		e.log.Info("batch de-duplicated", "raw", len(all), "kept", len(batch), "dropped", dropped)
	}
	return batch, nil
}

// classify maps a page error onto the extractor error taxonomy. runCtx is
// the context carrying the run deadline.
func classify(runCtx context.Context, err error) error {
	switch {
	case errors.Is(runCtx.Err(), context.DeadlineExceeded), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", domain.ErrExtractorTimeout, err)
	case errors.Is(err, domain.ErrExtractorTimeout),
		errors.Is(err, domain.ErrExtractorBlocked),
		errors.Is(err, domain.ErrExtractorSiteError),
		errors.Is(err, context.Canceled):
		return err
	default:
		return fmt.Errorf("%w: %v", domain.ErrExtractorSiteError, err)
	}
}

// Dedupe drops repeated ids, keeping the first occurrence. A draft without
// an id gets one derived from its title and company; drafts with neither
// are dropped.
func Dedupe(in []domain.ListingDraft) (out []domain.ListingDraft, dropped int) {
	out = make([]domain.ListingDraft, 0, len(in))
	seen := make(map[string]bool, len(in))
	for _, d := range in {
		d.ID = strings.TrimSpace(d.ID)
		if d.ID == "" {
			d.ID = DerivedID(d.Title, d.CompanyName)
		}
		if d.ID == "" || seen[d.ID] {
			dropped++
			continue
		}
		seen[d.ID] = true
		out = append(out, d)
	}
	return out, dropped
}

// DerivedID builds the fallback id "title_company", lower-cased with each
// space replaced by an underscore. Spacing is kept as scraped so ids already
// in the store keep matching. It is empty when both parts are blank.
func DerivedID(title, company string) string {
	if strings.TrimSpace(title) == "" && strings.TrimSpace(company) == "" {
		return ""
	}
	return strings.ToLower(strings.ReplaceAll(title+"_"+company, " ", "_"))
}
