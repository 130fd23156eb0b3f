package main

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"projectscout-engine/internal/config"
	"projectscout-engine/internal/crawl"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/extract"
	"projectscout-engine/internal/reconcile"
)

// pipeline is the fetch and merge half of a run. Config saves rebuild it;
// a run in flight keeps the executor it started with.
type pipeline struct {
	store reconcile.Store
	log   *slog.Logger
	exec  atomic.Pointer[crawl.Executor]
	merge atomic.Pointer[reconcile.Reconciler]
}

func newPipeline(cfg config.Config, store reconcile.Store, log *slog.Logger) *pipeline {
	p := &pipeline{store: store, log: log}
	p.apply(cfg)
	return p
}

func (p *pipeline) apply(cfg config.Config) {
	board := extract.NewBoard(extract.Options{
		APIURL:            cfg.Crawl.APIURL,
		PageURL:           cfg.Crawl.PageURL,
		UserAgent:         cfg.Crawl.UserAgent,
		RespectRobots:     cfg.Crawl.RespectRobots,
		RequestsPerSecond: cfg.Crawl.RequestsPerSecond,
		Burst:             cfg.Crawl.Burst,
		HTTPTimeout:       time.Duration(cfg.Crawl.HTTPTimeoutSeconds) * time.Second,
	}, p.log.With("component", "extract"))

	p.exec.Store(crawl.NewExecutor(board, crawl.Options{
		Pages:       cfg.Crawl.Pages,
		Timeout:     cfg.CrawlTimeout(),
		Concurrency: cfg.Crawl.Concurrency,
	}, p.log.With("component", "crawl")))
	p.merge.Store(reconcile.New(p.store, cfg.ActiveWindow(), p.log.With("component", "reconcile")))
}

func (p *pipeline) Pages(spec domain.PageSpec) []int {
	return p.exec.Load().Pages(spec)
}

func (p *pipeline) Fetch(ctx context.Context, spec domain.PageSpec) ([]domain.ListingDraft, error) {
	return p.exec.Load().Fetch(ctx, spec)
}

func (p *pipeline) Merge(ctx context.Context, batch []domain.ListingDraft, now time.Time) (reconcile.Result, error) {
	return p.merge.Load().Merge(ctx, batch, now)
}
