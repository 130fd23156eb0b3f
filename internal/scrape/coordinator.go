// Package scrape owns the run lifecycle: one crawl at a time, reconcile the
// batch, record the run, mark new listings and notify.
package scrape

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"projectscout-engine/internal/clock"
	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/events"
	"projectscout-engine/internal/reconcile"
)

type Fetcher interface {
	Pages(spec domain.PageSpec) []int
	Fetch(ctx context.Context, spec domain.PageSpec) ([]domain.ListingDraft, error)
}

type Merger interface {
	Merge(ctx context.Context, batch []domain.ListingDraft, now time.Time) (reconcile.Result, error)
}

// Store is the run bookkeeping side of the listing store.
type Store interface {
	Get(ctx context.Context, id string, now time.Time, window time.Duration) (domain.Listing, error)
	Counts(ctx context.Context, now time.Time, window time.Duration) (active, archived int, err error)
	SaveRun(ctx context.Context, run domain.ScrapeRun) error
	LastRun(ctx context.Context, succeededOnly bool) (*domain.ScrapeRun, error)
	AddHighlights(ctx context.Context, ids []string, now time.Time) error
	RemoveHighlights(ctx context.Context, ids []string) error
	Highlights(ctx context.Context) ([]string, error)
}

type Notifier interface {
	Configured() bool
	Send(ctx context.Context, listings []domain.Listing, recipient string) error
}

type Publisher interface {
	Publish(ctx context.Context, reqID, typ string, data any)
}

const (
	stateIdle int32 = iota
	stateRunning
)

type Deps struct {
	Fetcher Fetcher
	Merger  Merger
	Store   Store
	// Config returns the live engine config.
	Config func() config.Config
	// Notifier builds a notifier for the config in effect when a run ends.
	Notifier func(config.Config) Notifier
	Events   Publisher
	Clock    clock.Clock
	Log      *slog.Logger
}

type Coordinator struct {
	d     Deps
	log   *slog.Logger
	state atomic.Int32

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu         sync.Mutex
	current    *domain.ScrapeRun
	lastRun    *domain.ScrapeRun
	lastOK     *domain.ScrapeRun
	newIDs     []string
	active     int
	archived   int
	countsAt   time.Time
	notifyErr  string
	notifiedAt *time.Time
}

func New(d Deps) *Coordinator {
	if d.Clock == nil {
		d.Clock = clock.Real{}
	}
	if d.Log == nil {
		d.Log = slog.Default()
	}
	if d.Config == nil {
		cfg := config.Default(d.Clock.Now())
		d.Config = func() config.Config { return cfg }
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		d:      d,
		log:    d.Log.With("component", "coordinator"),
		ctx:    ctx,
		cancel: cancel,
		newIDs: []string{},
	}
}

// Prime loads the persisted last runs, highlight set and counts so Status
// is meaningful before the first run of this process.
func (c *Coordinator) Prime(ctx context.Context) error {
	last, err := c.d.Store.LastRun(ctx, false)
	if err != nil {
		return err
	}
	ok, err := c.d.Store.LastRun(ctx, true)
	if err != nil {
		return err
	}
	ids, err := c.d.Store.Highlights(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.lastRun, c.lastOK, c.newIDs = last, ok, ids
	c.mu.Unlock()

	c.RefreshCounts(ctx)
	return nil
}

// TriggerManual starts a run in the background and returns its running
// snapshot. It fails with domain.ErrAlreadyRunning while another run is in
// flight.
func (c *Coordinator) TriggerManual(ctx context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error) {
	run, _, err := c.start(ctx, domain.TriggerManual, spec, notify)
	return run, err
}

// RunManualSync is TriggerManual that waits for the run to finish.
func (c *Coordinator) RunManualSync(ctx context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error) {
	run, done, err := c.start(ctx, domain.TriggerManual, spec, notify)
	if err != nil {
		return run, err
	}
	select {
	case fin := <-done:
		if fin.Status == domain.RunFailed {
			return fin, fmt.Errorf("run %s failed: %s", fin.ID, fin.Error)
		}
		return fin, nil
	case <-ctx.Done():
		return run, ctx.Err()
	}
}

// TriggerScheduled starts a scheduled run over every configured page. It
// reports false and does nothing when a run is already in flight.
func (c *Coordinator) TriggerScheduled() bool {
	notify := c.d.Config().Notify.OnSchedule
	_, _, err := c.start(context.Background(), domain.TriggerScheduled, domain.AllPages(), notify)
	if errors.Is(err, domain.ErrAlreadyRunning) {
		c.log.Info("scheduled run skipped", "reason", "already running")
		return false
	}
	return err == nil
}

func (c *Coordinator) IsRunning() bool { return c.state.Load() == stateRunning }

// Wait blocks until no run is in flight.
func (c *Coordinator) Wait() { c.wg.Wait() }

// Close cancels any in-flight run and waits for it to record its failure.
func (c *Coordinator) Close() {
	c.cancel()
	c.wg.Wait()
}

func (c *Coordinator) start(ctx context.Context, trig domain.Trigger, spec domain.PageSpec, notify bool) (domain.ScrapeRun, <-chan domain.ScrapeRun, error) {
	if err := c.ctx.Err(); err != nil {
		return domain.ScrapeRun{}, nil, fmt.Errorf("coordinator closed: %w", err)
	}
	// Resolved before claiming the slot so nothing between the CAS and the
	// recovering goroutine can leave the state stuck at running.
	pages := c.d.Fetcher.Pages(spec)
	if !c.state.CompareAndSwap(stateIdle, stateRunning) {
		return domain.ScrapeRun{}, nil, domain.ErrAlreadyRunning
	}

	run := domain.ScrapeRun{
		ID:        uuid.NewString(),
		Trigger:   trig,
		Pages:     pages,
		StartedAt: c.d.Clock.Now(),
		Status:    domain.RunRunning,
	}
	c.mu.Lock()
	snap := run
	c.current = &snap
	c.mu.Unlock()

	c.log.Info("run started", "run", run.ID, "trigger", trig, "pages", run.Pages, "notify", notify)
	c.publish(ctx, events.TypeScrapeStarted, run)

	done := make(chan domain.ScrapeRun, 1)
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fin := c.execute(run, spec, notify)
		done <- fin
	}()
	return run, done, nil
}

func (c *Coordinator) execute(run domain.ScrapeRun, spec domain.PageSpec, notify bool) (fin domain.ScrapeRun) {
	ctx := c.ctx
	defer func() {
		if rec := recover(); rec != nil {
			c.log.Error("run panicked", "run", run.ID, "panic", rec)
			if fin.FinishedAt == nil {
				fin = c.finish(run, fmt.Errorf("panic: %v", rec))
			}
		}
		c.mu.Lock()
		c.current = nil
		c.mu.Unlock()
		c.state.Store(stateIdle)
	}()

	batch, err := c.d.Fetcher.Fetch(ctx, spec)
	if err != nil {
		return c.finish(run, err)
	}
	run.FetchedCount = len(batch)

	res, err := c.d.Merger.Merge(ctx, batch, c.d.Clock.Now())
	run.NewCount = len(res.NewIDs)
	run.UpdatedCount = res.UpdatedCount
	// Listings created before a merge error are stored; they stay new.
	c.highlight(run.ID, res.NewIDs)
	if err != nil {
		return c.finish(run, err)
	}

	fin = c.finish(run, nil)
	c.RefreshCounts(ctx)

	if len(res.NewIDs) > 0 {
		c.publish(ctx, events.TypeListingsNew, map[string]any{"ids": res.NewIDs, "count": len(res.NewIDs)})
		if notify {
			c.notify(ctx, res.NewIDs)
		}
	}
	return fin
}

func (c *Coordinator) highlight(runID string, ids []string) {
	if len(ids) == 0 {
		return
	}
	// The run context may be canceled; the highlight must still land.
	hctx, cancel := context.WithTimeout(context.WithoutCancel(c.ctx), 5*time.Second)
	defer cancel()
	if err := c.d.Store.AddHighlights(hctx, ids, c.d.Clock.Now()); err != nil {
		c.log.Warn("highlight new listings", "run", runID, "err", err)
	}
	c.mu.Lock()
	c.newIDs = mergeIDs(ids, c.newIDs)
	c.mu.Unlock()
}

// finish stamps run with its outcome, persists it and updates status.
func (c *Coordinator) finish(run domain.ScrapeRun, err error) domain.ScrapeRun {
	now := c.d.Clock.Now()
	run.FinishedAt = &now
	if err != nil {
		run.Status = domain.RunFailed
		run.FailureKind = domain.FailureKind(err)
		run.Error = err.Error()
		c.log.Warn("run failed", "run", run.ID, "kind", run.FailureKind, "err", err,
			"took", now.Sub(run.StartedAt).Round(time.Millisecond))
	} else {
		run.Status = domain.RunSucceeded
		c.log.Info("run finished", "run", run.ID,
			"fetched", run.FetchedCount, "new", run.NewCount, "updated", run.UpdatedCount,
			"took", now.Sub(run.StartedAt).Round(time.Millisecond))
	}

	// Persist even when the run context was canceled.
	sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := c.d.Store.SaveRun(sctx, run); err != nil {
		c.log.Error("save run", "run", run.ID, "err", err)
	}

	c.mu.Lock()
	snap := run
	c.lastRun = &snap
	if run.Status == domain.RunSucceeded {
		c.lastOK = &snap
	}
	c.mu.Unlock()

	c.publish(context.Background(), events.TypeScrapeFinished, run)
	return run
}

func (c *Coordinator) notify(ctx context.Context, ids []string) {
	cfg := c.d.Config()
	if c.d.Notifier == nil {
		return
	}
	n := c.d.Notifier(cfg)
	if n == nil || !n.Configured() {
		c.log.Debug("notifier not configured, skipping", "new", len(ids))
		return
	}

	now := c.d.Clock.Now()
	listings := make([]domain.Listing, 0, len(ids))
	for _, id := range ids {
		l, err := c.d.Store.Get(ctx, id, now, cfg.ActiveWindow())
		if err != nil {
			c.log.Warn("load listing for notification", "id", id, "err", err)
			continue
		}
		listings = append(listings, l)
	}

	err := n.Send(ctx, listings, cfg.Notify.Recipient)
	c.mu.Lock()
	if err != nil {
		c.notifyErr = err.Error()
	} else {
		c.notifyErr = ""
		c.notifiedAt = &now
	}
	c.mu.Unlock()
	if err != nil {
		c.log.Warn("notification failed", "err", err)
	}
}

// MarkSeen drops ids from the new-listing set.
func (c *Coordinator) MarkSeen(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	if err := c.d.Store.RemoveHighlights(ctx, ids); err != nil {
		return err
	}
	c.mu.Lock()
	c.newIDs = slices.DeleteFunc(c.newIDs, func(id string) bool { return slices.Contains(ids, id) })
	remaining := len(c.newIDs)
	c.mu.Unlock()

	c.publish(ctx, events.TypeListingsSeen, map[string]any{"ids": ids, "remaining": remaining})
	return nil
}

// NewIDs returns the current new-listing set, newest first.
func (c *Coordinator) NewIDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.newIDs)
}

// RefreshCounts re-reads the active/archived counts used by Status.
func (c *Coordinator) RefreshCounts(ctx context.Context) {
	now := c.d.Clock.Now()
	active, archived, err := c.d.Store.Counts(ctx, now, c.d.Config().ActiveWindow())
	if err != nil {
		c.log.Warn("refresh counts", "err", err)
		return
	}
	c.mu.Lock()
	c.active, c.archived, c.countsAt = active, archived, now
	c.mu.Unlock()
}

func (c *Coordinator) publish(ctx context.Context, typ string, data any) {
	if c.d.Events == nil {
		return
	}
	c.d.Events.Publish(ctx, requestID(ctx), typ, data)
}

// mergeIDs puts fresh ids in front of prev, skipping ones already present.
func mergeIDs(fresh, prev []string) []string {
	out := make([]string, 0, len(fresh)+len(prev))
	for _, id := range fresh {
		if !slices.Contains(prev, id) && !slices.Contains(out, id) {
			out = append(out, id)
		}
	}
	return append(out, prev...)
}

type reqIDKey struct{}

// WithRequestID tags ctx so events raised by a triggered run carry the id
// of the request that started it.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, reqIDKey{}, id)
}

func requestID(ctx context.Context) string {
	s, _ := ctx.Value(reqIDKey{}).(string)
	return s
}
