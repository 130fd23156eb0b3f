package httpapi

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"projectscout-engine/internal/clock"
	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/events"
	"projectscout-engine/internal/scheduler"
	"projectscout-engine/internal/scrape"
)

// ListingStore is the read side of the listing store.
type ListingStore interface {
	Query(ctx context.Context, f domain.Filter, now time.Time) (domain.Page, error)
	Get(ctx context.Context, id string, now time.Time, window time.Duration) (domain.Listing, error)
	ListRuns(ctx context.Context, limit int) ([]domain.ScrapeRun, error)
	Ping(ctx context.Context) error
}

type Coordinator interface {
	TriggerManual(ctx context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error)
	RunManualSync(ctx context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error)
	Status() scrape.Status
	RefreshCounts(ctx context.Context)
	MarkSeen(ctx context.Context, ids []string) error
	NewIDs() []string
}

type Scheduler interface {
	State() scheduler.State
	SetConfig(cfg config.SchedulerConfig)
	Restart()
}

type Deps struct {
	Store       ListingStore
	Coordinator Coordinator
	Scheduler   Scheduler
	Events      *events.Bus

	// Live config; PUT handlers persist to UserCfgPath and swap it.
	Cfg         *atomic.Pointer[config.Config]
	UserCfgPath string
	// LoadCfg returns the live config: the file plus environment overrides.
	LoadCfg func() (config.Config, error)
	// LoadFileCfg returns the file alone. Saves start from it so values
	// that only exist in the environment never reach disk.
	LoadFileCfg func() (config.Config, error)
	Getenv      func(string) string
	// OnConfig applies a freshly saved config to running components.
	OnConfig func(config.Config)

	Notifier  func(config.Config) scrape.Notifier
	SetSecret func(account, password string) error
	// Checkpoint flushes the SQLite WAL; nil on other backends.
	Checkpoint func(ctx context.Context) error

	Clock clock.Clock
	Log   *slog.Logger
}

func (d Deps) config() config.Config { return *d.Cfg.Load() }

func (d Deps) fileConfig() (config.Config, error) {
	if d.LoadFileCfg == nil {
		return d.LoadCfg()
	}
	return d.LoadFileCfg()
}

func (d Deps) now() time.Time {
	if d.Clock == nil {
		return time.Now()
	}
	return d.Clock.Now()
}
