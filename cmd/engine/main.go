package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gofrs/flock"

	"projectscout-engine/internal/clock"
	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/events"
	"projectscout-engine/internal/httpapi"
	"projectscout-engine/internal/notify"
	"projectscout-engine/internal/reconcile"
	"projectscout-engine/internal/scheduler"
	"projectscout-engine/internal/scrape"
	"projectscout-engine/internal/secrets"
	"projectscout-engine/internal/store"
	"projectscout-engine/internal/store/pgstore"
)

// engineStore is what both storage backends provide.
type engineStore interface {
	reconcile.Store
	scrape.Store
	httpapi.ListingStore
	Close() error
}

func main() {
	once := flag.Bool("once", false, "run one manual scrape and exit")
	notifyOnce := flag.Bool("notify", false, "with -once: mail the new listings")
	flag.Parse()

	if err := run(*once, *notifyOnce); err != nil {
		slog.Error("engine failed", "err", err)
		os.Exit(1)
	}
}

func run(once, notifyOnce bool) error {
	// Engine data dir: use env if provided (the desktop shell passes one), else local folder.
	dataDir := os.Getenv("PROJECTSCOUT_DATA_DIR")
	if dataDir == "" {
		dataDir = "."
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return err
	}

	// One engine per data dir; a second one would run its own scheduler
	// against the same database.
	lock := flock.New(filepath.Join(dataDir, "engine.lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return fmt.Errorf("lock data dir: %w", err)
	}
	if !locked {
		return fmt.Errorf("another engine is using %s", dataDir)
	}
	defer func() { _ = lock.Unlock() }()

	clk := clock.Real{}
	userCfgPath, err := config.EnsureUserConfig(dataDir, clk.Now())
	if err != nil {
		return fmt.Errorf("config bootstrap failed: %w", err)
	}
	loadFileCfg := func() (config.Config, error) {
		return config.Load(userCfgPath, clk.Now())
	}
	loadCfg := func() (config.Config, error) {
		c, err := loadFileCfg()
		if err != nil {
			return c, err
		}
		config.OverlayEnv(&c, os.Getenv)
		return c, nil
	}
	cfg, err := loadCfg()
	if err != nil {
		return fmt.Errorf("config load failed (%s): %w", userCfgPath, err)
	}
	cfg, vr := config.NormalizeAndValidate(cfg)

	var level slog.LevelVar
	setLevel(&level, cfg.App.LogLevel)
	log := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: &level}))
	slog.SetDefault(log)

	for _, w := range vr.Warnings {
		log.Warn("config", "warning", w)
	}
	if !vr.OK() {
		return fmt.Errorf("invalid config %s: %v", userCfgPath, vr.Errors)
	}

	var live atomic.Pointer[config.Config]
	live.Store(&cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, checkpoint, err := openStore(ctx, dataDir, cfg)
	if err != nil {
		return err
	}
	defer func() { _ = db.Close() }()

	bus := events.NewBus(events.NewHub(), log)
	if cfg.Events.RedisURL != "" {
		rdb, err := events.NewRedisClient(ctx, cfg.Events.RedisURL)
		if err != nil {
			log.Warn("redis unavailable, events stay in-process", "err", err)
		} else {
			bus = bus.WithRedis(rdb, cfg.Events.Channel)
		}
	}
	defer func() { _ = bus.Close() }()

	pipe := newPipeline(cfg, db, log)
	notifierFor := func(c config.Config) scrape.Notifier {
		return notify.NewMailer(notify.OptionsFromConfig(c), nil, log)
	}

	coord := scrape.New(scrape.Deps{
		Fetcher:  pipe,
		Merger:   pipe,
		Store:    db,
		Config:   func() config.Config { return *live.Load() },
		Notifier: notifierFor,
		Events:   bus,
		Clock:    clk,
		Log:      log,
	})
	defer func() {
		coord.Close()
		coord.Wait()
	}()
	if err := coord.Prime(ctx); err != nil {
		log.Warn("could not restore last run", "err", err)
	}

	if once {
		fin, err := coord.RunManualSync(ctx, domain.AllPages(), notifyOnce)
		log.Info("run finished", "id", fin.ID, "status", fin.Status,
			"fetched", fin.FetchedCount, "new", fin.NewCount, "updated", fin.UpdatedCount)
		return err
	}

	sched := scheduler.New(cfg.Scheduler, coord, clk, log)
	sched.Start(ctx)
	defer sched.Stop()

	mux := httpapi.NewMux(httpapi.Deps{
		Store:       db,
		Coordinator: coord,
		Scheduler:   sched,
		Events:      bus,
		Cfg:         &live,
		UserCfgPath: userCfgPath,
		LoadCfg:     loadCfg,
		LoadFileCfg: loadFileCfg,
		Getenv:      os.Getenv,
		OnConfig: func(c config.Config) {
			setLevel(&level, c.App.LogLevel)
			pipe.apply(c)
		},
		Notifier:   notifierFor,
		SetSecret:  secrets.SetPassword,
		Checkpoint: checkpoint,
		Clock:      clk,
		Log:        log,
	})

	token, err := shutdownToken(dataDir)
	if err != nil {
		return fmt.Errorf("shutdown token: %w", err)
	}
	mux.HandleFunc("/shutdown", shutdownHandler(token, stop))

	ln, err := net.Listen("tcp", cfg.App.Addr)
	if err != nil {
		return err
	}
	log.Info("engine listening", "addr", "http://"+ln.Addr().String(), "config", userCfgPath,
		"storage", cfg.Storage.Driver, "scheduler", cfg.Scheduler.Enabled)

	srv := &http.Server{
		Handler:           httpapi.Wrap(mux, log, func() string { return live.Load().App.FrontendURL }),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.Serve(ln) }()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(shutCtx)
}

// openStore opens the configured backend. The checkpoint func is nil
// unless the backend is SQLite.
func openStore(ctx context.Context, dataDir string, cfg config.Config) (engineStore, func(context.Context) error, error) {
	switch cfg.Storage.Driver {
	case "postgres":
		pctx, cancel := context.WithTimeout(ctx, 10*time.Second)
		defer cancel()
		s, err := pgstore.Open(pctx, cfg.Storage.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		return s, nil, nil
	default:
		db, err := store.Open(config.ResolvePath(dataDir, cfg.Storage.SQLitePath))
		if err != nil {
			return nil, nil, err
		}
		return db, db.Checkpoint, nil
	}
}

func setLevel(v *slog.LevelVar, s string) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(s)); err != nil {
		l = slog.LevelInfo
	}
	v.Set(l)
}
