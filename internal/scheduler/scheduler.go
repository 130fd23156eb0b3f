// Package scheduler fires scheduled scrape runs at the configured daily
// slots on every n-th day, and keeps its polling loop alive.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"projectscout-engine/internal/clock"
	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
)

// Trigger starts a scheduled run. It returns false when the run was
// skipped.
type Trigger interface {
	TriggerScheduled() bool
}

type State struct {
	Enabled         bool              `json:"enabled"`
	LoopRunning     bool              `json:"loopRunning"`
	NextDueAt       *time.Time        `json:"nextDueAt,omitempty"`
	LastTriggeredAt *time.Time        `json:"lastTriggeredAt,omitempty"`
	LastSkipped     bool              `json:"lastSkipped"`
	Restarts        int               `json:"restarts"`
	LastFault       string            `json:"lastFault,omitempty"`
	LastFaultAt     *time.Time        `json:"lastFaultAt,omitempty"`
	DailyRuns       []config.DailyRun `json:"dailyRuns"`
	IntervalDays    int               `json:"intervalDays"`
	Epoch           string            `json:"epoch"`
}

type fault struct {
	gen uint64
	err error
}

type Scheduler struct {
	trig Trigger
	clk  clock.Clock
	log  *slog.Logger

	// ctl serializes loop lifecycle changes.
	ctl sync.Mutex

	mu          sync.Mutex
	cfg         config.SchedulerConfig
	nextDue     time.Time
	lastTrig    *time.Time
	lastSkipped bool
	restarts    int
	lastFault   error
	lastFaultAt *time.Time

	parent     context.Context
	stopSuper  context.CancelFunc
	superDone  chan struct{}
	gen        uint64
	loopCancel context.CancelFunc
	loopDone   chan struct{}

	// loops counts live polling loops.
	loops   atomic.Int32
	faults  chan fault
	backoff time.Duration
	// pollEvery overrides cfg.PollInterval when set.
	pollEvery time.Duration
}

func New(cfg config.SchedulerConfig, trig Trigger, clk clock.Clock, log *slog.Logger) *Scheduler {
	if clk == nil {
		clk = clock.Real{}
	}
	if log == nil {
		log = slog.Default()
	}
	s := &Scheduler{
		trig:    trig,
		clk:     clk,
		log:     log.With("component", "scheduler"),
		cfg:     cfg,
		faults:  make(chan fault, 4),
		backoff: 2 * time.Second,
	}
	s.nextDue = ComputeNextDue(cfg, clk.Now())
	return s
}

// Start launches the polling loop and its supervisor. It is a no-op when
// already started.
func (s *Scheduler) Start(ctx context.Context) {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.stopSuper != nil {
		return
	}
	sctx, cancel := context.WithCancel(ctx)
	s.parent = sctx
	s.stopSuper = cancel
	s.superDone = make(chan struct{})
	s.startLoopLocked()
	go s.supervise(sctx, s.superDone)

	st := s.State()
	s.log.Info("scheduler started", "enabled", st.Enabled, "next_due", fmtDue(st.NextDueAt))
}

// Stop ends the loop and the supervisor and waits for both.
func (s *Scheduler) Stop() {
	s.ctl.Lock()
	stop, done := s.stopSuper, s.superDone
	s.stopSuper = nil
	s.ctl.Unlock()
	if stop == nil {
		return
	}
	// The supervisor may be waiting on ctl; let it see the cancel first.
	stop()
	<-done

	s.ctl.Lock()
	s.stopLoopLocked()
	s.ctl.Unlock()
	s.log.Info("scheduler stopped")
}

// Restart replaces the polling loop with a fresh one. Calling it any number
// of times leaves exactly one loop running.
func (s *Scheduler) Restart() {
	s.ctl.Lock()
	defer s.ctl.Unlock()
	if s.stopSuper == nil {
		return
	}
	s.stopLoopLocked()
	s.mu.Lock()
	s.nextDue = ComputeNextDue(s.cfg, s.clk.Now())
	s.mu.Unlock()
	s.startLoopLocked()
	s.log.Info("scheduler restarted")
}

// SetConfig swaps the schedule and recomputes the next due time. A new
// poll interval takes effect by restarting the loop.
func (s *Scheduler) SetConfig(cfg config.SchedulerConfig) {
	s.mu.Lock()
	pollChanged := s.cfg.PollInterval() != cfg.PollInterval()
	s.cfg = cfg
	s.nextDue = ComputeNextDue(cfg, s.clk.Now())
	next := s.nextDue
	s.mu.Unlock()

	s.log.Info("schedule updated", "enabled", cfg.Enabled, "runs", len(cfg.DailyRuns),
		"interval_days", cfg.IntervalDays, "next_due", fmtDue(timePtr(next)))
	if pollChanged {
		s.Restart()
	}
}

func (s *Scheduler) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := State{
		Enabled:         s.cfg.Enabled,
		LoopRunning:     s.loops.Load() > 0,
		LastTriggeredAt: s.lastTrig,
		LastSkipped:     s.lastSkipped,
		Restarts:        s.restarts,
		LastFaultAt:     s.lastFaultAt,
		DailyRuns:       append([]config.DailyRun{}, s.cfg.DailyRuns...),
		IntervalDays:    s.cfg.IntervalDays,
		Epoch:           s.cfg.Epoch,
	}
	if s.cfg.Enabled {
		st.NextDueAt = timePtr(s.nextDue)
	}
	if s.lastFault != nil {
		st.LastFault = s.lastFault.Error()
	}
	return st
}

func (s *Scheduler) startLoopLocked() {
	ctx, cancel := context.WithCancel(s.parent)
	done := make(chan struct{})
	s.mu.Lock()
	s.gen++
	gen := s.gen
	s.loopCancel = cancel
	s.loopDone = done
	s.mu.Unlock()
	s.loops.Add(1)
	go s.loop(ctx, gen, done)
}

func (s *Scheduler) stopLoopLocked() {
	s.mu.Lock()
	cancel, done := s.loopCancel, s.loopDone
	// Bump gen so a fault racing with this stop is ignored.
	s.gen++
	s.mu.Unlock()
	if cancel != nil {
		cancel()
		<-done
	}
}

// supervise restarts the loop after it faults.
func (s *Scheduler) supervise(ctx context.Context, done chan struct{}) {
	defer close(done)
	for {
		select {
		case <-ctx.Done():
			return
		case f := <-s.faults:
			s.mu.Lock()
			stale := f.gen != s.gen
			if !stale {
				now := s.clk.Now()
				s.restarts++
				s.lastFault = f.err
				s.lastFaultAt = &now
			}
			s.mu.Unlock()
			if stale {
				continue
			}
			s.log.Error("scheduler loop fault, restarting", "err", f.err, "backoff", s.backoff)

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.backoff):
			}

			s.ctl.Lock()
			s.mu.Lock()
			current := f.gen == s.gen
			s.mu.Unlock()
			if current && ctx.Err() == nil {
				s.startLoopLocked()
			}
			s.ctl.Unlock()
		}
	}
}

func (s *Scheduler) loop(ctx context.Context, gen uint64, done chan struct{}) {
	defer close(done)
	defer s.loops.Add(-1)
	defer func() {
		var err error
		if rec := recover(); rec != nil {
			err = fmt.Errorf("%w: panic: %v", domain.ErrSchedulerLoopFault, rec)
		} else if ctx.Err() == nil {
			err = fmt.Errorf("%w: loop exited", domain.ErrSchedulerLoopFault)
		}
		if err != nil {
			select {
			case s.faults <- fault{gen: gen, err: err}:
			default:
				s.log.Error("fault channel full", "err", err)
			}
		}
	}()

	t := time.NewTicker(s.pollInterval())
	defer t.Stop()

	s.tick()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.tick()
		}
	}
}

// tick fires the trigger when the next due time has passed.
func (s *Scheduler) tick() {
	now := s.clk.Now()
	s.mu.Lock()
	if s.cfg.Enabled && s.nextDue.IsZero() && len(s.cfg.DailyRuns) > 0 {
		s.nextDue = ComputeNextDue(s.cfg, now)
	}
	if !s.cfg.Enabled || s.nextDue.IsZero() || now.Before(s.nextDue) {
		s.mu.Unlock()
		return
	}
	due := s.nextDue
	s.nextDue = ComputeNextDue(s.cfg, now)
	next := s.nextDue
	s.lastTrig = &now
	s.mu.Unlock()

	s.log.Info("scheduled run due", "due", due, "late", now.Sub(due).Round(time.Second), "next_due", fmtDue(timePtr(next)))
	started := s.trig.TriggerScheduled()

	s.mu.Lock()
	s.lastSkipped = !started
	s.mu.Unlock()
}

func (s *Scheduler) pollInterval() time.Duration {
	if s.pollEvery > 0 {
		return s.pollEvery
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.PollInterval()
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func fmtDue(t *time.Time) string {
	if t == nil {
		return "never"
	}
	return t.Format(time.RFC3339)
}
