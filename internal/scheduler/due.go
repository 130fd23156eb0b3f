package scheduler

import (
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"projectscout-engine/internal/config"
)

// ComputeNextDue returns the earliest configured slot strictly after now on
// a day d with daysSince(epoch, d) % IntervalDays == 0. Slots are read in
// now's location. It returns the zero time when nothing can ever be due.
func ComputeNextDue(cfg config.SchedulerConfig, now time.Time) time.Time {
	if len(cfg.DailyRuns) == 0 {
		return time.Time{}
	}
	interval := max(cfg.IntervalDays, 1)
	loc := now.Location()
	epoch, err := cfg.EpochDate(loc)
	if err != nil {
		return time.Time{}
	}

	slots := make([]cron.Schedule, 0, len(cfg.DailyRuns))
	for _, r := range cfg.DailyRuns {
		sched, err := cron.ParseStandard(fmt.Sprintf("%d %d * * *", r.Minute, r.Hour))
		if err != nil {
			continue
		}
		slots = append(slots, sched)
	}
	if len(slots) == 0 {
		return time.Time{}
	}

	// DST gaps can drop a slot on a matching day; a year of matching days
	// always contains one where it exists.
	today := midnight(now)
	for i := 0; i <= 366*interval; i++ {
		day := today.AddDate(0, 0, i)
		if mod(daysBetween(epoch, day), interval) != 0 {
			continue
		}
		var best time.Time
		for _, sched := range slots {
			t := sched.Next(day.Add(-time.Second))
			if !midnight(t).Equal(day) {
				// slot does not exist on this day (DST gap)
				continue
			}
			if t.After(now) && (best.IsZero() || t.Before(best)) {
				best = t
			}
		}
		if !best.IsZero() {
			return best
		}
	}
	return time.Time{}
}

func midnight(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

// daysBetween counts calendar days from a to b, ignoring DST shifts.
func daysBetween(a, b time.Time) int {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	ua := time.Date(ay, am, ad, 12, 0, 0, 0, time.UTC)
	ub := time.Date(by, bm, bd, 12, 0, 0, 0, time.UTC)
	return int(ub.Sub(ua).Hours() / 24)
}

func mod(a, n int) int { return ((a % n) + n) % n }
