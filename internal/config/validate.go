package config

import (
	"fmt"
	"net"
	"net/url"
	"slices"
	"strings"
	"time"
)

type Validation struct {
	Errors   []string `json:"errors"`
	Warnings []string `json:"warnings"`
}

func (v *Validation) addErr(format string, args ...any) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}
func (v *Validation) addWarn(format string, args ...any) {
	v.Warnings = append(v.Warnings, fmt.Sprintf(format, args...))
}
func (v Validation) OK() bool { return len(v.Errors) == 0 }

// NormalizeAndValidate returns a normalized copy of cfg together with
// everything wrong with it.
func NormalizeAndValidate(cfg Config) (Config, Validation) {
	var out = cfg
	var res Validation

	out.Storage.Driver = strings.ToLower(strings.TrimSpace(out.Storage.Driver))
	out.Notify.Recipient = strings.TrimSpace(out.Notify.Recipient)
	out.Crawl.Pages = normalizePages(out.Crawl.Pages)
	out.Scheduler = normalizeScheduler(out.Scheduler)

	if _, _, err := net.SplitHostPort(out.App.Addr); err != nil {
		res.addErr("app.addr %q: %v", out.App.Addr, err)
	}
	switch out.App.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		res.addErr("app.log_level must be one of debug, info, warn, error")
	}

	// storage
	switch out.Storage.Driver {
	case "sqlite":
		if strings.TrimSpace(out.Storage.SQLitePath) == "" {
			res.addErr("storage.sqlite_path is required when storage.driver=sqlite")
		}
	case "postgres":
		if strings.TrimSpace(out.Storage.PostgresDSN) == "" {
			res.addErr("storage.postgres_dsn is required when storage.driver=postgres")
		}
	default:
		res.addErr("storage.driver must be sqlite or postgres, got %q", out.Storage.Driver)
	}

	// crawl
	if len(out.Crawl.Pages) == 0 {
		res.addErr("crawl.pages must list at least one page >= 1")
	} else if len(out.Crawl.Pages) > 20 {
		res.addWarn("crawl.pages has %d entries; large crawls are more likely to be blocked.", len(out.Crawl.Pages))
	}
	if out.Crawl.TimeoutSeconds <= 0 {
		res.addErr("crawl.timeout_seconds must be > 0")
	}
	if out.Crawl.Concurrency <= 0 {
		res.addErr("crawl.concurrency must be > 0")
	}
	if out.Crawl.RequestsPerSecond <= 0 {
		res.addErr("crawl.requests_per_second must be > 0")
	} else if out.Crawl.RequestsPerSecond > 5 {
		res.addWarn("crawl.requests_per_second is high (%.1f) and may get the engine blocked.", out.Crawl.RequestsPerSecond)
	}
	if out.Crawl.Burst <= 0 {
		res.addErr("crawl.burst must be > 0")
	}
	if out.Crawl.HTTPTimeoutSeconds > out.Crawl.TimeoutSeconds && out.Crawl.TimeoutSeconds > 0 {
		res.addWarn("crawl.http_timeout_seconds exceeds crawl.timeout_seconds; the run timeout wins.")
	}
	if out.Crawl.APIURL == "" && out.Crawl.PageURL == "" {
		res.addErr("crawl.api_url or crawl.page_url is required")
	}
	for name, raw := range map[string]string{"crawl.api_url": out.Crawl.APIURL, "crawl.page_url": out.Crawl.PageURL} {
		if raw == "" {
			continue
		}
		if !strings.Contains(raw, "{page}") {
			res.addErr("%s must contain the {page} placeholder", name)
		}
		u, err := url.Parse(strings.ReplaceAll(raw, "{page}", "1"))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			res.addErr("%s is not an absolute http(s) URL", name)
		}
	}

	if out.Reconcile.ActiveWindowHours <= 0 {
		res.addErr("reconcile.active_window_hours must be > 0")
	}

	validateScheduler(out.Scheduler, &res)

	// notify (passwords live in the keychain, not here)
	if out.Notify.Enabled {
		if out.Notify.Recipient == "" {
			res.addErr("notify.recipient is required when notify.enabled=true")
		} else if !strings.Contains(out.Notify.Recipient, "@") {
			res.addErr("notify.recipient %q is not an email address", out.Notify.Recipient)
		}
		if strings.TrimSpace(out.Notify.SMTP.Host) == "" {
			res.addErr("notify.smtp.host is required when notify.enabled=true")
		}
		if out.Notify.SMTP.Port <= 0 || out.Notify.SMTP.Port > 65535 {
			res.addErr("notify.smtp.port must be 1..65535")
		}
		if out.Notify.SMTP.From == "" {
			res.addWarn("notify.smtp.from is empty; smtp.username will be used as sender.")
		}
		if out.Notify.IMAPCopy.Enabled && strings.TrimSpace(out.Notify.IMAPCopy.Host) == "" {
			res.addErr("notify.imap_copy.host is required when notify.imap_copy.enabled=true")
		}
	} else if out.Notify.OnSchedule {
		res.addWarn("notify.on_schedule is set but notify.enabled is false; no mail will be sent.")
	}

	if out.Events.RedisURL != "" {
		if _, err := url.Parse(out.Events.RedisURL); err != nil {
			res.addErr("events.redis_url: %v", err)
		}
	}

	return out, res
}

// ValidateScheduler checks only the scheduler section.
func ValidateScheduler(s SchedulerConfig) (SchedulerConfig, Validation) {
	var res Validation
	s = normalizeScheduler(s)
	validateScheduler(s, &res)
	return s, res
}

func validateScheduler(s SchedulerConfig, res *Validation) {
	if s.IntervalDays < 1 {
		res.addErr("scheduler.interval_days must be >= 1")
	}
	if _, err := s.EpochDate(time.UTC); err != nil {
		res.addErr("scheduler.epoch must be a YYYY-MM-DD date")
	}
	for i, r := range s.DailyRuns {
		if r.Hour < 0 || r.Hour > 23 {
			res.addErr("scheduler.daily_runs[%d].hour must be 0..23", i)
		}
		if r.Minute < 0 || r.Minute > 59 {
			res.addErr("scheduler.daily_runs[%d].minute must be 0..59", i)
		}
	}
	if s.Enabled && len(s.DailyRuns) == 0 {
		res.addWarn("scheduler is enabled but has no daily_runs; it will never fire.")
	}
	if s.PollSeconds <= 0 {
		res.addErr("scheduler.poll_seconds must be > 0")
	} else if s.PollSeconds > 300 {
		res.addWarn("scheduler.poll_seconds is %d; runs may start up to that late.", s.PollSeconds)
	}
}

func normalizeScheduler(s SchedulerConfig) SchedulerConfig {
	runs := slices.Clone(s.DailyRuns)
	slices.SortFunc(runs, func(a, b DailyRun) int {
		return (a.Hour*60 + a.Minute) - (b.Hour*60 + b.Minute)
	})
	s.DailyRuns = slices.Compact(runs)
	if s.DailyRuns == nil {
		s.DailyRuns = []DailyRun{}
	}
	s.Epoch = strings.TrimSpace(s.Epoch)
	return s
}

func normalizePages(pages []int) []int {
	out := make([]int, 0, len(pages))
	for _, p := range pages {
		if p >= 1 {
			out = append(out, p)
		}
	}
	slices.Sort(out)
	return slices.Compact(out)
}
