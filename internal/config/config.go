package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// CurrentVersion is the config schema version written by SaveAtomic.
// Version 0 files carry the single scheduler.hour/minute pair.
const CurrentVersion = 2

type DailyRun struct {
	Hour   int `yaml:"hour" json:"hour"`
	Minute int `yaml:"minute" json:"minute"`
}

func (d DailyRun) String() string { return fmt.Sprintf("%02d:%02d", d.Hour, d.Minute) }

type SchedulerConfig struct {
	Enabled      bool       `yaml:"enabled" json:"enabled"`
	DailyRuns    []DailyRun `yaml:"daily_runs" json:"dailyRuns"`
	IntervalDays int        `yaml:"interval_days" json:"intervalDays"`
	// Epoch anchors the interval; format YYYY-MM-DD.
	Epoch       string `yaml:"epoch" json:"epoch"`
	PollSeconds int    `yaml:"poll_seconds" json:"pollSeconds"`

	LegacyHour   *int `yaml:"hour,omitempty" json:"-"`
	LegacyMinute *int `yaml:"minute,omitempty" json:"-"`
}

// EpochDate parses Epoch as a calendar date in loc.
func (s SchedulerConfig) EpochDate(loc *time.Location) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s.Epoch, loc)
}

func (s SchedulerConfig) PollInterval() time.Duration {
	if s.PollSeconds <= 0 {
		return 15 * time.Second
	}
	return time.Duration(s.PollSeconds) * time.Second
}

type SMTPConfig struct {
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	From     string `yaml:"from" json:"from"`
	// ImplicitTLS dials TLS directly (port 465); otherwise STARTTLS is used.
	ImplicitTLS bool `yaml:"implicit_tls" json:"implicitTls"`
}

type IMAPCopyConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Host     string `yaml:"host" json:"host"`
	Port     int    `yaml:"port" json:"port"`
	Username string `yaml:"username" json:"username"`
	Mailbox  string `yaml:"mailbox" json:"mailbox"`
}

type Config struct {
	Version int `yaml:"version" json:"version"`

	App struct {
		Addr        string `yaml:"addr" json:"addr"`
		LogLevel    string `yaml:"log_level" json:"logLevel"`
		FrontendURL string `yaml:"frontend_url" json:"frontendUrl"`
	} `yaml:"app" json:"app"`

	Storage struct {
		Driver      string `yaml:"driver" json:"driver"`
		SQLitePath  string `yaml:"sqlite_path" json:"sqlitePath"`
		PostgresDSN string `yaml:"postgres_dsn" json:"postgresDsn"`
	} `yaml:"storage" json:"storage"`

	Crawl struct {
		Pages              []int   `yaml:"pages" json:"pages"`
		TimeoutSeconds     int     `yaml:"timeout_seconds" json:"timeoutSeconds"`
		Concurrency        int     `yaml:"concurrency" json:"concurrency"`
		RequestsPerSecond  float64 `yaml:"requests_per_second" json:"requestsPerSecond"`
		Burst              int     `yaml:"burst" json:"burst"`
		HTTPTimeoutSeconds int     `yaml:"http_timeout_seconds" json:"httpTimeoutSeconds"`
		UserAgent          string  `yaml:"user_agent" json:"userAgent"`
		APIURL             string  `yaml:"api_url" json:"apiUrl"`
		PageURL            string  `yaml:"page_url" json:"pageUrl"`
		RespectRobots      bool    `yaml:"respect_robots" json:"respectRobots"`
	} `yaml:"crawl" json:"crawl"`

	Reconcile struct {
		ActiveWindowHours int `yaml:"active_window_hours" json:"activeWindowHours"`
	} `yaml:"reconcile" json:"reconcile"`

	Scheduler SchedulerConfig `yaml:"scheduler" json:"scheduler"`

	Notify struct {
		Enabled    bool           `yaml:"enabled" json:"enabled"`
		OnSchedule bool           `yaml:"on_schedule" json:"onSchedule"`
		Recipient  string         `yaml:"recipient" json:"recipient"`
		SMTP       SMTPConfig     `yaml:"smtp" json:"smtp"`
		IMAPCopy   IMAPCopyConfig `yaml:"imap_copy" json:"imapCopy"`
	} `yaml:"notify" json:"notify"`

	Events struct {
		RedisURL string `yaml:"redis_url" json:"redisUrl"`
		Channel  string `yaml:"channel" json:"channel"`
	} `yaml:"events" json:"events"`
}

func (c Config) ActiveWindow() time.Duration {
	if c.Reconcile.ActiveWindowHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Reconcile.ActiveWindowHours) * time.Hour
}

func (c Config) CrawlTimeout() time.Duration {
	if c.Crawl.TimeoutSeconds <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.Crawl.TimeoutSeconds) * time.Second
}

// Default returns a complete config. now fixes the scheduler epoch.
func Default(now time.Time) Config {
	var cfg Config
	cfg.Version = CurrentVersion
	cfg.Scheduler.Enabled = true
	cfg.Scheduler.Epoch = now.Format("2006-01-02")
	applyDefaults(&cfg)
	return cfg
}

// Load reads path and applies defaults and legacy migrations once.
func Load(path string, now time.Time) (Config, error) {
	var cfg Config
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, err
	}
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("parse %s: %w", path, err)
	}
	if cfg.Scheduler.Epoch == "" {
		cfg.Scheduler.Epoch = epochFromFile(path, now)
	}
	migrate(&cfg)
	applyDefaults(&cfg)
	return cfg, nil
}

// The file's modification time is the best record of when it was created.
func epochFromFile(path string, now time.Time) string {
	st, err := os.Stat(path)
	if err != nil {
		return now.Format("2006-01-02")
	}
	return st.ModTime().In(now.Location()).Format("2006-01-02")
}

func migrate(cfg *Config) {
	if cfg.Version >= CurrentVersion {
		return
	}
	s := &cfg.Scheduler
	if len(s.DailyRuns) == 0 && s.LegacyHour != nil {
		run := DailyRun{Hour: *s.LegacyHour}
		if s.LegacyMinute != nil {
			run.Minute = *s.LegacyMinute
		}
		s.DailyRuns = []DailyRun{run}
		if s.IntervalDays == 0 {
			s.IntervalDays = 1
		}
	}
	s.LegacyHour, s.LegacyMinute = nil, nil
	cfg.Version = CurrentVersion
}

func applyDefaults(cfg *Config) {
	if cfg.App.Addr == "" {
		cfg.App.Addr = "127.0.0.1:38471"
	}
	if cfg.App.LogLevel == "" {
		cfg.App.LogLevel = "info"
	}
	if cfg.App.FrontendURL == "" {
		cfg.App.FrontendURL = "http://localhost:3000"
	}
	if cfg.Storage.Driver == "" {
		cfg.Storage.Driver = "sqlite"
	}
	if cfg.Storage.SQLitePath == "" {
		cfg.Storage.SQLitePath = "projectscout.db"
	}
	if len(cfg.Crawl.Pages) == 0 {
		cfg.Crawl.Pages = []int{1, 2, 3}
	}
	if cfg.Crawl.TimeoutSeconds == 0 {
		cfg.Crawl.TimeoutSeconds = 300
	}
	if cfg.Crawl.Concurrency == 0 {
		cfg.Crawl.Concurrency = 2
	}
	if cfg.Crawl.RequestsPerSecond == 0 {
		cfg.Crawl.RequestsPerSecond = 0.5
	}
	if cfg.Crawl.Burst == 0 {
		cfg.Crawl.Burst = 1
	}
	if cfg.Crawl.HTTPTimeoutSeconds == 0 {
		cfg.Crawl.HTTPTimeoutSeconds = 30
	}
	if cfg.Crawl.UserAgent == "" {
		cfg.Crawl.UserAgent = "projectscout/1.0 (+https://github.com/projectscout)"
	}
	if cfg.Crawl.APIURL == "" {
		cfg.Crawl.APIURL = "https://www.gulp.de/gulp2/rest/internal/projects/search?page={page}"
	}
	if cfg.Crawl.PageURL == "" {
		cfg.Crawl.PageURL = "https://www.gulp.de/gulp2/g/projekte?page={page}"
	}
	if cfg.Reconcile.ActiveWindowHours == 0 {
		cfg.Reconcile.ActiveWindowHours = 24
	}
	if cfg.Scheduler.DailyRuns == nil {
		cfg.Scheduler.DailyRuns = []DailyRun{{Hour: 3, Minute: 0}}
	}
	if cfg.Scheduler.IntervalDays == 0 {
		cfg.Scheduler.IntervalDays = 1
	}
	if cfg.Scheduler.PollSeconds == 0 {
		cfg.Scheduler.PollSeconds = 15
	}
	if cfg.Notify.SMTP.Port == 0 {
		cfg.Notify.SMTP.Port = 587
	}
	if cfg.Notify.IMAPCopy.Port == 0 {
		cfg.Notify.IMAPCopy.Port = 993
	}
	if cfg.Notify.IMAPCopy.Mailbox == "" {
		cfg.Notify.IMAPCopy.Mailbox = "Sent"
	}
	if cfg.Events.Channel == "" {
		cfg.Events.Channel = "projectscout:events"
	}
}
