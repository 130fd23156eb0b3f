package config

import (
	"net/url"
	"os"
	"strconv"
)

// envVar binds one environment variable to a config field. Exactly one of
// str and num is set.
type envVar struct {
	key string
	str func(*Config) *string
	num func(*Config) *int
}

// The SMTP variables keep the names older deployments already export.
var envVars = []envVar{
	{key: "PROJECTSCOUT_ADDR", str: func(c *Config) *string { return &c.App.Addr }},
	{key: "PROJECTSCOUT_LOG_LEVEL", str: func(c *Config) *string { return &c.App.LogLevel }},
	{key: "FRONTEND_URL", str: func(c *Config) *string { return &c.App.FrontendURL }},

	{key: "PROJECTSCOUT_STORAGE_DRIVER", str: func(c *Config) *string { return &c.Storage.Driver }},
	{key: "DATABASE_URL", str: func(c *Config) *string { return &c.Storage.PostgresDSN }},

	{key: "SMTP_HOST", str: func(c *Config) *string { return &c.Notify.SMTP.Host }},
	{key: "SMTP_PORT", num: func(c *Config) *int { return &c.Notify.SMTP.Port }},
	{key: "SMTP_USER", str: func(c *Config) *string { return &c.Notify.SMTP.Username }},
	{key: "EMAIL_SENDER", str: func(c *Config) *string { return &c.Notify.SMTP.From }},
	{key: "NOTIFY_RECIPIENT", str: func(c *Config) *string { return &c.Notify.Recipient }},

	{key: "REDIS_URL", str: func(c *Config) *string { return &c.Events.RedisURL }},
}

// OverlayEnv applies environment overrides on top of the file config.
func OverlayEnv(cfg *Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, ev := range envVars {
		v := getenv(ev.key)
		if v == "" {
			continue
		}
		if ev.str != nil {
			*ev.str(cfg) = v
		} else if n, err := strconv.Atoi(v); err == nil {
			*ev.num(cfg) = n
		}
	}
}

// KeepFileValues prepares cfg for writing back to disk. Fields currently
// overridden from the environment take their value from file, and a
// redacted connection string sent back by a client is replaced with the
// real one from file.
func KeepFileValues(cfg *Config, file Config, getenv func(string) string) {
	if getenv == nil {
		getenv = os.Getenv
	}
	for _, ev := range envVars {
		if getenv(ev.key) == "" {
			continue
		}
		if ev.str != nil {
			*ev.str(cfg) = *ev.str(&file)
		} else {
			*ev.num(cfg) = *ev.num(&file)
		}
	}
	if cfg.Storage.PostgresDSN != "" && cfg.Storage.PostgresDSN == redactURL(file.Storage.PostgresDSN) {
		cfg.Storage.PostgresDSN = file.Storage.PostgresDSN
	}
	if cfg.Events.RedisURL != "" && cfg.Events.RedisURL == redactURL(file.Events.RedisURL) {
		cfg.Events.RedisURL = file.Events.RedisURL
	}
}

// Redacted returns cfg with passwords masked in connection strings.
func Redacted(cfg Config) Config {
	cfg.Storage.PostgresDSN = redactURL(cfg.Storage.PostgresDSN)
	cfg.Events.RedisURL = redactURL(cfg.Events.RedisURL)
	return cfg
}

// redactURL masks the password of a URL-form DSN. Anything that does not
// parse as a URL with a scheme could be a key=value DSN carrying a password,
// so it is masked whole.
func redactURL(s string) string {
	if s == "" {
		return ""
	}
	u, err := url.Parse(s)
	if err != nil || u.Scheme == "" {
		return "xxxxx"
	}
	return u.Redacted()
}
