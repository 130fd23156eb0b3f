// Package notify mails new listings to the configured recipient.
package notify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/secrets"
)

// PasswordFunc resolves a secret for a keychain account and env fallback.
type PasswordFunc func(account, envKey string) (string, error)

type Options struct {
	SMTP        config.SMTPConfig
	IMAPCopy    config.IMAPCopyConfig
	FrontendURL string
	// Enabled mirrors notify.enabled.
	Enabled bool
	// SMTPAccount and IMAPAccount are keychain account names.
	SMTPAccount string
	IMAPAccount string
}

// OptionsFromConfig builds mailer options from the engine config.
func OptionsFromConfig(cfg config.Config) Options {
	return Options{
		SMTP:        cfg.Notify.SMTP,
		IMAPCopy:    cfg.Notify.IMAPCopy,
		FrontendURL: cfg.App.FrontendURL,
		Enabled:     cfg.Notify.Enabled,
		SMTPAccount: secrets.SMTPAccount(cfg),
		IMAPAccount: secrets.IMAPAccount(cfg),
	}
}

type Mailer struct {
	opts     Options
	password PasswordFunc
	log      *slog.Logger
	now      func() time.Time

	// send is swapped in tests.
	send func(ctx context.Context, cfg config.SMTPConfig, password, from, to string, msg []byte) error
}

func NewMailer(opts Options, password PasswordFunc, log *slog.Logger) *Mailer {
	if password == nil {
		password = secrets.Password
	}
	if log == nil {
		log = slog.Default()
	}
	return &Mailer{opts: opts, password: password, log: log, now: time.Now, send: sendSMTP}
}

// Configured reports whether Send can possibly succeed.
func (m *Mailer) Configured() bool {
	if !m.opts.Enabled || strings.TrimSpace(m.opts.SMTP.Host) == "" || m.opts.SMTP.Port == 0 {
		return false
	}
	if m.opts.SMTP.Username == "" {
		return true
	}
	_, err := m.password(m.opts.SMTPAccount, secrets.EnvSMTPPassword)
	return err == nil
}

func (m *Mailer) sender() string {
	if m.opts.SMTP.From != "" {
		return m.opts.SMTP.From
	}
	return m.opts.SMTP.Username
}

// Send mails one digest of listings to recipient. Every failure wraps
// domain.ErrNotifier. The IMAP sent-copy is best effort.
func (m *Mailer) Send(ctx context.Context, listings []domain.Listing, recipient string) error {
	if len(listings) == 0 {
		return nil
	}
	if !m.opts.Enabled {
		return fmt.Errorf("%w: notifications disabled", domain.ErrNotifier)
	}
	if recipient == "" {
		return fmt.Errorf("%w: no recipient", domain.ErrNotifier)
	}

	var pw string
	if m.opts.SMTP.Username != "" {
		var err error
		if pw, err = m.password(m.opts.SMTPAccount, secrets.EnvSMTPPassword); err != nil {
			return fmt.Errorf("%w: %v", domain.ErrNotifier, err)
		}
	}

	at := m.now()
	msg, err := BuildMessage(m.sender(), recipient, Digest{
		Listings:    listings,
		ScanTime:    at,
		FrontendURL: m.opts.FrontendURL,
	})
	if err != nil {
		return fmt.Errorf("%w: compose: %v", domain.ErrNotifier, err)
	}

	ctx, cancel := context.WithTimeout(ctx, time.Minute)
	defer cancel()
	if err := m.send(ctx, m.opts.SMTP, pw, addrOnly(m.sender()), addrOnly(recipient), msg); err != nil {
		return fmt.Errorf("%w: %v", domain.ErrNotifier, err)
	}
	m.log.Info("notification sent", "to", recipient, "listings", len(listings))

	if m.opts.IMAPCopy.Enabled {
		if err := m.copyToSent(ctx, msg, at); err != nil {
			m.log.Warn("imap sent-copy failed", "err", err)
		}
	}
	return nil
}

func (m *Mailer) copyToSent(ctx context.Context, msg []byte, at time.Time) error {
	pw, err := m.password(m.opts.IMAPAccount, secrets.EnvIMAPPassword)
	if err != nil {
		return err
	}
	return appendSentCopy(ctx, m.opts.IMAPCopy, pw, msg, at, m.log)
}

// addrOnly strips a display name: "Scout <a@b>" -> "a@b".
func addrOnly(s string) string {
	if i := strings.LastIndex(s, "<"); i >= 0 {
		if j := strings.LastIndex(s, ">"); j > i {
			return strings.TrimSpace(s[i+1 : j])
		}
	}
	return strings.TrimSpace(s)
}

// ErrNotConfigured is returned by test sends when SMTP is incomplete.
var ErrNotConfigured = errors.New("notifications are not configured")
