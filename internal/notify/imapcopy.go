package notify

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"strconv"
	"time"

	"github.com/emersion/go-imap/v2"
	"github.com/emersion/go-imap/v2/imapclient"

	"projectscout-engine/internal/config"
)

// dialAndLoginIMAP connects over TLS and logs in.
func dialAndLoginIMAP(ctx context.Context, addr, username, password string, tlsCfg *tls.Config) (*imapclient.Client, error) {
	if username == "" || password == "" {
		return nil, errors.New("imap username/password is required")
	}

	c, err := imapclient.DialTLS(addr, &imapclient.Options{TLSConfig: tlsCfg})
	if err != nil {
		return nil, fmt.Errorf("imap dial tls: %w", err)
	}

	// Best-effort close on context cancel.
	stop := context.AfterFunc(ctx, func() { _ = c.Close() })

	if err := c.Login(username, password).Wait(); err != nil {
		stop()
		_ = c.Close()
		return nil, fmt.Errorf("imap login: %w", err)
	}
	return c, nil
}

func logoutAndClose(c *imapclient.Client, log *slog.Logger) {
	if err := c.Logout().Wait(); err != nil {
		log.Debug("imap logout", "err", err)
	}
	_ = c.Close()
}

// appendSentCopy stores msg in the configured mailbox, flagged \Seen.
func appendSentCopy(ctx context.Context, cfg config.IMAPCopyConfig, password string, msg []byte, at time.Time, log *slog.Logger) error {
	addr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	c, err := dialAndLoginIMAP(ctx, addr, cfg.Username, password, &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: cfg.Host,
	})
	if err != nil {
		return err
	}
	defer logoutAndClose(c, log)

	cmd := c.Append(cfg.Mailbox, int64(len(msg)), &imap.AppendOptions{
		Flags: []imap.Flag{imap.FlagSeen},
		Time:  at,
	})
	if _, err := cmd.Write(msg); err != nil {
		_ = cmd.Close()
		return fmt.Errorf("imap append write: %w", err)
	}
	if err := cmd.Close(); err != nil {
		return fmt.Errorf("imap append close: %w", err)
	}
	if _, err := cmd.Wait(); err != nil {
		return fmt.Errorf("imap append %s: %w", cfg.Mailbox, err)
	}
	return nil
}
