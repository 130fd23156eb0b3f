package secrets

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/zalando/go-keyring"

	"projectscout-engine/internal/config"
)

// KeyringService groups the engine's secrets in the OS keychain.
const KeyringService = "projectscout"

// Environment fallbacks, for headless hosts without a keychain.
const (
	EnvSMTPPassword = "SMTP_PASSWORD"
	EnvIMAPPassword = "PROJECTSCOUT_IMAP_PASSWORD"
)

var ErrNoPassword = errors.New("password not found (set it in keychain or via env)")

// Password looks up account in the keychain first, then envKey.
func Password(account, envKey string) (string, error) {
	if strings.TrimSpace(account) != "" {
		pw, err := keyring.Get(KeyringService, account)
		if err == nil && strings.TrimSpace(pw) != "" {
			return pw, nil
		}
	}
	if envKey != "" {
		if pw := os.Getenv(envKey); strings.TrimSpace(pw) != "" {
			return pw, nil
		}
	}
	return "", fmt.Errorf("%s: %w", account, ErrNoPassword)
}

func SetPassword(account, password string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	if strings.TrimSpace(password) == "" {
		return errors.New("password is empty")
	}
	return keyring.Set(KeyringService, account, password)
}

func DeletePassword(account string) error {
	if strings.TrimSpace(account) == "" {
		return errors.New("keyring account name is empty")
	}
	err := keyring.Delete(KeyringService, account)
	if errors.Is(err, keyring.ErrNotFound) {
		return nil
	}
	return err
}

func SMTPAccount(cfg config.Config) string {
	return fmt.Sprintf("projectscout:smtp:%s@%s", cfg.Notify.SMTP.Username, cfg.Notify.SMTP.Host)
}

func IMAPAccount(cfg config.Config) string {
	return fmt.Sprintf("projectscout:imap:%s@%s", cfg.Notify.IMAPCopy.Username, cfg.Notify.IMAPCopy.Host)
}
