package config

import (
	"errors"
	"os"
	"path/filepath"
	"time"
)

// EnsureUserConfig returns the path of config.yml in dataDir, writing a
// default one first if none exists.
func EnsureUserConfig(dataDir string, now time.Time) (string, error) {
	userPath := filepath.Join(dataDir, "config.yml")

	_, err := os.Stat(userPath)
	if err == nil {
		return userPath, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}

	if err := SaveAtomic(userPath, Default(now)); err != nil {
		return "", err
	}
	return userPath, nil
}

// ResolvePath makes p absolute relative to dataDir.
func ResolvePath(dataDir, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(dataDir, p)
}
