package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps the validation errors that stopped SaveAtomic.
var ErrInvalid = errors.New("config validation failed")

// SaveAtomic validates cfg and replaces path with it, keeping the previous
// file as path.bak.
func SaveAtomic(path string, cfg Config) error {
	norm, v := NormalizeAndValidate(cfg)
	if !v.OK() {
		return errors.Join(ErrInvalid, errors.New("- "+strings.Join(v.Errors, "\n- ")))
	}
	norm.Version = CurrentVersion

	b, err := yaml.Marshal(&norm)
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	tmp := path + ".tmp"
	bak := path + ".bak"

	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}

	_ = os.Remove(bak)
	_ = os.Rename(path, bak)

	return os.Rename(tmp, path)
}
