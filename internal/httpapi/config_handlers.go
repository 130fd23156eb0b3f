package httpapi

import (
	"errors"
	"net/http"
	"path/filepath"

	"projectscout-engine/internal/config"
	"projectscout-engine/internal/events"
)

type ConfigHandler struct {
	d Deps
}

func (h ConfigHandler) Get(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, config.Redacted(h.d.config()))
}

func (h ConfigHandler) Put(w http.ResponseWriter, r *http.Request) {
	var incoming config.Config
	if err := decodeStrict(w, r, &incoming, false); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	file, err := h.d.fileConfig()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	config.KeepFileValues(&incoming, file, h.d.Getenv)

	normalized, vr := config.NormalizeAndValidate(incoming)
	if !vr.OK() {
		// Structured errors so the UI can show them per field.
		WriteJSON(w, http.StatusBadRequest, vr)
		return
	}
	saved, ok := saveAndApply(w, r, h.d, normalized)
	if !ok {
		return
	}
	if h.d.Scheduler != nil {
		h.d.Scheduler.SetConfig(saved.Scheduler)
	}
	writeJSON(w, config.Redacted(saved))
}

func (h ConfigHandler) Path(w http.ResponseWriter, r *http.Request) {
	abs, _ := filepath.Abs(h.d.UserCfgPath)
	writeJSON(w, map[string]any{"path": abs})
}

func (h ConfigHandler) Validate(w http.ResponseWriter, r *http.Request) {
	_, vr := config.NormalizeAndValidate(h.d.config())
	writeJSON(w, vr)
}

// saveAndApply persists cfg, which must not carry environment overrides,
// then reloads the live config so defaults, migrations and the overlay
// apply exactly as at startup.
func saveAndApply(w http.ResponseWriter, r *http.Request, d Deps, cfg config.Config) (config.Config, bool) {
	if err := config.SaveAtomic(d.UserCfgPath, cfg); err != nil {
		if errors.Is(err, config.ErrInvalid) {
			WriteError(w, r, http.StatusBadRequest, "invalid_config", err.Error())
		} else {
			WriteError(w, r, http.StatusInternalServerError, "save_failed", err.Error())
		}
		return config.Config{}, false
	}
	saved, err := d.LoadCfg()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reload_failed", "saved but reload failed: "+err.Error())
		return config.Config{}, false
	}
	d.Cfg.Store(&saved)
	if d.OnConfig != nil {
		d.OnConfig(saved)
	}
	d.Events.Publish(r.Context(), RequestIDFrom(r.Context()), events.TypeConfigChanged, map[string]any{"path": d.UserCfgPath})
	return saved, true
}
