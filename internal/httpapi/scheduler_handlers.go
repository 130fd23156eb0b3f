package httpapi

import (
	"net/http"

	"projectscout-engine/internal/config"
	"projectscout-engine/internal/events"
)

type SchedulerHandler struct {
	d Deps
}

func (h SchedulerHandler) GetConfig(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.d.config().Scheduler)
}

// PutConfig validates, persists and applies a new schedule.
func (h SchedulerHandler) PutConfig(w http.ResponseWriter, r *http.Request) {
	var incoming config.SchedulerConfig
	if err := decodeStrict(w, r, &incoming, false); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	normalized, vr := config.ValidateScheduler(incoming)
	if !vr.OK() {
		WriteJSON(w, http.StatusBadRequest, vr)
		return
	}

	next, err := h.d.fileConfig()
	if err != nil {
		WriteError(w, r, http.StatusInternalServerError, "reload_failed", err.Error())
		return
	}
	next.Scheduler = normalized
	saved, ok := saveAndApply(w, r, h.d, next)
	if !ok {
		return
	}
	h.d.Scheduler.SetConfig(saved.Scheduler)

	st := h.d.Scheduler.State()
	h.d.Events.Publish(r.Context(), RequestIDFrom(r.Context()), events.TypeSchedulerState, st)
	writeJSON(w, map[string]any{"config": saved.Scheduler, "state": st, "warnings": vr.Warnings})
}

func (h SchedulerHandler) Restart(w http.ResponseWriter, r *http.Request) {
	h.d.Scheduler.Restart()
	st := h.d.Scheduler.State()
	h.d.Events.Publish(r.Context(), RequestIDFrom(r.Context()), events.TypeSchedulerState, st)
	writeJSON(w, st)
}

func (h SchedulerHandler) Status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, h.d.Scheduler.State())
}
