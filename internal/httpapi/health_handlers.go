package httpapi

import (
	"context"
	"net/http"
	"time"
)

type HealthHandler struct {
	d Deps
}

func (h HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	body := map[string]any{
		"ok":      true,
		"time":    h.d.now().Format(time.RFC3339),
		"running": h.d.Coordinator.Status().IsRunning,
	}
	if err := h.d.Store.Ping(ctx); err != nil {
		body["ok"] = false
		body["storage"] = err.Error()
		WriteJSON(w, http.StatusServiceUnavailable, body)
		return
	}
	writeJSON(w, body)
}
