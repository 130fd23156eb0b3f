package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/scrape"
)

type ScrapeHandler struct {
	d Deps
}

type runReq struct {
	Pages  []int `json:"pages"`
	Notify bool  `json:"notify"`
	Wait   bool  `json:"wait"`
}

// Run starts a manual scrape. Without wait it answers 202 with the running
// snapshot; with wait it answers once the run has finished.
func (h ScrapeHandler) Run(w http.ResponseWriter, r *http.Request) {
	var req runReq
	if err := decodeStrict(w, r, &req, true); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	for _, p := range req.Pages {
		if p < 1 {
			WriteError(w, r, http.StatusBadRequest, "bad_request", "pages must be >= 1")
			return
		}
	}
	spec := domain.PageSpec{Pages: req.Pages}
	ctx := scrape.WithRequestID(r.Context(), RequestIDFrom(r.Context()))

	if !req.Wait {
		run, err := h.d.Coordinator.TriggerManual(ctx, spec, req.Notify)
		if err != nil {
			WriteDomainError(w, r, err)
			return
		}
		WriteJSON(w, http.StatusAccepted, map[string]any{"ok": true, "run": run})
		return
	}

	run, err := h.d.Coordinator.RunManualSync(ctx, spec, req.Notify)
	switch {
	case errors.Is(err, domain.ErrAlreadyRunning):
		WriteDomainError(w, r, err)
	case run.ID == "":
		WriteDomainError(w, r, err)
	default:
		// A failed run is still a completed request; the run carries the kind.
		writeJSON(w, map[string]any{"ok": run.Status == domain.RunSucceeded, "run": run})
	}
}

func (h ScrapeHandler) Status(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 500*time.Millisecond)
	defer cancel()
	h.d.Coordinator.RefreshCounts(ctx)
	writeJSON(w, h.d.Coordinator.Status())
}

func (h ScrapeHandler) Runs(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	runs, err := h.d.Store.ListRuns(r.Context(), limit)
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, runs)
}
