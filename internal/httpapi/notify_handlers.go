package httpapi

import (
	"net/http"

	"projectscout-engine/internal/domain"
)

type NotifyHandler struct {
	d Deps
}

// Test mails the newest active listings (or a placeholder when there are
// none) to the configured recipient.
func (h NotifyHandler) Test(w http.ResponseWriter, r *http.Request) {
	cfg := h.d.config()
	n := h.d.Notifier(cfg)
	if n == nil || !n.Configured() {
		WriteError(w, r, http.StatusBadRequest, "not_configured",
			"notifications are not configured (notify.enabled, smtp host and password required)")
		return
	}
	if cfg.Notify.Recipient == "" {
		WriteError(w, r, http.StatusBadRequest, "not_configured", "notify.recipient is empty")
		return
	}

	page, err := h.d.Store.Query(r.Context(), domain.Filter{
		Partition: domain.PartitionActive,
		Window:    cfg.ActiveWindow(),
		Limit:     5,
	}, h.d.now())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	listings := page.Data
	if len(listings) == 0 {
		now := h.d.now()
		listings = []domain.Listing{{
			ListingDraft: domain.ListingDraft{
				ID:    "test",
				Title: "Testbenachrichtigung",
				URL:   cfg.App.FrontendURL,
			},
			FirstSeenAt: now,
			LastSeenAt:  now,
			IsActive:    true,
		}}
	}

	if err := n.Send(r.Context(), listings, cfg.Notify.Recipient); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "sent": len(listings), "to": cfg.Notify.Recipient})
}
