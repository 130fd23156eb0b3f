package httpapi

import (
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"projectscout-engine/internal/domain"
)

type ListingsHandler struct {
	d Deps
}

func (h ListingsHandler) Active(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domain.PartitionActive)
}

func (h ListingsHandler) Archive(w http.ResponseWriter, r *http.Request) {
	h.list(w, r, domain.PartitionArchived)
}

func (h ListingsHandler) list(w http.ResponseWriter, r *http.Request, p domain.Partition) {
	f, err := parseFilter(r.URL.Query())
	if err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", err.Error())
		return
	}
	f.Partition = p
	f.Window = h.d.config().ActiveWindow()

	page, err := h.d.Store.Query(r.Context(), f, h.d.now())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, page)
}

func parseFilter(q url.Values) (domain.Filter, error) {
	f := domain.Filter{
		Search:   strings.TrimSpace(q.Get("search")),
		Location: strings.TrimSpace(q.Get("location")),
	}
	if v := strings.TrimSpace(q.Get("remote")); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return f, fmt.Errorf("remote must be true or false")
		}
		f.Remote = &b
	}
	var err error
	if f.Page, err = intParam(q, "page"); err != nil {
		return f, err
	}
	if f.Limit, err = intParam(q, "limit"); err != nil {
		return f, err
	}
	return f, nil
}

func intParam(q url.Values, key string) (int, error) {
	v := strings.TrimSpace(q.Get(key))
	if v == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%s must be a non-negative integer", key)
	}
	return n, nil
}

// GetByPath serves /listings/{id}.
func (h ListingsHandler) GetByPath(w http.ResponseWriter, r *http.Request) {
	id, err := url.PathUnescape(strings.TrimPrefix(r.URL.Path, "/listings/"))
	if err != nil || strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid id")
		return
	}
	l, err := h.d.Store.Get(r.Context(), id, h.d.now(), h.d.config().ActiveWindow())
	if err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, l)
}

func (h ListingsHandler) New(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]any{"ids": h.d.Coordinator.NewIDs()})
}

type markSeenReq struct {
	IDs []string `json:"ids"`
}

func (h ListingsHandler) MarkSeen(w http.ResponseWriter, r *http.Request) {
	var req markSeenReq
	if err := decodeStrict(w, r, &req, false); err != nil {
		WriteError(w, r, http.StatusBadRequest, "bad_request", "invalid JSON: "+err.Error())
		return
	}
	if err := h.d.Coordinator.MarkSeen(r.Context(), req.IDs); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	writeJSON(w, map[string]any{"ok": true, "ids": h.d.Coordinator.NewIDs()})
}
