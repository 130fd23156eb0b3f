package httpapi

import (
	"net"
	"net/http"
)

type DBHandler struct {
	d Deps
}

// Checkpoint flushes the SQLite WAL into the main database file. Only
// loopback callers may use it.
func (h DBHandler) Checkpoint(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	if ip := net.ParseIP(host); (ip == nil || !ip.IsLoopback()) && host != "localhost" {
		WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
		return
	}
	if h.d.Checkpoint == nil {
		WriteError(w, r, http.StatusNotImplemented, "unsupported", "checkpoint is only available on sqlite storage")
		return
	}
	if err := h.d.Checkpoint(r.Context()); err != nil {
		WriteDomainError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
