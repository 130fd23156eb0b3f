package httpapi

import (
	"log/slog"
	"net/http"
)

// NewMux returns the raw mux so main() can still attach process-level routes.
func NewMux(d Deps) *http.ServeMux {
	if d.Log == nil {
		d.Log = slog.Default()
	}
	mux := http.NewServeMux()

	// Listings
	lh := ListingsHandler{d: d}
	mux.HandleFunc("/listings", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.Active,
	}))
	mux.HandleFunc("/listings/archive", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.Archive,
	}))
	mux.HandleFunc("/listings/new", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.New,
	}))
	mux.HandleFunc("/listings/seen", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: lh.MarkSeen,
	}))
	mux.HandleFunc("/listings/", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: lh.GetByPath, // expects /listings/{id}
	}))

	// Scrape
	sch := ScrapeHandler{d: d}
	mux.HandleFunc("/scrape/run", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sch.Run,
	}))
	mux.HandleFunc("/scrape/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sch.Status,
	}))
	mux.HandleFunc("/scrape/runs", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sch.Runs,
	}))

	// Scheduler
	sh := SchedulerHandler{d: d}
	mux.HandleFunc("/scheduler/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.GetConfig,
		http.MethodPut: sh.PutConfig,
	}))
	mux.HandleFunc("/scheduler/restart", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sh.Restart,
	}))
	mux.HandleFunc("/scheduler/status", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: sh.Status,
	}))

	// Config
	ch := ConfigHandler{d: d}
	mux.HandleFunc("/config", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Get,
		http.MethodPut: ch.Put,
	}))
	mux.HandleFunc("/config/path", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Path,
	}))
	mux.HandleFunc("/config/validate", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: ch.Validate,
	}))

	// Notifications and secrets
	nh := NotifyHandler{d: d}
	mux.HandleFunc("/notify/test", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: nh.Test,
	}))
	sech := SecretsHandler{d: d}
	mux.HandleFunc("/api/secrets/smtp", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sech.SetSMTPPassword,
	}))
	mux.HandleFunc("/api/secrets/imap", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: sech.SetIMAPPassword,
	}))

	// SSE events
	eh := EventsHandler{Hub: d.Events.Hub()}
	mux.HandleFunc("/events", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: eh.ServeSSE,
	}))

	hh := HealthHandler{d: d}
	mux.HandleFunc("/health", methodMux(map[string]http.HandlerFunc{
		http.MethodGet: hh.Health,
	}))
	dh := DBHandler{d: d}
	mux.HandleFunc("/db/checkpoint", methodMux(map[string]http.HandlerFunc{
		http.MethodPost: dh.Checkpoint,
	}))

	return mux
}

// NewHandler wraps the mux in the standard middleware chain.
func NewHandler(d Deps) http.Handler {
	return Wrap(NewMux(d), d.Log, func() string { return d.config().App.FrontendURL })
}

// Wrap applies the middleware stack to h. frontend reports the dashboard
// origin allowed by CORS besides loopback ones; it may be nil.
func Wrap(h http.Handler, log *slog.Logger, frontend func() string) http.Handler {
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "http")
	// Innermost first.
	for _, m := range []Middleware{corsFor(frontend), recoverPanics(log), accessLog(log), requestID} {
		h = m(h)
	}
	return h
}
