package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"projectscout-engine/internal/clock"
	"projectscout-engine/internal/config"
	"projectscout-engine/internal/domain"
	"projectscout-engine/internal/events"
	"projectscout-engine/internal/scheduler"
	"projectscout-engine/internal/scrape"
	"projectscout-engine/internal/store"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

type fakeCoordinator struct {
	mu       sync.Mutex
	busy     bool
	syncRun  domain.ScrapeRun
	lastSpec domain.PageSpec
	notify   bool
	seen     []string
	newIDs   []string
}

func (f *fakeCoordinator) TriggerManual(_ context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return domain.ScrapeRun{}, domain.ErrAlreadyRunning
	}
	f.lastSpec, f.notify = spec, notify
	return domain.ScrapeRun{ID: "run-1", Trigger: domain.TriggerManual, Status: domain.RunRunning, Pages: spec.Pages}, nil
}

func (f *fakeCoordinator) RunManualSync(_ context.Context, spec domain.PageSpec, notify bool) (domain.ScrapeRun, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.busy {
		return domain.ScrapeRun{}, domain.ErrAlreadyRunning
	}
	f.lastSpec, f.notify = spec, notify
	if f.syncRun.Status == domain.RunFailed {
		return f.syncRun, errors.New("run failed")
	}
	return f.syncRun, nil
}

func (f *fakeCoordinator) Status() scrape.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scrape.Status{IsRunning: f.busy, NewListingIDs: slices.Clone(f.newIDs), ActiveCount: 2}
}

func (f *fakeCoordinator) RefreshCounts(context.Context) {}

func (f *fakeCoordinator) MarkSeen(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.seen = append(f.seen, ids...)
	f.newIDs = slices.DeleteFunc(f.newIDs, func(id string) bool { return slices.Contains(ids, id) })
	return nil
}

func (f *fakeCoordinator) NewIDs() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return slices.Clone(f.newIDs)
}

type fakeScheduler struct {
	mu       sync.Mutex
	cfg      config.SchedulerConfig
	restarts int
}

func (f *fakeScheduler) State() scheduler.State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return scheduler.State{Enabled: f.cfg.Enabled, DailyRuns: f.cfg.DailyRuns, IntervalDays: f.cfg.IntervalDays, Restarts: f.restarts}
}

func (f *fakeScheduler) SetConfig(cfg config.SchedulerConfig) {
	f.mu.Lock()
	f.cfg = cfg
	f.mu.Unlock()
}

func (f *fakeScheduler) Restart() {
	f.mu.Lock()
	f.restarts++
	f.mu.Unlock()
}

type fakeNotifier struct {
	configured bool
	sent       []domain.Listing
	to         string
}

func (n *fakeNotifier) Configured() bool { return n.configured }

func (n *fakeNotifier) Send(_ context.Context, ls []domain.Listing, to string) error {
	n.sent, n.to = ls, to
	return nil
}

type env struct {
	h       http.Handler
	db      *store.DB
	coord   *fakeCoordinator
	sched   *fakeScheduler
	note    *fakeNotifier
	cfg     *atomic.Pointer[config.Config]
	cfgPath string
	secrets map[string]string
	vars    map[string]string
	now     time.Time
}

func (e *env) getenv(k string) string { return e.vars[k] }

func newEnv(t *testing.T) *env {
	t.Helper()
	dir := t.TempDir()
	db, err := store.Open(filepath.Join(dir, "scout.db"))
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = db.Close() })

	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	cfgPath := filepath.Join(dir, "config.yml")
	initial := config.Default(now)
	if err := config.SaveAtomic(cfgPath, initial); err != nil {
		t.Fatal(err)
	}
	var ptr atomic.Pointer[config.Config]
	ptr.Store(&initial)

	e := &env{
		db:      db,
		coord:   &fakeCoordinator{newIDs: []string{"a", "b"}},
		sched:   &fakeScheduler{cfg: initial.Scheduler},
		note:    &fakeNotifier{},
		cfg:     &ptr,
		cfgPath: cfgPath,
		secrets: map[string]string{},
		vars:    map[string]string{},
		now:     now,
	}
	e.h = NewHandler(Deps{
		Store:       db,
		Coordinator: e.coord,
		Scheduler:   e.sched,
		Events:      events.NewBus(events.NewHub(), quiet),
		Cfg:         &ptr,
		UserCfgPath: cfgPath,
		LoadCfg: func() (config.Config, error) {
			c, err := config.Load(cfgPath, now)
			config.OverlayEnv(&c, e.getenv)
			return c, err
		},
		LoadFileCfg: func() (config.Config, error) { return config.Load(cfgPath, now) },
		Getenv:      e.getenv,
		Notifier:    func(config.Config) scrape.Notifier { return e.note },
		SetSecret: func(account, pw string) error {
			e.secrets[account] = pw
			return nil
		},
		Checkpoint: db.Checkpoint,
		Clock:      clock.NewManual(now),
		Log:        quiet,
	})
	return e
}

func (e *env) seed(t *testing.T, id string, firstSeen time.Time) {
	t.Helper()
	d := domain.ListingDraft{ID: id, Title: "Project " + id, Location: "Berlin", URL: "https://example.com/" + id}
	if _, err := e.db.Upsert(context.Background(), d, firstSeen); err != nil {
		t.Fatal(err)
	}
}

func (e *env) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, target, rd)
	req.Header.Set("X-Request-ID", "req-test")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("status = %d, want %d (%s)", rec.Code, status, rec.Body.String())
	}
	e := decode[APIError](t, rec)
	if e.Error.Code != code {
		t.Errorf("code = %q, want %q", e.Error.Code, code)
	}
	if e.Error.RequestID != "req-test" {
		t.Errorf("request id = %q", e.Error.RequestID)
	}
}

func TestListingsActiveAndArchive(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "fresh", e.now.Add(-time.Hour))
	e.seed(t, "old", e.now.Add(-48*time.Hour))

	rec := e.do(t, http.MethodGet, "/listings", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	page := decode[domain.Page](t, rec)
	if page.Total != 1 || page.Data[0].ID != "fresh" || !page.Data[0].IsActive {
		t.Errorf("active page = %+v", page)
	}
	if page.Limit != domain.DefaultPageLimit || page.Page != 1 {
		t.Errorf("pagination = %d/%d", page.Page, page.Limit)
	}

	page = decode[domain.Page](t, e.do(t, http.MethodGet, "/listings/archive", ""))
	if page.Total != 1 || page.Data[0].ID != "old" || page.Data[0].IsActive {
		t.Errorf("archive page = %+v", page)
	}
}

func TestListingsQueryParams(t *testing.T) {
	e := newEnv(t)
	for i, id := range []string{"p1", "p2", "p3"} {
		e.seed(t, id, e.now.Add(-time.Duration(i+1)*time.Minute))
	}

	page := decode[domain.Page](t, e.do(t, http.MethodGet, "/listings?limit=2&page=2", ""))
	if page.Total != 3 || page.TotalPages != 2 || len(page.Data) != 1 || page.Data[0].ID != "p3" {
		t.Errorf("page 2 = %+v", page)
	}

	page = decode[domain.Page](t, e.do(t, http.MethodGet, "/listings?search=PROJECT%20p2", ""))
	if page.Total != 1 || page.Data[0].ID != "p2" {
		t.Errorf("search = %+v", page)
	}

	expectError(t, e.do(t, http.MethodGet, "/listings?remote=maybe", ""), http.StatusBadRequest, "bad_request")
	expectError(t, e.do(t, http.MethodGet, "/listings?page=-1", ""), http.StatusBadRequest, "bad_request")
}

func TestGetListing(t *testing.T) {
	e := newEnv(t)
	e.seed(t, "abc-1", e.now.Add(-time.Hour))

	rec := e.do(t, http.MethodGet, "/listings/abc-1", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if l := decode[domain.Listing](t, rec); l.ID != "abc-1" || !l.FirstSeenAt.Equal(e.now.Add(-time.Hour)) {
		t.Errorf("listing = %+v", l)
	}

	expectError(t, e.do(t, http.MethodGet, "/listings/missing", ""), http.StatusNotFound, "not_found")
}

func TestScrapeRun(t *testing.T) {
	e := newEnv(t)

	rec := e.do(t, http.MethodPost, "/scrape/run", `{"pages":[2,3],"notify":true}`)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if !slices.Equal(e.coord.lastSpec.Pages, []int{2, 3}) || !e.coord.notify {
		t.Errorf("spec = %+v notify = %v", e.coord.lastSpec, e.coord.notify)
	}

	// Empty body means all pages, no notification.
	rec = e.do(t, http.MethodPost, "/scrape/run", "")
	if rec.Code != http.StatusAccepted || len(e.coord.lastSpec.Pages) != 0 || e.coord.notify {
		t.Errorf("empty body: %d %+v", rec.Code, e.coord.lastSpec)
	}

	e.coord.busy = true
	expectError(t, e.do(t, http.MethodPost, "/scrape/run", `{}`), http.StatusConflict, "already_running")
	expectError(t, e.do(t, http.MethodPost, "/scrape/run", `{"wait":true}`), http.StatusConflict, "already_running")
	e.coord.busy = false

	expectError(t, e.do(t, http.MethodPost, "/scrape/run", `{"pages":[0]}`), http.StatusBadRequest, "bad_request")
	expectError(t, e.do(t, http.MethodPost, "/scrape/run", `{"bogus":1}`), http.StatusBadRequest, "bad_request")
}

func TestScrapeRunWait(t *testing.T) {
	e := newEnv(t)
	fin := e.now
	e.coord.syncRun = domain.ScrapeRun{ID: "r", Status: domain.RunFailed, FailureKind: "blocked", FinishedAt: &fin}

	rec := e.do(t, http.MethodPost, "/scrape/run", `{"wait":true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	body := decode[struct {
		OK  bool             `json:"ok"`
		Run domain.ScrapeRun `json:"run"`
	}](t, rec)
	if body.OK || body.Run.FailureKind != "blocked" {
		t.Errorf("body = %+v", body)
	}
}

func TestScrapeStatus(t *testing.T) {
	e := newEnv(t)
	st := decode[scrape.Status](t, e.do(t, http.MethodGet, "/scrape/status", ""))
	if st.ActiveCount != 2 || !slices.Equal(st.NewListingIDs, []string{"a", "b"}) {
		t.Errorf("status = %+v", st)
	}
}

func TestScrapeRuns(t *testing.T) {
	e := newEnv(t)
	fin := e.now
	run := domain.ScrapeRun{ID: "r1", Trigger: domain.TriggerScheduled, Pages: []int{1}, StartedAt: e.now.Add(-time.Minute), FinishedAt: &fin, Status: domain.RunSucceeded}
	if err := e.db.SaveRun(context.Background(), run); err != nil {
		t.Fatal(err)
	}
	runs := decode[[]domain.ScrapeRun](t, e.do(t, http.MethodGet, "/scrape/runs?limit=5", ""))
	if len(runs) != 1 || runs[0].ID != "r1" {
		t.Errorf("runs = %+v", runs)
	}
}

func TestMarkSeenAndNew(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/listings/seen", `{"ids":["a"]}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if !slices.Equal(e.coord.seen, []string{"a"}) {
		t.Errorf("seen = %v", e.coord.seen)
	}
	got := decode[map[string][]string](t, e.do(t, http.MethodGet, "/listings/new", ""))
	if !slices.Equal(got["ids"], []string{"b"}) {
		t.Errorf("new = %v", got)
	}
	expectError(t, e.do(t, http.MethodPost, "/listings/seen", `not json`), http.StatusBadRequest, "bad_request")
}

func TestSchedulerConfigPut(t *testing.T) {
	e := newEnv(t)

	body := `{"enabled":true,"dailyRuns":[{"hour":18,"minute":0},{"hour":6,"minute":30}],"intervalDays":2,"epoch":"2024-05-01","pollSeconds":15}`
	rec := e.do(t, http.MethodPut, "/scheduler/config", body)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	want := []config.DailyRun{{Hour: 6, Minute: 30}, {Hour: 18}}
	if !slices.Equal(e.sched.cfg.DailyRuns, want) || e.sched.cfg.IntervalDays != 2 {
		t.Errorf("scheduler got %+v", e.sched.cfg)
	}
	if live := e.cfg.Load(); !slices.Equal(live.Scheduler.DailyRuns, want) {
		t.Errorf("live config = %+v", live.Scheduler)
	}
	onDisk, err := config.Load(e.cfgPath, e.now)
	if err != nil {
		t.Fatal(err)
	}
	if onDisk.Scheduler.IntervalDays != 2 || onDisk.Scheduler.Epoch != "2024-05-01" {
		t.Errorf("on disk = %+v", onDisk.Scheduler)
	}

	got := decode[config.SchedulerConfig](t, e.do(t, http.MethodGet, "/scheduler/config", ""))
	if !slices.Equal(got.DailyRuns, want) {
		t.Errorf("GET = %+v", got)
	}
}

func TestSchedulerConfigPutInvalid(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPut, "/scheduler/config", `{"enabled":true,"dailyRuns":[{"hour":25,"minute":0}],"intervalDays":0,"epoch":"x","pollSeconds":15}`)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
	v := decode[config.Validation](t, rec)
	if len(v.Errors) < 3 {
		t.Errorf("errors = %v", v.Errors)
	}
	if e.sched.cfg.IntervalDays != 1 {
		t.Error("invalid config reached the scheduler")
	}
}

func TestSchedulerRestartAndStatus(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/scheduler/restart", "")
	if rec.Code != http.StatusOK || e.sched.restarts != 1 {
		t.Fatalf("status = %d restarts = %d", rec.Code, e.sched.restarts)
	}
	st := decode[scheduler.State](t, e.do(t, http.MethodGet, "/scheduler/status", ""))
	if st.Restarts != 1 || !st.Enabled {
		t.Errorf("state = %+v", st)
	}
}

func TestConfigPut(t *testing.T) {
	e := newEnv(t)
	cur := *e.cfg.Load()
	cur.Crawl.Pages = []int{3, 1, 1}
	b, _ := json.Marshal(cur)

	rec := e.do(t, http.MethodPut, "/config", string(b))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if live := e.cfg.Load(); !slices.Equal(live.Crawl.Pages, []int{1, 3}) {
		t.Errorf("pages = %v", live.Crawl.Pages)
	}

	expectError(t, e.do(t, http.MethodPut, "/config", `{"nope":true}`), http.StatusBadRequest, "bad_request")

	bad := *e.cfg.Load()
	bad.Storage.Driver = "mongo"
	b, _ = json.Marshal(bad)
	if rec := e.do(t, http.MethodPut, "/config", string(b)); rec.Code != http.StatusBadRequest {
		t.Errorf("invalid driver accepted: %d", rec.Code)
	}

	path := decode[map[string]string](t, e.do(t, http.MethodGet, "/config/path", ""))
	if path["path"] != e.cfgPath {
		t.Errorf("path = %q, want %q", path["path"], e.cfgPath)
	}
}

func TestConfigSavesLeaveEnvOffDisk(t *testing.T) {
	e := newEnv(t)
	const dsn = "postgres://scout:s3cret@db/scout"
	e.vars["DATABASE_URL"] = dsn
	e.vars["REDIS_URL"] = "redis://:hunter2@cache:6379/0"
	live := *e.cfg.Load()
	config.OverlayEnv(&live, e.getenv)
	e.cfg.Store(&live)

	onDisk := func() string {
		t.Helper()
		b, err := os.ReadFile(e.cfgPath)
		if err != nil {
			t.Fatal(err)
		}
		return string(b)
	}

	rec := e.do(t, http.MethodPut, "/scheduler/config", `{"enabled":true,"dailyRuns":[{"hour":7,"minute":0}],"intervalDays":1,"epoch":"2024-05-01","pollSeconds":15}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if f := onDisk(); strings.Contains(f, "s3cret") || strings.Contains(f, "hunter2") {
		t.Fatalf("scheduler save wrote env values:\n%s", f)
	}
	if got := e.cfg.Load().Storage.PostgresDSN; got != dsn {
		t.Errorf("live dsn = %q", got)
	}

	rec = e.do(t, http.MethodGet, "/config", "")
	if strings.Contains(rec.Body.String(), "s3cret") || strings.Contains(rec.Body.String(), "hunter2") {
		t.Fatalf("GET /config leaks secrets: %s", rec.Body.String())
	}
	shown := decode[config.Config](t, rec)
	if shown.Storage.PostgresDSN != "postgres://scout:xxxxx@db/scout" {
		t.Errorf("shown dsn = %q", shown.Storage.PostgresDSN)
	}

	// The UI sends back what it was shown.
	shown.Crawl.Pages = []int{2}
	b, _ := json.Marshal(shown)
	if rec := e.do(t, http.MethodPut, "/config", string(b)); rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	f := onDisk()
	if strings.Contains(f, "s3cret") || strings.Contains(f, "xxxxx") || strings.Contains(f, "cache:6379") {
		t.Fatalf("config save wrote env values:\n%s", f)
	}
	if got := e.cfg.Load(); got.Storage.PostgresDSN != dsn || !slices.Equal(got.Crawl.Pages, []int{2}) {
		t.Errorf("live after save = %q %v", got.Storage.PostgresDSN, got.Crawl.Pages)
	}
	fi, err := os.Stat(e.cfgPath)
	if err != nil {
		t.Fatal(err)
	}
	if fi.Mode().Perm()&0o077 != 0 {
		t.Errorf("config mode = %v", fi.Mode().Perm())
	}
}

func TestNotifyTest(t *testing.T) {
	e := newEnv(t)
	expectError(t, e.do(t, http.MethodPost, "/notify/test", ""), http.StatusBadRequest, "not_configured")

	e.note.configured = true
	cfg := *e.cfg.Load()
	cfg.Notify.Recipient = "me@example.com"
	e.cfg.Store(&cfg)

	rec := e.do(t, http.MethodPost, "/notify/test", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	if e.note.to != "me@example.com" || len(e.note.sent) != 1 || e.note.sent[0].ID != "test" {
		t.Errorf("sent %+v to %q", e.note.sent, e.note.to)
	}

	e.seed(t, "real", e.now.Add(-time.Minute))
	e.do(t, http.MethodPost, "/notify/test", "")
	if len(e.note.sent) != 1 || e.note.sent[0].ID != "real" {
		t.Errorf("sent %+v", e.note.sent)
	}
}

func TestSecrets(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodPost, "/api/secrets/smtp", `{"password":"s3cret"}`)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(e.secrets) != 1 {
		t.Fatalf("secrets = %v", e.secrets)
	}
	for account, pw := range e.secrets {
		if !strings.HasPrefix(account, "projectscout:smtp:") || pw != "s3cret" {
			t.Errorf("stored %q=%q", account, pw)
		}
	}
	expectError(t, e.do(t, http.MethodPost, "/api/secrets/smtp", `{"password":"  "}`), http.StatusBadRequest, "bad_request")
}

func TestHealthAndMethods(t *testing.T) {
	e := newEnv(t)
	rec := e.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	if rec.Header().Get("X-Request-ID") != "req-test" {
		t.Error("request id not echoed")
	}
	expectError(t, e.do(t, http.MethodDelete, "/listings", ""), http.StatusMethodNotAllowed, "method_not_allowed")
}

func TestCheckpointLoopbackOnly(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodPost, "/db/checkpoint", nil)
	req.RemoteAddr = "127.0.0.1:5555"
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Errorf("loopback status = %d: %s", rec.Code, rec.Body.String())
	}

	req = httptest.NewRequest(http.MethodPost, "/db/checkpoint", nil)
	req.RemoteAddr = "10.0.0.8:5555"
	rec = httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("remote status = %d", rec.Code)
	}
}

func TestCorsPreflight(t *testing.T) {
	e := newEnv(t)
	req := httptest.NewRequest(http.MethodOptions, "/listings", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	rec := httptest.NewRecorder()
	e.h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent || rec.Header().Get("Access-Control-Allow-Origin") != "http://localhost:3000" {
		t.Errorf("preflight = %d %v", rec.Code, rec.Header())
	}
}

func TestSSEStreamsEvents(t *testing.T) {
	hub := events.NewHub()
	h := EventsHandler{Hub: hub, Keepalive: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.ServeSSE(rec, req)
		close(done)
	}()
	for hub.Subscribers() == 0 {
		time.Sleep(time.Millisecond)
	}
	hub.Publish(`{"type":"listings_new"}`)
	for hub.Subscribers() != 0 {
		// Cancel once the published event had a chance to be written.
		time.Sleep(5 * time.Millisecond)
		cancel()
	}
	<-done

	body := rec.Body.String()
	if !strings.Contains(body, `"type":"ping"`) || !strings.Contains(body, `{"type":"listings_new"}`) {
		t.Errorf("stream = %q", body)
	}
	if rec.Header().Get("Content-Type") != "text/event-stream" {
		t.Errorf("content type = %q", rec.Header().Get("Content-Type"))
	}
}
