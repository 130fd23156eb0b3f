package httpapi

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/google/uuid"
)

func TestCorsOrigins(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	h := Wrap(ok, quiet, func() string { return "https://scout.example.com/" })

	cases := []struct {
		origin string
		allow  bool
	}{
		{"http://localhost:3000", true},
		{"http://127.0.0.1:5173", true},
		{"http://[::1]:8080", true},
		{"https://scout.example.com", true},
		{"https://evil.example.com", false},
		{"null", false},
	}
	for _, tc := range cases {
		req := httptest.NewRequest(http.MethodGet, "/health", nil)
		req.Header.Set("Origin", tc.origin)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		got := rec.Header().Get("Access-Control-Allow-Origin")
		if tc.allow && got != tc.origin {
			t.Errorf("%s: allow-origin = %q", tc.origin, got)
		}
		if !tc.allow && got != "" {
			t.Errorf("%s: allowed as %q", tc.origin, got)
		}
	}
}

func TestRequestIDReplacesUnusableIDs(t *testing.T) {
	var seen string
	h := Wrap(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = RequestIDFrom(r.Context())
	}), quiet, nil)

	for _, in := range []string{"", "has space", "line\nbreak", strings.Repeat("x", maxRequestIDLen+1)} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("X-Request-ID", in)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		if _, err := uuid.Parse(seen); err != nil {
			t.Errorf("%q: id %q is not a fresh uuid", in, seen)
		}
		if rec.Header().Get("X-Request-ID") != seen {
			t.Errorf("%q: header %q, context %q", in, rec.Header().Get("X-Request-ID"), seen)
		}
	}

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("X-Request-ID", "ui-42.retry:1")
	h.ServeHTTP(httptest.NewRecorder(), req)
	if seen != "ui-42.retry:1" {
		t.Errorf("usable id replaced with %q", seen)
	}
}

func TestPanicIsLoggedAs500(t *testing.T) {
	var buf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&buf, nil))
	h := Wrap(http.HandlerFunc(func(http.ResponseWriter, *http.Request) { panic("boom") }), log, nil)

	req := httptest.NewRequest(http.MethodGet, "/listings", nil)
	req.Header.Set("X-Request-ID", "req-test")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	expectError(t, rec, http.StatusInternalServerError, "internal_error")
	out := buf.String()
	if !strings.Contains(out, "handler panic") || !strings.Contains(out, "status=500") {
		t.Errorf("log = %s", out)
	}
}
