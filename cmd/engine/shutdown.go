package main

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/hex"
	"net"
	"net/http"
	"os"
	"path/filepath"

	"projectscout-engine/internal/httpapi"
)

func randomToken(n int) (string, error) {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}

// shutdownToken returns PROJECTSCOUT_SHUTDOWN_TOKEN or a fresh random token.
// A generated token is written to dataDir so the desktop shell can read it.
func shutdownToken(dataDir string) (string, error) {
	if t := os.Getenv("PROJECTSCOUT_SHUTDOWN_TOKEN"); t != "" {
		return t, nil
	}
	t, err := randomToken(32)
	if err != nil {
		return "", err
	}
	if err := os.WriteFile(filepath.Join(dataDir, "shutdown.token"), []byte(t), 0o600); err != nil {
		return "", err
	}
	return t, nil
}

// shutdownHandler lets a local caller holding the token stop the engine.
// stop is called after the response is written.
func shutdownHandler(token string, stop func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httpapi.WriteError(w, r, http.StatusMethodNotAllowed, "method_not_allowed", "POST only")
			return
		}

		host, _, err := net.SplitHostPort(r.RemoteAddr)
		if err != nil {
			host = r.RemoteAddr
		}
		if host != "127.0.0.1" && host != "::1" && host != "localhost" {
			httpapi.WriteError(w, r, http.StatusForbidden, "forbidden", "forbidden")
			return
		}

		got := r.Header.Get("X-Shutdown-Token")
		if got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			httpapi.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "unauthorized")
			return
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("shutting down\n"))
		go stop()
	}
}
