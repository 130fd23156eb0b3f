package extract

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"

	"github.com/temoto/robotstxt"
)

// robotsCache fetches robots.txt once per host and answers path checks
// against the configured user agent.
type robotsCache struct {
	hc    *http.Client
	agent string
	log   *slog.Logger

	mu     sync.Mutex
	groups map[string]*robotstxt.Group
}

func newRobotsCache(hc *http.Client, agent string, log *slog.Logger) *robotsCache {
	return &robotsCache{hc: hc, agent: agent, log: log, groups: map[string]*robotstxt.Group{}}
}

// Allowed reports whether raw may be fetched. A robots.txt that cannot be
// loaded allows everything.
func (rc *robotsCache) Allowed(ctx context.Context, raw string) bool {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return true
	}
	g := rc.group(ctx, u)
	if g == nil {
		return true
	}
	path := u.EscapedPath()
	if u.RawQuery != "" {
		path += "?" + u.RawQuery
	}
	return g.Test(path)
}

func (rc *robotsCache) group(ctx context.Context, u *url.URL) *robotstxt.Group {
	key := u.Scheme + "://" + u.Host

	rc.mu.Lock()
	g, ok := rc.groups[key]
	rc.mu.Unlock()
	if ok {
		return g
	}

	g, keep := rc.load(ctx, key)
	if keep {
		rc.mu.Lock()
		rc.groups[key] = g
		rc.mu.Unlock()
	}
	return g
}

// load returns keep=false when the result should not be cached.
func (rc *robotsCache) load(ctx context.Context, base string) (g *robotstxt.Group, keep bool) {
	robotsURL := fmt.Sprintf("%s/robots.txt", base)
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, robotsURL, nil)
	req.Header.Set("User-Agent", rc.agent)

	resp, err := rc.hc.Do(req)
	if err != nil {
		rc.log.Warn("robots.txt fetch failed, allowing", "url", robotsURL, "err", err)
		return nil, false
	}
	defer resp.Body.Close()

	data, err := robotstxt.FromResponse(resp)
	if err != nil {
		rc.log.Warn("robots.txt parse failed, allowing", "url", robotsURL, "err", err)
		return nil, true
	}
	return data.FindGroup(rc.agent), true
}
