// Package extract pulls listing drafts for one result page off the job
// board. It prefers the board's JSON search endpoint and falls back to the
// JSON embedded in the public HTML page.
package extract

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"projectscout-engine/internal/domain"
)

// maxBody caps how much of a response is read.
const maxBody = 8 << 20

type Options struct {
	// APIURL and PageURL contain a {page} placeholder. Either may be empty.
	APIURL            string
	PageURL           string
	UserAgent         string
	RespectRobots     bool
	RequestsPerSecond float64
	Burst             int
	HTTPTimeout       time.Duration
}

type Board struct {
	opts    Options
	hc      *http.Client
	limiter *HostLimiter
	robots  *robotsCache
	log     *slog.Logger
}

func NewBoard(opts Options, log *slog.Logger) *Board {
	if log == nil {
		log = slog.Default()
	}
	if opts.HTTPTimeout <= 0 {
		opts.HTTPTimeout = 30 * time.Second
	}
	if opts.RequestsPerSecond <= 0 {
		opts.RequestsPerSecond = 0.5
	}
	hc := &http.Client{Timeout: opts.HTTPTimeout}
	return &Board{
		opts:    opts,
		hc:      hc,
		limiter: NewHostLimiter(opts.RequestsPerSecond, opts.Burst),
		robots:  newRobotsCache(hc, opts.UserAgent, log),
		log:     log,
	}
}

// Fetch returns the drafts on result page n. Errors wrap
// domain.ErrExtractorBlocked or domain.ErrExtractorSiteError; a context
// error is returned as is.
func (b *Board) Fetch(ctx context.Context, n int) ([]domain.ListingDraft, error) {
	var apiErr error
	if b.opts.APIURL != "" {
		drafts, err := b.fetchAPI(ctx, n)
		switch {
		case err == nil && len(drafts) > 0:
			return drafts, nil
		case err != nil && (errors.Is(err, domain.ErrExtractorBlocked) || ctx.Err() != nil):
			return nil, err
		case err != nil:
			apiErr = err
			b.log.Warn("search api failed, trying html page", "page", n, "err", err)
		}
	}
	if b.opts.PageURL == "" {
		if apiErr != nil {
			return nil, apiErr
		}
		return []domain.ListingDraft{}, nil
	}

	drafts, err := b.fetchHTML(ctx, n)
	if err != nil {
		if apiErr != nil {
			return nil, fmt.Errorf("%w (api: %v)", err, apiErr)
		}
		return nil, err
	}
	return drafts, nil
}

func pageURL(tmpl string, n int) string {
	return strings.ReplaceAll(tmpl, "{page}", strconv.Itoa(n))
}

func (b *Board) fetchAPI(ctx context.Context, n int) ([]domain.ListingDraft, error) {
	raw := pageURL(b.opts.APIURL, n)
	body, base, err := b.get(ctx, raw, "application/json")
	if err != nil {
		return nil, err
	}
	drafts, err := ParseSearchJSON(body, base)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", domain.ErrExtractorSiteError, raw, err)
	}
	return drafts, nil
}

func (b *Board) fetchHTML(ctx context.Context, n int) ([]domain.ListingDraft, error) {
	raw := pageURL(b.opts.PageURL, n)
	body, base, err := b.get(ctx, raw, "text/html")
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: parse html %s: %v", domain.ErrExtractorSiteError, raw, err)
	}
	return ParseEmbedded(doc, base), nil
}

// ParseEmbedded collects drafts from the JSON blobs a rendered page carries
// in its script tags.
func ParseEmbedded(doc *goquery.Document, base *url.URL) []domain.ListingDraft {
	var out []domain.ListingDraft
	doc.Find(`script#__NEXT_DATA__, script[type="application/json"], script[type="application/ld+json"]`).
		Each(func(_ int, s *goquery.Selection) {
			txt := strings.TrimSpace(s.Text())
			if txt == "" {
				return
			}
			drafts, err := ParseSearchJSON([]byte(txt), base)
			if err != nil {
				return
			}
			out = append(out, drafts...)
		})
	if out == nil {
		out = []domain.ListingDraft{}
	}
	return out
}

func (b *Board) get(ctx context.Context, raw, accept string) ([]byte, *url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, nil, fmt.Errorf("%w: bad url %q: %v", domain.ErrExtractorSiteError, raw, err)
	}
	if b.opts.RespectRobots && !b.robots.Allowed(ctx, raw) {
		return nil, nil, fmt.Errorf("%w: robots.txt disallows %s", domain.ErrExtractorBlocked, raw)
	}
	if err := b.limiter.WaitURL(ctx, raw); err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		// the limiter refuses waits that would outlive the deadline
		return nil, nil, fmt.Errorf("%w: %v", domain.ErrExtractorTimeout, err)
	}

	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, raw, nil)
	req.Header.Set("User-Agent", b.opts.UserAgent)
	req.Header.Set("Accept", accept)
	req.Header.Set("Accept-Language", "de-DE,de;q=0.9,en;q=0.8")

	res, err := b.hc.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: get %s: %v", domain.ErrExtractorSiteError, raw, err)
	}
	defer res.Body.Close()

	switch {
	case res.StatusCode == http.StatusForbidden || res.StatusCode == http.StatusTooManyRequests:
		return nil, nil, fmt.Errorf("%w: %s returned %d", domain.ErrExtractorBlocked, raw, res.StatusCode)
	case res.StatusCode >= 400:
		return nil, nil, fmt.Errorf("%w: %s returned %d", domain.ErrExtractorSiteError, raw, res.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBody))
	if err != nil {
		if ctx.Err() != nil {
			return nil, nil, ctx.Err()
		}
		return nil, nil, fmt.Errorf("%w: read %s: %v", domain.ErrExtractorSiteError, raw, err)
	}
	b.log.Debug("fetched", "url", raw, "status", res.StatusCode, "bytes", len(body))
	return body, u, nil
}
