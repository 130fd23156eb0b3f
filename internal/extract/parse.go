package extract

import (
	"encoding/json"
	"fmt"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"projectscout-engine/internal/domain"
)

// Keys whose presence marks a JSON object as a project.
var projectKeys = []string{"title", "jobTitle"}

// Container keys the search API is known to wrap its result list in.
var listKeys = []string{"content", "data", "items", "projects", "results"}

// ParseSearchJSON extracts listing drafts from a search API response. base
// resolves relative project URLs.
func ParseSearchJSON(body []byte, base *url.URL) ([]domain.ListingDraft, error) {
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("decode search json: %w", err)
	}
	return draftsFrom(v, base), nil
}

func draftsFrom(v any, base *url.URL) []domain.ListingDraft {
	var objs []map[string]any
	if m, ok := v.(map[string]any); ok {
		for _, k := range listKeys {
			if list, ok := m[k].([]any); ok && len(list) > 0 {
				for _, it := range list {
					if o, ok := it.(map[string]any); ok {
						objs = append(objs, o)
					}
				}
				break
			}
		}
	}
	if len(objs) == 0 {
		objs = findProjects(v)
	}

	out := make([]domain.ListingDraft, 0, len(objs))
	for _, o := range objs {
		out = append(out, draftFromMap(o, base))
	}
	return out
}

// findProjects walks v and collects every object that looks like a project.
// It does not descend into a match.
func findProjects(v any) []map[string]any {
	var found []map[string]any
	switch t := v.(type) {
	case []any:
		for _, it := range t {
			found = append(found, findProjects(it)...)
		}
	case map[string]any:
		for _, k := range projectKeys {
			if _, ok := t[k]; ok {
				return append(found, t)
			}
		}
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		slices.Sort(keys)
		for _, k := range keys {
			found = append(found, findProjects(t[k])...)
		}
	}
	return found
}

func draftFromMap(m map[string]any, base *url.URL) domain.ListingDraft {
	d := domain.ListingDraft{
		ID:                   str(m, "id", "projectId", "uuid"),
		Title:                CleanText(str(m, "title", "jobTitle")),
		Description:          strings.TrimSpace(str(m, "description", "teaser")),
		CompanyName:          CleanText(str(m, "companyName", "company")),
		Location:             location(m),
		Skills:               skills(m),
		URL:                  absURL(base, str(m, "url", "link", "detailUrl")),
		StartDate:            str(m, "startDate"),
		IsRemoteWorkPossible: boolean(m, "isRemoteWorkPossible", "remote"),
		CompanyLogoURL:       absURL(base, str(m, "companyLogoUrl", "logoUrl")),
	}
	if d.CompanyName == "" {
		if c, ok := m["company"].(map[string]any); ok {
			d.CompanyName = CleanText(str(c, "name"))
		}
	}
	if t, ok := parseDate(str(m, "originalPublicationDate", "publicationDate", "publishedAt")); ok {
		d.OriginalPublicationDate = &t
	}
	return d
}

func str(m map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		case bool:
			return strconv.FormatBool(v)
		}
	}
	return ""
}

func boolean(m map[string]any, keys ...string) bool {
	for _, k := range keys {
		switch v := m[k].(type) {
		case bool:
			return v
		case string:
			b, err := strconv.ParseBool(v)
			if err == nil {
				return b
			}
		}
	}
	return false
}

func location(m map[string]any) string {
	if s := str(m, "location"); s != "" {
		return NormalizeLocation(s)
	}
	var parts []string
	switch v := m["locations"].(type) {
	case []any:
		for _, it := range v {
			switch l := it.(type) {
			case string:
				parts = append(parts, l)
			case map[string]any:
				parts = append(parts, str(l, "name", "city"))
			}
		}
	case map[string]any:
		parts = append(parts, str(v, "name", "city"))
	}
	return NormalizeLocation(strings.Join(parts, ","))
}

func skills(m map[string]any) []string {
	raw, ok := m["skills"].([]any)
	if !ok {
		return nil
	}
	var out []string
	for _, it := range raw {
		var s string
		switch v := it.(type) {
		case string:
			s = v
		case map[string]any:
			s = str(v, "name", "label", "value")
		}
		if s = CleanText(s); s != "" {
			out = append(out, s)
		}
	}
	return out
}

var dateLayouts = []string{time.RFC3339Nano, time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"}

func parseDate(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

func absURL(base *url.URL, raw string) string {
	if raw == "" || base == nil {
		return raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	return base.ResolveReference(u).String()
}
