// Package dedup canonicalizes document URLs and drops repeated discoveries
// before they reach the store.
package dedup

import (
	"net/url"
	"strings"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

// Canonical returns the persistence key for a URL: https scheme, lowercase
// host without a leading www., no default port, no fragment and no trailing
// slash. The second return is false when the URL cannot serve as a key.
func Canonical(raw string) (string, bool) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return "", false
	}
	if !strings.Contains(s, "://") {
		if hasOpaqueScheme(s) {
			return "", false
		}
		s = "https://" + strings.TrimLeft(s, "/")
	}
	u, err := url.Parse(s)
	if err != nil {
		return "", false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return "", false
	}

	host := strings.ToLower(u.Host)
	host = strings.TrimSuffix(host, ":443")
	host = strings.TrimSuffix(host, ":80")
	host = strings.TrimPrefix(host, "www.")
	if host == "" {
		return "", false
	}

	var b strings.Builder
	b.WriteString("https://")
	b.WriteString(host)
	b.WriteString(strings.TrimRight(u.EscapedPath(), "/"))
	if u.RawQuery != "" {
		b.WriteByte('?')
		b.WriteString(u.RawQuery)
	}
	return b.String(), true
}

// Stats reports what Items did to a batch.
type Stats struct {
	In         int
	Out        int
	Unusable   int
	Duplicates int
}

// Items canonicalizes doc_url and source_url on every item and keeps the first
// item seen for each canonical doc_url. Input order decides the survivor, so
// callers must pass items in collector emission order.
func Items(items []radar.IngestItem) ([]radar.IngestItem, Stats) {
	stats := Stats{In: len(items)}
	out := make([]radar.IngestItem, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		key, ok := Canonical(item.DocURL)
		if !ok {
			stats.Unusable++
			continue
		}
		if _, dup := seen[key]; dup {
			stats.Duplicates++
			continue
		}
		seen[key] = struct{}{}
		item.DocURL = key
		if src, ok := Canonical(item.SourceURL); ok {
			item.SourceURL = src
		}
		out = append(out, item)
	}
	stats.Out = len(out)
	return out, stats
}

// hasOpaqueScheme spots mailto:, javascript: and similar while letting
// host:port through.
func hasOpaqueScheme(s string) bool {
	head := s
	if i := strings.Index(head, "/"); i >= 0 {
		head = head[:i]
	}
	i := strings.Index(head, ":")
	if i <= 0 {
		return false
	}
	rest := head[i+1:]
	return rest == "" || rest[0] < '0' || rest[0] > '9'
}
