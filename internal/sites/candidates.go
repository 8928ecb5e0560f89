package sites

import (
	"net/url"
	"strings"
)

// Candidates expands a raw source URL into the HTTPS variants worth trying,
// in preference order. The host as written comes first, then its www toggle.
// Malformed or empty input yields no candidates.
func (t Table) Candidates(raw string) []string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return nil
	}
	if !HasHTTPScheme(s) {
		s = "https://" + strings.TrimLeft(s, "/")
	}
	u, err := url.Parse(s)
	if err != nil || u.Host == "" {
		return nil
	}

	host := strings.ToLower(u.Host)
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	if rule, ok := t.Lookup(host); ok && rule.RewritePath != nil {
		path = rule.RewritePath(path)
	}

	out := make([]string, 0, 2)
	seen := make(map[string]struct{}, 2)
	for _, h := range []string{host, toggleWWW(host)} {
		if h == "" {
			continue
		}
		v := strings.TrimRight("https://"+h+path, "/")
		if strings.HasSuffix(path, "/") {
			v += "/"
		}
		if u.RawQuery != "" {
			v += "?" + u.RawQuery
		}
		if _, dup := seen[v]; dup {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Candidates applies DefaultRules.
func Candidates(raw string) []string {
	return DefaultRules.Candidates(raw)
}

// HasHTTPScheme reports whether s starts with http:// or https://, ignoring case.
func HasHTTPScheme(s string) bool {
	lowered := strings.ToLower(s)
	return strings.HasPrefix(lowered, "http://") || strings.HasPrefix(lowered, "https://")
}

func toggleWWW(host string) string {
	if strings.HasPrefix(host, "www.") {
		return strings.TrimPrefix(host, "www.")
	}
	return "www." + host
}
