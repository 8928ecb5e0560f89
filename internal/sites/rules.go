// Package sites holds per-host crawl rules: listing path corrections and
// link relevance keywords for government portals that need special handling.
package sites

import (
	"net"
	"strings"
)

// Rule customizes crawling for one domain and its subdomains.
type Rule struct {
	Domain string
	// RewritePath maps the requested path to a known-good listing path.
	RewritePath func(path string) string
	// Keywords replaces GenericKeywords for links found on this domain.
	Keywords []string
}

// Table is an ordered set of rules; the first matching rule wins.
type Table []Rule

// GenericKeywords admit links on domains without their own keyword list.
var GenericKeywords = []string{"policy", "report", "document", "data", "ai", "cyber", "privacy", "security"}

// DefaultRules covers the portals whose layouts have broken naive crawling.
var DefaultRules = Table{
	{
		Domain:   "data.gov.qa",
		Keywords: []string{"/explore/", "/dataset/", "/download", "/api/"},
	},
	{
		Domain: "hukoomi.gov.qa",
		RewritePath: func(string) string {
			return "/en/policies-and-strategies"
		},
		Keywords: []string{"policy", "policies", "strategy", "strategies", "data", "ai", "cyber", "security", "privacy"},
	},
	{
		Domain: "mcit.gov.qa",
		RewritePath: func(path string) string {
			if strings.Contains(path, "/policies") && !strings.Contains(path, "reports") {
				return "/en/policies-and-reports/"
			}
			return path
		},
	},
	{
		Domain: "ncsa.gov.qa",
		RewritePath: func(path string) string {
			if path == "" || path == "/" {
				return "/en/"
			}
			return path
		},
	},
}

// Lookup returns the rule for host, matching the domain itself or any subdomain.
func (t Table) Lookup(host string) (Rule, bool) {
	host = bareHost(host)
	if host == "" {
		return Rule{}, false
	}
	for _, rule := range t {
		if host == rule.Domain || strings.HasSuffix(host, "."+rule.Domain) {
			return rule, true
		}
	}
	return Rule{}, false
}

// Relevant reports whether a link found on pageHost is worth ingesting.
// PDFs always qualify; anything else needs one of the host's keywords.
func (t Table) Relevant(absURL, pageHost string) bool {
	lowered := strings.ToLower(absURL)
	if IsPDF(lowered) {
		return true
	}
	keywords := GenericKeywords
	if rule, ok := t.Lookup(pageHost); ok && len(rule.Keywords) > 0 {
		keywords = rule.Keywords
	}
	for _, kw := range keywords {
		if strings.Contains(lowered, kw) {
			return true
		}
	}
	return false
}

// Relevant applies DefaultRules.
func Relevant(absURL, pageHost string) bool {
	return DefaultRules.Relevant(absURL, pageHost)
}

// IsPDF reports whether the URL points at a PDF document.
func IsPDF(rawURL string) bool {
	lowered := strings.ToLower(strings.TrimSpace(rawURL))
	if strings.HasSuffix(lowered, ".pdf") {
		return true
	}
	if i := strings.IndexAny(lowered, "?#"); i >= 0 {
		return strings.HasSuffix(lowered[:i], ".pdf")
	}
	return false
}

func bareHost(host string) string {
	host = strings.ToLower(strings.TrimSpace(host))
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}
