// Package detector recognizes listing pages that only fill in their links
// after client-side scripts run.
package detector

import (
	"bytes"
	"net/http"
	"strings"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
)

// DefaultMinBytes is the body size below which a script heavy page counts as a shell.
const DefaultMinBytes = 2048

// Heuristic flags bodies that look like an unrendered single page app.
type Heuristic struct {
	MinBytes int
}

// NewHeuristic returns a detector; minBytes of zero uses DefaultMinBytes.
func NewHeuristic(minBytes int) *Heuristic {
	if minBytes <= 0 {
		minBytes = DefaultMinBytes
	}
	return &Heuristic{MinBytes: minBytes}
}

// Framework mount points seen on GCC government portals.
var shellMarkers = [][]byte{
	[]byte(`id="__next"`),
	[]byte(`id="root"></div>`),
	[]byte(`id="app"></div>`),
	[]byte("data-reactroot"),
	[]byte("ng-version="),
	[]byte("<app-root"),
}

// NeedsRender reports whether resp is worth re-fetching in a browser.
func (h *Heuristic) NeedsRender(resp fetcher.Response) bool {
	if resp.StatusCode != http.StatusOK || resp.Rendered {
		return false
	}
	body := resp.Body
	if len(bytes.TrimSpace(body)) == 0 {
		return true
	}
	lower := bytes.ToLower(body)
	for _, marker := range shellMarkers {
		if bytes.Contains(lower, bytes.ToLower(marker)) {
			return true
		}
	}
	return len(body) < h.MinBytes && scriptShare(string(lower)) >= 25
}

// scriptShare is the percentage of the document inside <script> elements.
// An unterminated script counts to the end of the body.
func scriptShare(lower string) int {
	total := len(lower)
	if total == 0 {
		return 0
	}
	covered := 0
	for pos := 0; pos < total; {
		start := strings.Index(lower[pos:], "<script")
		if start < 0 {
			break
		}
		start += pos
		end := strings.Index(lower[start:], "</script>")
		if end < 0 {
			covered += total - start
			break
		}
		end += start + len("</script>")
		covered += end - start
		pos = end
	}
	return covered * 100 / total
}
