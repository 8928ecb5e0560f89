// Package collector turns fetched source payloads into candidate IngestItems.
// Each collector handles one source type; the pipeline runs them per source
// and isolates their failures.
package collector

import (
	"context"
	"strings"
	"unicode/utf8"

	"github.com/JakeFAU/reg-radar/internal/fetcher"
	"github.com/JakeFAU/reg-radar/internal/radar"
)

// DefaultMaxItems bounds what one source can contribute to a run.
const DefaultMaxItems = 50

const (
	maxTitleRunes   = 500
	maxSummaryRunes = 8000
)

// Collector is one collection strategy.
type Collector interface {
	Type() radar.CollectorType
	// Accepts reports whether the source should be handled by this collector.
	Accepts(src radar.Source) bool
	// Collect returns unvalidated items; doc_url may be empty or non-canonical.
	Collect(ctx context.Context, src radar.Source) ([]radar.IngestItem, error)
}

// PageFetcher fetches the first working URL out of a candidate list.
type PageFetcher interface {
	Fetch(ctx context.Context, candidates []string) (fetcher.Response, error)
}

func maxItemsOrDefault(n int) int {
	if n <= 0 {
		return DefaultMaxItems
	}
	return n
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return string(runes[:n])
}

func collapseSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
