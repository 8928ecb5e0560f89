// Package radar defines core types shared across the harvesting subsystems.
package radar

import (
	"strings"
	"time"
)

// Country identifies one of the monitored jurisdictions.
type Country string

// Supported countries.
const (
	CountryUAE   Country = "UAE"
	CountryKSA   Country = "KSA"
	CountryQatar Country = "Qatar"
)

// Countries lists the supported countries in display order.
var Countries = []Country{CountryUAE, CountryKSA, CountryQatar}

// NormalizeCountry returns known values untouched and defaults empty input to UAE.
// Unknown non-empty values pass through so callers can surface them in logs.
func NormalizeCountry(raw string) Country {
	c := Country(strings.TrimSpace(raw))
	if c == "" {
		return CountryUAE
	}
	return c
}

// Valid reports whether c is one of the supported countries.
func (c Country) Valid() bool {
	for _, known := range Countries {
		if c == known {
			return true
		}
	}
	return false
}

// CollectorType names a collection strategy.
type CollectorType string

// Collector types, in the order a run executes them.
const (
	CollectorRSS  CollectorType = "rss"
	CollectorHTML CollectorType = "html"
	CollectorPDF  CollectorType = "pdf"
)

// CollectorTypes lists the collector types in pass order.
var CollectorTypes = []CollectorType{CollectorRSS, CollectorHTML, CollectorPDF}

// ParseCollectorType validates a --only style filter. Empty means all collectors.
func ParseCollectorType(raw string) (CollectorType, bool) {
	t := CollectorType(strings.ToLower(strings.TrimSpace(raw)))
	if t == "" {
		return "", true
	}
	for _, known := range CollectorTypes {
		if t == known {
			return t, true
		}
	}
	return "", false
}

// SourceType tags where an IngestItem came from.
type SourceType string

// Ingest source types written to ingest_items.ingest_source_type.
const (
	SourceTypeRSS     SourceType = "rss"
	SourceTypeHTML    SourceType = "html"
	SourceTypePDFLink SourceType = "html:pdf-link"
	SourceTypePDF     SourceType = "pdf"
)

// Source is a configured crawl target read from the registry.
type Source struct {
	ID         string  `json:"id" yaml:"id"`
	Country    Country `json:"country" yaml:"country"`
	Authority  string  `json:"authority" yaml:"authority"`
	SourceURL  string  `json:"source_url" yaml:"source_url"`
	Format     string  `json:"format" yaml:"format"`
	HasRSS     bool    `json:"has_rss" yaml:"has_rss"`
	RSSURL     string  `json:"rss_url" yaml:"rss_url"`
	RequiresJS bool    `json:"requires_js" yaml:"requires_js"`
	Priority   *int    `json:"priority,omitempty" yaml:"priority"`
	IsActive   bool    `json:"is_active" yaml:"is_active"`
}

// HasFormat reports whether the free-text format column mentions the given flag.
func (s Source) HasFormat(flag string) bool {
	return strings.Contains(strings.ToUpper(s.Format), strings.ToUpper(flag))
}

// IngestItem is a discovered document reference.
type IngestItem struct {
	ID           string            `json:"id,omitempty"`
	Country      Country           `json:"country"`
	Authority    string            `json:"authority"`
	SourceURL    string            `json:"source_url"`
	DocURL       string            `json:"doc_url"`
	SourceType   SourceType        `json:"ingest_source_type"`
	Title        string            `json:"title"`
	PublishedAt  *time.Time        `json:"published_at,omitempty"`
	Summary      *string           `json:"summary,omitempty"`
	RawMeta      map[string]string `json:"raw_meta,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
	EnrichedAt   *time.Time        `json:"enriched_at,omitempty"`
	RegulationID *string           `json:"regulation_id,omitempty"`
}

// Run types recorded in runs_log.
const (
	RunTypePipeline = "pipeline"
	RunTypeHealth   = "health"
)

// RunRecord tracks one pipeline or health execution.
type RunRecord struct {
	ID         string     `json:"id"`
	RunType    string     `json:"run_type"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
	OKCount    int        `json:"ok_count"`
	FailCount  int        `json:"fail_count"`
	Notes      *string    `json:"notes,omitempty"`
}

// NotesOrEmpty returns the notes text or "".
func (r RunRecord) NotesOrEmpty() string {
	if r.Notes == nil {
		return ""
	}
	return *r.Notes
}

// ItemStamp is the slice of an IngestItem needed for staleness detection.
type ItemStamp struct {
	Country   Country
	Authority string
	SourceURL string
	CreatedAt time.Time
}

// SilenceAlert flags a previously active source that stopped producing items.
type SilenceAlert struct {
	Country    Country   `json:"country"`
	Authority  string    `json:"authority"`
	SourceURL  string    `json:"source_url"`
	LastItemAt time.Time `json:"last_item_at"`
	HoursSince float64   `json:"hours_since"`
	ThresholdH int       `json:"threshold_h"`
}

// Discovery is published for each newly inserted item so the enrichment stage can pick it up.
type Discovery struct {
	ID           string     `json:"id"`
	DocURL       string     `json:"doc_url"`
	Country      Country    `json:"country"`
	Authority    string     `json:"authority"`
	SourceType   SourceType `json:"ingest_source_type"`
	DiscoveredAt time.Time  `json:"discovered_at"`
}

// StringPtr returns a pointer to s, or nil when s is blank.
func StringPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
