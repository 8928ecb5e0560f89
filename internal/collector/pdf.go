package collector

import (
	"context"
	"strings"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/sites"
)

// PDF emits a placeholder item for sources that publish a bare PDF.
// Text extraction happens in the enrichment stage.
type PDF struct{}

// NewPDF builds the placeholder collector.
func NewPDF() *PDF { return &PDF{} }

// Type implements Collector.
func (PDF) Type() radar.CollectorType { return radar.CollectorPDF }

// Accepts implements Collector: PDF format without HTML and without a feed.
func (PDF) Accepts(src radar.Source) bool {
	return src.HasFormat("PDF") && !src.HasFormat("HTML") && !src.HasRSS
}

// Collect implements Collector.
func (PDF) Collect(_ context.Context, src radar.Source) ([]radar.IngestItem, error) {
	docURL := strings.TrimSpace(src.SourceURL)
	if !sites.HasHTTPScheme(docURL) {
		return nil, nil
	}
	return []radar.IngestItem{{
		Country:    src.Country,
		Authority:  src.Authority,
		SourceURL:  docURL,
		DocURL:     docURL,
		SourceType: radar.SourceTypePDF,
		Title:      "PDF from " + docURL,
		RawMeta:    map[string]string{},
	}}, nil
}
