package store

import (
	"context"
	"errors"
	"sort"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
)

// ErrNotFound signals that the requested record does not exist.
var ErrNotFound = errors.New("record not found")

// DefaultSourceLimit caps a registry query when the caller passes no limit.
const DefaultSourceLimit = 10

// SourceQuery selects active sources for a run.
type SourceQuery struct {
	// Country filters to one jurisdiction; empty means all.
	Country radar.Country
	// Only restricts to sources a collector type can handle; empty means all.
	Only radar.CollectorType
	// Limit caps the result; <= 0 falls back to DefaultSourceLimit.
	Limit int
}

// EffectiveLimit returns the row cap to apply.
func (q SourceQuery) EffectiveLimit() int {
	if q.Limit <= 0 {
		return DefaultSourceLimit
	}
	return q.Limit
}

// Matches reports whether an active source passes the country/only filters.
func (q SourceQuery) Matches(src radar.Source) bool {
	if !src.IsActive {
		return false
	}
	if q.Country != "" && src.Country != q.Country {
		return false
	}
	switch q.Only {
	case radar.CollectorRSS:
		return src.HasRSS
	case radar.CollectorHTML:
		return src.HasFormat("HTML")
	case radar.CollectorPDF:
		return src.HasFormat("PDF")
	}
	return true
}

// FilterSources applies q to an in-memory list: filter, priority order
// (nil priority last, ties by ID), then limit.
func FilterSources(all []radar.Source, q SourceQuery) []radar.Source {
	out := make([]radar.Source, 0, len(all))
	for _, src := range all {
		if q.Matches(src) {
			out = append(out, src)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		pi, pj := out[i].Priority, out[j].Priority
		switch {
		case pi == nil && pj == nil:
			return out[i].ID < out[j].ID
		case pi == nil:
			return false
		case pj == nil:
			return true
		case *pi != *pj:
			return *pi < *pj
		}
		return out[i].ID < out[j].ID
	})
	if limit := q.EffectiveLimit(); len(out) > limit {
		out = out[:limit]
	}
	return out
}

// SourceRegistry reads crawl targets.
type SourceRegistry interface {
	ActiveSources(ctx context.Context, q SourceQuery) ([]radar.Source, error)
}

// UpsertResult reports what happened to one item.
type UpsertResult struct {
	ID       string
	Inserted bool
}

// ItemWriter persists discovered items keyed by canonical doc_url. Updates
// touch title, summary, published_at and raw_meta only; enriched_at,
// regulation_id and created_at belong to the first insert and the
// enrichment stage.
type ItemWriter interface {
	UpsertItem(ctx context.Context, item radar.IngestItem) (UpsertResult, error)
}

// ItemReader serves the health check.
type ItemReader interface {
	// CountPendingEnrichment counts items with a null enriched_at.
	CountPendingEnrichment(ctx context.Context, country radar.Country) (int, error)
	// ItemStamps returns grouping columns and created_at, at most limit rows.
	// Implementations may pre-aggregate to one row per group with the max created_at.
	ItemStamps(ctx context.Context, country radar.Country, limit int) ([]radar.ItemStamp, error)
}

// ItemExporter feeds the CSV dump.
type ItemExporter interface {
	// ItemsForExport returns up to limit items of one source type, newest first.
	ItemsForExport(ctx context.Context, sourceType radar.SourceType, limit int) ([]radar.IngestItem, error)
}

// RunLog records run lifecycles.
type RunLog interface {
	StartRun(ctx context.Context, run radar.RunRecord) error
	FinishRun(ctx context.Context, run radar.RunRecord) error
	FailedRunsSince(ctx context.Context, since time.Time) ([]radar.RunRecord, error)
}

// Store bundles the persistence capabilities of one backend.
type Store interface {
	SourceRegistry
	ItemWriter
	ItemReader
	ItemExporter
	RunLog
	Close()
}
