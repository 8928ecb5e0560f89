// Package memory provides in-process implementations of the persistence
// interfaces for dry runs, development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// Store keeps sources, items and runs in maps guarded by one lock.
type Store struct {
	mu      sync.RWMutex
	sources []radar.Source
	items   map[string]radar.IngestItem // keyed by doc_url
	order   []string
	runs    map[string]radar.RunRecord
}

// NewStore constructs a Store seeded with sources.
func NewStore(sources ...radar.Source) *Store {
	return &Store{
		sources: append([]radar.Source(nil), sources...),
		items:   make(map[string]radar.IngestItem),
		runs:    make(map[string]radar.RunRecord),
	}
}

// ActiveSources implements store.SourceRegistry.
func (s *Store) ActiveSources(_ context.Context, q store.SourceQuery) ([]radar.Source, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return store.FilterSources(s.sources, q), nil
}

// UpsertItem implements store.ItemWriter.
func (s *Store) UpsertItem(_ context.Context, item radar.IngestItem) (store.UpsertResult, error) {
	if item.DocURL == "" {
		return store.UpsertResult{}, fmt.Errorf("doc_url is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.items[item.DocURL]
	if !ok {
		item.RawMeta = copyMeta(item.RawMeta)
		s.items[item.DocURL] = item
		s.order = append(s.order, item.DocURL)
		return store.UpsertResult{ID: item.ID, Inserted: true}, nil
	}
	existing.Title = item.Title
	if item.Summary != nil {
		existing.Summary = item.Summary
	}
	if item.PublishedAt != nil {
		existing.PublishedAt = item.PublishedAt
	}
	existing.RawMeta = copyMeta(item.RawMeta)
	s.items[item.DocURL] = existing
	return store.UpsertResult{ID: existing.ID, Inserted: false}, nil
}

// Items returns every stored item in insertion order.
func (s *Store) Items() []radar.IngestItem {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]radar.IngestItem, 0, len(s.order))
	for _, key := range s.order {
		out = append(out, s.items[key])
	}
	return out
}

// MarkEnriched sets enriched_at the way the downstream enrichment stage would.
func (s *Store) MarkEnriched(docURL string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	item, ok := s.items[docURL]
	if !ok {
		return false
	}
	item.EnrichedAt = &at
	s.items[docURL] = item
	return true
}

// CountPendingEnrichment implements store.ItemReader.
func (s *Store) CountPendingEnrichment(_ context.Context, country radar.Country) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, item := range s.items {
		if item.EnrichedAt == nil && (country == "" || item.Country == country) {
			n++
		}
	}
	return n, nil
}

// ItemStamps implements store.ItemReader. Rows are raw (not aggregated),
// newest first.
func (s *Store) ItemStamps(_ context.Context, country radar.Country, limit int) ([]radar.ItemStamp, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.ItemStamp
	for _, item := range s.items {
		if country != "" && item.Country != country {
			continue
		}
		out = append(out, radar.ItemStamp{
			Country:   item.Country,
			Authority: item.Authority,
			SourceURL: item.SourceURL,
			CreatedAt: item.CreatedAt,
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ItemsForExport implements store.ItemExporter.
func (s *Store) ItemsForExport(_ context.Context, sourceType radar.SourceType, limit int) ([]radar.IngestItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.IngestItem
	for _, key := range s.order {
		if item := s.items[key]; item.SourceType == sourceType {
			out = append(out, item)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// StartRun implements store.RunLog.
func (s *Store) StartRun(_ context.Context, run radar.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.runs[run.ID]; exists {
		return fmt.Errorf("run %s already exists", run.ID)
	}
	s.runs[run.ID] = run
	return nil
}

// FinishRun implements store.RunLog.
func (s *Store) FinishRun(_ context.Context, run radar.RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.runs[run.ID]
	if !ok {
		return fmt.Errorf("update run %s: %w", run.ID, store.ErrNotFound)
	}
	existing.FinishedAt = run.FinishedAt
	existing.OKCount = run.OKCount
	existing.FailCount = run.FailCount
	existing.Notes = run.Notes
	s.runs[run.ID] = existing
	return nil
}

// Run returns a recorded run by ID.
func (s *Store) Run(id string) (radar.RunRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	run, ok := s.runs[id]
	return run, ok
}

// Runs returns all recorded runs, oldest first.
func (s *Store) Runs() []radar.RunRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]radar.RunRecord, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartedAt.Before(out[j].StartedAt)
	})
	return out
}

// FailedRunsSince implements store.RunLog.
func (s *Store) FailedRunsSince(_ context.Context, since time.Time) ([]radar.RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []radar.RunRecord
	for _, run := range s.runs {
		if run.FailCount > 0 && !run.StartedAt.Before(since) {
			out = append(out, run)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StartedAt.After(out[j].StartedAt) })
	return out, nil
}

// Close is a no-op.
func (s *Store) Close() {}

func copyMeta(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
