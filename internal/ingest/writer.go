// Package ingest persists deduplicated items and hands new ones to the
// enrichment stage.
package ingest

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/metrics"
	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// DefaultPreviewItems is how many items a dry run prints.
const DefaultPreviewItems = 5

// Result summarizes one Write call.
type Result struct {
	Total    int
	Written  int
	Inserted int
	Updated  int
	Failed   int
	Preview  []string
	DryRun   bool
}

// Option customizes a Writer.
type Option func(*Writer)

// WithPublisher announces inserted items on topic. An empty topic disables it.
func WithPublisher(pub radar.Publisher, topic string) Option {
	return func(w *Writer) {
		w.pub = pub
		w.topic = topic
	}
}

// WithPreviewItems sets the dry-run preview size.
func WithPreviewItems(n int) Option {
	return func(w *Writer) {
		if n > 0 {
			w.previewItems = n
		}
	}
}

// Writer upserts items one at a time so a bad row only costs itself.
type Writer struct {
	store        store.ItemWriter
	ids          radar.IDGenerator
	clock        radar.Clock
	logger       *zap.Logger
	pub          radar.Publisher
	topic        string
	previewItems int
}

// New builds a Writer. items may be nil for a writer that only ever runs dry.
func New(items store.ItemWriter, ids radar.IDGenerator, clock radar.Clock, logger *zap.Logger, opts ...Option) (*Writer, error) {
	if ids == nil {
		return nil, fmt.Errorf("id generator is required")
	}
	if clock == nil {
		return nil, fmt.Errorf("clock is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &Writer{
		store:        items,
		ids:          ids,
		clock:        clock,
		logger:       logger,
		previewItems: DefaultPreviewItems,
	}
	for _, opt := range opts {
		opt(w)
	}
	return w, nil
}

// Write persists items, or only previews them when dryRun is set. The
// returned error is reserved for cancellation and a missing store; row
// level failures land in Result.Failed.
func (w *Writer) Write(ctx context.Context, items []radar.IngestItem, dryRun bool) (Result, error) {
	res := Result{Total: len(items), DryRun: dryRun}
	if dryRun {
		res.Preview = w.preview(items)
		return res, nil
	}
	if w.store == nil {
		return res, fmt.Errorf("item store is not configured")
	}

	for _, item := range items {
		if err := ctx.Err(); err != nil {
			w.observe(res)
			return res, fmt.Errorf("write interrupted after %d of %d items: %w", res.Written+res.Failed, res.Total, err)
		}
		if item.ID == "" {
			id, err := w.ids.NewID()
			if err != nil {
				res.Failed++
				w.logger.Warn("assign item id failed", zap.String("doc_url", item.DocURL), zap.Error(err))
				continue
			}
			item.ID = id
		}
		if item.CreatedAt.IsZero() {
			item.CreatedAt = w.clock.Now()
		}

		up, err := w.store.UpsertItem(ctx, item)
		if err != nil {
			res.Failed++
			w.logger.Warn("upsert item failed",
				zap.String("authority", item.Authority),
				zap.String("doc_url", item.DocURL),
				zap.Error(err),
			)
			continue
		}
		res.Written++
		if !up.Inserted {
			res.Updated++
			continue
		}
		res.Inserted++
		w.announce(ctx, up.ID, item)
	}

	w.observe(res)
	w.logger.Info("items written",
		zap.Int("total", res.Total),
		zap.Int("inserted", res.Inserted),
		zap.Int("updated", res.Updated),
		zap.Int("failed", res.Failed),
	)
	return res, nil
}

func (w *Writer) announce(ctx context.Context, id string, item radar.IngestItem) {
	if w.pub == nil || w.topic == "" {
		return
	}
	msg := radar.Discovery{
		ID:           id,
		DocURL:       item.DocURL,
		Country:      item.Country,
		Authority:    item.Authority,
		SourceType:   item.SourceType,
		DiscoveredAt: item.CreatedAt,
	}
	if _, err := w.pub.Publish(ctx, w.topic, msg); err != nil {
		metrics.ObservePublishFailure()
		w.logger.Warn("publish discovery failed", zap.String("doc_url", item.DocURL), zap.Error(err))
	}
}

func (w *Writer) preview(items []radar.IngestItem) []string {
	n := min(len(items), w.previewItems)
	lines := make([]string, 0, n+1)
	for _, item := range items[:n] {
		lines = append(lines, fmt.Sprintf("[%s] %s | %s | %s | %s",
			item.Country, item.Authority, item.SourceType, clip(item.Title, 80), item.DocURL))
	}
	if rest := len(items) - n; rest > 0 {
		lines = append(lines, fmt.Sprintf("... and %d more", rest))
	}
	w.logger.Info("dry run, nothing persisted", zap.Int("items", len(items)))
	for _, line := range lines {
		w.logger.Info("  " + line)
	}
	return lines
}

func (w *Writer) observe(res Result) {
	metrics.ObserveWrite("inserted", res.Inserted)
	metrics.ObserveWrite("updated", res.Updated)
	metrics.ObserveWrite("failed", res.Failed)
}

func clip(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
