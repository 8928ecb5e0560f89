package collector

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mmcdole/gofeed"
	"go.uber.org/zap"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/sites"
)

// RSS reads RSS/Atom feeds.
type RSS struct {
	fetch    PageFetcher
	maxItems int
	logger   *zap.Logger
}

// NewRSS builds the feed collector.
func NewRSS(fetch PageFetcher, maxItems int, logger *zap.Logger) (*RSS, error) {
	if fetch == nil {
		return nil, fmt.Errorf("fetcher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RSS{fetch: fetch, maxItems: maxItemsOrDefault(maxItems), logger: logger}, nil
}

// Type implements Collector.
func (c *RSS) Type() radar.CollectorType { return radar.CollectorRSS }

// Accepts implements Collector.
func (c *RSS) Accepts(src radar.Source) bool { return src.HasRSS }

// Collect implements Collector. Entries without a link are kept with an empty
// doc_url; dedup drops them.
func (c *RSS) Collect(ctx context.Context, src radar.Source) ([]radar.IngestItem, error) {
	feedURL := strings.TrimSpace(src.RSSURL)
	if !sites.HasHTTPScheme(feedURL) {
		c.logger.Warn("rss url unusable; skipping",
			zap.String("authority", src.Authority),
			zap.String("rss_url", src.RSSURL),
		)
		return nil, nil
	}

	resp, err := c.fetch.Fetch(ctx, []string{feedURL})
	if err != nil {
		return nil, fmt.Errorf("fetch feed %s: %w", feedURL, err)
	}
	feed, err := gofeed.NewParser().Parse(bytes.NewReader(resp.Body))
	if err != nil {
		return nil, fmt.Errorf("parse feed %s: %w", feedURL, err)
	}

	entries := feed.Items
	if len(entries) > c.maxItems {
		entries = entries[:c.maxItems]
	}
	items := make([]radar.IngestItem, 0, len(entries))
	for _, entry := range entries {
		if entry == nil {
			continue
		}
		meta := map[string]string{"rss_url": feedURL}
		published := entryTime(entry)
		if published == nil && entry.Published != "" {
			meta["published"] = entry.Published
		}
		var summary *string
		if desc := strings.TrimSpace(entry.Description); desc != "" {
			summary = radar.StringPtr(truncateRunes(desc, maxSummaryRunes))
		}
		items = append(items, radar.IngestItem{
			Country:     src.Country,
			Authority:   src.Authority,
			SourceURL:   src.SourceURL,
			DocURL:      strings.TrimSpace(entry.Link),
			SourceType:  radar.SourceTypeRSS,
			Title:       strings.TrimSpace(entry.Title),
			PublishedAt: published,
			Summary:     summary,
			RawMeta:     meta,
		})
	}
	c.logger.Info("rss collected",
		zap.String("authority", src.Authority),
		zap.String("rss_url", feedURL),
		zap.Int("entries", len(feed.Items)),
		zap.Int("items", len(items)),
	)
	return items, nil
}

func entryTime(entry *gofeed.Item) *time.Time {
	switch {
	case entry.PublishedParsed != nil:
		t := entry.PublishedParsed.UTC()
		return &t
	case entry.UpdatedParsed != nil:
		t := entry.UpdatedParsed.UTC()
		return &t
	}
	return nil
}
