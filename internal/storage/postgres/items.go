package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// UpsertItem implements store.ItemWriter. The conflict branch leaves id,
// created_at, enriched_at and regulation_id alone; xmax = 0 only holds for a
// freshly inserted tuple.
func (s *Store) UpsertItem(ctx context.Context, item radar.IngestItem) (store.UpsertResult, error) {
	meta := item.RawMeta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("marshal raw_meta: %w", err)
	}
	query := fmt.Sprintf(`
		INSERT INTO %s (
			id, country, authority, source_url, doc_url, ingest_source_type,
			title, published_at, summary, raw_meta, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (doc_url) DO UPDATE SET
			title = EXCLUDED.title,
			summary = COALESCE(EXCLUDED.summary, %[1]s.summary),
			published_at = COALESCE(EXCLUDED.published_at, %[1]s.published_at),
			raw_meta = EXCLUDED.raw_meta
		RETURNING id::text, (xmax = 0) AS inserted`, s.tables.Items)

	var res store.UpsertResult
	err = s.db.QueryRow(ctx, query,
		item.ID,
		string(item.Country),
		item.Authority,
		item.SourceURL,
		item.DocURL,
		string(item.SourceType),
		item.Title,
		item.PublishedAt,
		item.Summary,
		metaJSON,
		item.CreatedAt,
	).Scan(&res.ID, &res.Inserted)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("upsert item %s: %w", item.DocURL, err)
	}
	return res, nil
}

// CountPendingEnrichment implements store.ItemReader.
func (s *Store) CountPendingEnrichment(ctx context.Context, country radar.Country) (int, error) {
	var args queryArgs
	query := fmt.Sprintf("SELECT count(*) FROM %s WHERE enriched_at IS NULL", s.tables.Items)
	if country != "" {
		query += " AND country = " + args.add(string(country))
	}
	var n int64
	if err := s.db.QueryRow(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return int(n), nil
}

// ItemStamps implements store.ItemReader, aggregating to the newest
// created_at per (country, authority, source_url) in the database.
func (s *Store) ItemStamps(ctx context.Context, country radar.Country, limit int) ([]radar.ItemStamp, error) {
	var args queryArgs
	where := "country IS NOT NULL AND authority IS NOT NULL AND source_url IS NOT NULL AND created_at IS NOT NULL"
	if country != "" {
		where += " AND country = " + args.add(string(country))
	}
	if limit <= 0 {
		limit = 50000
	}
	query := fmt.Sprintf(`
		SELECT country, authority, source_url, max(created_at) AS last_created
		FROM %s
		WHERE %s
		GROUP BY country, authority, source_url
		ORDER BY last_created DESC
		LIMIT %s`, s.tables.Items, where, args.add(limit))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query item stamps: %w", err)
	}
	defer rows.Close()

	var out []radar.ItemStamp
	for rows.Next() {
		var (
			stamp   radar.ItemStamp
			country string
			created time.Time
		)
		if err := rows.Scan(&country, &stamp.Authority, &stamp.SourceURL, &created); err != nil {
			return nil, fmt.Errorf("scan item stamp: %w", err)
		}
		stamp.Country = radar.Country(country)
		stamp.CreatedAt = created.UTC()
		out = append(out, stamp)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate item stamps: %w", err)
	}
	return out, nil
}

// ItemsForExport returns up to limit items of one ingest source type,
// newest first.
func (s *Store) ItemsForExport(ctx context.Context, sourceType radar.SourceType, limit int) ([]radar.IngestItem, error) {
	query := fmt.Sprintf(`
		SELECT country, authority, ingest_source_type, title, doc_url, source_url, published_at, created_at
		FROM %s
		WHERE ingest_source_type = $1
		ORDER BY created_at DESC
		LIMIT $2`, s.tables.Items)
	rows, err := s.db.Query(ctx, query, string(sourceType), limit)
	if err != nil {
		return nil, fmt.Errorf("query export items: %w", err)
	}
	defer rows.Close()

	var out []radar.IngestItem
	for rows.Next() {
		var (
			item           radar.IngestItem
			country, stype string
		)
		if err := rows.Scan(&country, &item.Authority, &stype, &item.Title, &item.DocURL,
			&item.SourceURL, &item.PublishedAt, &item.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		item.Country = radar.Country(country)
		item.SourceType = radar.SourceType(stype)
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export items: %w", err)
	}
	return out, nil
}
