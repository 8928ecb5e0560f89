package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// UpsertItem implements store.ItemWriter. SQLite has no xmax, so the insert
// and the conflict update run as two statements inside one transaction.
func (s *Store) UpsertItem(ctx context.Context, item radar.IngestItem) (res store.UpsertResult, err error) {
	meta := item.RawMeta
	if meta == nil {
		meta = map[string]string{}
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("marshal raw_meta: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("begin upsert: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	ins, err := tx.ExecContext(ctx, `
		INSERT INTO ingest_items (
			id, country, authority, source_url, doc_url, ingest_source_type,
			title, published_at, summary, raw_meta, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (doc_url) DO NOTHING`,
		item.ID, string(item.Country), item.Authority, item.SourceURL, item.DocURL,
		string(item.SourceType), item.Title, formatTimePtr(item.PublishedAt), item.Summary,
		string(metaJSON), formatTime(item.CreatedAt))
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("insert item %s: %w", item.DocURL, err)
	}
	n, err := ins.RowsAffected()
	if err != nil {
		return store.UpsertResult{}, fmt.Errorf("insert item %s: %w", item.DocURL, err)
	}
	if n == 1 {
		res = store.UpsertResult{ID: item.ID, Inserted: true}
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE ingest_items SET
				title = ?,
				summary = COALESCE(?, summary),
				published_at = COALESCE(?, published_at),
				raw_meta = ?
			WHERE doc_url = ?`,
			item.Title, item.Summary, formatTimePtr(item.PublishedAt), string(metaJSON), item.DocURL)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("update item %s: %w", item.DocURL, err)
		}
		err = tx.QueryRowContext(ctx, `SELECT id FROM ingest_items WHERE doc_url = ?`, item.DocURL).Scan(&res.ID)
		if err != nil {
			return store.UpsertResult{}, fmt.Errorf("read item %s: %w", item.DocURL, err)
		}
	}
	if err = tx.Commit(); err != nil {
		return store.UpsertResult{}, fmt.Errorf("commit upsert: %w", err)
	}
	return res, nil
}

// GetItem loads one item by canonical doc_url.
func (s *Store) GetItem(ctx context.Context, docURL string) (radar.IngestItem, error) {
	var (
		item                             radar.IngestItem
		country, sourceType, meta, ctime string
		published, enriched              sql.NullString
		summary, regulation              sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, country, authority, source_url, doc_url, ingest_source_type, title,
		       published_at, summary, raw_meta, created_at, enriched_at, regulation_id
		FROM ingest_items WHERE doc_url = ?`, docURL).
		Scan(&item.ID, &country, &item.Authority, &item.SourceURL, &item.DocURL, &sourceType, &item.Title,
			&published, &summary, &meta, &ctime, &enriched, &regulation)
	if errors.Is(err, sql.ErrNoRows) {
		return radar.IngestItem{}, fmt.Errorf("item %s: %w", docURL, store.ErrNotFound)
	}
	if err != nil {
		return radar.IngestItem{}, fmt.Errorf("get item %s: %w", docURL, err)
	}
	item.Country = radar.Country(country)
	item.SourceType = radar.SourceType(sourceType)
	item.Summary = nullString(summary)
	item.RegulationID = nullString(regulation)
	if err := json.Unmarshal([]byte(meta), &item.RawMeta); err != nil {
		return radar.IngestItem{}, fmt.Errorf("decode raw_meta: %w", err)
	}
	if item.CreatedAt, err = parseTime(ctime); err != nil {
		return radar.IngestItem{}, err
	}
	if item.PublishedAt, err = parseNullTime(published); err != nil {
		return radar.IngestItem{}, err
	}
	if item.EnrichedAt, err = parseNullTime(enriched); err != nil {
		return radar.IngestItem{}, err
	}
	return item, nil
}

// CountPendingEnrichment implements store.ItemReader.
func (s *Store) CountPendingEnrichment(ctx context.Context, country radar.Country) (int, error) {
	query := "SELECT count(*) FROM ingest_items WHERE enriched_at IS NULL"
	var args []any
	if country != "" {
		query += " AND country = ?"
		args = append(args, string(country))
	}
	var n int
	if err := s.db.QueryRowContext(ctx, query, args...).Scan(&n); err != nil {
		return 0, fmt.Errorf("count pending items: %w", err)
	}
	return n, nil
}

// ItemStamps implements store.ItemReader with one row per source group.
func (s *Store) ItemStamps(ctx context.Context, country radar.Country, limit int) ([]radar.ItemStamp, error) {
	query := `
		SELECT country, authority, source_url, max(created_at) AS last_created
		FROM ingest_items`
	var args []any
	if country != "" {
		query += " WHERE country = ?"
		args = append(args, string(country))
	}
	if limit <= 0 {
		limit = 50000
	}
	query += `
		GROUP BY country, authority, source_url
		ORDER BY last_created DESC
		LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query item stamps: %w", err)
	}
	defer rows.Close()

	var out []radar.ItemStamp
	for rows.Next() {
		var (
			stamp   radar.ItemStamp
			country string
			last    string
		)
		if err := rows.Scan(&country, &stamp.Authority, &stamp.SourceURL, &last); err != nil {
			return nil, fmt.Errorf("scan item stamp: %w", err)
		}
		stamp.Country = radar.Country(country)
		if stamp.CreatedAt, err = parseTime(last); err != nil {
			return nil, err
		}
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
	rows, err := s.db.QueryContext(ctx, `
		SELECT country, authority, ingest_source_type, title, doc_url, source_url, published_at, created_at
		FROM ingest_items
		WHERE ingest_source_type = ?
		ORDER BY created_at DESC
		LIMIT ?`, string(sourceType), limit)
	if err != nil {
		return nil, fmt.Errorf("query export items: %w", err)
	}
	defer rows.Close()

	var out []radar.IngestItem
	for rows.Next() {
		var (
			item                    radar.IngestItem
			country, stype, created string
			published               sql.NullString
		)
		if err := rows.Scan(&country, &item.Authority, &stype, &item.Title, &item.DocURL,
			&item.SourceURL, &published, &created); err != nil {
			return nil, fmt.Errorf("scan export item: %w", err)
		}
		item.Country = radar.Country(country)
		item.SourceType = radar.SourceType(stype)
		if item.PublishedAt, err = parseNullTime(published); err != nil {
			return nil, err
		}
		if item.CreatedAt, err = parseTime(created); err != nil {
			return nil, err
		}
		out = append(out, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate export items: %w", err)
	}
	return out, nil
}
