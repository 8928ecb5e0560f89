package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// ActiveSources implements store.SourceRegistry.
func (s *Store) ActiveSources(ctx context.Context, q store.SourceQuery) ([]radar.Source, error) {
	var args []any
	where := []string{"is_active = 1"}
	if q.Country != "" {
		where = append(where, "country = ?")
		args = append(args, string(q.Country))
	}
	switch q.Only {
	case radar.CollectorRSS:
		where = append(where, "has_rss = 1")
	case radar.CollectorHTML:
		where = append(where, "upper(format) LIKE '%HTML%'")
	case radar.CollectorPDF:
		where = append(where, "upper(format) LIKE '%PDF%'")
	}
	args = append(args, q.EffectiveLimit())
	query := `
		SELECT id, country, authority, source_url, COALESCE(format, ''),
		       has_rss, COALESCE(rss_url, ''), requires_js, priority
		FROM coverage
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY priority ASC NULLS LAST, id ASC
		LIMIT ?`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []radar.Source
	for rows.Next() {
		var (
			src      radar.Source
			country  string
			priority sql.NullInt64
		)
		if err := rows.Scan(&src.ID, &country, &src.Authority, &src.SourceURL, &src.Format,
			&src.HasRSS, &src.RSSURL, &src.RequiresJS, &priority); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Country = radar.NormalizeCountry(country)
		src.IsActive = true
		if priority.Valid {
			p := int(priority.Int64)
			src.Priority = &p
		}
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}

// PutSource inserts or replaces a coverage row. It backs registry imports
// and fixtures; the production registry is maintained out of band.
func (s *Store) PutSource(ctx context.Context, src radar.Source) error {
	var priority any
	if src.Priority != nil {
		priority = *src.Priority
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO coverage (id, country, authority, source_url, format, has_rss, rss_url, requires_js, priority, is_active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			country = excluded.country,
			authority = excluded.authority,
			source_url = excluded.source_url,
			format = excluded.format,
			has_rss = excluded.has_rss,
			rss_url = excluded.rss_url,
			requires_js = excluded.requires_js,
			priority = excluded.priority,
			is_active = excluded.is_active`,
		src.ID, string(src.Country), src.Authority, src.SourceURL, src.Format,
		src.HasRSS, src.RSSURL, src.RequiresJS, priority, src.IsActive)
	if err != nil {
		return fmt.Errorf("put source %s: %w", src.ID, err)
	}
	return nil
}
