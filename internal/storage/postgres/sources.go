package postgres

import (
	"context"
	"fmt"
	"strings"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// ActiveSources implements store.SourceRegistry.
func (s *Store) ActiveSources(ctx context.Context, q store.SourceQuery) ([]radar.Source, error) {
	var args queryArgs
	where := []string{"is_active = true"}
	if q.Country != "" {
		where = append(where, "country = "+args.add(string(q.Country)))
	}
	switch q.Only {
	case radar.CollectorRSS:
		where = append(where, "has_rss = true")
	case radar.CollectorHTML:
		where = append(where, "format ILIKE '%HTML%'")
	case radar.CollectorPDF:
		where = append(where, "format ILIKE '%PDF%'")
	}
	query := fmt.Sprintf(`
		SELECT id::text, country, authority, source_url, COALESCE(format, ''),
		       COALESCE(has_rss, false), COALESCE(rss_url, ''), COALESCE(requires_js, false), priority
		FROM %s
		WHERE %s
		ORDER BY priority ASC NULLS LAST, id ASC
		LIMIT %s`,
		s.tables.Sources, strings.Join(where, " AND "), args.add(q.EffectiveLimit()))

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query sources: %w", err)
	}
	defer rows.Close()

	var out []radar.Source
	for rows.Next() {
		var (
			src     radar.Source
			country string
		)
		if err := rows.Scan(
			&src.ID,
			&country,
			&src.Authority,
			&src.SourceURL,
			&src.Format,
			&src.HasRSS,
			&src.RSSURL,
			&src.RequiresJS,
			&src.Priority,
		); err != nil {
			return nil, fmt.Errorf("scan source: %w", err)
		}
		src.Country = radar.NormalizeCountry(country)
		src.IsActive = true
		out = append(out, src)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate sources: %w", err)
	}
	return out, nil
}
