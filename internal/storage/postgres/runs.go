package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// StartRun implements store.RunLog.
func (s *Store) StartRun(ctx context.Context, run radar.RunRecord) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (id, run_type, started_at, ok_count, fail_count, notes)
		VALUES ($1, $2, $3, $4, $5, $6)`, s.tables.Runs)
	if _, err := s.db.Exec(ctx, query, run.ID, run.RunType, run.StartedAt, run.OKCount, run.FailCount, run.Notes); err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun implements store.RunLog.
func (s *Store) FinishRun(ctx context.Context, run radar.RunRecord) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET finished_at = $2, ok_count = $3, fail_count = $4, notes = $5
		WHERE id = $1`, s.tables.Runs)
	tag, err := s.db.Exec(ctx, query, run.ID, run.FinishedAt, run.OKCount, run.FailCount, run.Notes)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// FailedRunsSince implements store.RunLog.
func (s *Store) FailedRunsSince(ctx context.Context, since time.Time) ([]radar.RunRecord, error) {
	query := fmt.Sprintf(`
		SELECT id::text, run_type, started_at, finished_at, ok_count, fail_count, notes
		FROM %s
		WHERE started_at >= $1 AND fail_count > 0
		ORDER BY started_at DESC`, s.tables.Runs)
	rows, err := s.db.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("query failed runs: %w", err)
	}
	defer rows.Close()

	var out []radar.RunRecord
	for rows.Next() {
		var run radar.RunRecord
		if err := rows.Scan(
			&run.ID,
			&run.RunType,
			&run.StartedAt,
			&run.FinishedAt,
			&run.OKCount,
			&run.FailCount,
			&run.Notes,
		); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
