package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/JakeFAU/reg-radar/internal/radar"
	"github.com/JakeFAU/reg-radar/internal/store"
)

// StartRun implements store.RunLog.
func (s *Store) StartRun(ctx context.Context, run radar.RunRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO runs_log (id, run_type, started_at, ok_count, fail_count, notes)
		VALUES (?, ?, ?, ?, ?, ?)`,
		run.ID, run.RunType, formatTime(run.StartedAt), run.OKCount, run.FailCount, run.Notes)
	if err != nil {
		return fmt.Errorf("insert run %s: %w", run.ID, err)
	}
	return nil
}

// FinishRun implements store.RunLog.
func (s *Store) FinishRun(ctx context.Context, run radar.RunRecord) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE runs_log SET finished_at = ?, ok_count = ?, fail_count = ?, notes = ?
		WHERE id = ?`,
		formatTimePtr(run.FinishedAt), run.OKCount, run.FailCount, run.Notes, run.ID)
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update run %s: %w", run.ID, err)
	}
	if n == 0 {
		return fmt.Errorf("update run %s: %w", run.ID, store.ErrNotFound)
	}
	return nil
}

// FailedRunsSince implements store.RunLog.
func (s *Store) FailedRunsSince(ctx context.Context, since time.Time) ([]radar.RunRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, run_type, started_at, finished_at, ok_count, fail_count, notes
		FROM runs_log
		WHERE started_at >= ? AND fail_count > 0
		ORDER BY started_at DESC`, formatTime(since))
	if err != nil {
		return nil, fmt.Errorf("query failed runs: %w", err)
	}
	defer rows.Close()

	var out []radar.RunRecord
	for rows.Next() {
		var (
			run      radar.RunRecord
			started  string
			finished sql.NullString
			notes    sql.NullString
		)
		if err := rows.Scan(&run.ID, &run.RunType, &started, &finished,
			&run.OKCount, &run.FailCount, &notes); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if run.StartedAt, err = parseTime(started); err != nil {
			return nil, err
		}
		if run.FinishedAt, err = parseNullTime(finished); err != nil {
			return nil, err
		}
		run.Notes = nullString(notes)
		out = append(out, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate runs: %w", err)
	}
	return out, nil
}
