// Package sqlite provides a single-file persistence backend for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver
)

// timeLayout is fixed width so lexical order matches chronological order.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `
CREATE TABLE IF NOT EXISTS coverage (
	id          TEXT PRIMARY KEY,
	country     TEXT NOT NULL DEFAULT 'UAE',
	authority   TEXT NOT NULL,
	source_url  TEXT NOT NULL,
	format      TEXT,
	has_rss     INTEGER NOT NULL DEFAULT 0,
	rss_url     TEXT,
	requires_js INTEGER NOT NULL DEFAULT 0,
	priority    INTEGER,
	is_active   INTEGER NOT NULL DEFAULT 1
);
CREATE TABLE IF NOT EXISTS ingest_items (
	id                 TEXT PRIMARY KEY,
	country            TEXT NOT NULL,
	authority          TEXT NOT NULL,
	source_url         TEXT NOT NULL,
	doc_url            TEXT NOT NULL UNIQUE,
	ingest_source_type TEXT NOT NULL,
	title              TEXT NOT NULL,
	published_at       TEXT,
	summary            TEXT,
	raw_meta           TEXT NOT NULL DEFAULT '{}',
	created_at         TEXT NOT NULL,
	enriched_at        TEXT,
	regulation_id      TEXT
);
CREATE INDEX IF NOT EXISTS ingest_items_group_idx ON ingest_items (country, authority, source_url, created_at);
CREATE TABLE IF NOT EXISTS runs_log (
	id          TEXT PRIMARY KEY,
	run_type    TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	finished_at TEXT,
	ok_count    INTEGER NOT NULL DEFAULT 0,
	fail_count  INTEGER NOT NULL DEFAULT 0,
	notes       TEXT
);`

// Store implements store.Store on SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path and applies the schema.
// Use ":memory:" for a throwaway database.
func Open(ctx context.Context, path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("db.sqlite_path is required")
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// One connection keeps :memory: databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{"PRAGMA foreign_keys=ON", "PRAGMA busy_timeout=10000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set pragma: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) any {
	if t == nil {
		return nil
	}
	return formatTime(*t)
}

func parseTime(raw string) (time.Time, error) {
	t, err := time.Parse(timeLayout, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", raw, err)
	}
	return t.UTC(), nil
}

func parseNullTime(raw sql.NullString) (*time.Time, error) {
	if !raw.Valid {
		return nil, nil
	}
	t, err := parseTime(raw.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func nullString(raw sql.NullString) *string {
	if !raw.Valid {
		return nil
	}
	s := raw.String
	return &s
}
