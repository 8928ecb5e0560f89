// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Default table names.
const (
	DefaultSourcesTable = "coverage"
	DefaultItemsTable   = "ingest_items"
	DefaultRunsTable    = "runs_log"
)

// Tables names the three relations the store touches.
type Tables struct {
	Sources string
	Items   string
	Runs    string
}

func (t Tables) withDefaults() Tables {
	if t.Sources == "" {
		t.Sources = DefaultSourcesTable
	}
	if t.Items == "" {
		t.Items = DefaultItemsTable
	}
	if t.Runs == "" {
		t.Runs = DefaultRunsTable
	}
	return t
}

func (t Tables) validate() error {
	for _, name := range []string{t.Sources, t.Items, t.Runs} {
		if !validTableName.MatchString(name) {
			return fmt.Errorf("invalid table name %q", name)
		}
	}
	return nil
}

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	Tables          Tables
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

// DB is the subset of pgxpool.Pool the store uses.
type DB interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Close()
}

// Store implements store.Store on Postgres.
type Store struct {
	db     DB
	tables Tables
}

// New connects a pool using cfg.
func New(ctx context.Context, cfg Config) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("db.dsn is required")
	}
	tables := cfg.Tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{db: pool, tables: tables}, nil
}

// NewWithPool constructs a store from an existing pool (primarily for testing).
func NewWithPool(db DB, tables Tables) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("pool is required")
	}
	tables = tables.withDefaults()
	if err := tables.validate(); err != nil {
		return nil, err
	}
	return &Store{db: db, tables: tables}, nil
}

// Close releases the pool.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// queryArgs collects positional parameters while a query is assembled.
type queryArgs []any

func (a *queryArgs) add(v any) string {
	*a = append(*a, v)
	return fmt.Sprintf("$%d", len(*a))
}
