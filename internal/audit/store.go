// Package audit records job lifecycle transitions in Postgres so
// operators can trace a command from webhook to terminal state. The
// trail is operational metadata only; scraped permit content is never
// persisted.
package audit

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/civictext/permitbot/internal/pipeline"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool for the audit trail.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// Store writes job transitions into Postgres.
type Store struct {
	pool  execCloser
	clock pipeline.Clock
	table string
}

// NewStore connects a pool and returns the store.
func NewStore(ctx context.Context, cfg Config, clock pipeline.Clock) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("audit.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "job_transitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool, clock: clock, table: table}, nil
}

// NewStoreWithPool constructs a store from an existing pool (primarily
// for testing).
func NewStoreWithPool(pool execCloser, clock pipeline.Clock, table string) (*Store, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "job_transitions"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &Store{pool: pool, clock: clock, table: table}, nil
}

// RecordTransition inserts one lifecycle row.
func (s *Store) RecordTransition(ctx context.Context, jobID string, status pipeline.JobStatus, attempt int, detail string) error {
	query := fmt.Sprintf(
		`INSERT INTO %s (job_id, status, attempt, detail, recorded_at) VALUES ($1, $2, $3, $4, $5)`,
		s.table,
	)
	_, err := s.pool.Exec(ctx, query, jobID, string(status), attempt, detail, s.clock.Now())
	if err != nil {
		return fmt.Errorf("insert job transition: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	s.pool.Close()
}
