// Package postgres provides the Postgres-backed inspection event trail.
package postgres

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stackinspect/inspectd/internal/inspection"
)

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// EventStoreConfig controls the Postgres connection pool used for event rows.
type EventStoreConfig struct {
	DSN             string
	Table           string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// EventStore writes inspection submission rows into Postgres.
type EventStore struct {
	pool  execCloser
	table string
}

// NewEventStore creates a Postgres-backed EventStore using the provided config.
func NewEventStore(ctx context.Context, cfg EventStoreConfig) (*EventStore, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("events.dsn is required")
	}
	table := cfg.Table
	if table == "" {
		table = "inspection_events"
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
	return &EventStore{pool: pool, table: table}, nil
}

// NewEventStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewEventStoreWithPool(pool execCloser, table string) (*EventStore, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if table == "" {
		table = "inspection_events"
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &EventStore{pool: pool, table: table}, nil
}

// RecordSubmission inserts one inspection submission row.
func (s *EventStore) RecordSubmission(ctx context.Context, event inspection.Event) error {
	query := fmt.Sprintf(`
		INSERT INTO %s (inspection_id, workflow_id, workflow_target, created_at)
		VALUES ($1, $2, $3, $4)
	`, s.table)

	if _, err := s.pool.Exec(ctx, query,
		event.InspectionID,
		event.WorkflowID,
		event.Target,
		event.CreatedAt,
	); err != nil {
		return fmt.Errorf("insert inspection event: %w", err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *EventStore) Close() {
	s.pool.Close()
}
