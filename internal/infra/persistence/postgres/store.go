// Package postgres persists order events in PostgreSQL via pgx.
package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/coachpo/quanta/internal/infra/config"
	"github.com/coachpo/quanta/internal/observability"
)

// Store owns the connection pool and the repositories built on it.
type Store struct {
	pool   *pgxpool.Pool
	events *EventStore
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, events: NewEventStore(pool)}
}

// Open dials PostgreSQL with the configured pool sizing and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig, logger observability.Logger) (*Store, error) {
	if logger == nil {
		logger = observability.Log()
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	poolCfg.HealthCheckPeriod = cfg.HealthCheckPeriod

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	ObservePoolMetrics(pool, "primary")
	logger.Info("postgres connected",
		observability.F("host", poolCfg.ConnConfig.Host),
		observability.F("database", poolCfg.ConnConfig.Database),
		observability.F("max_conns", cfg.MaxConns))
	return New(pool), nil
}

// Pool exposes the underlying pgx pool.
func (s *Store) Pool() *pgxpool.Pool {
	if s == nil {
		return nil
	}
	return s.pool
}

// Events returns the order event repository.
func (s *Store) Events() *EventStore {
	if s == nil {
		return nil
	}
	return s.events
}

// Close releases the pool.
func (s *Store) Close() {
	if s != nil && s.pool != nil {
		s.pool.Close()
	}
}
