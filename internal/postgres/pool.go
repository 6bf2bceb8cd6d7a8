// Package postgres builds the instrumented pgx connection pool shared by the
// PostgreSQL-backed stores.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolConfig tunes NewPool. The zero value keeps pgx defaults and logs
// every query.
type PoolConfig struct {
	MaxConns int32
	// SlowQuery is the duration below which successful queries are not logged.
	SlowQuery time.Duration
}

// NewPool connects to databaseURL with otelpgx tracing and query logging,
// and verifies the connection.
func NewPool(ctx context.Context, databaseURL string, pc PoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if pc.MaxConns > 0 {
		cfg.MaxConns = pc.MaxConns
	}
	cfg.ConnConfig.Tracer = newQueryLogger(
		otelpgx.NewTracer(otelpgx.WithTrimSQLInSpanName()),
		pc.SlowQuery,
	)

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.NewWithConfig: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return pool, nil
}
