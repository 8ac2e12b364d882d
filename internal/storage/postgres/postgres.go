// Package postgres stores alerts and collected transactions in PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"solana-swap-watch/internal/storage"
)

// Pool defaults applied when the DSN does not set them.
const (
	defaultMaxConns        = 4
	defaultMaxConnIdleTime = 5 * time.Minute
)

const uniqueViolation = "23505"

// Pool is the shared connection pool for the stores in this package.
type Pool struct {
	*pgxpool.Pool
}

// NewPool connects and pings. The watcher writes one alert at a time, so
// a small pool is enough unless the DSN asks for more (pool_max_conns).
func NewPool(ctx context.Context, dsn string) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.ConnConfig.RuntimeParams["application_name"] == "" {
		cfg.ConnConfig.RuntimeParams["application_name"] = "solana-swap-watch"
	}
	if cfg.MaxConns > defaultMaxConns && !strings.Contains(dsn, "pool_max_conns") {
		cfg.MaxConns = defaultMaxConns
	}
	cfg.MaxConnIdleTime = defaultMaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// Close closes every connection in the pool.
func (p *Pool) Close() {
	p.Pool.Close()
}

// mapError translates driver errors into storage sentinels and wraps
// anything else with op.
func mapError(op string, err error) error {
	var pgErr *pgconn.PgError
	switch {
	case err == nil:
		return nil
	case errors.Is(err, pgx.ErrNoRows):
		return storage.ErrNotFound
	case errors.As(err, &pgErr) && pgErr.Code == uniqueViolation:
		return storage.ErrDuplicateKey
	default:
		return fmt.Errorf("%s: %w", op, err)
	}
}
