package db

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Pool sizing for the multi-tenant layout: the tenant registry keeps
// one pool per dedicated database besides the shared one, so each
// pool stays small and recycles connections instead of pinning them.
const (
	defaultMaxConns        = 8
	defaultMaxConnLifetime = time.Hour
	defaultMaxConnIdleTime = 15 * time.Minute
	pingTimeout            = 5 * time.Second
)

// New creates a PostgreSQL connection pool and verifies connectivity.
// DSN pool_* parameters take precedence over the defaults above.
func New(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("platform/db: parse config: %w", err)
	}
	applyPoolDefaults(config, dsn)

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("platform/db: new pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("platform/db: ping: %w", err)
	}

	return pool, nil
}

func applyPoolDefaults(config *pgxpool.Config, dsn string) {
	if !strings.Contains(dsn, "pool_max_conns") {
		config.MaxConns = defaultMaxConns
	}
	if !strings.Contains(dsn, "pool_max_conn_lifetime") {
		config.MaxConnLifetime = defaultMaxConnLifetime
	}
	if !strings.Contains(dsn, "pool_max_conn_idle_time") {
		config.MaxConnIdleTime = defaultMaxConnIdleTime
	}
}
