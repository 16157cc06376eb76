package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Source yields the connection pool a request should use. The static
// implementation serves single-database deployments; the tenant
// registry resolves per-tenant pools from the request context.
type Source interface {
	Pool(ctx context.Context) (*pgxpool.Pool, error)
}

// Static always returns the same pool.
type Static struct {
	pool *pgxpool.Pool
}

// NewStatic wraps a pool as a Source.
func NewStatic(pool *pgxpool.Pool) *Static {
	return &Static{pool: pool}
}

// Pool implements Source.
func (s *Static) Pool(context.Context) (*pgxpool.Pool, error) {
	return s.pool, nil
}
