package db

import (
	"testing"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/require"
)

func TestPoolDefaultsApplied(t *testing.T) {
	dsn := "postgres://u:p@localhost:5432/apotek"
	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)

	applyPoolDefaults(config, dsn)
	require.EqualValues(t, defaultMaxConns, config.MaxConns)
	require.Equal(t, defaultMaxConnLifetime, config.MaxConnLifetime)
	require.Equal(t, defaultMaxConnIdleTime, config.MaxConnIdleTime)
}

func TestPoolDefaultsYieldToDSN(t *testing.T) {
	dsn := "postgres://u:p@localhost:5432/apotek?pool_max_conns=32"
	config, err := pgxpool.ParseConfig(dsn)
	require.NoError(t, err)

	applyPoolDefaults(config, dsn)
	require.EqualValues(t, 32, config.MaxConns)
	require.Equal(t, defaultMaxConnLifetime, config.MaxConnLifetime)
}
