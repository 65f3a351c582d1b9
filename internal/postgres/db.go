package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// PoolOptions tunes the read model pool. Zero fields keep the defaults below.
type PoolOptions struct {
	MaxConns        int32
	MinConns        int32
	HealthCheck     time.Duration
	MaxConnIdleTime time.Duration
	// AppName shows up in pg_stat_activity.
	AppName string
}

const (
	defaultMaxConns    = 4
	defaultMinConns    = 1
	defaultHealthCheck = 30 * time.Second
	defaultIdle        = 5 * time.Minute
	defaultAppName     = "supplychain-readmodel"
)

// Connect opens the read model pool and pings it. Writers replace the whole
// catalog in one transaction, so a handful of connections is enough.
func Connect(ctx context.Context, dsn string, opts PoolOptions) (*pgxpool.Pool, error) {
	cfg, err := poolConfig(dsn, opts)
	if err != nil {
		return nil, err
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("postgres: new pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres: ping: %w", err)
	}
	return pool, nil
}

func poolConfig(dsn string, opts PoolOptions) (*pgxpool.Config, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("postgres: parse dsn: %w", err)
	}
	if opts.MaxConns <= 0 {
		opts.MaxConns = defaultMaxConns
	}
	if opts.MinConns <= 0 {
		opts.MinConns = defaultMinConns
	}
	if opts.MinConns > opts.MaxConns {
		return nil, fmt.Errorf("postgres: min conns %d exceeds max %d", opts.MinConns, opts.MaxConns)
	}
	if opts.HealthCheck <= 0 {
		opts.HealthCheck = defaultHealthCheck
	}
	if opts.MaxConnIdleTime <= 0 {
		opts.MaxConnIdleTime = defaultIdle
	}
	if opts.AppName == "" {
		opts.AppName = defaultAppName
	}
	cfg.MaxConns = opts.MaxConns
	cfg.MinConns = opts.MinConns
	cfg.HealthCheckPeriod = opts.HealthCheck
	cfg.MaxConnIdleTime = opts.MaxConnIdleTime
	// an application_name in the DSN wins
	if _, ok := cfg.ConnConfig.RuntimeParams["application_name"]; !ok {
		cfg.ConnConfig.RuntimeParams["application_name"] = opts.AppName
	}
	return cfg, nil
}
