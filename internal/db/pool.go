package db

import (
	"context"
	"errors"
	"fmt"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
)

type NewDBPoolParams struct {
	ConnString     string
	MaxConns       int32
	TracingEnabled bool
}

// NewDBPool parses the connection string (DATABASE_URL) and creates the pool.
// Connecting is lazy, callers ping when they need an early failure.
func NewDBPool(ctx context.Context, params NewDBPoolParams) (*pgxpool.Pool, error) {
	if params.ConnString == "" {
		return nil, errors.New("empty db connection string")
	}

	poolConfig, err := pgxpool.ParseConfig(params.ConnString)
	if err != nil {
		return nil, fmt.Errorf("parse db config: %w", err)
	}

	if params.MaxConns > 0 {
		poolConfig.MaxConns = params.MaxConns
	}
	if params.TracingEnabled {
		poolConfig.ConnConfig.Tracer = otelpgx.NewTracer()
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}

	return pool, nil
}
