package main

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/remiges-tech/logharbour/logharbour"

	"github.com/remiges-tech/promexporter/metrics"
	"github.com/remiges-tech/promexporter/metrics/memstore"
	"github.com/remiges-tech/promexporter/metrics/pgstore"
	"github.com/remiges-tech/promexporter/metrics/redisstore"
)

// newStorage creates the configured storage. The returned function releases
// its connections.
func newStorage(ctx context.Context, c StorageConfig, logger *logharbour.Logger) (metrics.Storage, func(), error) {
	switch c.Backend {
	case BackendMemory, "":
		return memstore.New(), func() {}, nil

	case BackendRedis:
		storage, err := redisstore.New(c.Redis, logger)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create redis storage: %w", err)
		}
		return storage, func() { _ = storage.Close() }, nil

	case BackendPostgres:
		pool, err := pgxpool.New(ctx, c.Postgres.DSN)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create postgres pool: %w", err)
		}
		if err := migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, nil, err
		}
		return pgstore.New(pool, c.Postgres.Options, logger), pool.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown storage backend %q", c.Backend)
}

func migrate(ctx context.Context, pool *pgxpool.Pool) error {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("failed to acquire connection for migrations: %w", err)
	}
	defer conn.Release()

	if err := pgstore.Migrate(ctx, conn.Conn()); err != nil {
		return err
	}
	return nil
}
