package database

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/coin-tracker/internal/config"
)

// Connect creates a connection pool from config and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig, appName string, logger *slog.Logger) (*pgxpool.Pool, error) {
	if logger == nil {
		logger = slog.Default()
	}

	pool, err := ConnectDSN(ctx, BuildConnString(cfg, appName), cfg.MinConns, cfg.MaxConns)
	if err != nil {
		return nil, err
	}

	logger.Info("postgres pool ready",
		"host", cfg.Host,
		"db", cfg.Name,
		"max_conns", cfg.MaxConns,
	)
	return pool, nil
}

// ConnectDSN creates a pool from a connection string. Zero conns keep the
// pgxpool defaults.
func ConnectDSN(ctx context.Context, dsn string, minConns, maxConns int) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}

	if minConns > 0 {
		poolCfg.MinConns = int32(minConns)
	}
	if maxConns > 0 {
		poolCfg.MaxConns = int32(maxConns)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return pool, nil
}
