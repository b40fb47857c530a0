package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rickgao/tickerboard/internal/config"
)

// Connect opens a pool and verifies it with a ping.
func Connect(ctx context.Context, cfg config.DBConfig) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(BuildConnString(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse connection string: %w", err)
	}
	poolCfg.MinConns = int32(cfg.MinConns)
	poolCfg.MaxConns = int32(cfg.MaxConns)

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

// Execer runs a statement without returning rows.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

var schema = []string{
	`CREATE TABLE IF NOT EXISTS price_snapshots (
		symbol         TEXT             NOT NULL,
		kind           TEXT             NOT NULL,
		price          DOUBLE PRECISION NOT NULL,
		change         DOUBLE PRECISION NOT NULL,
		change_percent DOUBLE PRECISION NOT NULL,
		volume         DOUBLE PRECISION NOT NULL,
		quote_ts       BIGINT           NOT NULL,
		captured_at    BIGINT           NOT NULL,
		session        TEXT             NOT NULL,
		mode           TEXT             NOT NULL,
		PRIMARY KEY (symbol, quote_ts)
	)`,
	`CREATE INDEX IF NOT EXISTS price_snapshots_captured_at ON price_snapshots (captured_at)`,
}

// EnsureSchema creates the history tables if they do not exist.
func EnsureSchema(ctx context.Context, db Execer) error {
	for _, stmt := range schema {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}
