package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// DB 数据库连接池封装
type DB struct {
	Pool *pgxpool.Pool
}

// New 创建数据库连接
func New(ctx context.Context, databaseURL string) (*DB, error) {
	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	// 同步是串行的，连接池不需要太大
	config.MaxConns = 4
	config.MinConns = 1

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close 关闭连接池
func (db *DB) Close() {
	db.Pool.Close()
}

// Migrate 执行数据库迁移
func (db *DB) Migrate(ctx context.Context) error {
	migrations := []string{
		migrationCreateSyncRuns,
		migrationCreateSyncResults,
		migrationWidenResultVIN,
	}

	for _, m := range migrations {
		if _, err := db.Pool.Exec(ctx, m); err != nil {
			return fmt.Errorf("execute migration: %w", err)
		}
	}

	return nil
}

// 数据库迁移 SQL
const migrationCreateSyncRuns = `
CREATE TABLE IF NOT EXISTS sync_runs (
    id UUID PRIMARY KEY,
    started_at TIMESTAMP WITH TIME ZONE NOT NULL,
    finished_at TIMESTAMP WITH TIME ZONE,
    created INT NOT NULL DEFAULT 0,
    updated INT NOT NULL DEFAULT 0,
    skipped INT NOT NULL DEFAULT 0,
    failed INT NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_sync_runs_started_at ON sync_runs(started_at DESC);
`

const migrationCreateSyncResults = `
CREATE TABLE IF NOT EXISTS sync_results (
    id BIGSERIAL PRIMARY KEY,
    run_id UUID NOT NULL REFERENCES sync_runs(id) ON DELETE CASCADE,
    source_id TEXT NOT NULL,
    target_id TEXT NOT NULL DEFAULT '',
    outcome VARCHAR(16) NOT NULL,
    stage VARCHAR(16) NOT NULL,
    match_kind VARCHAR(8) NOT NULL DEFAULT 'none',
    vin TEXT NOT NULL DEFAULT '',
    name TEXT NOT NULL DEFAULT '',
    miles DOUBLE PRECISION,
    measured BOOLEAN NOT NULL DEFAULT FALSE,
    error TEXT NOT NULL DEFAULT '',
    recorded_at TIMESTAMP WITH TIME ZONE NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_sync_results_run_id ON sync_results(run_id);
CREATE INDEX IF NOT EXISTS idx_sync_results_source_id ON sync_results(source_id, recorded_at DESC);
`

// 早期表结构 vin 为 VARCHAR(17)
const migrationWidenResultVIN = `
ALTER TABLE sync_results ALTER COLUMN vin TYPE TEXT;
`
