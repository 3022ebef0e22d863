package database

import (
	"context"
	"database/sql"
	"fmt"
	"hive-watch/internal/config"
	"time"

	_ "github.com/lib/pq"
)

// Schema alert_events 表结构（启动时按需创建）
const Schema = `
CREATE TABLE IF NOT EXISTS alert_events (
	event_id     UUID PRIMARY KEY,
	device_id    TEXT NOT NULL,
	status       TEXT NOT NULL,
	reasons      JSONB NOT NULL DEFAULT '[]',
	snapshot     JSONB NOT NULL DEFAULT '{}',
	triggered_at TIMESTAMPTZ NOT NULL,
	resolved_at  TIMESTAMPTZ,
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS idx_alert_events_device_triggered
	ON alert_events (device_id, triggered_at DESC);
`

// NewPostgresDB 创建PostgreSQL数据库连接
func NewPostgresDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// 设置连接池参数
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return db, nil
}

// Migrate 创建 alert_events 表
func Migrate(ctx context.Context, db *sql.DB) error {
	if _, err := db.ExecContext(ctx, Schema); err != nil {
		return fmt.Errorf("failed to migrate schema: %w", err)
	}
	return nil
}

// Close 关闭数据库连接
func Close(db *sql.DB) error {
	if db != nil {
		return db.Close()
	}
	return nil
}
