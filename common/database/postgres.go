// Package database PostgreSQL 连接池（lib/pq）
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/raj3104/SwasthyaSanket/common/config"
)

const (
	pingTimeout     = 5 * time.Second
	connMaxIdleTime = 5 * time.Minute
)

// NewPostgresDB 打开连接池并确认数据库可达
func NewPostgresDB(ctx context.Context, cfg *config.DatabaseConfig) (*sql.DB, error) {
	connector, err := pq.NewConnector(cfg.GetDSN())
	if err != nil {
		return nil, fmt.Errorf("invalid database config: %w", err)
	}
	db := sql.OpenDB(connector)
	configurePool(db, cfg)

	pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping %s on %s:%d: %w", cfg.Database, cfg.Host, cfg.Port, err)
	}
	return db, nil
}

func configurePool(db *sql.DB, cfg *config.DatabaseConfig) {
	if cfg.MaxConns > 0 {
		db.SetMaxOpenConns(cfg.MaxConns)
	}
	if cfg.MaxIdle > 0 {
		db.SetMaxIdleConns(cfg.MaxIdle)
	}
	db.SetConnMaxIdleTime(connMaxIdleTime)
}

// Close 关闭连接池（nil 安全）
func Close(db *sql.DB) error {
	if db == nil {
		return nil
	}
	return db.Close()
}
