// Package redis go-redis 客户端与 Streams 辅助函数
package redis

import (
	"context"
	"fmt"

	"github.com/go-redis/redis/v8"

	"github.com/raj3104/SwasthyaSanket/common/config"
)

// NewRedisClient 按配置创建客户端（不建立连接）
func NewRedisClient(cfg *config.RedisConfig) *redis.Client {
	opts := &redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	}
	if cfg.PoolSize > 0 {
		opts.PoolSize = cfg.PoolSize
	}
	if cfg.DialTimeout > 0 {
		opts.DialTimeout = cfg.DialTimeout
	}
	return redis.NewClient(opts)
}

// Connect 创建客户端并 PING；失败时关闭客户端
func Connect(ctx context.Context, cfg *config.RedisConfig) (*redis.Client, error) {
	client := NewRedisClient(cfg)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return client, nil
}
