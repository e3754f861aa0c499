package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// DefaultTTL 默认缓存时长
const DefaultTTL = 10 * time.Minute

// DisplayKey 显示记录缓存键
func DisplayKey(id models.WorkerIdentity) string {
	return fmt.Sprintf("swasthya:worker:%s:display", id)
}

// DisplayCache 显示记录缓存（同时作为同步服务的输出端）
type DisplayCache struct {
	kv     KVStore
	ttl    time.Duration
	logger *zap.Logger
}

// NewDisplayCache 创建显示记录缓存
func NewDisplayCache(kv KVStore, ttl time.Duration, logger *zap.Logger) *DisplayCache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &DisplayCache{
		kv:     kv,
		ttl:    ttl,
		logger: logger,
	}
}

// Name 输出端名称
func (c *DisplayCache) Name() string {
	return "cache"
}

// Publish 写入显示记录
func (c *DisplayCache) Publish(ctx context.Context, rec models.DisplayRecord) error {
	key := DisplayKey(rec.WorkerID)

	jsonData, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal display record: %w", err)
	}
	if err := c.kv.Set(ctx, key, string(jsonData), c.ttl); err != nil {
		return fmt.Errorf("failed to set cache: %w", err)
	}

	c.logger.Debug("Updated display record cache",
		zap.String("worker_id", string(rec.WorkerID)),
		zap.String("key", key),
		zap.Uint64("version", rec.Version),
	)
	return nil
}

// Get 读取显示记录；不存在时返回 ErrCacheMiss
func (c *DisplayCache) Get(ctx context.Context, id models.WorkerIdentity) (*models.DisplayRecord, error) {
	raw, err := c.kv.Get(ctx, DisplayKey(id))
	if err != nil {
		if errors.Is(err, ErrCacheMiss) {
			return nil, ErrCacheMiss
		}
		return nil, fmt.Errorf("failed to get cache: %w", err)
	}

	var rec models.DisplayRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		return nil, fmt.Errorf("failed to unmarshal display record: %w", err)
	}
	return &rec, nil
}

// Invalidate 删除显示记录（切换身份时调用，避免展示旧工人）
func (c *DisplayCache) Invalidate(ctx context.Context, id models.WorkerIdentity) error {
	if err := c.kv.Del(ctx, DisplayKey(id)); err != nil {
		return fmt.Errorf("failed to delete cache: %w", err)
	}
	return nil
}
