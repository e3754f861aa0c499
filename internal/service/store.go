package service

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/common/database"
	mqttcommon "github.com/raj3104/SwasthyaSanket/common/mqtt"
	rediscommon "github.com/raj3104/SwasthyaSanket/common/redis"
	"github.com/raj3104/SwasthyaSanket/internal/cache"
	"github.com/raj3104/SwasthyaSanket/internal/config"
	"github.com/raj3104/SwasthyaSanket/internal/docstore"
	"github.com/raj3104/SwasthyaSanket/internal/publisher"
)

// DocumentStore 可订阅、可写入的文档库
type DocumentStore interface {
	docstore.Store
	docstore.Writer
}

// Backend 按配置创建的文档库及其连接
type Backend struct {
	Store DocumentStore

	config      *config.Config
	logger      *zap.Logger
	db          *sql.DB
	redisClient *redis.Client
	mqttClient  *mqttcommon.Client
}

// NewStoreFromConfig 按 DOCSTORE_BACKEND 创建文档库
func NewStoreFromConfig(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Backend, error) {
	b := &Backend{config: cfg, logger: logger}

	switch cfg.Store.Backend {
	case config.BackendMemory:
		b.Store = docstore.NewMemoryStore(logger)

	case config.BackendRedis:
		client, err := b.redis(ctx)
		if err != nil {
			return nil, err
		}
		b.Store = docstore.NewRedisStore(client, logger, docstore.RedisStoreOptions{
			Block: cfg.Store.RedisBlockTimeout,
		})

	case config.BackendPostgres:
		db, err := database.NewPostgresDB(ctx, &cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}
		b.db = db
		store := docstore.NewPostgresStore(db, logger, cfg.Store.PostgresPollInterval)
		if err := store.EnsureSchema(ctx); err != nil {
			b.Close()
			return nil, err
		}
		b.Store = store

	case config.BackendFirestore:
		store, err := docstore.NewFirestoreStore(&cfg.Firestore, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create firestore store: %w", err)
		}
		b.Store = store

	default:
		return nil, fmt.Errorf("unsupported docstore backend: %s", cfg.Store.Backend)
	}

	logger.Info("Document store ready", zap.String("backend", cfg.Store.Backend))
	return b, nil
}

// Sinks 按配置创建输出端：日志始终启用，Redis 缓存和 MQTT 可选
func (b *Backend) Sinks(ctx context.Context) ([]Sink, error) {
	sinks := []Sink{NewLogSink(b.logger)}

	if b.config.Cache.Enabled {
		client, err := b.redis(ctx)
		if err != nil {
			return nil, err
		}
		kv := cache.NewRedisKVStore(client)
		sinks = append(sinks, cache.NewDisplayCache(kv, b.config.Cache.TTL, b.logger))
	}

	if b.config.Publisher.MQTTEnabled {
		if b.mqttClient == nil {
			client, err := mqttcommon.NewClient(&b.config.MQTT, b.logger)
			if err != nil {
				return nil, err
			}
			b.mqttClient = client
		}
		sinks = append(sinks, publisher.NewMQTTPublisher(b.mqttClient, b.config.MQTT.TopicPrefix, b.config.MQTT.QoS, b.logger))
	}

	return sinks, nil
}

// redis 共享 Redis 连接（文档库与缓存共用）
func (b *Backend) redis(ctx context.Context) (*redis.Client, error) {
	if b.redisClient != nil {
		return b.redisClient, nil
	}
	client, err := rediscommon.Connect(ctx, &b.config.Redis)
	if err != nil {
		return nil, err
	}
	b.redisClient = client
	return client, nil
}

// Close 关闭所有连接
func (b *Backend) Close() {
	if b.mqttClient != nil {
		b.mqttClient.Disconnect()
		b.mqttClient = nil
	}
	if b.redisClient != nil {
		if err := b.redisClient.Close(); err != nil {
			b.logger.Error("Error closing redis connection", zap.Error(err))
		}
		b.redisClient = nil
	}
	if b.db != nil {
		if err := database.Close(b.db); err != nil {
			b.logger.Error("Error closing database connection", zap.Error(err))
		}
		b.db = nil
	}
}
