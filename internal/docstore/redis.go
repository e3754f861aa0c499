package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	rediscommon "github.com/raj3104/SwasthyaSanket/common/redis"
)

// Redis 键约定
const (
	redisDocPrefix     = "docstore:doc:"
	redisColPrefix     = "docstore:col:"
	redisSeqKey        = "docstore:seq"
	RedisChangesStream = "docstore:changes"
)

// RedisStoreOptions Redis 文档库参数
type RedisStoreOptions struct {
	Block       time.Duration // XREAD 阻塞时长，默认 1s
	BatchSize   int64         // 每次读取的变更数，默认 100
	BackoffBase time.Duration // 出错后初始退避，默认 1s
	BackoffMax  time.Duration // 最大退避，默认 30s
}

// RedisStore 基于 Redis 的文档库
// 文档以 JSON 存储，变更通过 Redis Streams 广播；订阅者从自己的游标之后读取
type RedisStore struct {
	client *redis.Client
	logger *zap.Logger
	opts   RedisStoreOptions
	now    func() time.Time
}

// NewRedisStore 创建 Redis 文档库
func NewRedisStore(client *redis.Client, logger *zap.Logger, opts RedisStoreOptions) *RedisStore {
	if opts.Block <= 0 {
		opts.Block = time.Second
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	if opts.BackoffBase <= 0 {
		opts.BackoffBase = time.Second
	}
	if opts.BackoffMax <= 0 {
		opts.BackoffMax = 30 * time.Second
	}
	return &RedisStore{
		client: client,
		logger: logger,
		opts:   opts,
		now:    time.Now,
	}
}

// Put 写入文档并发布变更
func (s *RedisStore) Put(ctx context.Context, path string, data map[string]any) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("failed to marshal document: %w", err)
	}

	seq, err := s.client.Incr(ctx, redisSeqKey).Result()
	if err != nil {
		return fmt.Errorf("failed to allocate sequence: %w", err)
	}

	collection := Collection(path)
	_, err = s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, redisDocPrefix+path, raw, 0)
		pipe.ZAddNX(ctx, redisColPrefix+collection, &redis.Z{Score: float64(seq), Member: DocumentID(path)})
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to write document %s: %w", path, err)
	}

	return s.publishChange(ctx, path, "put")
}

// Delete 删除文档并发布变更
func (s *RedisStore) Delete(ctx context.Context, path string) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, redisDocPrefix+path)
		pipe.ZRem(ctx, redisColPrefix+Collection(path), DocumentID(path))
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to delete document %s: %w", path, err)
	}

	return s.publishChange(ctx, path, "delete")
}

func (s *RedisStore) publishChange(ctx context.Context, path, op string) error {
	_, err := rediscommon.PublishToStream(ctx, s.client, RedisChangesStream, map[string]interface{}{
		"path":       path,
		"collection": Collection(path),
		"op":         op,
		"timestamp":  s.now().UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("failed to publish change for %s: %w", path, err)
	}
	return nil
}

// WatchDocument 订阅文档
func (s *RedisStore) WatchDocument(ctx context.Context, path string, handler DocumentHandler) (Subscription, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	interested := func(changed, _ string) bool { return changed == path }
	deliver := func(ctx context.Context) error {
		snap, err := s.readDocument(ctx, path)
		if err != nil {
			return err
		}
		handler(snap, nil)
		return nil
	}
	onErr := func(err error) {
		handler(nil, &TransportError{Path: path, Err: err})
	}

	return s.startWatch(ctx, path, interested, deliver, onErr), nil
}

// WatchQuery 订阅查询
func (s *RedisStore) WatchQuery(ctx context.Context, query Query, handler QueryHandler) (Subscription, error) {
	interested := func(_, collection string) bool { return collection == query.Collection }
	deliver := func(ctx context.Context) error {
		snap, err := s.runQuery(ctx, query)
		if err != nil {
			return err
		}
		handler(snap, nil)
		return nil
	}
	onErr := func(err error) {
		handler(nil, &TransportError{Path: query.Collection, Err: err})
	}

	return s.startWatch(ctx, query.Collection, interested, deliver, onErr), nil
}

func (s *RedisStore) readDocument(ctx context.Context, path string) (*DocumentSnapshot, error) {
	snap := &DocumentSnapshot{
		ID:     DocumentID(path),
		Path:   path,
		ReadAt: s.now(),
	}

	val, err := s.client.Get(ctx, redisDocPrefix+path).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return snap, nil
		}
		return nil, fmt.Errorf("failed to get document: %w", err)
	}

	data, err := decodeJSONDocument(val)
	if err != nil {
		return nil, err
	}
	snap.Exists = true
	snap.Data = data
	return snap, nil
}

func (s *RedisStore) runQuery(ctx context.Context, q Query) (*QuerySnapshot, error) {
	ids, err := s.client.ZRange(ctx, redisColPrefix+q.Collection, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list collection %s: %w", q.Collection, err)
	}

	snap := &QuerySnapshot{ReadAt: s.now()}
	if len(ids) == 0 {
		return snap, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = redisDocPrefix + Join(q.Collection, id)
	}
	vals, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to read collection %s: %w", q.Collection, err)
	}

	for i, v := range vals {
		str, ok := v.(string)
		if !ok {
			continue
		}
		data, err := decodeJSONDocument([]byte(str))
		if err != nil {
			s.logger.Warn("Skipping undecodable document",
				zap.String("collection", q.Collection),
				zap.String("doc_id", ids[i]),
				zap.Error(err),
			)
			continue
		}
		if !q.Matches(data) {
			continue
		}
		snap.Documents = append(snap.Documents, DocumentSnapshot{
			ID:     ids[i],
			Path:   Join(q.Collection, ids[i]),
			Exists: true,
			Data:   data,
			ReadAt: snap.ReadAt,
		})
	}
	return snap, nil
}

// redisWatch Redis 订阅
type redisWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel 取消订阅
func (w *redisWatch) Cancel() {
	w.cancel()
}

// startWatch 先记下 Stream 游标再读取初始快照，避免遗漏两者之间的变更
func (s *RedisStore) startWatch(
	parent context.Context,
	name string,
	interested func(path, collection string) bool,
	deliver func(ctx context.Context) error,
	onErr func(error),
) *redisWatch {
	ctx, cancel := context.WithCancel(parent)
	w := &redisWatch{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		backoff := s.opts.BackoffBase
		failing := false
		fail := func(err error) bool {
			if ctx.Err() != nil {
				return false
			}
			if !failing {
				s.logger.Warn("Redis watch failed",
					zap.String("watch", name),
					zap.Error(err),
					zap.Duration("backoff", backoff),
				)
				onErr(err)
			}
			failing = true

			// 指数退避
			select {
			case <-ctx.Done():
				return false
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > s.opts.BackoffMax {
				backoff = s.opts.BackoffMax
			}
			return true
		}
		recovered := func() {
			failing = false
			backoff = s.opts.BackoffBase
		}

		var cursor string
		for {
			id, err := rediscommon.LatestStreamID(ctx, s.client, RedisChangesStream)
			if err == nil {
				err = deliver(ctx)
			}
			if err == nil {
				cursor = id
				recovered()
				break
			}
			if !fail(err) {
				return
			}
		}

		for {
			if ctx.Err() != nil {
				return
			}
			msgs, err := rediscommon.ReadStreamAfter(ctx, s.client, RedisChangesStream, cursor, s.opts.BatchSize, s.opts.Block)
			if err != nil {
				if !fail(err) {
					return
				}
				continue
			}

			changed := failing
			for _, msg := range msgs {
				cursor = msg.ID
				path, _ := msg.Values["path"].(string)
				collection, _ := msg.Values["collection"].(string)
				if interested(path, collection) {
					changed = true
				}
			}
			if !changed || ctx.Err() != nil {
				continue
			}
			if err := deliver(ctx); err != nil {
				if !fail(err) {
					return
				}
				continue
			}
			recovered()
		}
	}()

	return w
}
