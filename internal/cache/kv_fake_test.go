package cache_test

import (
	"context"
	"sync"
	"time"

	"github.com/raj3104/SwasthyaSanket/internal/cache"
)

// fakeKVStore 记录写入值和 TTL，不做过期（过期由 miniredis 测试覆盖）
type fakeKVStore struct {
	mu   sync.Mutex
	data map[string]fakeKVItem
	err  error // 非空时所有写操作返回该错误
}

type fakeKVItem struct {
	value string
	ttl   time.Duration
}

func newFakeKVStore() *fakeKVStore {
	return &fakeKVStore{data: make(map[string]fakeKVItem)}
}

func (f *fakeKVStore) Get(ctx context.Context, key string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if item, ok := f.data[key]; ok {
		return item.value, nil
	}
	return "", cache.ErrCacheMiss
}

func (f *fakeKVStore) Set(ctx context.Context, key string, value string, ttl time.Duration) error {
	return f.write(func() { f.data[key] = fakeKVItem{value: value, ttl: ttl} })
}

func (f *fakeKVStore) Del(ctx context.Context, key string) error {
	return f.write(func() { delete(f.data, key) })
}

func (f *fakeKVStore) write(apply func()) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	apply()
	return nil
}
