package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func setupTestRedisStore(t *testing.T) (*miniredis.Miniredis, *RedisStore) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store := NewRedisStore(client, zap.NewNop(), RedisStoreOptions{
		Block:       20 * time.Millisecond,
		BackoffBase: 10 * time.Millisecond,
		BackoffMax:  40 * time.Millisecond,
	})
	return mr, store
}

func TestRedisStore_PutWritesDocumentAndChange(t *testing.T) {
	mr, store := setupTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, WorkerPath("w-1"), map[string]any{"name": "Asha"}))

	raw, err := mr.Get("docstore:doc:workerDetails/w-1")
	require.NoError(t, err)
	var data map[string]any
	require.NoError(t, json.Unmarshal([]byte(raw), &data))
	assert.Equal(t, "Asha", data["name"])

	members, err := mr.ZMembers("docstore:col:workerDetails")
	require.NoError(t, err)
	assert.Equal(t, []string{"w-1"}, members)

	entries, err := mr.Stream(RedisChangesStream)
	require.NoError(t, err)
	require.Len(t, entries, 1)
}

func TestRedisStore_WatchDocument_LiveUpdates(t *testing.T) {
	_, store := setupTestRedisStore(t)
	ctx := context.Background()
	path := WorkTaskPath("w-1", "task_01")

	require.NoError(t, store.Put(ctx, path, map[string]any{"task": "Lifting", "priority": "High"}))

	rec := newDocRecorder()
	sub, err := store.WatchDocument(ctx, path, rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	ev := rec.next(t)
	require.NoError(t, ev.err)
	require.True(t, ev.snap.Exists)
	assert.Equal(t, "Lifting", ev.snap.Data["task"])

	// 其他文档的变更不触发投递
	require.NoError(t, store.Put(ctx, WorkTaskPath("w-1", "task_02"), map[string]any{"task": "Packing"}))
	require.NoError(t, store.Put(ctx, path, map[string]any{"task": "Sorting", "priority": "Low"}))

	ev = rec.next(t)
	require.NoError(t, ev.err)
	assert.Equal(t, "Sorting", ev.snap.Data["task"])

	require.NoError(t, store.Delete(ctx, path))
	ev = rec.next(t)
	require.NoError(t, ev.err)
	assert.False(t, ev.snap.Exists)
}

func TestRedisStore_NumbersKeepJSONNumber(t *testing.T) {
	_, store := setupTestRedisStore(t)
	ctx := context.Background()
	path := WorkerPath("w-1")

	require.NoError(t, store.Put(ctx, path, map[string]any{
		"patient_inputs": map[string]any{"age": 34, "bmi": "23.5"},
	}))

	rec := newDocRecorder()
	sub, err := store.WatchDocument(ctx, path, rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	ev := rec.next(t)
	age, ok := ev.snap.Get("patient_inputs.age")
	require.True(t, ok)
	assert.Equal(t, json.Number("34"), age)
	bmi, _ := ev.snap.Get("patient_inputs.bmi")
	assert.Equal(t, "23.5", bmi)
}

func TestRedisStore_WatchQuery(t *testing.T) {
	_, store := setupTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, WorkerPath("w-2"), map[string]any{"name": "Asha", "phone": "98"}))
	require.NoError(t, store.Put(ctx, WorkerPath("w-1"), map[string]any{"name": "Ravi", "phone": "98"}))

	rec := newQueryRecorder()
	sub, err := store.WatchQuery(ctx, Query{
		Collection: CollectionWorkerDetails,
		Filters:    []Filter{{Field: "name", Value: "Asha"}, {Field: "phone", Value: "98"}},
	}, rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()

	ev := rec.next(t)
	require.NoError(t, ev.err)
	require.Len(t, ev.snap.Documents, 1)
	assert.Equal(t, "w-2", ev.snap.Documents[0].ID)

	require.NoError(t, store.Put(ctx, WorkerPath("w-3"), map[string]any{"name": "Asha", "phone": "98"}))
	ev = rec.next(t)
	require.Len(t, ev.snap.Documents, 2)
	assert.Equal(t, "w-2", ev.snap.Documents[0].ID)
	assert.Equal(t, "w-3", ev.snap.Documents[1].ID)
}

func TestRedisStore_TransportErrorThenRecovery(t *testing.T) {
	mr, store := setupTestRedisStore(t)
	ctx := context.Background()
	path := WorkerPath("w-1")
	require.NoError(t, store.Put(ctx, path, map[string]any{"name": "Asha"}))

	rec := newDocRecorder()
	sub, err := store.WatchDocument(ctx, path, rec.handle)
	require.NoError(t, err)
	defer sub.Cancel()
	rec.next(t)

	mr.Close()
	ev := rec.next(t)
	var terr *TransportError
	require.True(t, errors.As(ev.err, &terr))
	assert.Equal(t, path, terr.Path)

	require.NoError(t, mr.Restart())
	// 恢复后重新投递当前快照
	ev = rec.next(t)
	require.NoError(t, ev.err)
	assert.True(t, ev.snap.Exists)
}
