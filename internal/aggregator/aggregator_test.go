package aggregator

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/docstore"
	"github.com/raj3104/SwasthyaSanket/internal/models"
)

// fakeStore 记录订阅回调，测试可以在任意时刻（包括取消之后）手动触发
type fakeStore struct {
	mu      sync.Mutex
	watches []*fakeWatch
}

type fakeWatch struct {
	path      string
	handler   docstore.DocumentHandler
	cancelled atomic.Bool
}

func (w *fakeWatch) Cancel() { w.cancelled.Store(true) }

func (f *fakeStore) WatchDocument(ctx context.Context, path string, handler docstore.DocumentHandler) (docstore.Subscription, error) {
	if err := docstore.ValidateDocumentPath(path); err != nil {
		return nil, err
	}
	w := &fakeWatch{path: path, handler: handler}
	f.mu.Lock()
	f.watches = append(f.watches, w)
	f.mu.Unlock()
	return w, nil
}

func (f *fakeStore) WatchQuery(ctx context.Context, query docstore.Query, handler docstore.QueryHandler) (docstore.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeStore) latest(path string) *fakeWatch {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := len(f.watches) - 1; i >= 0; i-- {
		if f.watches[i].path == path {
			return f.watches[i]
		}
	}
	return nil
}

func (f *fakeStore) active() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, w := range f.watches {
		if !w.cancelled.Load() {
			n++
		}
	}
	return n
}

func existing(path string, data map[string]any) *docstore.DocumentSnapshot {
	return &docstore.DocumentSnapshot{ID: docstore.DocumentID(path), Path: path, Exists: true, Data: data}
}

type recordSink struct {
	ch chan models.WorkerRecord
}

func newRecordSink() *recordSink {
	return &recordSink{ch: make(chan models.WorkerRecord, 64)}
}

func (s *recordSink) observe(rec models.WorkerRecord) {
	s.ch <- rec
}

// waitFor 等待满足条件的记录
func (s *recordSink) waitFor(t *testing.T, pred func(models.WorkerRecord) bool) models.WorkerRecord {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case rec := <-s.ch:
			if pred(rec) {
				return rec
			}
		case <-deadline:
			require.FailNow(t, "timed out waiting for record")
			return models.WorkerRecord{}
		}
	}
}

func TestOpen_IdempotentForSameIdentity(t *testing.T) {
	store := docstore.NewMemoryStore(zap.NewNop())
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	require.NoError(t, agg.Open(context.Background(), "w-1"))

	assert.Equal(t, 5, store.ActiveSubscriptions())
	stats := agg.Stats()
	assert.Equal(t, 5, stats.ActiveSubscriptions)
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, models.WorkerIdentity("w-1"), agg.Identity())
}

func TestOpen_IdentityChangeReplacesSubscriptions(t *testing.T) {
	store := docstore.NewMemoryStore(zap.NewNop())
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	require.NoError(t, agg.Open(context.Background(), "w-2"))

	assert.Equal(t, 5, store.ActiveSubscriptions())
	assert.Equal(t, uint64(2), agg.Stats().Generation)
	assert.Equal(t, models.WorkerIdentity("w-2"), agg.Snapshot().Identity)
}

func TestOpen_RejectsBadIdentity(t *testing.T) {
	store := docstore.NewMemoryStore(zap.NewNop())
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()

	assert.Error(t, agg.Open(context.Background(), ""))
	assert.Error(t, agg.Open(context.Background(), "a/b"))
	assert.Equal(t, 0, store.ActiveSubscriptions())
	assert.Empty(t, agg.Identity())
}

func TestMerge_AllSources(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Put(ctx, docstore.WorkerPath("w-1"), map[string]any{
		"name":           "Asha",
		"patient_inputs": map[string]any{"age": 34, "bmi": "23.5"},
		"disease_probs":  map[string]any{"COPD": 0.4},
	}))
	require.NoError(t, store.Put(ctx, docstore.DietPlanPath("w-1"), map[string]any{
		"recommendations": []any{"Greens"},
		"status":          "Active",
	}))
	require.NoError(t, store.Put(ctx, docstore.WorkTaskPath("w-1", "task_01"), map[string]any{
		"task": "Lifting", "priority": "High", "duration": "2h",
	}))
	require.NoError(t, store.Put(ctx, docstore.DoctorRecommendationPath("w-1"), map[string]any{
		"city": "Pune", "info": "1. Dr. A 2. Dr. B",
	}))

	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()
	sink := newRecordSink()
	agg.Subscribe(sink.observe)

	require.NoError(t, agg.Open(ctx, "w-1"))
	rec := sink.waitFor(t, models.WorkerRecord.Complete)

	assert.Equal(t, uint64(5), rec.Version)
	assert.Equal(t, models.Known(34), rec.Basic.Value.Age)
	assert.Equal(t, models.Known(0.4), rec.Basic.Value.DiseaseRisks[models.DiseaseCOPD])
	assert.Equal(t, []string{"Greens"}, rec.DietPlan.Value.Recommendations)
	assert.Equal(t, models.Known("Lifting"), rec.WorkTasks[models.TaskSlot01].Value.Task)
	assert.Equal(t, models.StateAbsent, rec.WorkTasks[models.TaskSlot02].State)
	assert.Equal(t, models.Known("1. Dr. A\n\n2. Dr. B"), rec.Doctor.Value.Info)

	// 只合并变更的子字段
	require.NoError(t, store.Put(ctx, docstore.WorkTaskPath("w-1", "task_02"), map[string]any{"task": "Packing"}))
	rec = sink.waitFor(t, func(r models.WorkerRecord) bool { return r.WorkTasks[models.TaskSlot02].IsKnown() })
	assert.Equal(t, uint64(6), rec.Version)
	assert.Equal(t, models.Known("Active"), rec.DietPlan.Value.Status)
	assert.Equal(t, models.Known("Asha"), rec.Basic.Value.Name)
}

func TestBasicErrorDoesNotAffectDietPlan(t *testing.T) {
	ctx := context.Background()
	store := docstore.NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Put(ctx, docstore.DietPlanPath("w-1"), map[string]any{
		"recommendations": []any{"Greens", "Less salt"},
		"status":          "Active",
	}))

	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()
	sink := newRecordSink()
	agg.Subscribe(sink.observe)

	require.NoError(t, agg.Open(ctx, "w-1"))
	sink.waitFor(t, models.WorkerRecord.Complete)

	store.Fail(docstore.WorkerPath("w-1"), errors.New("permission denied"))
	rec := sink.waitFor(t, func(r models.WorkerRecord) bool { return r.Basic.State == models.StateError })

	assert.Contains(t, rec.Basic.Err, "permission denied")
	require.True(t, rec.DietPlan.IsKnown())
	assert.Equal(t, []string{"Greens", "Less salt"}, rec.DietPlan.Value.Recommendations)
	assert.Equal(t, models.Known("Active"), rec.DietPlan.Value.Status)

	// 出错后订阅仍然有效
	assert.Equal(t, 5, store.ActiveSubscriptions())
	require.NoError(t, store.Put(ctx, docstore.WorkerPath("w-1"), map[string]any{"name": "Asha"}))
	rec = sink.waitFor(t, func(r models.WorkerRecord) bool { return r.Basic.IsKnown() })
	assert.Equal(t, models.Known("Asha"), rec.Basic.Value.Name)
}

func TestStaleEventsAfterIdentityChangeAreDiscarded(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()
	sink := newRecordSink()
	agg.Subscribe(sink.observe)

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	old := store.latest(docstore.WorkerPath("w-1"))
	require.NotNil(t, old)

	require.NoError(t, agg.Open(context.Background(), "w-2"))
	assert.True(t, old.cancelled.Load())
	assert.Equal(t, 5, store.active())

	// 旧订阅的迟到回调
	old.handler(existing(old.path, map[string]any{"name": "Stale"}), nil)
	current := store.latest(docstore.WorkerPath("w-2"))
	current.handler(existing(current.path, map[string]any{"name": "Fresh"}), nil)

	rec := sink.waitFor(t, func(models.WorkerRecord) bool { return true })
	assert.Equal(t, models.WorkerIdentity("w-2"), rec.Identity)
	assert.Equal(t, models.Known("Fresh"), rec.Basic.Value.Name)
	assert.Equal(t, uint64(1), rec.Version)
}

func TestNoPublishAfterClose(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())

	var published atomic.Int32
	agg.Subscribe(func(models.WorkerRecord) { published.Add(1) })

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	diet := store.latest(docstore.DietPlanPath("w-1"))
	agg.Close()

	assert.Equal(t, 0, store.active())
	assert.Equal(t, 0, agg.Stats().ActiveSubscriptions)
	assert.Empty(t, agg.Identity())

	diet.handler(existing(diet.path, map[string]any{"status": "Late"}), nil)
	diet.handler(nil, errors.New("late error"))
	agg.queue.Wait()
	assert.Equal(t, int32(0), published.Load())
	assert.Equal(t, models.StateUnknown, agg.Snapshot().DietPlan.State)
}

func TestClose_DiscardsRecord(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	basic := store.latest(docstore.WorkerPath("w-1"))
	basic.handler(existing(basic.path, map[string]any{"name": "Asha"}), nil)
	agg.queue.Wait()
	require.Equal(t, models.WorkerIdentity("w-1"), agg.Snapshot().Identity)

	agg.Close()
	snap := agg.Snapshot()
	assert.Empty(t, snap.Identity)
	assert.Equal(t, models.StateUnknown, snap.Basic.State)
	assert.Equal(t, uint64(0), snap.Version)
}

func TestCloseIdempotentAndReopen(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())

	require.NoError(t, agg.Open(context.Background(), "w-1"))
	agg.Close()
	agg.Close()

	// 关闭后可以重新打开同一身份
	require.NoError(t, agg.Open(context.Background(), "w-1"))
	assert.Equal(t, 5, store.active())
	agg.Close()
}

func TestSubscribe_Unsubscribe(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()

	var calls atomic.Int32
	unsubscribe := agg.Subscribe(func(models.WorkerRecord) { calls.Add(1) })
	require.NoError(t, agg.Open(context.Background(), "w-1"))

	w := store.latest(docstore.WorkerPath("w-1"))
	w.handler(existing(w.path, map[string]any{"name": "Asha"}), nil)
	agg.queue.Wait()
	assert.Equal(t, int32(1), calls.Load())

	unsubscribe()
	unsubscribe()
	w.handler(existing(w.path, map[string]any{"name": "Asha 2"}), nil)
	agg.queue.Wait()
	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, models.Known("Asha 2"), agg.Snapshot().Basic.Value.Name)
}

func TestObserversReceiveIndependentCopies(t *testing.T) {
	store := &fakeStore{}
	agg := NewLiveRecordAggregator(store, zap.NewNop())
	defer agg.Close()

	agg.Subscribe(func(rec models.WorkerRecord) {
		rec.WorkTasks[models.TaskSlot01] = models.Known(models.WorkTask{Task: models.Known("mutated")})
	})
	require.NoError(t, agg.Open(context.Background(), "w-1"))

	w := store.latest(docstore.WorkTaskPath("w-1", "task_01"))
	w.handler(nil, nil)
	agg.queue.Wait()

	assert.Equal(t, models.StateAbsent, agg.Snapshot().WorkTasks[models.TaskSlot01].State)
}

func TestClose_NoGoroutineLeak(t *testing.T) {
	defer goleak.VerifyNone(t, goleak.IgnoreCurrent())

	ctx := context.Background()
	store := docstore.NewMemoryStore(zap.NewNop())
	require.NoError(t, store.Put(ctx, docstore.WorkerPath("w-1"), map[string]any{"name": "Asha"}))

	agg := NewLiveRecordAggregator(store, zap.NewNop())
	sink := newRecordSink()
	agg.Subscribe(sink.observe)
	require.NoError(t, agg.Open(ctx, "w-1"))
	sink.waitFor(t, models.WorkerRecord.Complete)

	agg.Close()
	store.Flush()
	assert.Equal(t, 0, store.ActiveSubscriptions())
}
