// Package aggregator 为一个工人身份维护五个独立订阅，并把各自的更新合并成一条记录
package aggregator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/decoder"
	"github.com/raj3104/SwasthyaSanket/internal/docstore"
	"github.com/raj3104/SwasthyaSanket/internal/metrics"
	"github.com/raj3104/SwasthyaSanket/internal/models"
	"github.com/raj3104/SwasthyaSanket/internal/serial"
)

// Observer 记录变更回调（在聚合器的串行队列上执行，收到的是独立副本）
// 不能在 Observer 内调用 Open/Close
type Observer func(models.WorkerRecord)

// Stats 聚合器状态
type Stats struct {
	Identity            models.WorkerIdentity
	Open                bool
	Generation          uint64
	ActiveSubscriptions int
}

// source 一个订阅负责的子字段
type source struct {
	name   string
	path   func(id string) string
	merge  func(rec *models.WorkerRecord, data map[string]any)
	absent func(rec *models.WorkerRecord)
	fail   func(rec *models.WorkerRecord, err error)
}

func taskSource(slot models.TaskSlot) source {
	return source{
		name: string(slot),
		path: func(id string) string { return docstore.WorkTaskPath(id, string(slot)) },
		merge: func(rec *models.WorkerRecord, data map[string]any) {
			rec.WorkTasks[slot] = models.Known(decoder.DecodeWorkTask(data))
		},
		absent: func(rec *models.WorkerRecord) { rec.WorkTasks[slot] = models.Absent[models.WorkTask]() },
		fail:   func(rec *models.WorkerRecord, err error) { rec.WorkTasks[slot] = models.Failed[models.WorkTask](err) },
	}
}

// sources 打开顺序：基础信息、饮食计划、task_01、task_02、医生推荐
var sources = []source{
	{
		name: "basic",
		path: docstore.WorkerPath,
		merge: func(rec *models.WorkerRecord, data map[string]any) {
			rec.Basic = models.Known(decoder.DecodeBasic(data))
		},
		absent: func(rec *models.WorkerRecord) { rec.Basic = models.Absent[models.BasicFields]() },
		fail:   func(rec *models.WorkerRecord, err error) { rec.Basic = models.Failed[models.BasicFields](err) },
	},
	{
		name: "diet_plan",
		path: docstore.DietPlanPath,
		merge: func(rec *models.WorkerRecord, data map[string]any) {
			rec.DietPlan = models.Known(decoder.DecodeDietPlan(data))
		},
		absent: func(rec *models.WorkerRecord) { rec.DietPlan = models.Absent[models.DietPlan]() },
		fail:   func(rec *models.WorkerRecord, err error) { rec.DietPlan = models.Failed[models.DietPlan](err) },
	},
	taskSource(models.TaskSlot01),
	taskSource(models.TaskSlot02),
	{
		name: "doctor",
		path: docstore.DoctorRecommendationPath,
		merge: func(rec *models.WorkerRecord, data map[string]any) {
			rec.Doctor = models.Known(decoder.DecodeDoctorRecommendation(data))
		},
		absent: func(rec *models.WorkerRecord) { rec.Doctor = models.Absent[models.DoctorRecommendation]() },
		fail: func(rec *models.WorkerRecord, err error) {
			rec.Doctor = models.Failed[models.DoctorRecommendation](err)
		},
	},
}

// LiveRecordAggregator 实时记录聚合器
// 每次切换身份或关闭都会递增 generation，旧订阅的迟到事件按 generation 丢弃
type LiveRecordAggregator struct {
	store  docstore.Store
	logger *zap.Logger
	queue  *serial.Queue
	now    func() time.Time

	mu           sync.Mutex
	open         bool
	identity     models.WorkerIdentity
	generation   uint64
	subs         []docstore.Subscription
	record       models.WorkerRecord
	observers    map[uint64]Observer
	nextObserver uint64
}

// NewLiveRecordAggregator 创建聚合器
func NewLiveRecordAggregator(store docstore.Store, logger *zap.Logger) *LiveRecordAggregator {
	return &LiveRecordAggregator{
		store:     store,
		logger:    logger,
		queue:     serial.NewQueue(),
		now:       time.Now,
		observers: make(map[uint64]Observer),
	}
}

// Open 为身份打开订阅；已为同一身份打开时不做任何事
// 切换身份时先取消全部旧订阅，再打开五个新订阅
func (a *LiveRecordAggregator) Open(ctx context.Context, identity models.WorkerIdentity) error {
	if identity == "" {
		return fmt.Errorf("worker identity is required")
	}

	a.mu.Lock()
	if a.open && a.identity == identity {
		a.mu.Unlock()
		return nil
	}
	a.generation++
	gen := a.generation
	old := a.subs
	a.subs = nil
	a.open = true
	a.identity = identity
	a.record = models.NewWorkerRecord(identity)
	a.mu.Unlock()

	a.cancelAll(old)
	// 旧身份已排队的事件处理完（会被丢弃）后才打开新订阅
	a.queue.Wait()

	subs := make([]docstore.Subscription, 0, len(sources))
	for _, src := range sources {
		sub, err := a.store.WatchDocument(ctx, src.path(string(identity)), a.handlerFor(gen, src))
		if err != nil {
			a.cancelAll(subs)
			a.mu.Lock()
			if a.generation == gen {
				a.open = false
			}
			a.mu.Unlock()
			return fmt.Errorf("failed to watch %s for worker %s: %w", src.name, identity, err)
		}
		subs = append(subs, sub)
		metrics.ActiveSubscriptions.Inc()
	}

	a.mu.Lock()
	if a.generation != gen {
		// 打开期间被 Close 或另一次 Open 取代
		a.mu.Unlock()
		a.cancelAll(subs)
		return nil
	}
	a.subs = subs
	a.mu.Unlock()

	a.logger.Info("Worker record subscriptions opened",
		zap.String("worker_id", string(identity)),
		zap.Uint64("generation", gen),
		zap.Int("subscriptions", len(subs)),
	)
	return nil
}

// Close 取消全部订阅，并等待已排队的事件处理完；返回后不会再有发布
func (a *LiveRecordAggregator) Close() {
	a.mu.Lock()
	a.generation++
	old := a.subs
	a.subs = nil
	wasOpen := a.open
	a.open = false
	identity := a.identity
	a.record = models.WorkerRecord{}
	a.mu.Unlock()

	a.cancelAll(old)
	a.queue.Wait()

	if wasOpen {
		a.logger.Info("Worker record subscriptions closed", zap.String("worker_id", string(identity)))
	}
}

// Subscribe 注册观察者，返回取消注册函数
func (a *LiveRecordAggregator) Subscribe(o Observer) (unsubscribe func()) {
	a.mu.Lock()
	id := a.nextObserver
	a.nextObserver++
	a.observers[id] = o
	a.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			a.mu.Lock()
			delete(a.observers, id)
			a.mu.Unlock()
		})
	}
}

// Snapshot 当前记录的副本
func (a *LiveRecordAggregator) Snapshot() models.WorkerRecord {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.record.Clone()
}

// Identity 当前身份（未打开时为空）
func (a *LiveRecordAggregator) Identity() models.WorkerIdentity {
	a.mu.Lock()
	defer a.mu.Unlock()
	if !a.open {
		return ""
	}
	return a.identity
}

// Stats 当前状态
func (a *LiveRecordAggregator) Stats() Stats {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Stats{
		Identity:            a.identity,
		Open:                a.open,
		Generation:          a.generation,
		ActiveSubscriptions: len(a.subs),
	}
}

func (a *LiveRecordAggregator) cancelAll(subs []docstore.Subscription) {
	for _, sub := range subs {
		sub.Cancel()
		metrics.ActiveSubscriptions.Dec()
	}
}

// handlerFor 订阅回调可能来自任意 goroutine，统一转到串行队列
func (a *LiveRecordAggregator) handlerFor(gen uint64, src source) docstore.DocumentHandler {
	return func(snap *docstore.DocumentSnapshot, err error) {
		a.queue.Submit(func() {
			a.apply(gen, src, snap, err)
		})
	}
}

func (a *LiveRecordAggregator) apply(gen uint64, src source, snap *docstore.DocumentSnapshot, err error) {
	a.mu.Lock()
	if !a.open || gen != a.generation {
		a.mu.Unlock()
		metrics.StaleEventsDiscarded.Inc()
		return
	}

	switch {
	case err != nil:
		src.fail(&a.record, err)
		metrics.SubscriptionErrors.WithLabelValues(src.name).Inc()
		a.logger.Warn("Worker record subscription error",
			zap.String("worker_id", string(a.identity)),
			zap.String("source", src.name),
			zap.Error(err),
		)
	case snap == nil || !snap.Exists:
		src.absent(&a.record)
	default:
		src.merge(&a.record, snap.Data)
		metrics.SnapshotsReceived.WithLabelValues(src.name).Inc()
	}
	a.record.Version++
	a.record.UpdatedAt = a.now()

	rec := a.record.Clone()
	observers := make([]Observer, 0, len(a.observers))
	for _, o := range a.observers {
		observers = append(observers, o)
	}
	a.mu.Unlock()

	for _, o := range observers {
		o(rec.Clone())
	}
}
