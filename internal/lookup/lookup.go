// Package lookup 按姓名+电话实时查询工人记录，并把第一个匹配解析为工人身份
package lookup

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/docstore"
	"github.com/raj3104/SwasthyaSanket/internal/metrics"
	"github.com/raj3104/SwasthyaSanket/internal/models"
	"github.com/raj3104/SwasthyaSanket/internal/serial"
)

// 查询字段
const (
	FieldName  = "name"
	FieldPhone = "phone"
)

// MessageEmpty 无匹配时的提示
const MessageEmpty = "No worker found with those details."

// ErrEmptySet 查询结果为空（订阅保持有效）
var ErrEmptySet = errors.New("no worker found")

// ValidationError 输入校验失败（不会打开订阅）
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// EventKind 查询事件类型
type EventKind int

const (
	// EventPending 已打开订阅，尚未收到结果
	EventPending EventKind = iota
	// EventMatched 首次匹配（每个 Lookup 只发一次）
	EventMatched
	// EventRefreshed 匹配之后的非空结果
	EventRefreshed
	// EventEmpty 无匹配
	EventEmpty
	// EventFailed 传输错误
	EventFailed
)

func (k EventKind) String() string {
	switch k {
	case EventMatched:
		return "matched"
	case EventRefreshed:
		return "refreshed"
	case EventEmpty:
		return "empty"
	case EventFailed:
		return "failed"
	default:
		return "pending"
	}
}

// Event 查询事件
type Event struct {
	Kind       EventKind
	Identity   models.WorkerIdentity   // 已解析的身份（Matched 之后保持不变）
	Candidates []models.WorkerIdentity // 当前结果中的全部文档ID（服务端顺序）
	Duplicate  bool                    // 同一姓名+电话对应多个文档
	Err        error
	Message    string // 面向用户的提示
}

// Handler 事件回调（在 Lookup 的串行队列上执行）
type Handler func(Event)

// Finder 工人查询入口，同一时刻只保留一个进行中的 Lookup
type Finder struct {
	store  docstore.Store
	logger *zap.Logger

	mu      sync.Mutex
	current *Lookup
}

// NewFinder 创建查询入口
func NewFinder(store docstore.Store, logger *zap.Logger) *Finder {
	return &Finder{
		store:  store,
		logger: logger,
	}
}

// Search 打开实时查询；会先取消上一个进行中的 Lookup
func (f *Finder) Search(ctx context.Context, name, phone string, handler Handler) (*Lookup, error) {
	name = strings.TrimSpace(name)
	phone = strings.TrimSpace(phone)
	if name == "" {
		return nil, &ValidationError{Field: FieldName, Message: "name is required"}
	}
	if phone == "" {
		return nil, &ValidationError{Field: FieldPhone, Message: "phone is required"}
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.current != nil {
		f.current.Cancel()
		f.current = nil
	}

	l := &Lookup{
		id:      uuid.NewString(),
		queue:   serial.NewQueue(),
		handler: handler,
		logger:  f.logger,
	}
	l.logger = f.logger.With(zap.String("lookup_id", l.id))

	query := docstore.Query{
		Collection: docstore.CollectionWorkerDetails,
		Filters: []docstore.Filter{
			{Field: FieldName, Value: name},
			{Field: FieldPhone, Value: phone},
		},
	}
	sub, err := f.store.WatchQuery(ctx, query, l.onSnapshot)
	if err != nil {
		return nil, fmt.Errorf("failed to watch worker query: %w", err)
	}
	l.setSubscription(sub)

	f.current = l
	l.logger.Info("Worker lookup started", zap.String("name", name))
	return l, nil
}

// Close 取消进行中的 Lookup
func (f *Finder) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.current != nil {
		f.current.Cancel()
		f.current = nil
	}
}

// Lookup 一次查询的生命周期
type Lookup struct {
	id      string
	queue   *serial.Queue
	handler Handler
	logger  *zap.Logger

	cancelled atomic.Bool

	mu        sync.Mutex
	sub       docstore.Subscription
	navigated bool
	identity  models.WorkerIdentity
	status    Event
}

// ID 查询ID
func (l *Lookup) ID() string {
	return l.id
}

// Status 最近一次对用户可见的状态
func (l *Lookup) Status() Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	st := l.status
	st.Candidates = append([]models.WorkerIdentity(nil), l.status.Candidates...)
	return st
}

// Cancel 取消订阅（幂等）；之后不再回调
func (l *Lookup) Cancel() {
	if !l.cancelled.CompareAndSwap(false, true) {
		return
	}
	l.mu.Lock()
	sub := l.sub
	l.mu.Unlock()
	if sub != nil {
		sub.Cancel()
	}
}

// Wait 等待已收到的事件处理完毕（不能在 Handler 内调用）
func (l *Lookup) Wait() {
	l.queue.Wait()
}

func (l *Lookup) setSubscription(sub docstore.Subscription) {
	l.mu.Lock()
	l.sub = sub
	l.mu.Unlock()
	// 订阅建立前已被取消
	if l.cancelled.Load() {
		sub.Cancel()
	}
}

// onSnapshot 可能在任意 goroutine 调用；统一转到串行队列处理
func (l *Lookup) onSnapshot(snap *docstore.QuerySnapshot, err error) {
	l.queue.Submit(func() {
		if l.cancelled.Load() {
			return
		}
		ev := l.apply(snap, err)
		metrics.LookupResults.WithLabelValues(ev.Kind.String()).Inc()
		if l.handler != nil {
			l.handler(ev)
		}
	})
}

func (l *Lookup) apply(snap *docstore.QuerySnapshot, err error) Event {
	l.mu.Lock()
	defer l.mu.Unlock()

	var ev Event
	switch {
	case err != nil:
		cause := err
		var terr *docstore.TransportError
		if errors.As(err, &terr) && terr.Err != nil {
			cause = terr.Err
		}
		ev = Event{Kind: EventFailed, Err: err, Message: "Server error: " + cause.Error()}
		l.logger.Warn("Worker lookup failed", zap.Error(err))

	case snap == nil || len(snap.Documents) == 0:
		ev = Event{Kind: EventEmpty, Err: ErrEmptySet, Message: MessageEmpty}
		l.logger.Info("Worker lookup returned no documents")

	default:
		candidates := make([]models.WorkerIdentity, len(snap.Documents))
		for i, doc := range snap.Documents {
			candidates[i] = models.WorkerIdentity(doc.ID)
		}
		ev = Event{
			Kind:       EventRefreshed,
			Candidates: candidates,
			Duplicate:  len(candidates) > 1,
		}
		if !l.navigated {
			l.navigated = true
			l.identity = candidates[0]
			ev.Kind = EventMatched
			l.logger.Info("Worker resolved",
				zap.String("worker_id", string(l.identity)),
				zap.Int("candidates", len(candidates)),
			)
		}
		if ev.Duplicate {
			ev.Message = fmt.Sprintf("%d workers share these details; showing %s", len(candidates), l.identity)
		}
	}

	ev.Identity = l.identity
	l.status = ev
	return ev
}
