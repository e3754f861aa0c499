package docstore

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/serial"
)

// MemoryStore 进程内文档库（测试和本地演示使用）
// 每个订阅有独立的串行队列，异步投递快照
type MemoryStore struct {
	mu      sync.Mutex
	docs    map[string]memoryDoc
	seq     uint64
	watches map[string]*memoryWatch
	logger  *zap.Logger
	now     func() time.Time
}

type memoryDoc struct {
	data map[string]any
	seq  uint64 // 创建顺序（模拟服务端分配的顺序）
}

type memoryWatch struct {
	id        string
	path      string // 文档订阅
	query     *Query // 查询订阅
	onDoc     DocumentHandler
	onQuery   QueryHandler
	queue     *serial.Queue
	cancelled atomic.Bool
	store     *MemoryStore
}

// NewMemoryStore 创建内存文档库
func NewMemoryStore(logger *zap.Logger) *MemoryStore {
	return &MemoryStore{
		docs:    make(map[string]memoryDoc),
		watches: make(map[string]*memoryWatch),
		logger:  logger,
		now:     time.Now,
	}
}

// Put 写入（覆盖）文档并通知订阅者
func (s *MemoryStore) Put(ctx context.Context, path string, data map[string]any) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	doc, ok := s.docs[path]
	if !ok {
		s.seq++
		doc.seq = s.seq
	}
	doc.data = cloneData(data)
	s.docs[path] = doc

	s.notifyLocked(path)
	return nil
}

// Delete 删除文档并通知订阅者
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	if err := ValidateDocumentPath(path); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.docs, path)
	s.notifyLocked(path)
	return nil
}

// Fail 向某个文档路径的订阅者注入传输错误（订阅保持有效）
func (s *MemoryStore) Fail(path string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terr := &TransportError{Path: path, Err: err}
	for _, w := range s.watches {
		if w.path == path {
			w.submit(nil, nil, terr)
		}
	}
}

// FailQuery 向某个集合上的查询订阅者注入传输错误
func (s *MemoryStore) FailQuery(collection string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	terr := &TransportError{Path: collection, Err: err}
	for _, w := range s.watches {
		if w.query != nil && w.query.Collection == collection {
			w.submit(nil, nil, terr)
		}
	}
}

// ActiveSubscriptions 当前有效订阅数
func (s *MemoryStore) ActiveSubscriptions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.watches)
}

// Flush 等待所有订阅的待投递快照投递完毕
func (s *MemoryStore) Flush() {
	s.mu.Lock()
	queues := make([]*serial.Queue, 0, len(s.watches))
	for _, w := range s.watches {
		queues = append(queues, w.queue)
	}
	s.mu.Unlock()

	for _, q := range queues {
		q.Wait()
	}
}

// WatchDocument 订阅文档
func (s *MemoryStore) WatchDocument(ctx context.Context, path string, handler DocumentHandler) (Subscription, error) {
	if err := ValidateDocumentPath(path); err != nil {
		return nil, err
	}

	w := &memoryWatch{
		id:    uuid.NewString(),
		path:  path,
		onDoc: handler,
		queue: serial.NewQueue(),
		store: s,
	}

	s.mu.Lock()
	s.watches[w.id] = w
	w.submit(s.documentSnapshotLocked(path), nil, nil)
	s.mu.Unlock()

	context.AfterFunc(ctx, w.Cancel)

	s.logger.Debug("Memory document watch started",
		zap.String("subscription_id", w.id),
		zap.String("path", path),
	)
	return w, nil
}

// WatchQuery 订阅查询
func (s *MemoryStore) WatchQuery(ctx context.Context, query Query, handler QueryHandler) (Subscription, error) {
	q := query
	w := &memoryWatch{
		id:      uuid.NewString(),
		query:   &q,
		onQuery: handler,
		queue:   serial.NewQueue(),
		store:   s,
	}

	s.mu.Lock()
	s.watches[w.id] = w
	w.submit(nil, s.querySnapshotLocked(q), nil)
	s.mu.Unlock()

	context.AfterFunc(ctx, w.Cancel)

	s.logger.Debug("Memory query watch started",
		zap.String("subscription_id", w.id),
		zap.String("collection", q.Collection),
	)
	return w, nil
}

func (s *MemoryStore) notifyLocked(path string) {
	collection := Collection(path)
	for _, w := range s.watches {
		switch {
		case w.query == nil && w.path == path:
			w.submit(s.documentSnapshotLocked(path), nil, nil)
		case w.query != nil && w.query.Collection == collection:
			w.submit(nil, s.querySnapshotLocked(*w.query), nil)
		}
	}
}

func (s *MemoryStore) documentSnapshotLocked(path string) *DocumentSnapshot {
	snap := &DocumentSnapshot{
		ID:     DocumentID(path),
		Path:   path,
		ReadAt: s.now(),
	}
	if doc, ok := s.docs[path]; ok {
		snap.Exists = true
		snap.Data = cloneData(doc.data)
	}
	return snap
}

func (s *MemoryStore) querySnapshotLocked(q Query) *QuerySnapshot {
	type hit struct {
		path string
		doc  memoryDoc
	}
	var hits []hit
	for path, doc := range s.docs {
		if Collection(path) != q.Collection || !q.Matches(doc.data) {
			continue
		}
		hits = append(hits, hit{path: path, doc: doc})
	}
	sort.Slice(hits, func(i, j int) bool { return hits[i].doc.seq < hits[j].doc.seq })

	snap := &QuerySnapshot{
		Documents: make([]DocumentSnapshot, 0, len(hits)),
		ReadAt:    s.now(),
	}
	for _, h := range hits {
		snap.Documents = append(snap.Documents, DocumentSnapshot{
			ID:     DocumentID(h.path),
			Path:   h.path,
			Exists: true,
			Data:   cloneData(h.doc.data),
			ReadAt: snap.ReadAt,
		})
	}
	return snap
}

// submit 在 store 锁内调用，保证同一订阅的投递顺序与写入顺序一致
func (w *memoryWatch) submit(doc *DocumentSnapshot, query *QuerySnapshot, err error) {
	w.queue.Submit(func() {
		if w.cancelled.Load() {
			return
		}
		if w.query != nil {
			if err != nil {
				w.onQuery(nil, err)
				return
			}
			w.onQuery(query, nil)
			return
		}
		if err != nil {
			w.onDoc(nil, err)
			return
		}
		w.onDoc(doc, nil)
	})
}

// Cancel 取消订阅
func (w *memoryWatch) Cancel() {
	if !w.cancelled.CompareAndSwap(false, true) {
		return
	}
	w.store.mu.Lock()
	delete(w.store.watches, w.id)
	w.store.mu.Unlock()
}
