package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/raj3104/SwasthyaSanket/internal/aggregator"
	"github.com/raj3104/SwasthyaSanket/internal/config"
	"github.com/raj3104/SwasthyaSanket/internal/docstore"
	"github.com/raj3104/SwasthyaSanket/internal/lookup"
	"github.com/raj3104/SwasthyaSanket/internal/metrics"
	"github.com/raj3104/SwasthyaSanket/internal/models"
	"github.com/raj3104/SwasthyaSanket/internal/projection"
)

// SyncService 查询工人 → 聚合实时记录 → 投影 → 输出
type SyncService struct {
	config    *config.Config
	logger    *zap.Logger
	finder    *lookup.Finder
	agg       *aggregator.LiveRecordAggregator
	projector *projection.Projector
	sinks     []Sink

	mu      sync.Mutex
	current *lookup.Lookup
	latest  *models.DisplayRecord
	pending bool
	notify  chan struct{} // 有新记录待输出（容量 1，多次更新合并）
	updates []chan recordUpdate
}

// recordUpdate 一次投影结果；complete 表示所有子文档都已收到
type recordUpdate struct {
	display  models.DisplayRecord
	complete bool
}

// NewSyncService 创建同步服务
func NewSyncService(cfg *config.Config, store docstore.Store, logger *zap.Logger, sinks ...Sink) (*SyncService, error) {
	loc, err := cfg.Location()
	if err != nil {
		return nil, err
	}

	s := &SyncService{
		config:    cfg,
		logger:    logger,
		finder:    lookup.NewFinder(store, logger),
		agg:       aggregator.NewLiveRecordAggregator(store, logger),
		projector: projection.NewProjector(cfg.Display.Locale, loc),
		sinks:     sinks,
		notify:    make(chan struct{}, 1),
	}
	s.agg.Subscribe(s.onRecord)
	return s, nil
}

// Watch 持续同步，直到 ctx 结束
func (s *SyncService) Watch(ctx context.Context, name, phone string) error {
	s.logger.Info("Starting worker sync",
		zap.String("backend", s.config.Store.Backend),
		zap.String("locale", s.projector.Locale().String()),
		zap.Int("sinks", len(s.sinks)),
	)

	if err := s.search(ctx, name, phone, nil); err != nil {
		return err
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		s.publishLoop(ctx)
	}()

	<-ctx.Done()
	s.Stop()
	<-done
	return nil
}

// Resolve 查询工人并等待所有子文档都已收到，返回显示记录
func (s *SyncService) Resolve(ctx context.Context, name, phone string) (models.DisplayRecord, error) {
	records, unsubscribe := s.subscribeUpdates()
	defer unsubscribe()
	lookupErrs := make(chan error, 1)

	if err := s.search(ctx, name, phone, lookupErrs); err != nil {
		return models.DisplayRecord{}, err
	}
	defer s.Stop()

	for {
		select {
		case <-ctx.Done():
			return models.DisplayRecord{}, ctx.Err()
		case err := <-lookupErrs:
			return models.DisplayRecord{}, err
		case u := <-records:
			if u.complete {
				return u.display, nil
			}
		}
	}
}

// Latest 最近一次投影的显示记录
func (s *SyncService) Latest() (models.DisplayRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.latest == nil {
		return models.DisplayRecord{}, false
	}
	return *s.latest, true
}

// Stop 取消查询和全部记录订阅
func (s *SyncService) Stop() {
	s.finder.Close()

	s.mu.Lock()
	l := s.current
	s.current = nil
	s.mu.Unlock()
	// 等待进行中的查询回调结束，避免其在 Close 之后重新打开聚合器
	if l != nil {
		l.Wait()
	}
	s.agg.Close()
}

func (s *SyncService) search(ctx context.Context, name, phone string, errs chan<- error) error {
	l, err := s.finder.Search(ctx, name, phone, s.lookupHandler(ctx, errs))
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.current = l
	s.mu.Unlock()
	return nil
}

// lookupHandler 首次匹配时打开聚合器；errs 非空时上报空结果和传输错误
func (s *SyncService) lookupHandler(ctx context.Context, errs chan<- error) lookup.Handler {
	return func(ev lookup.Event) {
		switch ev.Kind {
		case lookup.EventMatched:
			if ev.Duplicate {
				s.logger.Warn("Multiple workers match lookup",
					zap.String("worker_id", string(ev.Identity)),
					zap.Int("candidates", len(ev.Candidates)),
				)
			}
			if err := s.agg.Open(ctx, ev.Identity); err != nil {
				s.logger.Error("Failed to open worker record", zap.Error(err))
				report(errs, err)
			}
		case lookup.EventEmpty:
			s.logger.Info(ev.Message)
			report(errs, ev.Err)
		case lookup.EventFailed:
			s.logger.Warn(ev.Message, zap.Error(ev.Err))
			report(errs, fmt.Errorf("worker lookup failed: %w", ev.Err))
		}
	}
}

func report(errs chan<- error, err error) {
	if errs == nil {
		return
	}
	select {
	case errs <- err:
	default:
	}
}

// onRecord 在聚合器队列上执行：只做投影，输出交给 publishLoop
func (s *SyncService) onRecord(rec models.WorkerRecord) {
	display := s.projector.Project(rec)

	s.mu.Lock()
	s.latest = &display
	s.pending = true
	updates := append([]chan recordUpdate(nil), s.updates...)
	s.mu.Unlock()

	u := recordUpdate{display: display, complete: rec.Complete()}

	select {
	case s.notify <- struct{}{}:
	default:
	}
	for _, ch := range updates {
		select {
		case ch <- u:
		default:
		}
	}
}

// subscribeUpdates 记录更新通知（缓冲满时丢弃）
func (s *SyncService) subscribeUpdates() (<-chan recordUpdate, func()) {
	ch := make(chan recordUpdate, 64)
	s.mu.Lock()
	s.updates = append(s.updates, ch)
	s.mu.Unlock()

	return ch, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		for i, c := range s.updates {
			if c == ch {
				s.updates = append(s.updates[:i], s.updates[i+1:]...)
				return
			}
		}
	}
}

// publishLoop 把最新显示记录写到所有输出端；期间的多次更新只输出最后一次
func (s *SyncService) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.notify:
		}

		s.mu.Lock()
		if !s.pending || s.latest == nil {
			s.mu.Unlock()
			continue
		}
		rec := *s.latest
		s.pending = false
		s.mu.Unlock()

		s.publish(ctx, rec)
	}
}

// publish 依次写入输出端；单个输出端失败不影响其他输出端
func (s *SyncService) publish(ctx context.Context, rec models.DisplayRecord) {
	for _, sink := range s.sinks {
		start := time.Now()
		err := sink.Publish(ctx, rec)
		metrics.SinkPublishDuration.WithLabelValues(sink.Name()).Observe(time.Since(start).Seconds())
		if err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			metrics.SinkPublishes.WithLabelValues(sink.Name(), "error").Inc()
			s.logger.Error("Failed to publish display record",
				zap.String("sink", sink.Name()),
				zap.String("worker_id", string(rec.WorkerID)),
				zap.Error(err),
			)
			continue
		}
		metrics.SinkPublishes.WithLabelValues(sink.Name(), "ok").Inc()
	}
}
