package docstore

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// fetchFunc 拉取一次数据：返回指纹（判断是否变化）和投递函数
type fetchFunc func(ctx context.Context) (fingerprint string, deliver func(), err error)

// pollWatch 轮询订阅（postgres / firestore 后端共用）
type pollWatch struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Cancel 取消订阅
func (w *pollWatch) Cancel() {
	w.cancel()
}

// startPolling 立即拉取一次，之后按 interval 轮询；只在指纹变化时投递
// 连续失败只上报一次错误；恢复后无论指纹是否变化都重新投递
func startPolling(parent context.Context, logger *zap.Logger, name string, interval time.Duration, fetch fetchFunc, onErr func(error)) *pollWatch {
	ctx, cancel := context.WithCancel(parent)
	w := &pollWatch{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(w.done)

		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		var (
			last    string
			primed  bool
			failing bool
		)
		poll := func() {
			fp, deliver, err := fetch(ctx)
			if ctx.Err() != nil {
				return
			}
			if err != nil {
				if !failing {
					logger.Warn("Poll failed",
						zap.String("watch", name),
						zap.Error(err),
					)
					onErr(err)
				}
				failing = true
				primed = false
				return
			}
			failing = false
			if primed && fp == last {
				return
			}
			last, primed = fp, true
			deliver()
		}

		poll()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				poll()
			}
		}
	}()

	return w
}
