// Package serial 提供串行执行上下文：回调可能来自任意 goroutine，
// 但提交到同一个 Queue 的任务按提交顺序逐个执行，任一时刻最多一个在运行。
package serial

import "sync"

// Queue 串行任务队列（空闲时不占用 goroutine）
type Queue struct {
	mu      sync.Mutex
	idle    *sync.Cond
	tasks   []func()
	running bool
}

// NewQueue 创建串行队列
func NewQueue() *Queue {
	q := &Queue{}
	q.idle = sync.NewCond(&q.mu)
	return q
}

// Submit 提交任务，不阻塞调用方
func (q *Queue) Submit(fn func()) {
	q.mu.Lock()
	q.tasks = append(q.tasks, fn)
	if !q.running {
		q.running = true
		go q.drain()
	}
	q.mu.Unlock()
}

// Wait 等待队列中已提交的任务全部执行完毕
// 不能在队列任务内部调用（会死锁）
func (q *Queue) Wait() {
	q.mu.Lock()
	for q.running {
		q.idle.Wait()
	}
	q.mu.Unlock()
}

// Pending 当前排队（未执行）的任务数
func (q *Queue) Pending() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.tasks)
}

func (q *Queue) drain() {
	for {
		q.mu.Lock()
		if len(q.tasks) == 0 {
			q.running = false
			q.tasks = nil
			q.idle.Broadcast()
			q.mu.Unlock()
			return
		}
		fn := q.tasks[0]
		q.tasks[0] = nil
		q.tasks = q.tasks[1:]
		q.mu.Unlock()

		fn()
	}
}
