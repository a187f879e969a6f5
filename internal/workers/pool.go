// Package workers provides a bounded worker pool for running independent
// analytics tasks in parallel.
package workers

import (
	"context"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Task is a unit of work.
type Task interface {
	Execute() error
}

// TaskFunc adapts a function to the Task interface.
type TaskFunc func() error

func (f TaskFunc) Execute() error { return f() }

// Pool runs submitted tasks on a fixed set of goroutines. Panics in a task
// are recovered and counted as failures, so one bad strategy cannot take
// down a batch run.
type Pool struct {
	logger    *zap.Logger
	name      string
	taskQueue chan Task
	wg        sync.WaitGroup

	mu     sync.RWMutex // guards closed and the send in Submit against Close
	closed bool

	completed atomic.Int64
	failed    atomic.Int64
}

// NewPool creates a pool. workers <= 0 defaults to the CPU count,
// queueSize <= 0 to an unbuffered queue.
func NewPool(logger *zap.Logger, name string, workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU()
	}
	if queueSize < 0 {
		queueSize = 0
	}

	p := &Pool{
		logger:    logger,
		name:      name,
		taskQueue: make(chan Task, queueSize),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	logger.Debug("worker pool started",
		zap.String("pool", name),
		zap.Int("workers", workers),
	)
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for task := range p.taskQueue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("task panicked",
				zap.String("pool", p.name),
				zap.Any("panic", r),
			)
		}
	}()

	if err := task.Execute(); err != nil {
		p.failed.Add(1)
		p.logger.Debug("task failed",
			zap.String("pool", p.name),
			zap.Error(err),
		)
		return
	}
	p.completed.Add(1)
}

// Submit queues a task, blocking while the queue is full. It fails once
// the pool has been closed or the context is cancelled.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return fmt.Errorf("pool %s is closed", p.name)
	}
	select {
	case p.taskQueue <- task:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued work to drain.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.taskQueue)
	p.mu.Unlock()
	p.wg.Wait()

	p.logger.Debug("worker pool closed",
		zap.String("pool", p.name),
		zap.Int64("completed", p.Completed()),
		zap.Int64("failed", p.Failed()),
	)
}

// Completed reports successfully finished tasks.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed reports tasks that returned an error or panicked.
func (p *Pool) Failed() int64 { return p.failed.Load() }
