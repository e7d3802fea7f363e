// Package worker runs detached tasks on a fixed set of goroutines.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"

	"golang.org/x/sync/errgroup"

	apperrors "github.com/shhac/switchboard/internal/errors"
)

var (
	ErrPoolSaturated = errors.New("worker pool queue is full")
	ErrPoolClosed    = errors.New("worker pool is closed")
)

// Task is a unit of detached work. The error it returns, or the panic it
// raises, is handed to the task's own failure callback.
type Task struct {
	Name   string
	Run    func(ctx context.Context) error
	OnFail func(err error)

	ctx context.Context
}

// Pool executes tasks on a bounded queue. Submit never blocks.
type Pool struct {
	queue  chan Task
	group  errgroup.Group
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// New starts a pool with the given number of workers and queue capacity.
func New(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}

	p := &Pool{
		queue:  make(chan Task, queueSize),
		logger: logger.With("component", "worker_pool"),
		done:   make(chan struct{}),
	}
	for i := 0; i < workers; i++ {
		p.group.Go(p.work)
	}
	go func() {
		_ = p.group.Wait()
		close(p.done)
	}()

	p.logger.Debug("worker pool started",
		slog.Int("workers", workers),
		slog.Int("queue", queueSize),
	)
	return p
}

// Submit enqueues a task to run with ctx. It returns ErrPoolSaturated when
// the queue is full and ErrPoolClosed once Close has been called.
func (p *Pool) Submit(ctx context.Context, task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return ErrPoolClosed
	}
	if ctx == nil {
		ctx = context.Background()
	}
	task.ctx = ctx
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrPoolSaturated
	}
}

// Close stops intake, lets queued tasks finish, and waits for the workers
// or for ctx to end.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.queue)
	}
	p.mu.Unlock()

	select {
	case <-p.done:
		p.logger.Debug("worker pool drained")
		return nil
	case <-ctx.Done():
		return fmt.Errorf("drain worker pool: %w", ctx.Err())
	}
}

func (p *Pool) work() error {
	for task := range p.queue {
		p.run(task)
	}
	return nil
}

func (p *Pool) run(task Task) {
	err := func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = &apperrors.PanicError{Value: r, Stack: string(debug.Stack())}
			}
		}()
		return task.Run(task.ctx)
	}()
	if err == nil {
		return
	}

	if task.OnFail != nil {
		task.OnFail(err)
		return
	}
	p.logger.Error("detached task failed",
		slog.String("task", task.Name),
		slog.Any("error", err),
	)
}
