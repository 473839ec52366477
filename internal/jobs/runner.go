package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

var (
	// ErrRunnerStopped is the result of work submitted to a runner that is not running.
	ErrRunnerStopped = errors.New("runner stopped")

	// ErrQueueFull is the result of work submitted while the queue is at capacity.
	ErrQueueFull = errors.New("runner queue full")
)

type task struct {
	name string
	fn   func(ctx context.Context) error
	res  *Result
}

// Runner executes submitted work one item at a time on a single goroutine. It is
// the process's asynchronous execution context: while it runs, callers can hand
// work off and return immediately.
type Runner struct {
	logger  *zap.Logger
	queue   chan task
	mu      sync.RWMutex
	running bool
	stopCh  chan struct{}
	stopped sync.Once
}

// NewRunner constructs a runner with a queue of the given capacity.
func NewRunner(logger *zap.Logger, queueSize int) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Runner{
		logger: logger,
		queue:  make(chan task, queueSize),
		stopCh: make(chan struct{}),
	}
}

// Start runs the work loop until ctx is canceled or Stop is called.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	if r.running {
		r.mu.Unlock()
		r.logger.Warn("runner.already_running")
		return
	}
	r.running = true
	r.mu.Unlock()

	r.logger.Info("runner.started", zap.Int("queue_size", cap(r.queue)))

	for {
		// stop requests win over queued work
		select {
		case <-r.stopCh:
			r.shutdown(ErrRunnerStopped)
			r.logger.Info("runner.stopped (manual stop)")
			return
		case <-ctx.Done():
			r.shutdown(ErrRunnerStopped)
			r.logger.Info("runner.stopped (context canceled)")
			return
		default:
		}

		select {
		case t := <-r.queue:
			r.execute(ctx, t)
		case <-r.stopCh:
		case <-ctx.Done():
		}
	}
}

// Stop halts the loop. Queued work that has not started fails with ErrRunnerStopped.
func (r *Runner) Stop() {
	r.stopped.Do(func() { close(r.stopCh) })
}

// Running reports whether the loop is accepting work.
func (r *Runner) Running() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// Submit queues fn and returns immediately. The returned result completes when fn
// has run; it fails fast with ErrRunnerStopped or ErrQueueFull when the work
// cannot be queued.
func (r *Runner) Submit(name string, fn func(ctx context.Context) error) *Result {
	t := task{name: name, fn: fn, res: newResult()}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if !r.running {
		return Completed(ErrRunnerStopped)
	}
	select {
	case r.queue <- t:
		return t.res
	default:
		r.logger.Warn("runner.queue_full", zap.String("task", name))
		return Completed(ErrQueueFull)
	}
}

func (r *Runner) execute(ctx context.Context, t task) {
	start := time.Now()
	err := func() (err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("task %s panicked: %v", t.name, p)
			}
		}()
		return t.fn(ctx)
	}()

	if err != nil {
		r.logger.Warn("runner.task_failed",
			zap.String("task", t.name),
			zap.Duration("duration", time.Since(start)),
			zap.Error(err))
	} else {
		r.logger.Debug("runner.task_done",
			zap.String("task", t.name),
			zap.Duration("duration", time.Since(start)))
	}
	t.res.complete(err)
}

// shutdown marks the runner stopped and fails everything still queued. Holding the
// write lock guarantees no Submit can enqueue after the drain.
func (r *Runner) shutdown(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
	for {
		select {
		case t := <-r.queue:
			t.res.complete(err)
		default:
			return
		}
	}
}
