package jobs

import (
	"context"
	"sync"
)

// Result is the observable outcome of a unit of work that may still be running.
type Result struct {
	done chan struct{}
	once sync.Once
	err  error
}

func newResult() *Result {
	return &Result{done: make(chan struct{})}
}

// Completed returns a finished result holding err.
func Completed(err error) *Result {
	r := newResult()
	r.complete(err)
	return r
}

func (r *Result) complete(err error) {
	r.once.Do(func() {
		r.err = err
		close(r.done)
	})
}

// Done is closed once the work has finished.
func (r *Result) Done() <-chan struct{} {
	return r.done
}

// Pending reports whether the work is still queued or running.
func (r *Result) Pending() bool {
	select {
	case <-r.done:
		return false
	default:
		return true
	}
}

// Wait blocks until the work finishes or ctx is done. A canceled wait does not
// cancel the work.
func (r *Result) Wait(ctx context.Context) error {
	select {
	case <-r.done:
		return r.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Err returns the work's error, or nil while it is still pending.
func (r *Result) Err() error {
	select {
	case <-r.done:
		return r.err
	default:
		return nil
	}
}
