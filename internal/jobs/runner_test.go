package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func startRunner(t *testing.T, queueSize int) (*Runner, context.CancelFunc) {
	t.Helper()
	r := NewRunner(zap.NewNop(), queueSize)
	ctx, cancel := context.WithCancel(context.Background())
	go r.Start(ctx)
	require.Eventually(t, r.Running, time.Second, 5*time.Millisecond)
	return r, cancel
}

func TestCompleted(t *testing.T) {
	boom := errors.New("boom")
	res := Completed(boom)
	assert.False(t, res.Pending())
	assert.Equal(t, boom, res.Err())
	assert.Equal(t, boom, res.Wait(context.Background()))

	select {
	case <-res.Done():
	default:
		t.Fatal("done channel should be closed")
	}
}

func TestResult_WaitHonorsContext(t *testing.T) {
	res := newResult()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	err := res.Wait(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.True(t, res.Pending())
	assert.NoError(t, res.Err())
}

func TestRunner_SubmitRunsTask(t *testing.T) {
	r, cancel := startRunner(t, 4)
	defer cancel()

	var ran atomic.Bool
	res := r.Submit("ok", func(ctx context.Context) error {
		ran.Store(true)
		return nil
	})

	require.NoError(t, res.Wait(context.Background()))
	assert.True(t, ran.Load())
}

func TestRunner_PropagatesTaskError(t *testing.T) {
	r, cancel := startRunner(t, 4)
	defer cancel()

	boom := errors.New("venue down")
	res := r.Submit("fail", func(ctx context.Context) error { return boom })
	assert.ErrorIs(t, res.Wait(context.Background()), boom)
}

func TestRunner_RecoversPanic(t *testing.T) {
	r, cancel := startRunner(t, 4)
	defer cancel()

	res := r.Submit("panic", func(ctx context.Context) error { panic("kaboom") })
	err := res.Wait(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "kaboom")

	// loop survives
	require.NoError(t, r.Submit("after", func(ctx context.Context) error { return nil }).Wait(context.Background()))
}

func TestRunner_RunsTasksSequentially(t *testing.T) {
	r, cancel := startRunner(t, 16)
	defer cancel()

	var active, maxActive atomic.Int32
	var results []*Result
	for i := 0; i < 10; i++ {
		results = append(results, r.Submit("seq", func(ctx context.Context) error {
			n := active.Add(1)
			if n > maxActive.Load() {
				maxActive.Store(n)
			}
			time.Sleep(time.Millisecond)
			active.Add(-1)
			return nil
		}))
	}
	for _, res := range results {
		require.NoError(t, res.Wait(context.Background()))
	}
	assert.EqualValues(t, 1, maxActive.Load())
}

func TestRunner_SubmitWhenNotRunning(t *testing.T) {
	r := NewRunner(zap.NewNop(), 1)
	assert.False(t, r.Running())

	res := r.Submit("x", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, res.Err(), ErrRunnerStopped)
}

func TestRunner_QueueFull(t *testing.T) {
	r, cancel := startRunner(t, 1)
	defer cancel()

	release := make(chan struct{})
	started := make(chan struct{})
	first := r.Submit("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started

	second := r.Submit("queued", func(ctx context.Context) error { return nil })
	third := r.Submit("overflow", func(ctx context.Context) error { return nil })
	assert.ErrorIs(t, third.Err(), ErrQueueFull)

	close(release)
	require.NoError(t, first.Wait(context.Background()))
	require.NoError(t, second.Wait(context.Background()))
}

func TestRunner_StopFailsQueuedWork(t *testing.T) {
	r, cancel := startRunner(t, 4)
	defer cancel()

	release := make(chan struct{})
	started := make(chan struct{})
	blocking := r.Submit("block", func(ctx context.Context) error {
		close(started)
		<-release
		return nil
	})
	<-started
	queued := r.Submit("queued", func(ctx context.Context) error { return nil })

	r.Stop()
	close(release)

	require.NoError(t, blocking.Wait(context.Background()))
	assert.ErrorIs(t, queued.Wait(context.Background()), ErrRunnerStopped)
	require.Eventually(t, func() bool { return !r.Running() }, time.Second, 5*time.Millisecond)

	r.Stop() // idempotent
}

func TestRunner_ConcurrentSubmit(t *testing.T) {
	r, cancel := startRunner(t, 256)
	defer cancel()

	var count atomic.Int32
	var wg sync.WaitGroup
	results := make([]*Result, 100)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			results[i] = r.Submit("inc", func(ctx context.Context) error {
				count.Add(1)
				return nil
			})
		}(i)
	}
	wg.Wait()
	for _, res := range results {
		require.NoError(t, res.Wait(context.Background()))
	}
	assert.EqualValues(t, 100, count.Load())
}
