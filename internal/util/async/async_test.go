package async

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunParallel_Success(t *testing.T) {
	t.Parallel()
	var count atomic.Int32

	tasks := make([]Task, 3)
	for i := range tasks {
		tasks[i] = Task{Name: "task", Func: func(_ context.Context) error {
			count.Add(1)
			return nil
		}}
	}

	require.NoError(t, RunParallel(context.Background(), tasks))
	assert.Equal(t, int32(3), count.Load())
}

func TestRunParallel_EmptyTasks(t *testing.T) {
	t.Parallel()

	assert.NoError(t, RunParallel(context.Background(), nil))
	assert.NoError(t, RunParallel(context.Background(), []Task{}))
}

func TestRunParallel_ErrorWaitsForAll(t *testing.T) {
	t.Parallel()
	cause := errors.New("fast fail")
	var completed atomic.Int32

	tasks := []Task{
		{Name: "fast-fail", Func: func(_ context.Context) error {
			return cause
		}},
		{Name: "slow-success", Func: func(ctx context.Context) error {
			time.Sleep(30 * time.Millisecond)
			completed.Add(1)
			return ctx.Err()
		}},
	}

	err := RunParallel(context.Background(), tasks)
	require.Error(t, err)
	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "fast-fail")
	assert.Equal(t, int32(1), completed.Load())
}

func TestRunParallel_ContextCancellation(t *testing.T) {
	t.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := RunParallel(ctx, []Task{{Name: "task", Func: func(ctx context.Context) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(100 * time.Millisecond):
			return nil
		}
	}}})

	assert.ErrorIs(t, err, context.Canceled)
}

func TestRunUntilFirst_StopsSiblings(t *testing.T) {
	t.Parallel()
	var stopped atomic.Bool

	tasks := []Task{
		{Name: "events", Func: func(_ context.Context) error {
			return nil
		}},
		{Name: "sweep", Func: func(ctx context.Context) error {
			<-ctx.Done()
			stopped.Store(true)
			return nil
		}},
	}

	require.NoError(t, RunUntilFirst(context.Background(), tasks))
	assert.True(t, stopped.Load())
}

func TestRunUntilFirst_ReturnsError(t *testing.T) {
	t.Parallel()
	cause := errors.New("subscription lost")

	err := RunUntilFirst(context.Background(), []Task{
		{Name: "events", Func: func(_ context.Context) error { return cause }},
		{Name: "sweep", Func: func(ctx context.Context) error {
			<-ctx.Done()
			return nil
		}},
	})

	assert.ErrorIs(t, err, cause)
	assert.Contains(t, err.Error(), "events")
}

func TestLimiter(t *testing.T) {
	t.Parallel()
	var maxConcurrent, current atomic.Int32

	limiter := NewLimiter(2)
	for range 6 {
		limiter.Go(context.Background(), Task{Name: "bind", Func: func(_ context.Context) error {
			c := current.Add(1)
			for {
				old := maxConcurrent.Load()
				if c <= old || maxConcurrent.CompareAndSwap(old, c) {
					break
				}
			}
			time.Sleep(10 * time.Millisecond)
			current.Add(-1)
			return nil
		}})
	}

	require.NoError(t, limiter.Wait())
	assert.LessOrEqual(t, maxConcurrent.Load(), int32(2))
}
