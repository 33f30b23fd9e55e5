package async

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"
)

// Task represents an asynchronous operation with a name and function.
type Task struct {
	Name string
	Func func(context.Context) error
}

func (t Task) run(ctx context.Context) error {
	if err := t.Func(ctx); err != nil {
		return fmt.Errorf("%s: %w", t.Name, err)
	}
	return nil
}

// RunParallel executes multiple tasks in parallel and returns the first error encountered.
// All tasks are started concurrently, and the function waits for all to complete.
// A failing task does not cancel the others.
//
// Example:
//
//	tasks := []Task{
//	    {Name: "sweep", Func: r.sweepLoop},
//	    {Name: "events", Func: r.eventLoop},
//	}
//	if err := RunParallel(ctx, tasks); err != nil {
//	    return err
//	}
func RunParallel(ctx context.Context, tasks []Task) error {
	var g errgroup.Group
	for _, task := range tasks {
		g.Go(func() error {
			return task.run(ctx)
		})
	}
	return g.Wait()
}

// RunUntilFirst executes tasks concurrently and cancels the context passed to
// all of them as soon as any task returns, with or without error. It returns
// the first error after every task has finished.
func RunUntilFirst(ctx context.Context, tasks []Task) error {
	g, gctx := errgroup.WithContext(ctx)
	gctx, cancel := context.WithCancel(gctx)
	defer cancel()

	for _, task := range tasks {
		g.Go(func() error {
			defer cancel()
			return task.run(gctx)
		})
	}
	return g.Wait()
}

// Limiter bounds the number of tasks running at the same time.
type Limiter struct {
	g *errgroup.Group
}

// NewLimiter returns a Limiter running at most n tasks concurrently.
// n <= 0 means no limit.
func NewLimiter(n int) *Limiter {
	g := &errgroup.Group{}
	if n > 0 {
		g.SetLimit(n)
	}
	return &Limiter{g: g}
}

// Go starts task, blocking while the limit is reached.
func (l *Limiter) Go(ctx context.Context, task Task) {
	l.g.Go(func() error {
		return task.run(ctx)
	})
}

// Wait blocks until all started tasks finished and returns the first error.
func (l *Limiter) Wait() error {
	return l.g.Wait()
}
