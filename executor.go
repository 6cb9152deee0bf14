// executor.go: bounded-concurrency task runner
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"runtime"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// Task is one unit of work handed to an Executor.
type Task[T any] func(ctx context.Context) (T, error)

// TaskResult holds the outcome of one task, at the task's original index.
type TaskResult[T any] struct {
	Index int
	Value T
	Err   error
}

// Executor runs independent tasks concurrently up to a fixed ceiling.
// One Executor may be shared by any number of callers; the ceiling applies
// across all of them.
type Executor struct {
	limit  int64
	sem    *semaphore.Weighted
	logger Logger
}

// NewExecutor creates an executor. A non-positive limit uses GOMAXPROCS.
func NewExecutor(limit int, logger Logger) *Executor {
	if limit <= 0 {
		limit = runtime.GOMAXPROCS(0)
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Executor{
		limit:  int64(limit),
		sem:    semaphore.NewWeighted(int64(limit)),
		logger: logger,
	}
}

// Limit returns the concurrency ceiling.
func (e *Executor) Limit() int {
	return int(e.limit)
}

var (
	sharedExecutorOnce sync.Once
	sharedExecutor     *Executor
)

// SharedExecutor returns the process-wide executor.
func SharedExecutor() *Executor {
	sharedExecutorOnce.Do(func() {
		sharedExecutor = NewExecutor(0, nil)
	})
	return sharedExecutor
}

// ExecuteEach runs every task and collects each outcome independently. A
// failing task never cancels its siblings; a cancelled ctx stops tasks that
// have not acquired a slot yet, which then report ctx.Err().
func ExecuteEach[T any](ctx context.Context, e *Executor, tasks []Task[T]) []TaskResult[T] {
	results := make([]TaskResult[T], len(tasks))
	var wg sync.WaitGroup

	for i, task := range tasks {
		results[i].Index = i
		if err := e.sem.Acquire(ctx, 1); err != nil {
			results[i].Err = err
			continue
		}
		wg.Add(1)
		go func(i int, task Task[T]) {
			defer wg.Done()
			defer e.sem.Release(1)
			results[i].Err = callRecovered(e.logger, func() error {
				value, err := task(ctx)
				results[i].Value = value
				return err
			})
		}(i, task)
	}

	wg.Wait()
	return results
}

// ExecuteAll runs tasks with all-or-nothing semantics: the first failure
// cancels the remaining tasks and is returned wrapped as a TaskFailed error.
// On success the values are returned in task order.
func ExecuteAll[T any](ctx context.Context, e *Executor, tasks []Task[T]) ([]T, error) {
	values := make([]T, len(tasks))
	g, gctx := errgroup.WithContext(ctx)

	for i, task := range tasks {
		if err := e.sem.Acquire(gctx, 1); err != nil {
			break
		}
		i, task := i, task
		g.Go(func() error {
			defer e.sem.Release(1)
			return callRecovered(e.logger, func() error {
				value, err := task(gctx)
				if err != nil {
					return NewTaskFailedError(i, err)
				}
				values[i] = value
				return nil
			})
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return values, nil
}
