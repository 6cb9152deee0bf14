// executor_test.go: tests for the bounded parallel executor
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	stderrors "errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Limit(t *testing.T) {
	assert.Equal(t, 3, NewExecutor(3, nil).Limit())
	assert.Greater(t, NewExecutor(0, nil).Limit(), 0, "non-positive limit uses GOMAXPROCS")
	assert.Same(t, SharedExecutor(), SharedExecutor())
}

func TestExecuteEach_BoundedConcurrency(t *testing.T) {
	e := NewExecutor(2, NewNoOpLogger())

	var running, peak atomic.Int32
	tasks := make([]Task[int], 8)
	for i := range tasks {
		i := i
		tasks[i] = func(ctx context.Context) (int, error) {
			n := running.Add(1)
			for {
				p := peak.Load()
				if n <= p || peak.CompareAndSwap(p, n) {
					break
				}
			}
			time.Sleep(5 * time.Millisecond)
			running.Add(-1)
			return i * 10, nil
		}
	}

	results := ExecuteEach(context.Background(), e, tasks)
	require.Len(t, results, 8)
	for i, r := range results {
		assert.Equal(t, i, r.Index)
		assert.Equal(t, i*10, r.Value)
		assert.NoError(t, r.Err)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2), "never more than the limit in flight")
}

func TestExecuteEach_IndependentFailures(t *testing.T) {
	e := NewExecutor(4, nil)
	boom := stderrors.New("boom")

	results := ExecuteEach(context.Background(), e, []Task[string]{
		func(context.Context) (string, error) { return "a", nil },
		func(context.Context) (string, error) { return "", boom },
		func(context.Context) (string, error) { panic("kaboom") },
		func(context.Context) (string, error) { return "d", nil },
	})

	assert.Equal(t, "a", results[0].Value)
	assert.ErrorIs(t, results[1].Err, boom)
	require.Error(t, results[2].Err)
	assert.Contains(t, results[2].Err.Error(), "kaboom", "panics become task errors")
	assert.Equal(t, "d", results[3].Value)
}

func TestExecuteEach_CancelledContext(t *testing.T) {
	e := NewExecutor(1, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	results := ExecuteEach(ctx, e, []Task[int]{
		func(context.Context) (int, error) { return 1, nil },
	})
	assert.ErrorIs(t, results[0].Err, context.Canceled)
}

func TestExecuteAll(t *testing.T) {
	e := NewExecutor(3, nil)

	t.Run("ValuesInTaskOrder", func(t *testing.T) {
		tasks := []Task[int]{
			func(context.Context) (int, error) { time.Sleep(3 * time.Millisecond); return 1, nil },
			func(context.Context) (int, error) { return 2, nil },
			func(context.Context) (int, error) { return 3, nil },
		}
		values, err := ExecuteAll(context.Background(), e, tasks)
		require.NoError(t, err)
		assert.Equal(t, []int{1, 2, 3}, values)
	})

	t.Run("FirstFailureCancelsSiblings", func(t *testing.T) {
		boom := stderrors.New("boom")
		var sawCancel atomic.Bool
		tasks := []Task[int]{
			func(context.Context) (int, error) { return 0, boom },
			func(ctx context.Context) (int, error) {
				select {
				case <-ctx.Done():
					sawCancel.Store(true)
					return 0, ctx.Err()
				case <-time.After(2 * time.Second):
					return 1, nil
				}
			},
		}
		values, err := ExecuteAll(context.Background(), e, tasks)
		require.Error(t, err)
		assert.Nil(t, values)
		assert.True(t, HasErrorCode(err, ErrCodeTaskFailed))
		assert.True(t, sawCancel.Load(), "sibling observes cancellation")
	})
}
