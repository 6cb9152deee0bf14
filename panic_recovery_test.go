// panic_recovery_test.go: tests for goroutine and hook panic recovery
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	stderrors "errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSafeGo_RecoversPanic(t *testing.T) {
	assert := NewTestAssertions(t)
	logger := NewTestLogger()

	SafeGo(logger, func() {
		panic("goroutine exploded")
	})

	assert.WaitForCondition(func() bool {
		return logger.HasMessage("ERROR", "Panic recovered in goroutine")
	}, time.Second, "panic should be logged")
}

func TestCallRecovered(t *testing.T) {
	logger := NewTestLogger()

	t.Run("ReturnsError", func(t *testing.T) {
		boom := stderrors.New("boom")
		err := callRecovered(logger, func() error { return boom })
		assert.ErrorIs(t, err, boom)
	})

	t.Run("ConvertsPanic", func(t *testing.T) {
		err := callRecovered(logger, func() error { panic("hook exploded") })
		require.Error(t, err)
		assert.Equal(t, "panic: hook exploded", err.Error())
		assert.True(t, logger.HasMessage("ERROR", "Panic recovered in plugin hook"))
	})

	t.Run("NilOnSuccess", func(t *testing.T) {
		assert.NoError(t, callRecovered(logger, func() error { return nil }))
	})
}
