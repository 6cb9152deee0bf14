// testing_helpers_test.go: shared test helpers for envforge
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	stderrors "errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/agilira/go-errors"
)

// TestEnvironment groups temporary files created by one test.
type TestEnvironment struct {
	t   *testing.T
	dir string
}

// NewTestEnvironment creates a test environment rooted in t.TempDir.
func NewTestEnvironment(t *testing.T) *TestEnvironment {
	t.Helper()
	return &TestEnvironment{t: t, dir: t.TempDir()}
}

// Dir returns the root directory of the environment.
func (te *TestEnvironment) Dir() string {
	return te.dir
}

// WriteFile writes content to a path relative to the root, creating parents.
func (te *TestEnvironment) WriteFile(name, content string) string {
	te.t.Helper()
	path := filepath.Join(te.dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		te.t.Fatalf("Failed to create dir for %s: %v", path, err)
	}
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		te.t.Fatalf("Failed to write %s: %v", path, err)
	}
	return path
}

// TestAssertions provides assertion helpers with a context message.
type TestAssertions struct {
	t *testing.T
}

// NewTestAssertions creates new test assertion helper
func NewTestAssertions(t *testing.T) *TestAssertions {
	return &TestAssertions{t: t}
}

// AssertNoError asserts that error is nil, with context
func (ta *TestAssertions) AssertNoError(err error, context string) {
	ta.t.Helper()
	if err != nil {
		ta.t.Fatalf("Expected no error in %s, got: %v", context, err)
	}
}

// AssertError asserts that error is not nil, with context
func (ta *TestAssertions) AssertError(err error, context string) {
	ta.t.Helper()
	if err == nil {
		ta.t.Fatalf("Expected error in %s, got nil", context)
	}
}

// AssertEqual asserts that two comparable values are equal
func (ta *TestAssertions) AssertEqual(expected, actual interface{}, context string) {
	ta.t.Helper()
	if expected != actual {
		ta.t.Fatalf("Expected %v in %s, got %v", expected, context, actual)
	}
}

// AssertTrue asserts that condition is true
func (ta *TestAssertions) AssertTrue(condition bool, context string) {
	ta.t.Helper()
	if !condition {
		ta.t.Fatalf("Expected true condition in %s", context)
	}
}

// AssertFalse asserts that condition is false
func (ta *TestAssertions) AssertFalse(condition bool, context string) {
	ta.t.Helper()
	if condition {
		ta.t.Fatalf("Expected false condition in %s", context)
	}
}

// WaitForCondition waits for a condition to be true with timeout
func (ta *TestAssertions) WaitForCondition(condition func() bool, timeout time.Duration, message string) {
	ta.t.Helper()

	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if condition() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}

	ta.t.Fatalf("Condition not met within %v: %s", timeout, message)
}

// stringSpec builds an optional string declaration with a default.
func stringSpec(name, def string) *VariableSpec {
	v := StringValue(def)
	return &VariableSpec{Name: name, Type: TypeString, Default: &v}
}

// typedSpec builds an optional declaration with a typed default.
func typedSpec(name string, typ ValueType, def Value) *VariableSpec {
	return &VariableSpec{Name: name, Type: typ, Default: &def}
}

// callRecorder collects "plugin:phase" entries from concurrent hooks.
type callRecorder struct {
	mu    sync.Mutex
	calls []string
}

func (r *callRecorder) add(entry string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, entry)
}

func (r *callRecorder) list() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.calls))
	copy(out, r.calls)
	return out
}

// asError extracts the structured error from err or fails the test.
func asError(t *testing.T, err error) *errors.Error {
	t.Helper()
	var structured *errors.Error
	if !stderrors.As(err, &structured) {
		t.Fatalf("expected a structured error, got %T: %v", err, err)
	}
	return structured
}
