// run_context.go: per-run state shared by every plugin hook
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"sync"
	"time"

	"github.com/agilira/go-errors"
	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// Artifact is one (path, content) pair emitted during a run.
type Artifact struct {
	Path      string
	Content   []byte
	Plugin    string
	Phase     Phase
	EmittedAt time.Time
}

// RunContext is created fresh for every pipeline run and discarded when the
// run ends. Its metadata bag is shared by all plugins of that run only.
type RunContext struct {
	// Unique run identifier
	ID string

	Mode    string
	Runtime RuntimeContext

	// Filled in as the run progresses
	Config    *Config
	Graph     *DependencyGraph
	Variables *VariableSet
	Values    *Values

	mu        sync.Mutex
	artifacts []Artifact
	warnings  []*errors.Error
	bag       map[string]any

	// hook currently executing, used to tag warnings and artifacts
	plugin string
	phase  Phase
}

func newRunContext(mode string, rt RuntimeContext) *RunContext {
	return &RunContext{
		ID:      uuid.NewString(),
		Mode:    mode,
		Runtime: rt,
		bag:     make(map[string]any),
	}
}

func (rc *RunContext) enter(plugin string, phase Phase) {
	rc.mu.Lock()
	rc.plugin = plugin
	rc.phase = phase
	rc.mu.Unlock()
}

// Emit appends an artifact attributed to the running hook.
func (rc *RunContext) Emit(path string, content []byte) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	data := make([]byte, len(content))
	copy(data, content)
	rc.artifacts = append(rc.artifacts, Artifact{
		Path:      path,
		Content:   data,
		Plugin:    rc.plugin,
		Phase:     rc.phase,
		EmittedAt: timecache.CachedTime(),
	})
}

// Artifacts returns the emitted artifacts in emission order.
func (rc *RunContext) Artifacts() []Artifact {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]Artifact, len(rc.artifacts))
	copy(out, rc.artifacts)
	return out
}

// Warn records a non-fatal issue attributed to the running hook.
func (rc *RunContext) Warn(message string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.warnings = append(rc.warnings, NewPluginWarning(rc.plugin, rc.phase, message))
}

func (rc *RunContext) addWarnings(ws ...*errors.Error) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.warnings = append(rc.warnings, ws...)
}

// Warnings returns every warning recorded so far.
func (rc *RunContext) Warnings() []*errors.Error {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	out := make([]*errors.Error, len(rc.warnings))
	copy(out, rc.warnings)
	return out
}

// Set stores a value in the run metadata bag.
func (rc *RunContext) Set(key string, value any) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	rc.bag[key] = value
}

// Get reads a value from the run metadata bag.
func (rc *RunContext) Get(key string) (any, bool) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	v, ok := rc.bag[key]
	return v, ok
}

// Delete removes a key from the run metadata bag.
func (rc *RunContext) Delete(key string) {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	delete(rc.bag, key)
}
