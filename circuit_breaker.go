// circuit_breaker.go: per-source circuit breaking for declaration loads
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agilira/go-timecache"
)

// ErrCircuitOpen is returned by a GuardedLoader while the breaker of a source
// is open. The resolver does not retry it.
var ErrCircuitOpen = stderrors.New("circuit breaker open")

// BreakerState is the state of one circuit breaker.
type BreakerState int32

const (
	BreakerClosed BreakerState = iota
	BreakerOpen
	BreakerHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case BreakerClosed:
		return "closed"
	case BreakerOpen:
		return "open"
	case BreakerHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// BreakerConfig configures the breakers of a GuardedLoader.
type BreakerConfig struct {
	// Consecutive failures that open the breaker
	FailureThreshold int

	// Time an open breaker waits before letting a probe through
	RecoveryTimeout time.Duration

	// Successful probes that close a half-open breaker
	SuccessThreshold int
}

// DefaultBreakerConfig returns 5 failures, 30s recovery, 1 success.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  30 * time.Second,
		SuccessThreshold: 1,
	}
}

// CircuitBreaker tracks failures of one source.
type CircuitBreaker struct {
	config BreakerConfig

	state           atomic.Int32
	failureCount    atomic.Int64
	successCount    atomic.Int64
	lastFailureTime atomic.Int64 // unix nanos

	mu sync.Mutex
}

// NewCircuitBreaker creates a closed breaker.
func NewCircuitBreaker(config BreakerConfig) *CircuitBreaker {
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = DefaultBreakerConfig().FailureThreshold
	}
	if config.SuccessThreshold <= 0 {
		config.SuccessThreshold = 1
	}
	cb := &CircuitBreaker{config: config}
	cb.state.Store(int32(BreakerClosed))
	return cb
}

// AllowRequest reports whether a load may proceed. An open breaker turns
// half-open once the recovery timeout has passed.
func (cb *CircuitBreaker) AllowRequest() bool {
	switch BreakerState(cb.state.Load()) {
	case BreakerClosed, BreakerHalfOpen:
		return true
	case BreakerOpen:
		if !cb.recoveryElapsed() {
			return false
		}
		cb.mu.Lock()
		defer cb.mu.Unlock()
		if BreakerState(cb.state.Load()) == BreakerOpen && cb.recoveryElapsed() {
			cb.state.Store(int32(BreakerHalfOpen))
			cb.successCount.Store(0)
		}
		return BreakerState(cb.state.Load()) == BreakerHalfOpen
	}
	return false
}

// RecordSuccess resets the failure count and may close a half-open breaker.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.failureCount.Store(0)
	if BreakerState(cb.state.Load()) != BreakerHalfOpen {
		return
	}
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.successCount.Add(1) >= int64(cb.config.SuccessThreshold) {
		cb.state.Store(int32(BreakerClosed))
		cb.successCount.Store(0)
	}
}

// RecordFailure counts a failure. A half-open breaker reopens immediately.
func (cb *CircuitBreaker) RecordFailure() {
	failures := cb.failureCount.Add(1)
	cb.lastFailureTime.Store(timecache.CachedTimeNano())

	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch BreakerState(cb.state.Load()) {
	case BreakerHalfOpen:
		cb.state.Store(int32(BreakerOpen))
	case BreakerClosed:
		if failures >= int64(cb.config.FailureThreshold) {
			cb.state.Store(int32(BreakerOpen))
		}
	}
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	return BreakerState(cb.state.Load())
}

// Reset closes the breaker and clears its counters.
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	cb.state.Store(int32(BreakerClosed))
	cb.failureCount.Store(0)
	cb.successCount.Store(0)
}

func (cb *CircuitBreaker) recoveryElapsed() bool {
	last := cb.lastFailureTime.Load()
	if last == 0 {
		return true
	}
	return time.Since(time.Unix(0, last)) >= cb.config.RecoveryTimeout
}

// GuardedLoader wraps a DeclarationLoader with one circuit breaker per source
// id. Not-found results do not count as failures.
type GuardedLoader struct {
	inner  DeclarationLoader
	config BreakerConfig
	logger Logger

	mu       sync.Mutex
	breakers map[string]*CircuitBreaker
}

// NewGuardedLoader wraps inner.
func NewGuardedLoader(inner DeclarationLoader, config BreakerConfig, logger Logger) *GuardedLoader {
	if logger == nil {
		logger = DefaultLogger()
	}
	return &GuardedLoader{
		inner:    inner,
		config:   config,
		logger:   logger.With("component", "guarded_loader"),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Breaker returns the breaker of id, creating it on first use.
func (g *GuardedLoader) Breaker(id string) *CircuitBreaker {
	g.mu.Lock()
	defer g.mu.Unlock()
	cb, ok := g.breakers[id]
	if !ok {
		cb = NewCircuitBreaker(g.config)
		g.breakers[id] = cb
	}
	return cb
}

// Load implements DeclarationLoader.
func (g *GuardedLoader) Load(ctx context.Context, id string) (*Declaration, error) {
	cb := g.Breaker(id)
	if !cb.AllowRequest() {
		return nil, fmt.Errorf("source %q: %w", id, ErrCircuitOpen)
	}

	decl, err := g.inner.Load(ctx, id)
	switch {
	case err == nil, stderrors.Is(err, ErrDeclarationNotFound):
		cb.RecordSuccess()
	default:
		cb.RecordFailure()
		if cb.State() == BreakerOpen {
			g.logger.Warn("Circuit opened for dependency source", "source", id, "error", err)
		}
	}
	return decl, err
}

// ProbeVersion implements VersionProber when the wrapped loader does.
func (g *GuardedLoader) ProbeVersion(ctx context.Context, id string) (string, error) {
	prober, ok := g.inner.(VersionProber)
	if !ok {
		return "", stderrors.New("wrapped loader cannot probe versions")
	}
	if !g.Breaker(id).AllowRequest() {
		return "", ErrCircuitOpen
	}
	return prober.ProbeVersion(ctx, id)
}
