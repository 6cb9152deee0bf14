// source.go: dependency sources, conflicts and the resolved dependency graph
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"github.com/agilira/go-errors"
)

// RootSourceID identifies the variables declared by the root configuration.
const RootSourceID = "root"

// SourceKind describes how a source entered the resolution.
type SourceKind string

const (
	SourceRoot           SourceKind = "root"
	SourceExplicit       SourceKind = "explicit"
	SourceConditional    SourceKind = "conditional"
	SourceAutoDiscovered SourceKind = "auto-discovered"
)

// ConflictStrategy decides which declaration wins when final names collide.
type ConflictStrategy string

const (
	// StrategyStrict aborts resolution on any collision
	StrategyStrict ConflictStrategy = "strict"
	// StrategyPriority keeps the highest priority source, ties by declaration order
	StrategyPriority ConflictStrategy = "priority"
	// StrategyLatest keeps the source with the highest resolved version
	StrategyLatest ConflictStrategy = "latest"
	// StrategyWarn keeps the first-seen declaration and logs a warning
	StrategyWarn ConflictStrategy = "warn"
	// StrategyIgnore keeps the first-seen declaration silently
	StrategyIgnore ConflictStrategy = "ignore"
)

// Valid reports whether s is a known strategy.
func (s ConflictStrategy) Valid() bool {
	switch s {
	case StrategyStrict, StrategyPriority, StrategyLatest, StrategyWarn, StrategyIgnore:
		return true
	}
	return false
}

// DependencySource is one origin of variable declarations.
type DependencySource struct {
	ID         string
	Kind       SourceKind
	Version    string // resolved version reported by the loader
	Constraint string // configured version constraint, may be empty
	Priority   int
	Required   bool
	DependsOn  []string
	Variables  *VariableSet

	// declaration order across the whole resolution; root is -1
	order int
}

// Order returns the declaration position used for deterministic tie-breaking.
func (s *DependencySource) Order() int {
	return s.order
}

// Conflict records a final variable name contributed by two or more sources.
type Conflict struct {
	Variable   string   `json:"variable"`
	Sources    []string `json:"sources"`
	Severity   string   `json:"severity"`
	Suggestion string   `json:"suggestion"`
	Winner     string   `json:"winner,omitempty"`
}

// DependencyGraph is the output of one resolution pass. It is rebuilt from
// scratch every pass and never mutated afterwards.
type DependencyGraph struct {
	// Resolved sources by id, root included when it declares variables
	Sources map[string]*DependencySource

	// Detected collisions in the order they were found
	Conflicts []Conflict

	// Source ids in resolution order
	Order []string

	// Merged, conflict-free catalog
	Variables *VariableSet

	// Prefix decisions made while merging
	Decisions []PrefixDecision

	// Non-fatal issues collected during resolution
	Warnings []*errors.Error
}

// Source returns the resolved source with id.
func (g *DependencyGraph) Source(id string) (*DependencySource, bool) {
	s, ok := g.Sources[id]
	return s, ok
}

// HasWarnings reports whether resolution produced any warnings.
func (g *DependencyGraph) HasWarnings() bool {
	return len(g.Warnings) > 0
}
