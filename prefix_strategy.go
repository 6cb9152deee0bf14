// prefix_strategy.go: naming collision resolution through per-source prefixing
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"strings"
	"sync"
	"unicode"
)

// PrefixStrategy is the default prefixing policy for sources without an
// explicit per-source setting.
type PrefixStrategy string

const (
	// PrefixGlobalAware prefixes everything except well-known global names
	PrefixGlobalAware PrefixStrategy = "global-aware"
	// PrefixAuto prefixes every variable
	PrefixAuto PrefixStrategy = "auto"
	// PrefixNone never prefixes
	PrefixNone PrefixStrategy = "none"
)

// Valid reports whether s is a known strategy.
func (s PrefixStrategy) Valid() bool {
	switch s {
	case PrefixGlobalAware, PrefixAuto, PrefixNone:
		return true
	}
	return false
}

// Strategy tags recorded in decisions and annotations.
const (
	TagNoPrefixRisky = "no-prefix-risky"
	TagCustom        = "custom"
	TagAutoPrefixed  = "auto-prefixed"
	TagGlobal        = "global"
	TagAuto          = "auto"
	TagNone          = "none"
	TagGlobalAware   = "global-aware"
	TagRoot          = "root"
)

// DefaultGlobalVariables are names shared by every process and therefore
// never prefixed under the global-aware strategy.
var DefaultGlobalVariables = []string{
	"NODE_ENV", "PATH", "HOME", "USER", "SHELL", "LANG", "TZ", "PWD", "TMPDIR",
	"CI", "DEBUG", "PORT", "HOST", "HOSTNAME", "LOG_LEVEL", "GOPATH", "GOOS", "GOARCH",
}

// PrefixDecision records how one variable name was finalized.
type PrefixDecision struct {
	Original string `json:"original"`
	Final    string `json:"final"`
	Prefix   string `json:"prefix"`
	Strategy string `json:"strategy"`
	Source   string `json:"source"`
}

// PrefixResult is the outcome of one ApplyStrategy call.
type PrefixResult struct {
	Merged    *VariableSet
	Decisions []PrefixDecision
	Conflicts []Conflict
}

// PrefixResolver decides per source and per variable whether names are
// namespaced before merging. Decisions and conflicts accumulate across calls
// until explicitly cleared.
type PrefixResolver struct {
	mu        sync.RWMutex
	config    PrefixConfig
	globals   map[string]struct{}
	custom    map[string]string
	risky     map[string]struct{}
	autoFixed map[string]struct{}
	decisions []PrefixDecision
	conflicts []Conflict
}

// NewPrefixResolver creates a resolver. Zero-value fields in cfg take the
// defaults (global-aware, "_").
func NewPrefixResolver(cfg PrefixConfig) *PrefixResolver {
	if cfg.Strategy == "" {
		cfg.Strategy = PrefixGlobalAware
	}
	if cfg.Separator == "" {
		cfg.Separator = "_"
	}
	pr := &PrefixResolver{
		config:    cfg,
		globals:   make(map[string]struct{}),
		custom:    cloneStringMap(cfg.Custom),
		risky:     toSet(cfg.NoPrefixRisky),
		autoFixed: toSet(cfg.AutoPrefixed),
	}
	if pr.custom == nil {
		pr.custom = make(map[string]string)
	}
	pr.AddGlobals(DefaultGlobalVariables...)
	pr.AddGlobals(cfg.Globals...)
	return pr
}

func toSet(items []string) map[string]struct{} {
	out := make(map[string]struct{}, len(items))
	for _, i := range items {
		out[i] = struct{}{}
	}
	return out
}

// AddGlobals extends the global-variable set.
func (pr *PrefixResolver) AddGlobals(names ...string) {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	for _, n := range names {
		pr.globals[n] = struct{}{}
	}
}

// IsGlobal reports whether name is in the global-variable set.
func (pr *PrefixResolver) IsGlobal(name string) bool {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	_, ok := pr.globals[name]
	return ok
}

// GeneratePrefix derives a namespace from a source id: a leading "@" is
// dropped, "/", "." and "-" become sep, sep is inserted at lower-to-upper
// letter boundaries, the result is upper-cased and ends with sep.
//
//	GeneratePrefix("@acme/db-client", "_") == "ACME_DB_CLIENT_"
//	GeneratePrefix("redisCache", "_")      == "REDIS_CACHE_"
func GeneratePrefix(sourceID, sep string) string {
	if sep == "" {
		sep = "_"
	}
	id := strings.TrimPrefix(sourceID, "@")

	var b strings.Builder
	var prev rune
	for i, r := range id {
		switch {
		case r == '/' || r == '.' || r == '-' || r == '\\':
			b.WriteString(sep)
		case i > 0 && unicode.IsUpper(r) && unicode.IsLower(prev):
			b.WriteString(sep)
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prev = r
	}
	prefix := strings.ToUpper(b.String())
	if !strings.HasSuffix(prefix, sep) {
		prefix += sep
	}
	return prefix
}

// decide returns the prefix and strategy tag for one variable of sourceID,
// following the precedence: no-prefix-risky, custom, auto-prefixed, global
// name under global-aware, auto, none, global-aware default.
func (pr *PrefixResolver) decide(sourceID, name string) (string, string) {
	pr.mu.RLock()
	defer pr.mu.RUnlock()

	if _, ok := pr.risky[sourceID]; ok {
		return "", TagNoPrefixRisky
	}
	if custom, ok := pr.custom[sourceID]; ok {
		return custom, TagCustom
	}
	if _, ok := pr.autoFixed[sourceID]; ok {
		return GeneratePrefix(sourceID, pr.config.Separator), TagAutoPrefixed
	}

	switch pr.config.Strategy {
	case PrefixAuto:
		return GeneratePrefix(sourceID, pr.config.Separator), TagAuto
	case PrefixNone:
		return "", TagNone
	default:
		if _, global := pr.globals[name]; global {
			return "", TagGlobal
		}
		return GeneratePrefix(sourceID, pr.config.Separator), TagGlobalAware
	}
}

// FinalName returns the name variable would receive when merged from sourceID.
func (pr *PrefixResolver) FinalName(sourceID, name string) string {
	prefix, _ := pr.decide(sourceID, name)
	return prefix + name
}

// ApplyStrategy prefixes vars from sourceID and merges them over existing.
//
// A final name already present in existing records a Conflict: error
// severity when no prefix was applied, warning otherwise. The incoming
// variable still replaces the existing one in Merged; callers enforcing a
// stricter policy inspect Conflicts. existing is never modified.
func (pr *PrefixResolver) ApplyStrategy(vars *VariableSet, sourceID string, existing *VariableSet) PrefixResult {
	merged := NewVariableSet()
	if existing != nil {
		merged = existing.Clone()
	}

	result := PrefixResult{Merged: merged}
	vars.Each(func(spec *VariableSpec) bool {
		prefix, tag := pr.decide(sourceID, spec.Name)
		final := prefix + spec.Name

		decision := PrefixDecision{
			Original: spec.Name,
			Final:    final,
			Prefix:   prefix,
			Strategy: tag,
			Source:   sourceID,
		}
		result.Decisions = append(result.Decisions, decision)

		if prior, clash := merged.Get(final); clash {
			result.Conflicts = append(result.Conflicts, prefixConflict(final, prior.Source, sourceID, prefix))
		}

		merged.Put(annotate(spec, final, sourceID, tag))
		return true
	})

	pr.mu.Lock()
	pr.decisions = append(pr.decisions, result.Decisions...)
	pr.conflicts = append(pr.conflicts, result.Conflicts...)
	pr.mu.Unlock()

	return result
}

func prefixConflict(final, priorSource, sourceID, prefix string) Conflict {
	severity := SeverityWarning
	if prefix == "" {
		severity = SeverityError
	}
	if priorSource == "" {
		priorSource = RootSourceID
	}
	return Conflict{
		Variable: final,
		Sources:  []string{priorSource, sourceID},
		Severity: severity,
		Suggestion: "Add a custom prefix for " + sourceID + " (prefix.custom) or exclude it " +
			"(dependencies.exclude) to avoid overriding " + final,
	}
}

// annotate returns a renamed copy of spec whose description names its origin.
func annotate(spec *VariableSpec, final, sourceID, tag string) *VariableSpec {
	out := spec.Clone()
	out.Name = final
	out.Source = sourceID
	out.Strategy = tag

	marker := "[source: " + sourceID + ", strategy: " + tag + "]"
	if idx := strings.Index(out.Description, " [source: "); idx >= 0 {
		out.Description = out.Description[:idx]
	} else if strings.HasPrefix(out.Description, "[source: ") {
		out.Description = ""
	}
	if out.Description == "" {
		out.Description = marker
	} else {
		out.Description += " " + marker
	}
	return out
}

// Decisions returns every decision recorded since the last clear.
func (pr *PrefixResolver) Decisions() []PrefixDecision {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	out := make([]PrefixDecision, len(pr.decisions))
	copy(out, pr.decisions)
	return out
}

// Conflicts returns every conflict recorded since the last clear.
func (pr *PrefixResolver) Conflicts() []Conflict {
	pr.mu.RLock()
	defer pr.mu.RUnlock()
	out := make([]Conflict, len(pr.conflicts))
	copy(out, pr.conflicts)
	return out
}

// ClearDecisions drops recorded decisions.
func (pr *PrefixResolver) ClearDecisions() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.decisions = nil
}

// ClearConflicts drops recorded conflicts.
func (pr *PrefixResolver) ClearConflicts() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	pr.conflicts = nil
}
