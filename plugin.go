// plugin.go: pipeline phases, per-phase hook interfaces and plugin descriptors
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"strings"
)

// Phase is one fixed stage of a pipeline run.
type Phase int

// Phases in execution order.
const (
	PhaseConfig Phase = iota
	PhaseConfigResolved
	PhaseBuildStart
	PhaseResolveVariables
	PhaseValidateVariables
	PhaseTransform
	PhaseGenerateBundle
	PhaseWriteBundle
	PhaseBuildEnd
	PhaseCloseBundle
)

var phaseNames = [...]string{
	"config",
	"configResolved",
	"buildStart",
	"resolveVariables",
	"validateVariables",
	"transform",
	"generateBundle",
	"writeBundle",
	"buildEnd",
	"closeBundle",
}

// String returns the phase name.
func (p Phase) String() string {
	if p < 0 || int(p) >= len(phaseNames) {
		return "unknown"
	}
	return phaseNames[p]
}

// Phases returns every phase in execution order.
func Phases() []Phase {
	out := make([]Phase, len(phaseNames))
	for i := range out {
		out[i] = Phase(i)
	}
	return out
}

// Hook interfaces. A plugin implements any subset; the pipeline only calls
// the ones present. Returning a nil replacement keeps the current subject.
type (
	ConfigHook interface {
		Config(ctx context.Context, cfg *Config, rc *RunContext) (*Config, error)
	}
	ConfigResolvedHook interface {
		ConfigResolved(ctx context.Context, cfg *Config, rc *RunContext) error
	}
	BuildStartHook interface {
		BuildStart(ctx context.Context, rc *RunContext) error
	}
	ResolveVariablesHook interface {
		ResolveVariables(ctx context.Context, values *Values, rc *RunContext) (*Values, error)
	}
	ValidateVariablesHook interface {
		ValidateVariables(ctx context.Context, values *Values, rc *RunContext) error
	}
	TransformHook interface {
		Transform(ctx context.Context, values *Values, rc *RunContext) (*Values, error)
	}
	GenerateBundleHook interface {
		GenerateBundle(ctx context.Context, values *Values, rc *RunContext) error
	}
	WriteBundleHook interface {
		WriteBundle(ctx context.Context, artifacts []Artifact, rc *RunContext) error
	}
	BuildEndHook interface {
		BuildEnd(ctx context.Context, rc *RunContext, buildErr error) error
	}
	CloseBundleHook interface {
		CloseBundle(ctx context.Context, rc *RunContext) error
	}
)

// PhaseFilter lets a hook value implementing many interfaces opt out of
// phases it does not handle.
type PhaseFilter interface {
	Handles(phase Phase) bool
}

// Hooks implements every hook interface with optional function fields. Nil
// fields are skipped.
type Hooks struct {
	OnConfig            func(ctx context.Context, cfg *Config, rc *RunContext) (*Config, error)
	OnConfigResolved    func(ctx context.Context, cfg *Config, rc *RunContext) error
	OnBuildStart        func(ctx context.Context, rc *RunContext) error
	OnResolveVariables  func(ctx context.Context, values *Values, rc *RunContext) (*Values, error)
	OnValidateVariables func(ctx context.Context, values *Values, rc *RunContext) error
	OnTransform         func(ctx context.Context, values *Values, rc *RunContext) (*Values, error)
	OnGenerateBundle    func(ctx context.Context, values *Values, rc *RunContext) error
	OnWriteBundle       func(ctx context.Context, artifacts []Artifact, rc *RunContext) error
	OnBuildEnd          func(ctx context.Context, rc *RunContext, buildErr error) error
	OnCloseBundle       func(ctx context.Context, rc *RunContext) error
}

// Handles implements PhaseFilter.
func (h *Hooks) Handles(phase Phase) bool {
	switch phase {
	case PhaseConfig:
		return h.OnConfig != nil
	case PhaseConfigResolved:
		return h.OnConfigResolved != nil
	case PhaseBuildStart:
		return h.OnBuildStart != nil
	case PhaseResolveVariables:
		return h.OnResolveVariables != nil
	case PhaseValidateVariables:
		return h.OnValidateVariables != nil
	case PhaseTransform:
		return h.OnTransform != nil
	case PhaseGenerateBundle:
		return h.OnGenerateBundle != nil
	case PhaseWriteBundle:
		return h.OnWriteBundle != nil
	case PhaseBuildEnd:
		return h.OnBuildEnd != nil
	case PhaseCloseBundle:
		return h.OnCloseBundle != nil
	}
	return false
}

func (h *Hooks) Config(ctx context.Context, cfg *Config, rc *RunContext) (*Config, error) {
	return h.OnConfig(ctx, cfg, rc)
}

func (h *Hooks) ConfigResolved(ctx context.Context, cfg *Config, rc *RunContext) error {
	return h.OnConfigResolved(ctx, cfg, rc)
}

func (h *Hooks) BuildStart(ctx context.Context, rc *RunContext) error {
	return h.OnBuildStart(ctx, rc)
}

func (h *Hooks) ResolveVariables(ctx context.Context, values *Values, rc *RunContext) (*Values, error) {
	return h.OnResolveVariables(ctx, values, rc)
}

func (h *Hooks) ValidateVariables(ctx context.Context, values *Values, rc *RunContext) error {
	return h.OnValidateVariables(ctx, values, rc)
}

func (h *Hooks) Transform(ctx context.Context, values *Values, rc *RunContext) (*Values, error) {
	return h.OnTransform(ctx, values, rc)
}

func (h *Hooks) GenerateBundle(ctx context.Context, values *Values, rc *RunContext) error {
	return h.OnGenerateBundle(ctx, values, rc)
}

func (h *Hooks) WriteBundle(ctx context.Context, artifacts []Artifact, rc *RunContext) error {
	return h.OnWriteBundle(ctx, artifacts, rc)
}

func (h *Hooks) BuildEnd(ctx context.Context, rc *RunContext, buildErr error) error {
	return h.OnBuildEnd(ctx, rc, buildErr)
}

func (h *Hooks) CloseBundle(ctx context.Context, rc *RunContext) error {
	return h.OnCloseBundle(ctx, rc)
}

// PluginDescriptor registers a plugin with the pipeline.
type PluginDescriptor struct {
	// Unique plugin name
	Name string

	// Lower runs first; ties keep registration order
	Order int

	// Plugins that must run before this one within every phase
	After []string

	// Modes the plugin applies to; empty means every mode
	Modes []string

	// Optional applicability predicate evaluated at the start of each run
	Apply func(rc *RunContext) bool

	// Value implementing one or more hook interfaces (e.g. *Hooks)
	Hooks any

	// Variable names or name prefixes (ending in "*") whose changes affect
	// this plugin during hot reload
	Watch []string
}

// appliesTo reports whether the plugin takes part in a run.
func (d *PluginDescriptor) appliesTo(rc *RunContext) bool {
	if len(d.Modes) > 0 {
		match := false
		for _, m := range d.Modes {
			if strings.EqualFold(m, rc.Mode) {
				match = true
				break
			}
		}
		if !match {
			return false
		}
	}
	if d.Apply != nil {
		return d.Apply(rc)
	}
	return true
}

// handles reports whether the plugin has a hook for phase.
func (d *PluginDescriptor) handles(phase Phase) bool {
	if f, ok := d.Hooks.(PhaseFilter); ok && !f.Handles(phase) {
		return false
	}
	switch phase {
	case PhaseConfig:
		_, ok := d.Hooks.(ConfigHook)
		return ok
	case PhaseConfigResolved:
		_, ok := d.Hooks.(ConfigResolvedHook)
		return ok
	case PhaseBuildStart:
		_, ok := d.Hooks.(BuildStartHook)
		return ok
	case PhaseResolveVariables:
		_, ok := d.Hooks.(ResolveVariablesHook)
		return ok
	case PhaseValidateVariables:
		_, ok := d.Hooks.(ValidateVariablesHook)
		return ok
	case PhaseTransform:
		_, ok := d.Hooks.(TransformHook)
		return ok
	case PhaseGenerateBundle:
		_, ok := d.Hooks.(GenerateBundleHook)
		return ok
	case PhaseWriteBundle:
		_, ok := d.Hooks.(WriteBundleHook)
		return ok
	case PhaseBuildEnd:
		_, ok := d.Hooks.(BuildEndHook)
		return ok
	case PhaseCloseBundle:
		_, ok := d.Hooks.(CloseBundleHook)
		return ok
	}
	return false
}

// Watches reports whether a change to variable affects the plugin.
func (d *PluginDescriptor) Watches(variable string) bool {
	for _, w := range d.Watch {
		if w == "*" || w == variable {
			return true
		}
		if strings.HasSuffix(w, "*") && strings.HasPrefix(variable, strings.TrimSuffix(w, "*")) {
			return true
		}
	}
	return false
}
