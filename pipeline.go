// pipeline.go: plugin registration ordering and phase-driven pipeline runs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/agilira/go-errors"
)

// ResolveStage produces the dependency graph between configResolved and
// buildStart.
type ResolveStage func(ctx context.Context, cfg *Config, rc *RunContext) (*DependencyGraph, error)

// ValuesStage produces the initial values handed to resolveVariables hooks.
type ValuesStage func(ctx context.Context, vars *VariableSet, rc *RunContext) (*Values, error)

// RunOptions configures one pipeline run.
type RunOptions struct {
	// Mode used for plugin applicability; defaults to Config.Mode
	Mode string

	// Runtime facts exposed to plugins through RunContext
	Runtime RuntimeContext

	// Dependency resolution stage; nil uses the root declarations only
	Resolve ResolveStage

	// Value resolution stage; nil starts from empty values
	ResolveValues ValuesStage

	// Destination of emitted artifacts after writeBundle; may be nil
	Writer ArtifactWriter
}

// RunResult is the outcome of a pipeline run. On failure it holds whatever
// was produced before the abort.
type RunResult struct {
	RunID     string
	Config    *Config
	Graph     *DependencyGraph
	Values    *Values
	Artifacts []Artifact
	Warnings  []*errors.Error
	Timings   map[Phase]time.Duration
}

// PipelineOptions configures a Pipeline.
type PipelineOptions struct {
	Logger  Logger
	Metrics *Metrics
}

// DefaultPipelineOptions returns options with the default logger and no metrics.
func DefaultPipelineOptions() PipelineOptions {
	return PipelineOptions{Logger: DefaultLogger()}
}

// Pipeline orders registered plugins and drives them through the phases.
type Pipeline struct {
	mu         sync.RWMutex
	registered []*PluginDescriptor // registration sequence
	ordered    []*PluginDescriptor // execution order
	logger     Logger
	metrics    *Metrics
}

// NewPipeline creates an empty pipeline.
func NewPipeline(opts PipelineOptions) *Pipeline {
	logger := opts.Logger
	if logger == nil {
		logger = DefaultLogger()
	}
	return &Pipeline{
		logger:  logger.With("component", "pipeline"),
		metrics: opts.Metrics,
	}
}

// Register adds a plugin and recomputes the execution order. A duplicate name
// or a predecessor cycle is rejected and leaves the pipeline unchanged.
// Predecessors that are not registered yet are checked when a run starts.
func (p *Pipeline) Register(desc PluginDescriptor) error {
	if strings.TrimSpace(desc.Name) == "" {
		return NewInvalidPluginNameError(desc.Name)
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, existing := range p.registered {
		if existing.Name == desc.Name {
			return NewDuplicatePluginNameError(desc.Name)
		}
	}

	d := desc
	d.After = cloneStrings(desc.After)
	d.Modes = cloneStrings(desc.Modes)
	d.Watch = cloneStrings(desc.Watch)
	candidate := append(append([]*PluginDescriptor(nil), p.registered...), &d)

	ordered, err := orderPlugins(candidate)
	if err != nil {
		p.logger.Error("Plugin registration rejected", "plugin", desc.Name, "error", err)
		return err
	}

	p.registered = candidate
	p.ordered = ordered
	p.logger.Debug("Plugin registered", "plugin", desc.Name, "order", desc.Order, "after", desc.After)
	return nil
}

// Unregister removes a plugin and reports whether it was registered.
func (p *Pipeline) Unregister(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for i, d := range p.registered {
		if d.Name != name {
			continue
		}
		p.registered = append(p.registered[:i:i], p.registered[i+1:]...)
		ordered, err := orderPlugins(p.registered)
		if err == nil {
			p.ordered = ordered
		}
		return true
	}
	return false
}

// Plugins returns plugin names in execution order.
func (p *Pipeline) Plugins() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	names := make([]string, len(p.ordered))
	for i, d := range p.ordered {
		names[i] = d.Name
	}
	return names
}

// AffectedPlugins returns, in execution order, the plugins watching any of
// variables.
func (p *Pipeline) AffectedPlugins(variables []string) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []string
	for _, d := range p.ordered {
		for _, v := range variables {
			if d.Watches(v) {
				out = append(out, d.Name)
				break
			}
		}
	}
	return out
}

// orderPlugins sorts stably by Order and then places every plugin after its
// registered predecessors with a depth-first walk.
func orderPlugins(plugins []*PluginDescriptor) ([]*PluginDescriptor, error) {
	sorted := make([]*PluginDescriptor, len(plugins))
	copy(sorted, plugins)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	byName := make(map[string]*PluginDescriptor, len(sorted))
	for _, d := range sorted {
		byName[d.Name] = d
	}

	const (
		unvisited = iota
		visiting
		done
	)
	state := make(map[string]int, len(sorted))
	out := make([]*PluginDescriptor, 0, len(sorted))
	var stack []string

	var visit func(d *PluginDescriptor) error
	visit = func(d *PluginDescriptor) error {
		switch state[d.Name] {
		case done:
			return nil
		case visiting:
			cycle := []string{d.Name}
			for i := len(stack) - 1; i >= 0; i-- {
				cycle = append([]string{stack[i]}, cycle...)
				if stack[i] == d.Name {
					break
				}
			}
			return NewCyclicPluginDependencyError(cycle)
		}

		state[d.Name] = visiting
		stack = append(stack, d.Name)
		for _, name := range d.After {
			pred, ok := byName[name]
			if !ok {
				continue
			}
			if err := visit(pred); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		state[d.Name] = done
		out = append(out, d)
		return nil
	}

	for _, d := range sorted {
		if err := visit(d); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Run executes every phase once in fixed order.
//
// A hook error or panic aborts the run with PluginHookError tagged with the
// plugin and phase; buildEnd and closeBundle still run on a best-effort
// basis. The RunResult is returned in both cases.
func (p *Pipeline) Run(ctx context.Context, cfg *Config, opts RunOptions) (*RunResult, error) {
	p.mu.RLock()
	plugins := make([]*PluginDescriptor, len(p.ordered))
	copy(plugins, p.ordered)
	p.mu.RUnlock()

	registered := make(map[string]struct{}, len(plugins))
	for _, d := range plugins {
		registered[d.Name] = struct{}{}
	}
	for _, d := range plugins {
		for _, pred := range d.After {
			if _, ok := registered[pred]; !ok {
				return nil, NewMissingPluginDependencyError(d.Name, pred)
			}
		}
	}

	if cfg == nil {
		cfg = DefaultConfig()
	}
	mode := opts.Mode
	if mode == "" {
		mode = cfg.Mode
	}
	if opts.Runtime.Mode == "" {
		opts.Runtime.Mode = mode
	}

	rc := newRunContext(mode, opts.Runtime)
	rc.Config = cfg.Clone()

	active := make([]*PluginDescriptor, 0, len(plugins))
	for _, d := range plugins {
		if d.appliesTo(rc) {
			active = append(active, d)
		}
	}

	started := time.Now()
	result := &RunResult{RunID: rc.ID, Timings: make(map[Phase]time.Duration)}
	logger := p.logger.With("run_id", rc.ID)
	logger.Debug("Pipeline run started", "mode", mode, "plugins", len(active))

	runErr := p.runMain(ctx, active, rc, opts, result)
	runErr = p.runFinal(ctx, active, rc, runErr, result)

	result.Config = rc.Config
	result.Graph = rc.Graph
	result.Values = rc.Values
	result.Artifacts = rc.Artifacts()
	result.Warnings = rc.Warnings()

	if p.metrics != nil {
		p.metrics.recordRun(runErr)
	}
	if runErr != nil {
		logger.Error("Pipeline run failed", "error", runErr, "duration", time.Since(started))
		return result, runErr
	}
	logger.Info("Pipeline run completed",
		"artifacts", len(result.Artifacts),
		"warnings", len(result.Warnings),
		"duration", time.Since(started))
	return result, nil
}

func (p *Pipeline) runMain(ctx context.Context, active []*PluginDescriptor, rc *RunContext, opts RunOptions, result *RunResult) error {
	cfg := rc.Config
	err := p.runPhase(ctx, active, rc, PhaseConfig, result, false, func(d *PluginDescriptor) error {
		out, err := d.Hooks.(ConfigHook).Config(ctx, cfg, rc)
		if err != nil {
			return err
		}
		if out != nil {
			cfg = out
		}
		return nil
	})
	rc.Config = cfg
	if err != nil {
		return err
	}

	err = p.runPhase(ctx, active, rc, PhaseConfigResolved, result, false, func(d *PluginDescriptor) error {
		return d.Hooks.(ConfigResolvedHook).ConfigResolved(ctx, cfg, rc)
	})
	if err != nil {
		return err
	}

	if opts.Resolve != nil {
		graph, err := opts.Resolve(ctx, cfg, rc)
		if graph != nil {
			rc.Graph = graph
			rc.Variables = graph.Variables
			rc.addWarnings(graph.Warnings...)
		}
		if err != nil {
			return err
		}
	} else {
		vars, err := DeclsToVariableSet(cfg.Variables, nil)
		if err != nil {
			return err
		}
		rc.Variables = vars
	}

	err = p.runPhase(ctx, active, rc, PhaseBuildStart, result, false, func(d *PluginDescriptor) error {
		return d.Hooks.(BuildStartHook).BuildStart(ctx, rc)
	})
	if err != nil {
		return err
	}

	values := NewValues()
	if opts.ResolveValues != nil {
		v, err := opts.ResolveValues(ctx, rc.Variables, rc)
		if err != nil {
			return err
		}
		if v != nil {
			values = v
		}
	}
	rc.Values = values

	err = p.runPhase(ctx, active, rc, PhaseResolveVariables, result, false, func(d *PluginDescriptor) error {
		out, err := d.Hooks.(ResolveVariablesHook).ResolveVariables(ctx, values, rc)
		if err != nil {
			return err
		}
		if out != nil {
			values = out
		}
		return nil
	})
	rc.Values = values
	if err != nil {
		return err
	}

	err = p.runPhase(ctx, active, rc, PhaseValidateVariables, result, false, func(d *PluginDescriptor) error {
		return d.Hooks.(ValidateVariablesHook).ValidateVariables(ctx, values, rc)
	})
	if err != nil {
		return err
	}

	err = p.runPhase(ctx, active, rc, PhaseTransform, result, false, func(d *PluginDescriptor) error {
		out, err := d.Hooks.(TransformHook).Transform(ctx, values, rc)
		if err != nil {
			return err
		}
		if out != nil {
			values = out
		}
		return nil
	})
	rc.Values = values
	if err != nil {
		return err
	}

	err = p.runPhase(ctx, active, rc, PhaseGenerateBundle, result, false, func(d *PluginDescriptor) error {
		return d.Hooks.(GenerateBundleHook).GenerateBundle(ctx, values, rc)
	})
	if err != nil {
		return err
	}

	err = p.runPhase(ctx, active, rc, PhaseWriteBundle, result, false, func(d *PluginDescriptor) error {
		return d.Hooks.(WriteBundleHook).WriteBundle(ctx, rc.Artifacts(), rc)
	})
	if err != nil {
		return err
	}

	if opts.Writer != nil {
		for _, a := range rc.Artifacts() {
			if err := opts.Writer.WriteArtifact(ctx, a.Path, a.Content); err != nil {
				p.logger.Error("Artifact write failed", "path", a.Path, "plugin", a.Plugin, "error", err)
				return err
			}
		}
	}
	return nil
}

// runFinal runs buildEnd and closeBundle. After an abort both are best effort:
// their failures become warnings and runErr is returned unchanged.
func (p *Pipeline) runFinal(ctx context.Context, active []*PluginDescriptor, rc *RunContext, runErr error, result *RunResult) error {
	// cleanup must not be skipped because the caller's context ended
	finalCtx := context.WithoutCancel(ctx)

	err := p.runPhase(finalCtx, active, rc, PhaseBuildEnd, result, runErr != nil, func(d *PluginDescriptor) error {
		return d.Hooks.(BuildEndHook).BuildEnd(finalCtx, rc, runErr)
	})
	if runErr == nil {
		runErr = err
	}

	err = p.runPhase(finalCtx, active, rc, PhaseCloseBundle, result, runErr != nil, func(d *PluginDescriptor) error {
		return d.Hooks.(CloseBundleHook).CloseBundle(finalCtx, rc)
	})
	if runErr == nil {
		runErr = err
	}
	return runErr
}

// runPhase calls fn for every active plugin handling phase, in order. With
// bestEffort set every plugin is called and failures are recorded as
// warnings; otherwise the first failure is returned.
func (p *Pipeline) runPhase(ctx context.Context, active []*PluginDescriptor, rc *RunContext, phase Phase, result *RunResult, bestEffort bool, fn func(d *PluginDescriptor) error) error {
	if !bestEffort {
		if err := ctx.Err(); err != nil {
			return err
		}
	}

	started := time.Now()
	defer func() {
		elapsed := time.Since(started)
		result.Timings[phase] = elapsed
		if p.metrics != nil {
			p.metrics.recordPhase(phase, elapsed)
		}
	}()

	for _, d := range active {
		if !d.handles(phase) {
			continue
		}
		rc.enter(d.Name, phase)
		err := callRecovered(p.logger, func() error { return fn(d) })
		if err == nil {
			continue
		}

		hookErr := NewPluginHookError(d.Name, phase, err)
		if bestEffort {
			p.logger.Warn("Cleanup hook failed after abort", "plugin", d.Name, "phase", phase.String(), "error", err)
			rc.addWarnings(hookErr.WithSeverity(SeverityWarning))
			continue
		}
		p.logger.Error("Plugin hook failed", "plugin", d.Name, "phase", phase.String(), "error", err)
		return hookErr
	}
	return nil
}
