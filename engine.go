// engine.go: end-to-end builds wiring resolver, value resolution and pipeline
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"sync"
)

// EngineOptions configures an Engine.
type EngineOptions struct {
	// Declaration loading; defaults to an empty MapDeclarationLoader
	Loader DeclarationLoader

	// Auto-discovery of dependency ids; optional
	Discoverer AutoDiscoverer

	// Declaration cache; nil creates a private cache
	Cache *Cache[string, cachedDeclaration]

	// Executor for parallel loads; nil creates a private executor
	Executor *Executor

	// Environment read by value resolution; nil reads the process environment
	Env EnvSource

	// Validators referenced by name from declarations
	Validators map[string]Validator

	// Artifact destination; nil keeps artifacts in the result only
	Writer ArtifactWriter

	// Runtime facts used by reload-triggered builds
	Runtime RuntimeContext

	Metrics *Metrics
	Logger  any
}

// BuildResult is the outcome of Engine.Build.
type BuildResult struct {
	RunResult

	// Values before any plugin hook touched them
	Resolved *Values
}

// Engine runs complete builds and keeps the last good one live. It
// implements Applier so a ReloadManager can drive it.
type Engine struct {
	resolver *Resolver
	values   *ValueResolver
	pipeline *Pipeline
	writer   ArtifactWriter
	runtime  RuntimeContext
	metrics  *Metrics
	logger   Logger

	mu       sync.Mutex
	graph    *DependencyGraph
	resolved *Values
	live     *Values
}

// NewEngine creates an engine with an empty pipeline.
func NewEngine(opts EngineOptions) *Engine {
	logger := NewLogger(opts.Logger)
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics()
	}
	return &Engine{
		resolver: NewResolver(ResolverOptions{
			Loader:     opts.Loader,
			Discoverer: opts.Discoverer,
			Cache:      opts.Cache,
			Executor:   opts.Executor,
			Validators: opts.Validators,
			Metrics:    opts.Metrics,
			Logger:     logger,
		}),
		values:   NewValueResolver(opts.Env, logger),
		pipeline: NewPipeline(PipelineOptions{Logger: logger, Metrics: opts.Metrics}),
		writer:   opts.Writer,
		runtime:  opts.Runtime,
		metrics:  opts.Metrics,
		logger:   logger.With("component", "engine"),
	}
}

// Register adds a plugin to the engine pipeline.
func (e *Engine) Register(desc PluginDescriptor) error {
	return e.pipeline.Register(desc)
}

// Pipeline returns the engine pipeline.
func (e *Engine) Pipeline() *Pipeline { return e.pipeline }

// Metrics returns the counters shared by every engine component.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// Values returns a copy of the live values of the last successful build or
// restore.
func (e *Engine) Values() *Values {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.live == nil {
		return NewValues()
	}
	return e.live.Clone()
}

// Build resolves dependencies and values for cfg and runs every plugin.
func (e *Engine) Build(ctx context.Context, cfg *Config, rt RuntimeContext) (*BuildResult, error) {
	var resolved *Values
	result, err := e.pipeline.Run(ctx, cfg, RunOptions{
		Runtime: rt,
		Writer:  e.writer,
		Resolve: func(ctx context.Context, cfg *Config, rc *RunContext) (*DependencyGraph, error) {
			return e.resolver.Resolve(ctx, cfg, rc.Runtime)
		},
		ResolveValues: func(ctx context.Context, vars *VariableSet, rc *RunContext) (*Values, error) {
			values, warnings, err := e.values.Resolve(vars)
			rc.addWarnings(warnings...)
			if err == nil {
				resolved = values.Clone()
			}
			return values, err
		},
	})
	return e.commit(result, resolved, err)
}

// buildIncremental reuses graph and re-resolves only names.
func (e *Engine) buildIncremental(ctx context.Context, cfg *Config, rt RuntimeContext, graph *DependencyGraph, base *Values, names []string) (*BuildResult, error) {
	var resolved *Values
	result, err := e.pipeline.Run(ctx, cfg, RunOptions{
		Runtime: rt,
		Writer:  e.writer,
		Resolve: func(context.Context, *Config, *RunContext) (*DependencyGraph, error) {
			return graph, nil
		},
		ResolveValues: func(ctx context.Context, vars *VariableSet, rc *RunContext) (*Values, error) {
			values, warnings, err := e.values.ResolveNames(vars, base, names)
			rc.addWarnings(warnings...)
			if err == nil {
				resolved = values.Clone()
			}
			return values, err
		},
	})
	return e.commit(result, resolved, err)
}

func (e *Engine) commit(result *RunResult, resolved *Values, err error) (*BuildResult, error) {
	if result == nil {
		return nil, err
	}
	out := &BuildResult{RunResult: *result, Resolved: resolved}
	if err != nil {
		return out, err
	}
	e.mu.Lock()
	e.graph = result.Graph
	e.resolved = resolved
	e.live = result.Values.Clone()
	e.mu.Unlock()
	return out, nil
}

// Apply implements Applier.
//
// Incremental mode keeps the previous dependency graph when no dependency
// record is present and re-resolves only the affected variables. It falls
// back to a full build when there is no previous build or when an affected
// root variable is also declared by a dependency source.
func (e *Engine) Apply(ctx context.Context, cfg *Config, changes *ChangeSet, mode ApplyMode) (*Values, error) {
	rt := e.runtime
	rt.Mode = cfg.Mode

	e.mu.Lock()
	prevGraph, prevResolved := e.graph, e.resolved
	e.mu.Unlock()

	if mode == ApplyIncremental && prevGraph != nil && prevResolved != nil && !changes.HasDependencyChange() {
		if graph, ok := e.patchGraph(prevGraph, cfg, changes.AffectedVariables); ok {
			e.logger.Debug("Applying configuration incrementally", "variables", changes.AffectedVariables)
			result, err := e.buildIncremental(ctx, cfg, rt, graph, prevResolved, changes.AffectedVariables)
			if err != nil {
				return nil, err
			}
			return result.Values.Clone(), nil
		}
	}

	e.logger.Debug("Applying configuration with a full build", "mode", mode)
	result, err := e.Build(ctx, cfg, rt)
	if err != nil {
		return nil, err
	}
	return result.Values.Clone(), nil
}

// patchGraph copies graph with the root declarations of names replaced from
// cfg. It reports false when a name is shared with a dependency source.
func (e *Engine) patchGraph(graph *DependencyGraph, cfg *Config, names []string) (*DependencyGraph, bool) {
	for _, id := range graph.Order {
		if id == RootSourceID {
			continue
		}
		src := graph.Sources[id]
		for _, name := range names {
			if src.Variables != nil && src.Variables.Has(name) {
				return nil, false
			}
		}
	}
	for _, d := range graph.Decisions {
		for _, name := range names {
			if d.Source != RootSourceID && d.Final == name {
				return nil, false
			}
		}
	}

	vars := graph.Variables.Clone()
	for _, name := range names {
		vars.Delete(name)
		decl, ok := cfg.Variables[name]
		if !ok {
			continue
		}
		spec, err := decl.ToSpec(name, e.resolver.validators)
		if err != nil {
			return nil, false
		}
		vars.Put(annotate(spec, name, RootSourceID, TagRoot))
	}

	patched := *graph
	patched.Variables = vars
	patched.Warnings = nil
	return &patched, true
}

// Restore implements Applier. The restored values become live and the next
// Apply performs a full build.
func (e *Engine) Restore(ctx context.Context, snapshot *ConfigSnapshot) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.live = snapshot.Variables()
	e.graph = nil
	e.resolved = nil
	e.logger.Info("Live values restored from snapshot", "snapshot_id", snapshot.ID)
	return nil
}

// NewReloadManager creates a reload manager applying changes of configPath
// through e. Affected plugins are computed from the plugins' watch lists.
func (e *Engine) NewReloadManager(configPath string, options ReloadOptions) (*ReloadManager, error) {
	if options.AffectedPlugins == nil {
		options.AffectedPlugins = e.pipeline.AffectedPlugins
	}
	if options.Metrics == nil {
		options.Metrics = e.metrics
	}
	return NewReloadManager(configPath, e, options, e.logger)
}
