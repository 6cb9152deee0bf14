// dependency_resolver.go: dependency discovery, loading, ordering and conflict resolution
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

// RuntimeContext carries the facts conditional rules and applicability
// predicates are evaluated against.
type RuntimeContext struct {
	Mode    string
	Env     map[string]string
	WorkDir string
}

// RuntimeFromEnv builds a RuntimeContext from an environment source.
func RuntimeFromEnv(mode string, env EnvSource, workDir string) RuntimeContext {
	rt := RuntimeContext{Mode: mode, WorkDir: workDir, Env: map[string]string{}}
	if lister, ok := env.(interface{ Environ() map[string]string }); ok {
		rt.Env = lister.Environ()
	}
	return rt
}

// cachedDeclaration is the value stored in the declaration cache.
type cachedDeclaration struct {
	Declaration *Declaration
	Version     string
}

var (
	sharedDeclarationCacheOnce sync.Once
	sharedDeclarationCache     *Cache[string, cachedDeclaration]
)

// SharedDeclarationCache returns the process-wide declaration cache.
func SharedDeclarationCache() *Cache[string, cachedDeclaration] {
	sharedDeclarationCacheOnce.Do(func() {
		sharedDeclarationCache = NewCache[string, cachedDeclaration](DefaultCacheOptions())
	})
	return sharedDeclarationCache
}

// ResolverOptions configures a Resolver.
type ResolverOptions struct {
	// Loader turns source ids into declarations (required)
	Loader DeclarationLoader

	// Discoverer supplies auto-discovered ids when dependencies.auto_discover is set
	Discoverer AutoDiscoverer

	// Cache for loaded declarations; nil creates a private cache
	Cache *Cache[string, cachedDeclaration]

	// Executor for parallel loads; nil creates a private executor
	Executor *Executor

	// Validators referenced by name from declarations
	Validators map[string]Validator

	// Metrics receives load and cache counters; may be nil
	Metrics *Metrics

	// Logger for resolution progress; nil is silent
	Logger Logger
}

// DefaultResolverOptions returns options sharing the process-wide cache and
// executor. Loader still has to be set.
func DefaultResolverOptions() ResolverOptions {
	return ResolverOptions{
		Cache:    SharedDeclarationCache(),
		Executor: SharedExecutor(),
		Logger:   DefaultLogger(),
	}
}

// Resolver loads dependency declarations and merges them into one catalog.
type Resolver struct {
	loader     DeclarationLoader
	discoverer AutoDiscoverer
	cache      *Cache[string, cachedDeclaration]
	executor   *Executor
	validators map[string]Validator
	metrics    *Metrics
	logger     Logger
}

// NewResolver creates a resolver.
func NewResolver(opts ResolverOptions) *Resolver {
	if opts.Logger == nil {
		opts.Logger = DefaultLogger()
	}
	if opts.Cache == nil {
		opts.Cache = NewCache[string, cachedDeclaration](DefaultCacheOptions())
	}
	if opts.Executor == nil {
		opts.Executor = NewExecutor(0, opts.Logger)
	}
	if opts.Loader == nil {
		opts.Loader = NewMapDeclarationLoader()
	}
	return &Resolver{
		loader:     opts.Loader,
		discoverer: opts.Discoverer,
		cache:      opts.Cache,
		executor:   opts.Executor,
		validators: opts.Validators,
		metrics:    opts.Metrics,
		logger:     opts.Logger.With("component", "resolver"),
	}
}

// loadRequest is one source scheduled for loading.
type loadRequest struct {
	ID        string
	Requested string
	Kind      SourceKind
	Required  bool
	order     int
}

type loadOutcome struct {
	decl *Declaration
	err  error
}

// Resolve discovers, loads, version-checks, orders, prefixes and merges every
// dependency source of cfg.
//
// Non-fatal issues are collected in DependencyGraph.Warnings. On a fatal
// error (required source failure, strict conflict, blocking conflict, failed
// version under the fail policy) the returned graph is partial but still
// carries every warning collected so far.
func (r *Resolver) Resolve(ctx context.Context, cfg *Config, rt RuntimeContext) (*DependencyGraph, error) {
	started := time.Now()
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg = cfg.Clone()
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if rt.Mode == "" {
		rt.Mode = cfg.Mode
	}
	deps := cfg.Dependencies

	graph := &DependencyGraph{
		Sources:   make(map[string]*DependencySource),
		Variables: NewVariableSet(),
	}

	rootVars, err := DeclsToVariableSet(cfg.Variables, r.validators)
	if err != nil {
		return graph, err
	}
	if rootVars.Len() > 0 {
		graph.Sources[RootSourceID] = &DependencySource{
			ID:        RootSourceID,
			Kind:      SourceRoot,
			Priority:  deps.Priorities[RootSourceID],
			Variables: rootVars,
			order:     -1,
		}
	}

	requests := r.collectRequests(ctx, deps, rt, graph)
	outcomes := r.loadAll(ctx, requests, deps.Load)

	for i, req := range requests {
		out := outcomes[i]
		if out.err != nil {
			if req.Kind == SourceAutoDiscovered && stderrors.Is(out.err, ErrDeclarationNotFound) {
				r.logger.Debug("Auto-discovered package declares no variables", "source", req.ID)
				continue
			}
			loadErr := NewDependencyLoadFailedError(req.ID, req.Required, out.err)
			if req.Required {
				r.logger.Error("Required dependency failed to load", "source", req.ID, "error", out.err)
				return graph, loadErr
			}
			r.logger.Warn("Dependency failed to load, skipping", "source", req.ID, "error", out.err)
			graph.Warnings = append(graph.Warnings, loadErr)
			continue
		}

		src := &DependencySource{
			ID:         req.ID,
			Kind:       req.Kind,
			Version:    out.decl.Version,
			Constraint: constraintFor(deps.Versions, req),
			Priority:   priorityFor(deps.Priorities, req),
			Required:   req.Required,
			DependsOn:  resolveAliases(out.decl.Dependencies, deps.Aliases),
			Variables:  out.decl.Variables,
			order:      req.order,
		}

		if src.Constraint != "" && !VersionSatisfies(src.Version, src.Constraint) {
			fatal := deps.VersionPolicy == VersionPolicyFail
			verr := NewVersionConstraintUnsatisfiedError(src.ID, src.Version, src.Constraint, fatal)
			if fatal {
				return graph, verr
			}
			r.logger.Warn("Dependency version does not satisfy constraint, dropping source",
				"source", src.ID, "version", src.Version, "constraint", src.Constraint)
			graph.Warnings = append(graph.Warnings, verr)
			continue
		}

		graph.Sources[src.ID] = src
	}

	graph.Order = r.orderSources(graph)

	if err := r.merge(graph, cfg); err != nil {
		return graph, err
	}

	if r.metrics != nil {
		r.metrics.recordResolution(time.Since(started), len(graph.Conflicts))
	}
	r.logger.Info("Dependency resolution completed",
		"sources", len(graph.Order),
		"variables", graph.Variables.Len(),
		"conflicts", len(graph.Conflicts),
		"warnings", len(graph.Warnings),
		"duration", time.Since(started))
	return graph, nil
}

// collectRequests expands explicit ids, matching conditional rules and
// auto-discovered ids through aliases and excludes. Ids are deduplicated by
// their resolved id; a later required request upgrades an earlier one.
func (r *Resolver) collectRequests(ctx context.Context, deps DependenciesConfig, rt RuntimeContext, graph *DependencyGraph) []loadRequest {
	excluded := toSet(deps.Exclude)
	index := make(map[string]int)
	var requests []loadRequest

	add := func(id string, kind SourceKind, required bool) {
		target := id
		if alias, ok := deps.Aliases[id]; ok && alias != "" {
			target = alias
		}
		_, exID := excluded[id]
		_, exTarget := excluded[target]
		if exID || exTarget || target == RootSourceID {
			r.logger.Debug("Dependency excluded", "source", id)
			return
		}
		if i, seen := index[target]; seen {
			if required {
				requests[i].Required = true
			}
			return
		}
		index[target] = len(requests)
		requests = append(requests, loadRequest{
			ID:        target,
			Requested: id,
			Kind:      kind,
			Required:  required,
			order:     len(requests),
		})
	}

	for _, id := range deps.Explicit {
		add(id, SourceExplicit, false)
	}

	for _, rule := range deps.Conditional {
		if !rule.Matches(rt) {
			continue
		}
		r.logger.Debug("Conditional dependency rule matched", "rule", rule.Name, "packages", rule.Packages)
		for _, id := range rule.Packages {
			add(id, SourceConditional, rule.Required)
		}
	}

	if deps.AutoDiscover && r.discoverer != nil {
		ids, err := r.discoverer.Discover(ctx, rt)
		if err != nil {
			r.logger.Warn("Auto-discovery failed", "error", err)
			graph.Warnings = append(graph.Warnings, NewDependencyLoadFailedError("auto-discovery", false, err))
		}
		for _, id := range ids {
			add(id, SourceAutoDiscovered, false)
		}
	}
	return requests
}

// loadAll loads every request, in parallel when enabled. Outcomes are
// returned in request order. A required failure cancels loads that have not
// finished; other failures never affect siblings.
func (r *Resolver) loadAll(ctx context.Context, requests []loadRequest, opts LoadOptions) []loadOutcome {
	outcomes := make([]loadOutcome, len(requests))
	if len(requests) == 0 {
		return outcomes
	}

	loadCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	if !opts.Parallel {
		for i, req := range requests {
			if err := loadCtx.Err(); err != nil {
				outcomes[i].err = err
				continue
			}
			decl, err := r.loadSource(loadCtx, req, opts)
			outcomes[i] = loadOutcome{decl: decl, err: err}
			if err != nil && req.Required {
				cancel()
			}
		}
		return outcomes
	}

	executor := r.executor
	if opts.MaxConcurrency > 0 && opts.MaxConcurrency < executor.Limit() {
		executor = NewExecutor(opts.MaxConcurrency, r.logger)
	}

	tasks := make([]Task[*Declaration], len(requests))
	for i, req := range requests {
		req := req
		tasks[i] = func(tctx context.Context) (*Declaration, error) {
			decl, err := r.loadSource(tctx, req, opts)
			if err != nil && req.Required {
				cancel()
			}
			return decl, err
		}
	}

	for _, res := range ExecuteEach(loadCtx, executor, tasks) {
		outcomes[res.Index] = loadOutcome{decl: res.Value, err: res.Err}
	}
	return outcomes
}

// loadSource loads one source through the cache with bounded retries and a
// per-attempt timeout. Not-found results are not retried.
func (r *Resolver) loadSource(ctx context.Context, req loadRequest, opts LoadOptions) (*Declaration, error) {
	if decl, ok := r.fromCache(ctx, req.ID); ok {
		return decl, nil
	}

	attempts := opts.Retries + 1
	if attempts < 1 {
		attempts = 1
	}

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			r.logger.Debug("Retrying dependency load", "source", req.ID, "attempt", attempt+1, "error", lastErr)
			if opts.RetryBackoff > 0 {
				select {
				case <-ctx.Done():
					return nil, ctx.Err()
				case <-time.After(opts.RetryBackoff.Std() * time.Duration(attempt)):
				}
			}
		}

		decl, err := r.loadAttempt(ctx, req.ID, opts.Timeout.Std())

		if r.metrics != nil {
			r.metrics.recordSourceLoad(err)
		}
		if err == nil {
			if decl == nil {
				decl = &Declaration{Name: req.ID, Variables: NewVariableSet()}
			}
			if decl.Variables == nil {
				decl.Variables = NewVariableSet()
			}
			r.cache.SetWithTTL(req.ID, cachedDeclaration{Declaration: decl, Version: decl.Version}, opts.CacheTTL.Std())
			return copyDeclaration(decl), nil
		}

		lastErr = err
		if stderrors.Is(err, ErrDeclarationNotFound) || stderrors.Is(err, ErrCircuitOpen) || ctx.Err() != nil {
			break
		}
	}
	return nil, lastErr
}

type attemptResult struct {
	decl *Declaration
	err  error
}

// loadAttempt runs one loader call bounded by timeout. The call runs on its
// own goroutine so loaders that ignore ctx are abandoned once the deadline or
// the parent context fires; a late result is discarded.
func (r *Resolver) loadAttempt(ctx context.Context, id string, timeout time.Duration) (*Declaration, error) {
	attemptCtx, cancel := ctx, context.CancelFunc(func() {})
	if timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		var decl *Declaration
		err := callRecovered(r.logger, func() error {
			var loadErr error
			decl, loadErr = r.loader.Load(attemptCtx, id)
			return loadErr
		})
		done <- attemptResult{decl: decl, err: err}
	}()

	select {
	case res := <-done:
		return res.decl, res.err
	case <-attemptCtx.Done():
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		r.logger.Debug("Dependency load attempt timed out", "source", id, "timeout", timeout)
		return nil, fmt.Errorf("source %q: load attempt exceeded %s: %w", id, timeout, context.DeadlineExceeded)
	}
}

// fromCache returns a cached declaration unless it expired or the loader
// reports a different version than the cached one.
func (r *Resolver) fromCache(ctx context.Context, id string) (*Declaration, bool) {
	cached, ok := r.cache.Get(id)
	if ok {
		if prober, isProber := r.loader.(VersionProber); isProber {
			current, err := prober.ProbeVersion(ctx, id)
			if err == nil && current != cached.Version {
				r.logger.Debug("Cached declaration is stale", "source", id, "cached", cached.Version, "current", current)
				r.cache.Delete(id)
				ok = false
			}
		}
	}
	if r.metrics != nil {
		r.metrics.recordCacheLookup(ok)
	}
	if !ok {
		return nil, false
	}
	return copyDeclaration(cached.Declaration), true
}

func copyDeclaration(d *Declaration) *Declaration {
	return &Declaration{
		Name:         d.Name,
		Version:      d.Version,
		Dependencies: cloneStrings(d.Dependencies),
		Variables:    d.Variables.Clone(),
	}
}

func constraintFor(versions map[string]string, req loadRequest) string {
	if c, ok := versions[req.ID]; ok {
		return c
	}
	return versions[req.Requested]
}

func priorityFor(priorities map[string]int, req loadRequest) int {
	if p, ok := priorities[req.ID]; ok {
		return p
	}
	return priorities[req.Requested]
}

func resolveAliases(ids []string, aliases map[string]string) []string {
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if a, ok := aliases[id]; ok && a != "" {
			id = a
		}
		out = append(out, id)
	}
	return out
}

// orderSources sorts sources topologically over their declared dependencies.
// Among ready sources the highest priority goes first, then declaration
// order. Root always leads. Sources left in a cycle are appended in the same
// tie-break order with a warning.
func (r *Resolver) orderSources(graph *DependencyGraph) []string {
	less := func(a, b *DependencySource) bool {
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		return a.order < b.order
	}

	var order []string
	remaining := make(map[string]*DependencySource, len(graph.Sources))
	for id, src := range graph.Sources {
		if id == RootSourceID {
			continue
		}
		remaining[id] = src
	}
	if _, ok := graph.Sources[RootSourceID]; ok {
		order = append(order, RootSourceID)
	}

	inDegree := make(map[string]int, len(remaining))
	dependents := make(map[string][]string)
	for id, src := range remaining {
		if _, ok := inDegree[id]; !ok {
			inDegree[id] = 0
		}
		for _, dep := range src.DependsOn {
			if _, present := remaining[dep]; !present || dep == id {
				continue
			}
			inDegree[id]++
			dependents[dep] = append(dependents[dep], id)
		}
	}

	var ready []*DependencySource
	for id, deg := range inDegree {
		if deg == 0 {
			ready = append(ready, remaining[id])
		}
	}

	for len(ready) > 0 {
		sort.SliceStable(ready, func(i, j int) bool { return less(ready[i], ready[j]) })
		current := ready[0]
		ready = ready[1:]
		order = append(order, current.ID)
		delete(remaining, current.ID)

		for _, dependent := range dependents[current.ID] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				ready = append(ready, remaining[dependent])
			}
		}
	}

	if len(remaining) > 0 {
		cyclic := make([]*DependencySource, 0, len(remaining))
		for _, src := range remaining {
			cyclic = append(cyclic, src)
		}
		sort.SliceStable(cyclic, func(i, j int) bool { return less(cyclic[i], cyclic[j]) })
		ids := make([]string, len(cyclic))
		for i, src := range cyclic {
			ids[i] = src.ID
		}
		r.logger.Warn("Dependency cycle between sources, using priority order", "sources", ids)
		graph.Warnings = append(graph.Warnings, NewDependencyCycleWarning(ids))
		order = append(order, ids...)
	}
	return order
}

// candidate is one declaration competing for a final variable name.
type candidate struct {
	spec   *VariableSpec
	source *DependencySource
}

// merge prefixes every source in resolution order, detects collisions on
// final names and builds the catalog according to the conflict strategy.
func (r *Resolver) merge(graph *DependencyGraph, cfg *Config) error {
	deps := cfg.Dependencies
	prefixer := NewPrefixResolver(cfg.Prefix)

	candidates := make(map[string][]candidate)
	var finalOrder []string
	running := NewVariableSet()

	push := func(final string, spec *VariableSpec, src *DependencySource) {
		if _, seen := candidates[final]; !seen {
			finalOrder = append(finalOrder, final)
		}
		candidates[final] = append(candidates[final], candidate{spec: spec, source: src})
	}

	pairwise := make(map[string][]Conflict)
	for _, id := range graph.Order {
		src := graph.Sources[id]
		if id == RootSourceID {
			src.Variables.Each(func(spec *VariableSpec) bool {
				annotated := annotate(spec, spec.Name, RootSourceID, TagRoot)
				running.Put(annotated)
				push(spec.Name, annotated, src)
				graph.Decisions = append(graph.Decisions, PrefixDecision{
					Original: spec.Name, Final: spec.Name, Strategy: TagRoot, Source: RootSourceID,
				})
				return true
			})
			continue
		}

		result := prefixer.ApplyStrategy(src.Variables, id, running)
		running = result.Merged
		graph.Decisions = append(graph.Decisions, result.Decisions...)
		for _, c := range result.Conflicts {
			pairwise[c.Variable] = append(pairwise[c.Variable], c)
		}
		for _, d := range result.Decisions {
			spec, _ := result.Merged.Get(d.Final)
			push(d.Final, spec, src)
		}
	}

	for _, final := range finalOrder {
		cands := candidates[final]
		if len(cands) < 2 {
			continue
		}
		conflict := Conflict{
			Variable:   final,
			Severity:   SeverityWarning,
			Suggestion: pairwise[final][0].Suggestion,
		}
		for _, c := range cands {
			conflict.Sources = append(conflict.Sources, c.source.ID)
		}
		for _, p := range pairwise[final] {
			if p.Severity == SeverityError {
				conflict.Severity = SeverityError
			}
		}
		if deps.Strategy == StrategyStrict {
			conflict.Severity = SeverityError
		}
		graph.Conflicts = append(graph.Conflicts, conflict)
	}

	if len(graph.Conflicts) > 0 {
		if deps.Strategy == StrategyStrict {
			r.logger.Error("Variable name conflict under strict strategy",
				"variable", graph.Conflicts[0].Variable, "sources", graph.Conflicts[0].Sources)
			return NewDependencyConflictError(graph.Conflicts[0])
		}
		for _, c := range graph.Conflicts {
			if deps.BlockOn.Blocks(c.Severity) {
				r.logger.Error("Variable name conflict blocks resolution",
					"variable", c.Variable, "severity", c.Severity, "block_on", deps.BlockOn)
				return NewDependencyConflictError(c)
			}
		}
	}

	conflictIdx := 0
	for _, final := range finalOrder {
		cands := candidates[final]
		winner := pickWinner(deps.Strategy, cands)
		graph.Variables.Put(winner.spec)

		if len(cands) < 2 {
			continue
		}
		c := &graph.Conflicts[conflictIdx]
		conflictIdx++
		c.Winner = winner.source.ID

		switch deps.Strategy {
		case StrategyIgnore:
			r.logger.Debug("Variable name conflict ignored", "variable", final, "winner", c.Winner)
		case StrategyWarn:
			r.logger.Warn("Variable name conflict, keeping first declaration",
				"variable", final, "sources", c.Sources, "winner", c.Winner, "suggestion", c.Suggestion)
			graph.Warnings = append(graph.Warnings, NewDependencyConflictError(*c).WithSeverity(SeverityWarning))
		default:
			r.logger.Info("Variable name conflict resolved",
				"variable", final, "strategy", deps.Strategy, "winner", c.Winner)
			graph.Warnings = append(graph.Warnings, NewDependencyConflictError(*c).WithSeverity(SeverityWarning))
		}
	}
	return nil
}

// pickWinner applies the conflict strategy to competing declarations listed
// in resolution order.
func pickWinner(strategy ConflictStrategy, cands []candidate) candidate {
	winner := cands[0]
	switch strategy {
	case StrategyPriority:
		for _, c := range cands[1:] {
			if c.source.Priority > winner.source.Priority ||
				(c.source.Priority == winner.source.Priority && c.source.order < winner.source.order) {
				winner = c
			}
		}
	case StrategyLatest:
		for _, c := range cands[1:] {
			if CompareVersions(c.source.Version, winner.source.Version) > 0 {
				winner = c
			}
		}
	}
	return winner
}
