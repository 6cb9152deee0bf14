// engine_test.go: end-to-end tests for builds, incremental applies and restores
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type engineFixture struct {
	engine *Engine
	loader *MapDeclarationLoader
	env    MapEnv
	writer *MemoryArtifactWriter
	cfg    *Config
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()
	f := &engineFixture{
		loader: NewMapDeclarationLoader().Add("db-client", "1.4.0",
			typedSpec("POOL_SIZE", TypeNumber, NumberValue(10)),
			stringSpec("TIMEOUT", "5s"),
		),
		env:    MapEnv{"DB_CLIENT_POOL_SIZE": "25"},
		writer: NewMemoryArtifactWriter(),
	}
	f.engine = NewEngine(EngineOptions{
		Loader: f.loader,
		Env:    f.env,
		Writer: f.writer,
		Logger: NewNoOpLogger(),
	})

	cfg := DefaultConfig()
	cfg.Variables["APP_NAME"] = VariableDecl{Default: "demo"}
	cfg.Dependencies.Explicit = []string{"db-client"}
	f.cfg = cfg

	require.NoError(t, f.engine.Register(PluginDescriptor{Name: "dotenv", Watch: []string{"*"}, Hooks: &Hooks{
		OnGenerateBundle: func(ctx context.Context, values *Values, rc *RunContext) error {
			var b strings.Builder
			for _, name := range values.Names() {
				v, _ := values.Get(name)
				fmt.Fprintf(&b, "%s=%s\n", name, v.String())
			}
			rc.Emit(".env", []byte(b.String()))
			return nil
		},
	}}))
	return f
}

func TestEngine_Build(t *testing.T) {
	f := newEngineFixture(t)

	result, err := f.engine.Build(context.Background(), f.cfg, RuntimeContext{Mode: "development"})
	require.NoError(t, err)

	assert.Equal(t, []string{RootSourceID, "db-client"}, result.Graph.Order)
	assert.Equal(t, []string{"APP_NAME", "DB_CLIENT_POOL_SIZE", "DB_CLIENT_TIMEOUT"}, result.Values.Names())
	assert.Equal(t, map[string]string{
		"APP_NAME":            "demo",
		"DB_CLIENT_POOL_SIZE": "25",
		"DB_CLIENT_TIMEOUT":   "5s",
	}, result.Values.Strings())
	assert.True(t, result.Resolved.Equal(result.Values), "no transform plugin registered")

	content, ok := f.writer.File(".env")
	require.True(t, ok)
	assert.Equal(t, "APP_NAME=demo\nDB_CLIENT_POOL_SIZE=25\nDB_CLIENT_TIMEOUT=5s\n", string(content))

	assert.True(t, f.engine.Values().Equal(result.Values))
	report := f.engine.Metrics().Report()
	assert.Equal(t, int64(1), report.Resolutions)
	assert.Equal(t, int64(1), report.Runs)
}

func TestEngine_BuildFailureKeepsLiveValues(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.Build(ctx, f.cfg, RuntimeContext{})
	require.NoError(t, err)
	live := f.engine.Values()

	broken := f.cfg.Clone()
	broken.Variables["API_KEY"] = VariableDecl{Required: true}
	result, err := f.engine.Build(ctx, broken, RuntimeContext{})
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeRequiredVariableMissing))
	require.NotNil(t, result)
	assert.Nil(t, result.Resolved)
	assert.True(t, f.engine.Values().Equal(live))
	assert.Equal(t, int64(1), f.engine.Metrics().Report().RunFailures)
}

func TestEngine_ApplyIncremental(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	detector := DefaultChangeDetector{}

	_, err := f.engine.Apply(ctx, f.cfg, detector.Detect("cfg", nil, f.cfg), ApplyIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(1), f.engine.Metrics().Report().Resolutions, "first apply is a full build")

	// environment drift of an unaffected variable is not picked up incrementally
	f.env["DB_CLIENT_POOL_SIZE"] = "30"

	next := f.cfg.Clone()
	next.Variables["APP_NAME"] = VariableDecl{Default: "demo-2"}
	values, err := f.engine.Apply(ctx, next, detector.Detect("cfg", f.cfg, next), ApplyIncremental)
	require.NoError(t, err)

	assert.Equal(t, "demo-2", values.Strings()["APP_NAME"])
	assert.Equal(t, "25", values.Strings()["DB_CLIENT_POOL_SIZE"])
	assert.Equal(t, int64(1), f.engine.Metrics().Report().Resolutions, "graph reused")
	assert.Equal(t, int64(2), f.engine.Metrics().Report().Runs)
	assert.Equal(t, 1, f.loader.Calls("db-client"))

	t.Run("RemovedVariable", func(t *testing.T) {
		removed := next.Clone()
		delete(removed.Variables, "APP_NAME")
		values, err := f.engine.Apply(ctx, removed, detector.Detect("cfg", next, removed), ApplyIncremental)
		require.NoError(t, err)
		assert.NotContains(t, values.Names(), "APP_NAME")
		assert.Contains(t, values.Names(), "DB_CLIENT_TIMEOUT")
	})

	t.Run("DependencyChangeForcesFullBuild", func(t *testing.T) {
		changed := next.Clone()
		changed.Dependencies.Priorities = map[string]int{"db-client": 5}
		values, err := f.engine.Apply(ctx, changed, detector.Detect("cfg", next, changed), ApplyIncremental)
		require.NoError(t, err)
		assert.Equal(t, "30", values.Strings()["DB_CLIENT_POOL_SIZE"], "full build re-reads the environment")
		assert.Equal(t, int64(2), f.engine.Metrics().Report().Resolutions)
	})

	t.Run("FullMode", func(t *testing.T) {
		before := f.engine.Metrics().Report().Resolutions
		_, err := f.engine.Apply(ctx, next, detector.Detect("cfg", next, next), ApplyFull)
		require.NoError(t, err)
		assert.Equal(t, before+1, f.engine.Metrics().Report().Resolutions)
	})
}

func TestEngine_IncrementalFallsBackForDependencyNames(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	detector := DefaultChangeDetector{}

	_, err := f.engine.Apply(ctx, f.cfg, detector.Detect("cfg", nil, f.cfg), ApplyFull)
	require.NoError(t, err)

	// a root declaration named like a prefixed dependency variable
	next := f.cfg.Clone()
	next.Variables["DB_CLIENT_TIMEOUT"] = VariableDecl{Default: "9s"}
	_, _ = f.engine.Apply(ctx, next, detector.Detect("cfg", f.cfg, next), ApplyIncremental)
	assert.Equal(t, int64(2), f.engine.Metrics().Report().Resolutions, "shared name needs a full resolution")
}

func TestEngine_Restore(t *testing.T) {
	f := newEngineFixture(t)
	ctx := context.Background()
	_, err := f.engine.Build(ctx, f.cfg, RuntimeContext{})
	require.NoError(t, err)

	restored := NewValues()
	restored.Set("APP_NAME", StringValue("from-snapshot"), false)
	snapshot := NewConfigSnapshot("cfg", f.cfg, restored)

	require.NoError(t, f.engine.Restore(ctx, snapshot))
	assert.True(t, f.engine.Values().Equal(restored))

	// after a restore the next incremental apply rebuilds everything
	next := f.cfg.Clone()
	next.Variables["APP_NAME"] = VariableDecl{Default: "after-restore"}
	_, err = f.engine.Apply(ctx, next, DefaultChangeDetector{}.Detect("cfg", f.cfg, next), ApplyIncremental)
	require.NoError(t, err)
	assert.Equal(t, int64(2), f.engine.Metrics().Report().Resolutions)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	assert.ErrorIs(t, f.engine.Restore(cancelled, snapshot), context.Canceled)
}

func TestEngine_ReloadManager(t *testing.T) {
	f := newEngineFixture(t)
	require.NoError(t, f.engine.Register(PluginDescriptor{Name: "db-only", Watch: []string{"DB_*"}, Hooks: &Hooks{}}))

	loader := &fakeConfigLoader{cfg: f.cfg.Clone()}
	opts := DefaultReloadOptions()
	opts.DisableWatcher = true
	opts.Loader = loader

	manager, err := f.engine.NewReloadManager("/virtual/envforge.yaml", opts)
	require.NoError(t, err)
	ctx := context.Background()
	require.NoError(t, manager.Start(ctx))
	defer func() { _ = manager.Stop() }()

	assert.True(t, manager.Values().Equal(f.engine.Values()))

	loader.update(func(cfg *Config) {
		cfg.Variables["APP_NAME"] = VariableDecl{Default: "reloaded"}
	})
	changes, err := manager.Reload(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"dotenv"}, changes.AffectedPlugins)
	assert.Equal(t, "reloaded", manager.Values().Strings()["APP_NAME"])
	assert.True(t, manager.Values().Equal(f.engine.Values()))

	content, _ := f.writer.File(".env")
	assert.Contains(t, string(content), "APP_NAME=reloaded")

	report := f.engine.Metrics().Report()
	assert.Equal(t, int64(1), report.Reloads, "reload metrics share the engine sink")
	assert.Equal(t, int64(1), report.Resolutions, "incremental reload")
}
