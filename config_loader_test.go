// config_loader_test.go: tests for root configuration loading
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleYAMLConfig = `mode: production
variables:
  PORT:
    type: number
    default: 8080
  API_KEY:
    required: true
    sensitive: true
dependencies:
  explicit: [db-client, "./local/lib"]
  strategy: priority
  priorities:
    db-client: 10
  conditional:
    - name: ci
      env:
        CI: "*"
      packages: [ci-reporter]
  load:
    parallel: true
    timeout: 2s
    retries: 1
prefix:
  strategy: auto
  custom:
    db-client: DB_
reload:
  enabled: true
  debounce: 250ms
  mode: full
logging:
  level: debug
`

func TestLoadConfigFromFile_YAML(t *testing.T) {
	env := NewTestEnvironment(t)
	path := env.WriteFile("envforge.yaml", sampleYAMLConfig)

	cfg, err := LoadConfigFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, "production", cfg.Mode)
	assert.Equal(t, []string{"db-client", "./local/lib"}, cfg.Dependencies.Explicit)
	assert.Equal(t, StrategyPriority, cfg.Dependencies.Strategy)
	assert.Equal(t, 10, cfg.Dependencies.Priorities["db-client"])
	require.Len(t, cfg.Dependencies.Conditional, 1)
	assert.Equal(t, "*", cfg.Dependencies.Conditional[0].Env["CI"])
	assert.True(t, cfg.Dependencies.Load.Parallel)
	assert.Equal(t, 2*time.Second, cfg.Dependencies.Load.Timeout.Std())
	assert.Equal(t, PrefixAuto, cfg.Prefix.Strategy)
	assert.Equal(t, "DB_", cfg.Prefix.Custom["db-client"])
	assert.Equal(t, 250*time.Millisecond, cfg.Reload.Debounce.Std())
	assert.Equal(t, ApplyFull, cfg.Reload.Mode)
	assert.Equal(t, "debug", cfg.Logging.Level)

	assert.True(t, cfg.Variables["API_KEY"].Sensitive)
	assert.Equal(t, "number", cfg.Variables["PORT"].Type)

	// Defaults fill what the file leaves out
	assert.Equal(t, VersionPolicyDrop, cfg.Dependencies.VersionPolicy)
	assert.Equal(t, BlockNever, cfg.Dependencies.BlockOn)
	assert.Equal(t, 20, cfg.Reload.MaxSnapshots)
	assert.Equal(t, "_", cfg.Prefix.Separator)
}

func TestLoadConfigFromFile_JSONAndTOML(t *testing.T) {
	env := NewTestEnvironment(t)

	jsonPath := env.WriteFile("json/envforge.json", `{
  "mode": "test",
  "variables": {"DEBUG": {"type": "boolean", "default": true}},
  "dependencies": {"explicit": ["a"], "load": {"timeout": "500ms", "cache_ttl": 60000000000}}
}`)
	cfg, err := LoadConfigFromFile(jsonPath)
	require.NoError(t, err)
	assert.Equal(t, "test", cfg.Mode)
	assert.Equal(t, 500*time.Millisecond, cfg.Dependencies.Load.Timeout.Std())
	assert.Equal(t, time.Minute, cfg.Dependencies.Load.CacheTTL.Std(), "integer durations are nanoseconds")
	assert.Equal(t, true, cfg.Variables["DEBUG"].Default)

	tomlPath := env.WriteFile("toml/envforge.toml", `mode = "staging"

[variables.WORKERS]
type = "number"
default = 4

[dependencies]
explicit = ["b"]
strategy = "latest"

[reload]
poll_interval = "3s"
`)
	cfg, err = LoadConfigFromFile(tomlPath)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Mode)
	assert.Equal(t, StrategyLatest, cfg.Dependencies.Strategy)
	assert.Equal(t, 3*time.Second, cfg.Reload.PollInterval.Std())
	assert.Equal(t, []string{"b"}, cfg.Dependencies.Explicit)
}

func TestConfigReader_LocalOverride(t *testing.T) {
	env := NewTestEnvironment(t)
	path := env.WriteFile("envforge.yaml", `mode: development
variables:
  BASE_ONLY:
    default: base
dependencies:
  explicit: [a]
`)
	env.WriteFile("envforge.local.yaml", `mode: staging
variables:
  LOCAL_ONLY:
    default: local
`)
	assert.Equal(t, filepath.Join(env.Dir(), "envforge.local.yaml"), LocalOverridePath(path))

	cfg, err := NewConfigReader(NewNoOpLogger()).Load(path)
	require.NoError(t, err)
	assert.Equal(t, "staging", cfg.Mode, "override replaces set fields")
	assert.Contains(t, cfg.Variables, "BASE_ONLY", "maps are merged")
	assert.Contains(t, cfg.Variables, "LOCAL_ONLY")
	assert.Equal(t, []string{"a"}, cfg.Dependencies.Explicit, "unset override fields keep the base")

	t.Run("Disabled", func(t *testing.T) {
		reader := NewConfigReader(nil)
		reader.LocalOverrides = false
		cfg, err := reader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "development", cfg.Mode)
		assert.NotContains(t, cfg.Variables, "LOCAL_ONLY")
	})
}

func TestConfigReader_EnvironmentExpansion(t *testing.T) {
	env := NewTestEnvironment(t)
	path := env.WriteFile("envforge.yaml", `mode: ${APP_MODE:-development}
variables:
  DB_HOST:
    default: ${DB_HOST_DEFAULT}
dependencies:
  explicit: ["${EXTRA_PKG}"]
logging:
  level: ${LOG:-warn}
`)

	reader := NewConfigReader(nil)
	reader.EnvOptions.Env = MapEnv{
		"ENVFORGE_APP_MODE": "production",
		"DB_HOST_DEFAULT":   "db.internal",
		"EXTRA_PKG":         "metrics",
		"ENVFORGE_STRATEGY": "ignore",
	}

	cfg, err := reader.Load(path)
	require.NoError(t, err)
	assert.Equal(t, "production", cfg.Mode, "prefixed variable wins")
	assert.Equal(t, "db.internal", cfg.Variables["DB_HOST"].Default)
	assert.Equal(t, []string{"metrics"}, cfg.Dependencies.Explicit)
	assert.Equal(t, "warn", cfg.Logging.Level, "inline default")
	assert.Equal(t, StrategyIgnore, cfg.Dependencies.Strategy, "ENVFORGE_ override")

	t.Run("ExpansionDisabled", func(t *testing.T) {
		raw := NewConfigReader(nil)
		raw.ExpandEnv = false
		cfg, err := raw.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "${APP_MODE:-development}", cfg.Mode)
	})
}

func TestConfigReader_Errors(t *testing.T) {
	env := NewTestEnvironment(t)
	reader := NewConfigReader(nil)

	t.Run("NotFound", func(t *testing.T) {
		_, err := reader.Load(filepath.Join(env.Dir(), "missing.yaml"))
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrCodeConfigNotFound))
	})

	t.Run("EmptyPath", func(t *testing.T) {
		_, err := reader.Load("")
		assert.True(t, HasErrorCode(err, ErrCodeConfigPathError))
	})

	t.Run("NullByte", func(t *testing.T) {
		_, err := reader.Load("conf\x00ig.yaml")
		assert.True(t, HasErrorCode(err, ErrCodeConfigPathError))
	})

	t.Run("Directory", func(t *testing.T) {
		dir := filepath.Join(env.Dir(), "adir.yaml")
		require.NoError(t, os.Mkdir(dir, 0o755))
		_, err := reader.Load(dir)
		assert.True(t, HasErrorCode(err, ErrCodeConfigPathError))
	})

	t.Run("ParseError", func(t *testing.T) {
		path := env.WriteFile("broken.json", `{"mode": `)
		_, err := reader.Load(path)
		assert.True(t, HasErrorCode(err, ErrCodeConfigParseError))
	})

	t.Run("UnsupportedFormat", func(t *testing.T) {
		path := env.WriteFile("envforge.txt", "mode = x")
		_, err := reader.Load(path)
		assert.True(t, HasErrorCode(err, ErrCodeConfigParseError))
	})

	t.Run("ValidationError", func(t *testing.T) {
		path := env.WriteFile("invalid.yaml", "dependencies:\n  strategy: newest\n")
		_, err := reader.Load(path)
		assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
	})

	t.Run("EmptyFileGetsDefaults", func(t *testing.T) {
		path := env.WriteFile("empty.yaml", "  \n")
		cfg, err := reader.Load(path)
		require.NoError(t, err)
		assert.Equal(t, "development", cfg.Mode)
	})
}

func TestConfigReader_Parse(t *testing.T) {
	reader := NewConfigReader(nil)
	reader.ExpandEnv = false

	cfg, err := reader.Parse("inline.yaml", []byte(strings.TrimSpace(`
mode: test
dependencies:
  version_policy: fail
  block_on: warning
`)))
	require.NoError(t, err)
	assert.Equal(t, VersionPolicyFail, cfg.Dependencies.VersionPolicy)
	assert.Equal(t, BlockOnWarning, cfg.Dependencies.BlockOn)

	_, err = reader.Parse("inline.yaml", []byte("dependencies:\n  block_on: sometimes\n"))
	assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
}
