// config_test.go: tests for configuration defaults, validation and cloning
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	assert.Equal(t, "development", cfg.Mode)
	assert.NotNil(t, cfg.Variables)
	assert.Equal(t, StrategyWarn, cfg.Dependencies.Strategy)
	assert.Equal(t, VersionPolicyDrop, cfg.Dependencies.VersionPolicy)
	assert.Equal(t, BlockNever, cfg.Dependencies.BlockOn)
	assert.Equal(t, 8, cfg.Dependencies.Load.MaxConcurrency)
	assert.Equal(t, 10*time.Second, cfg.Dependencies.Load.Timeout.Std())
	assert.Equal(t, 2, cfg.Dependencies.Load.Retries)
	assert.Equal(t, 5*time.Minute, cfg.Dependencies.Load.CacheTTL.Std())
	assert.Equal(t, PrefixGlobalAware, cfg.Prefix.Strategy)
	assert.Equal(t, 100*time.Millisecond, cfg.Reload.Debounce.Std())
	assert.Equal(t, time.Second, cfg.Reload.PollInterval.Std())
	assert.Equal(t, ApplyIncremental, cfg.Reload.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
	assert.NoError(t, cfg.Validate())

	t.Run("ExplicitValuesKept", func(t *testing.T) {
		cfg := &Config{Mode: "production"}
		cfg.Dependencies.Load.Retries = -1
		cfg.Reload.MaxSnapshots = 3
		cfg.ApplyDefaults()
		assert.Equal(t, "production", cfg.Mode)
		assert.Equal(t, -1, cfg.Dependencies.Load.Retries, "negative disables retries")
		assert.Equal(t, 3, cfg.Reload.MaxSnapshots)
	})
}

func TestConfig_Validate(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(c *Config)
		field  string
	}{
		{"Strategy", func(c *Config) { c.Dependencies.Strategy = "newest" }, "dependencies.strategy"},
		{"VersionPolicy", func(c *Config) { c.Dependencies.VersionPolicy = "maybe" }, "dependencies.version_policy"},
		{"BlockOn", func(c *Config) { c.Dependencies.BlockOn = "always" }, "dependencies.block_on"},
		{"PrefixStrategy", func(c *Config) { c.Prefix.Strategy = "random" }, "prefix.strategy"},
		{"ReloadMode", func(c *Config) { c.Reload.Mode = "partial" }, "reload.mode"},
		{"EmptyVariableName", func(c *Config) { c.Variables[" "] = VariableDecl{} }, "variables"},
		{"VariableType", func(c *Config) { c.Variables["X"] = VariableDecl{Type: "date"} }, "variables.X.type"},
		{"ConditionalPackages", func(c *Config) {
			c.Dependencies.Conditional = []ConditionalRule{{Name: "empty"}}
		}, "dependencies.conditional[0].packages"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
			assert.Equal(t, tc.field, asError(t, err).Context["field"])
		})
	}
}

func TestConfig_Clone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Variables["HOSTS"] = VariableDecl{Type: "array", Default: []any{"a", map[string]any{"k": "v"}}}
	cfg.Dependencies.Explicit = []string{"a", "b"}
	cfg.Dependencies.Priorities = map[string]int{"a": 1}
	cfg.Dependencies.Aliases = map[string]string{"db": "pg-client"}
	cfg.Dependencies.Conditional = []ConditionalRule{{Name: "ci", Env: map[string]string{"CI": "*"}, Packages: []string{"ci"}}}
	cfg.Prefix.Custom = map[string]string{"a": "A_"}
	cfg.Reload.Watch = []string{".env"}

	clone := cfg.Clone()
	if diff := cmp.Diff(cfg, clone, cmpopts.IgnoreFields(ConditionalRule{}, "When")); diff != "" {
		t.Fatalf("clone differs (-want +got):\n%s", diff)
	}

	clone.Dependencies.Explicit[0] = "changed"
	clone.Dependencies.Priorities["a"] = 99
	clone.Dependencies.Aliases["db"] = "mysql"
	clone.Dependencies.Conditional[0].Packages[0] = "other"
	clone.Prefix.Custom["a"] = "B_"
	clone.Reload.Watch[0] = "other"
	clone.Variables["HOSTS"].Default.([]any)[1].(map[string]any)["k"] = "changed"

	assert.Equal(t, "a", cfg.Dependencies.Explicit[0])
	assert.Equal(t, 1, cfg.Dependencies.Priorities["a"])
	assert.Equal(t, "pg-client", cfg.Dependencies.Aliases["db"])
	assert.Equal(t, "ci", cfg.Dependencies.Conditional[0].Packages[0])
	assert.Equal(t, "A_", cfg.Prefix.Custom["a"])
	assert.Equal(t, ".env", cfg.Reload.Watch[0])
	assert.Equal(t, "v", cfg.Variables["HOSTS"].Default.([]any)[1].(map[string]any)["k"])

	var nilCfg *Config
	assert.Nil(t, nilCfg.Clone())
}

func TestDuration(t *testing.T) {
	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1.5s"`), &d))
	assert.Equal(t, 1500*time.Millisecond, d.Std())

	require.NoError(t, json.Unmarshal([]byte(`250`), &d))
	assert.Equal(t, 250*time.Nanosecond, d.Std())

	assert.Error(t, json.Unmarshal([]byte(`"soon"`), &d))
	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	text, err := Duration(2 * time.Minute).MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "2m0s", string(text))
}

func TestBlockLevel_Blocks(t *testing.T) {
	assert.False(t, BlockNever.Blocks(SeverityError))
	assert.True(t, BlockOnError.Blocks(SeverityError))
	assert.False(t, BlockOnError.Blocks(SeverityWarning))
	assert.True(t, BlockOnWarning.Blocks(SeverityWarning))
	assert.False(t, BlockLevel("").Blocks(SeverityError))
}

func TestConditionalRule_Matches(t *testing.T) {
	rt := RuntimeContext{Mode: "Production", Env: map[string]string{"CI": "true", "REGION": "eu"}}

	testCases := []struct {
		name string
		rule ConditionalRule
		want bool
	}{
		{"Empty", ConditionalRule{}, true},
		{"ModeCaseInsensitive", ConditionalRule{Modes: []string{"production"}}, true},
		{"ModeMismatch", ConditionalRule{Modes: []string{"test", "development"}}, false},
		{"EnvPresence", ConditionalRule{Env: map[string]string{"CI": "*"}}, true},
		{"EnvValue", ConditionalRule{Env: map[string]string{"REGION": "eu"}}, true},
		{"EnvValueMismatch", ConditionalRule{Env: map[string]string{"REGION": "us"}}, false},
		{"EnvMissing", ConditionalRule{Env: map[string]string{"DOCKER": "*"}}, false},
		{"PredicateFalse", ConditionalRule{When: func(RuntimeContext) bool { return false }}, false},
		{"AllMatch", ConditionalRule{
			Modes: []string{"production"},
			Env:   map[string]string{"CI": "*"},
			When:  func(rt RuntimeContext) bool { return rt.Env["REGION"] == "eu" },
		}, true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, tc.rule.Matches(rt))
		})
	}
}

func TestVariableDecl_ToSpec(t *testing.T) {
	validators := map[string]Validator{
		"positive": ValidatorFunc(func(v Value) (bool, string) {
			n, _ := v.AsNumber()
			return n > 0, "must be positive"
		}),
	}

	spec, err := VariableDecl{Type: "number", Default: "42", Validator: "positive", Required: true}.ToSpec("WORKERS", validators)
	require.NoError(t, err)
	assert.Equal(t, TypeNumber, spec.Type)
	assert.Equal(t, "42", spec.Default.String())
	assert.True(t, spec.Required)
	assert.NotNil(t, spec.Validator)

	_, err = VariableDecl{Type: "number", Default: "many"}.ToSpec("WORKERS", nil)
	assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))

	_, err = VariableDecl{Validator: "unknown"}.ToSpec("X", validators)
	assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))

	set, err := DeclsToVariableSet(map[string]VariableDecl{"B": {}, "A": {}, "C": {}}, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "B", "C"}, set.Names())
}
