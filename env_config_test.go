// env_config_test.go: tests for placeholder expansion and environment overrides
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExpandEnvironmentVariables(t *testing.T) {
	options := DefaultEnvConfigOptions()
	options.Env = MapEnv{
		"HOST":          "db.local",
		"ENVFORGE_PORT": "6543",
		"PORT":          "5432",
		"EMPTY":         "",
	}
	options.Defaults["FALLBACK"] = "configured"

	testCases := []struct {
		name  string
		input string
		want  string
	}{
		{"NoPlaceholder", "plain value", "plain value"},
		{"Bare", "${HOST}", "db.local"},
		{"PrefixedWins", "${PORT}", "6543"},
		{"Embedded", "postgres://${HOST}:${PORT}/app", "postgres://db.local:6543/app"},
		{"InlineDefault", "${MISSING:-inline}", "inline"},
		{"EmptyUsesInlineDefault", "${EMPTY:-inline}", "inline"},
		{"EmptyInlineDefault", "${MISSING:-}", ""},
		{"ConfiguredDefault", "${FALLBACK}", "configured"},
		{"MissingExpandsEmpty", "[${MISSING}]", "[]"},
		{"NotAPlaceholder", "$HOST and ${1BAD}", "$HOST and ${1BAD}"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ExpandEnvironmentVariables(tc.input, options)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestExpandEnvironmentVariables_Failures(t *testing.T) {
	t.Run("FailOnMissing", func(t *testing.T) {
		options := EnvConfigOptions{Env: MapEnv{}, FailOnMissing: true}
		_, err := ExpandEnvironmentVariables("${REQUIRED_TOKEN}", options)
		require.Error(t, err)
		assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
		assert.Equal(t, "${REQUIRED_TOKEN}", asError(t, err).Context["field"])
	})

	t.Run("ControlCharacter", func(t *testing.T) {
		options := EnvConfigOptions{Env: MapEnv{"BAD": "a\x07b"}, ValidateValues: true}
		_, err := ExpandEnvironmentVariables("${BAD}", options)
		assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
	})

	t.Run("TooLong", func(t *testing.T) {
		options := EnvConfigOptions{Env: MapEnv{"BIG": strings.Repeat("x", maxExpandedValue+1)}, ValidateValues: true}
		_, err := ExpandEnvironmentVariables("${BIG}", options)
		assert.True(t, HasErrorCode(err, ErrCodeConfigValidationError))
	})

	t.Run("ValidationDisabled", func(t *testing.T) {
		options := EnvConfigOptions{Env: MapEnv{"BAD": "a\x07b"}}
		got, err := ExpandEnvironmentVariables("${BAD}", options)
		require.NoError(t, err)
		assert.Equal(t, "a\x07b", got)
	})
}

func TestExpandConfig(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Mode = "${STAGE}"
	cfg.Variables["URL"] = VariableDecl{Default: "https://${HOST}"}
	cfg.Variables["PORT"] = VariableDecl{Type: "number", Default: 80}
	cfg.Dependencies.Explicit = []string{"${PKG}"}
	cfg.Dependencies.Conditional = []ConditionalRule{{Packages: []string{"${PKG}-ci"}}}
	cfg.Dependencies.Aliases = map[string]string{"db": "${PKG}-db"}
	cfg.Reload.Watch = []string{"${HOME_DIR}/.env"}
	cfg.Reload.AuditFile = "${HOME_DIR}/audit.jsonl"

	options := EnvConfigOptions{Env: MapEnv{
		"STAGE":    "staging",
		"HOST":     "example.org",
		"PKG":      "core",
		"HOME_DIR": "/srv",
	}}
	require.NoError(t, ExpandConfig(cfg, options))

	assert.Equal(t, "staging", cfg.Mode)
	assert.Equal(t, "https://example.org", cfg.Variables["URL"].Default)
	assert.Equal(t, 80, cfg.Variables["PORT"].Default, "non-string defaults untouched")
	assert.Equal(t, []string{"core"}, cfg.Dependencies.Explicit)
	assert.Equal(t, []string{"core-ci"}, cfg.Dependencies.Conditional[0].Packages)
	assert.Equal(t, "core-db", cfg.Dependencies.Aliases["db"])
	assert.Equal(t, []string{"/srv/.env"}, cfg.Reload.Watch)
	assert.Equal(t, "/srv/audit.jsonl", cfg.Reload.AuditFile)

	t.Run("ErrorNamesField", func(t *testing.T) {
		cfg := DefaultConfig()
		cfg.Dependencies.Explicit = []string{"ok", "${NOPE}"}
		err := ExpandConfig(cfg, EnvConfigOptions{Env: MapEnv{}, FailOnMissing: true})
		require.Error(t, err)
		assert.Equal(t, "dependencies.explicit[1]", asError(t, err).Context["field"])
	})
}

func TestApplyEnvOverrides(t *testing.T) {
	cfg := DefaultConfig()
	options := DefaultEnvConfigOptions()
	options.Env = MapEnv{
		"ENVFORGE_MODE":            "production",
		"ENVFORGE_STRATEGY":        "strict",
		"ENVFORGE_PREFIX_STRATEGY": "none",
		"ENVFORGE_RELOAD_MODE":     "full",
		"ENVFORGE_LOG_LEVEL":       "",
		"MODE":                     "ignored",
	}

	applied := ApplyEnvOverrides(cfg, options)
	assert.Equal(t, []string{
		"ENVFORGE_MODE",
		"ENVFORGE_STRATEGY",
		"ENVFORGE_PREFIX_STRATEGY",
		"ENVFORGE_RELOAD_MODE",
	}, applied, "empty values are skipped")
	assert.Equal(t, "production", cfg.Mode)
	assert.Equal(t, StrategyStrict, cfg.Dependencies.Strategy)
	assert.Equal(t, PrefixNone, cfg.Prefix.Strategy)
	assert.Equal(t, ApplyFull, cfg.Reload.Mode)
	assert.Equal(t, "info", cfg.Logging.Level)
}
