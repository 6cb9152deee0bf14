// config_loader.go: root configuration reading with format detection and local overrides
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"dario.cat/mergo"
	"github.com/agilira/argus"
)

// maxConfigSize bounds every configuration file read.
const maxConfigSize = 10 * 1024 * 1024

// ConfigReader loads the root configuration from JSON, YAML or TOML.
//
// A sibling "<name>.local<ext>" file, when present, is merged over the base
// file: non-zero override fields replace base fields and maps are merged
// key by key.
type ConfigReader struct {
	// Merge <name>.local<ext> over the base file (default true)
	LocalOverrides bool

	// Expand ${VAR} placeholders and apply ENVFORGE_ overrides (default true)
	ExpandEnv bool

	// Options for ExpandEnv
	EnvOptions EnvConfigOptions

	logger Logger
}

// NewConfigReader creates a reader with local overrides and environment
// expansion enabled.
func NewConfigReader(logger any) *ConfigReader {
	return &ConfigReader{
		LocalOverrides: true,
		ExpandEnv:      true,
		EnvOptions:     DefaultEnvConfigOptions(),
		logger:         NewLogger(logger),
	}
}

// LoadConfigFromFile is a shortcut for NewConfigReader(nil).Load(path).
func LoadConfigFromFile(path string) (*Config, error) {
	return NewConfigReader(nil).Load(path)
}

// LocalOverridePath returns the override file name for path:
// "envforge.yaml" becomes "envforge.local.yaml".
func LocalOverridePath(path string) string {
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + ".local" + ext
}

// Load reads path, merges its local override, applies defaults and validates.
func (r *ConfigReader) Load(path string) (*Config, error) {
	securePath, err := r.securePath(path)
	if err != nil {
		return nil, err
	}

	cfg, err := r.readFile(securePath)
	if err != nil {
		return nil, err
	}

	if r.LocalOverrides {
		overridePath := LocalOverridePath(securePath)
		if _, statErr := os.Stat(overridePath); statErr == nil {
			override, err := r.readFile(overridePath)
			if err != nil {
				return nil, err
			}
			if err := mergo.Merge(cfg, override, mergo.WithOverride); err != nil {
				return nil, NewConfigParseError(overridePath, argus.DetectFormat(overridePath).String(), err)
			}
			r.logger.Debug("Local configuration override merged", "path", overridePath)
		}
	}

	if err := r.applyEnv(cfg); err != nil {
		return nil, err
	}

	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	r.logger.Debug("Configuration loaded", "path", securePath,
		"format", argus.DetectFormat(securePath).String(),
		"variables", len(cfg.Variables),
		"dependencies", len(cfg.Dependencies.Explicit))
	return cfg, nil
}

// Parse decodes data in the format implied by name without touching the
// filesystem. Defaults are applied and the result validated.
func (r *ConfigReader) Parse(name string, data []byte) (*Config, error) {
	cfg := &Config{}
	if err := decodeByFormat(name, data, cfg); err != nil {
		return nil, err
	}
	if err := r.applyEnv(cfg); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (r *ConfigReader) applyEnv(cfg *Config) error {
	if !r.ExpandEnv {
		return nil
	}
	if err := ExpandConfig(cfg, r.EnvOptions); err != nil {
		return err
	}
	if applied := ApplyEnvOverrides(cfg, r.EnvOptions); len(applied) > 0 {
		r.logger.Debug("Environment overrides applied", "settings", applied)
	}
	return nil
}

func (r *ConfigReader) readFile(path string) (*Config, error) {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, NewConfigNotFoundError(path)
		}
		return nil, NewConfigPathError(path, err.Error())
	}
	if !info.Mode().IsRegular() {
		return nil, NewConfigPathError(path, "configuration path is not a regular file")
	}
	if info.Size() > maxConfigSize {
		return nil, NewConfigPathError(path, fmt.Sprintf("configuration file too large: %d bytes (max %d)", info.Size(), maxConfigSize))
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path validated by securePath
	if err != nil {
		return nil, NewConfigPathError(path, err.Error())
	}

	cfg := &Config{}
	if len(strings.TrimSpace(string(data))) == 0 {
		return cfg, nil
	}
	if err := decodeByFormat(path, data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// securePath cleans path, rejects null bytes and control characters and
// returns it in absolute form.
func (r *ConfigReader) securePath(path string) (string, error) {
	if path == "" {
		return "", NewConfigPathError(path, "empty configuration path")
	}
	if strings.Contains(path, "\x00") {
		return "", NewConfigPathError(path, "null byte in configuration path")
	}
	for i, c := range path {
		if c < 32 && c != '\t' {
			return "", NewConfigPathError(path, fmt.Sprintf("control character at position %d", i))
		}
	}
	abs, err := filepath.Abs(filepath.Clean(path))
	if err != nil {
		return "", NewConfigPathError(path, err.Error())
	}
	return abs, nil
}
