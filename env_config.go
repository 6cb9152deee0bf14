// env_config.go: ${VAR} expansion and ENVFORGE_ overrides for the root configuration
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"fmt"
	"regexp"
	"strings"
)

// EnvConfigOptions configures environment expansion of configuration values.
//
// Example usage:
//
//	options := EnvConfigOptions{
//	    Prefix:         "ENVFORGE_",
//	    FailOnMissing:  true,
//	    ValidateValues: true,
//	}
type EnvConfigOptions struct {
	// Prefix tried before the bare name, and used by ApplyEnvOverrides
	Prefix string

	// Fail when a placeholder has no value and no default
	FailOnMissing bool

	// Reject values with null bytes, control characters or excessive length
	ValidateValues bool

	// Environment read during expansion; nil reads the process environment
	Env EnvSource

	// Fallback values for undefined variables
	Defaults map[string]string
}

// DefaultEnvConfigOptions returns ENVFORGE_ prefix, lenient missing handling
// and value validation.
func DefaultEnvConfigOptions() EnvConfigOptions {
	return EnvConfigOptions{
		Prefix:         "ENVFORGE_",
		ValidateValues: true,
		Defaults:       make(map[string]string),
	}
}

var placeholderPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)(:-([^}]*))?\}`)

// maxExpandedValue bounds one expanded environment value.
const maxExpandedValue = 4096

// ExpandEnvironmentVariables replaces ${VAR} and ${VAR:-default} in input.
//
// Lookup order: prefixed variable, bare variable, inline default, configured
// default. A placeholder without any value expands to "" unless
// FailOnMissing is set.
func ExpandEnvironmentVariables(input string, options EnvConfigOptions) (string, error) {
	if !strings.Contains(input, "${") {
		return input, nil
	}
	env := options.Env
	if env == nil {
		env = OSEnv{}
	}

	var firstErr error
	result := placeholderPattern.ReplaceAllStringFunc(input, func(match string) string {
		sub := placeholderPattern.FindStringSubmatch(match)
		name := sub[1]
		inlineDefault, hasInline := sub[3], sub[2] != ""

		value, err := lookupPlaceholder(env, name, inlineDefault, hasInline, options)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return match
		}
		return value
	})
	if firstErr != nil {
		return "", firstErr
	}
	return result, nil
}

func lookupPlaceholder(env EnvSource, name, inlineDefault string, hasInline bool, options EnvConfigOptions) (string, error) {
	if options.Prefix != "" {
		if v, ok := env.Lookup(options.Prefix + name); ok && v != "" {
			return validateEnvValue(name, v, options)
		}
	}
	if v, ok := env.Lookup(name); ok && v != "" {
		return validateEnvValue(name, v, options)
	}
	if hasInline {
		return validateEnvValue(name, inlineDefault, options)
	}
	if v, ok := options.Defaults[name]; ok {
		return validateEnvValue(name, v, options)
	}
	if options.FailOnMissing {
		return "", NewConfigValidationError("${"+name+"}", "required environment variable is not set")
	}
	return "", nil
}

func validateEnvValue(name, value string, options EnvConfigOptions) (string, error) {
	if !options.ValidateValues {
		return value, nil
	}
	if strings.Contains(value, "\x00") {
		return "", NewConfigValidationError("${"+name+"}", "value contains null byte")
	}
	if len(value) > maxExpandedValue {
		return "", NewConfigValidationError("${"+name+"}", fmt.Sprintf("value too long: %d bytes (max %d)", len(value), maxExpandedValue))
	}
	for i, r := range value {
		if r < 32 && r != '\t' && r != '\n' && r != '\r' {
			return "", NewConfigValidationError("${"+name+"}", fmt.Sprintf("control character at position %d", i))
		}
	}
	return value, nil
}

// ExpandConfig expands placeholders in the string settings of cfg: mode,
// dependency ids, aliases, manifest, string defaults, watch paths, audit file
// and log level.
func ExpandConfig(cfg *Config, options EnvConfigOptions) error {
	expand := func(field string, s *string) error {
		out, err := ExpandEnvironmentVariables(*s, options)
		if err != nil {
			return NewConfigValidationError(field, err.Error())
		}
		*s = out
		return nil
	}
	expandAll := func(field string, list []string) error {
		for i := range list {
			if err := expand(fmt.Sprintf("%s[%d]", field, i), &list[i]); err != nil {
				return err
			}
		}
		return nil
	}

	if err := expand("mode", &cfg.Mode); err != nil {
		return err
	}
	if err := expandAll("dependencies.explicit", cfg.Dependencies.Explicit); err != nil {
		return err
	}
	for i := range cfg.Dependencies.Conditional {
		if err := expandAll(fmt.Sprintf("dependencies.conditional[%d].packages", i), cfg.Dependencies.Conditional[i].Packages); err != nil {
			return err
		}
	}
	for alias, target := range cfg.Dependencies.Aliases {
		if err := expand("dependencies.aliases."+alias, &target); err != nil {
			return err
		}
		cfg.Dependencies.Aliases[alias] = target
	}
	if err := expand("dependencies.manifest", &cfg.Dependencies.Manifest); err != nil {
		return err
	}
	for name, decl := range cfg.Variables {
		s, ok := decl.Default.(string)
		if !ok {
			continue
		}
		if err := expand("variables."+name+".default", &s); err != nil {
			return err
		}
		decl.Default = s
		cfg.Variables[name] = decl
	}
	if err := expandAll("reload.watch", cfg.Reload.Watch); err != nil {
		return err
	}
	if err := expand("reload.audit_file", &cfg.Reload.AuditFile); err != nil {
		return err
	}
	return expand("logging.level", &cfg.Logging.Level)
}

// ApplyEnvOverrides applies <prefix>MODE, <prefix>STRATEGY,
// <prefix>PREFIX_STRATEGY, <prefix>RELOAD_MODE and <prefix>LOG_LEVEL over cfg.
// It returns the names of the settings that were overridden.
func ApplyEnvOverrides(cfg *Config, options EnvConfigOptions) []string {
	env := options.Env
	if env == nil {
		env = OSEnv{}
	}
	var applied []string
	set := func(key string, apply func(v string)) {
		if v, ok := env.Lookup(options.Prefix + key); ok && v != "" {
			apply(v)
			applied = append(applied, options.Prefix+key)
		}
	}
	set("MODE", func(v string) { cfg.Mode = v })
	set("STRATEGY", func(v string) { cfg.Dependencies.Strategy = ConflictStrategy(v) })
	set("PREFIX_STRATEGY", func(v string) { cfg.Prefix.Strategy = PrefixStrategy(v) })
	set("RELOAD_MODE", func(v string) { cfg.Reload.Mode = ApplyMode(v) })
	set("LOG_LEVEL", func(v string) { cfg.Logging.Level = v })
	return applied
}
