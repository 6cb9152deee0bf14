// config.go: root configuration model with defaults, validation and deep copy
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Duration is a time.Duration that decodes from "1.5s" style strings in
// JSON, YAML and TOML, and from plain nanosecond integers in JSON.
type Duration time.Duration

// Std returns the standard library duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

func (d Duration) String() string { return time.Duration(d).String() }

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var n int64
	if err := json.Unmarshal(data, &n); err == nil {
		*d = Duration(n)
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("duration must be a string or integer: %w", err)
	}
	return d.UnmarshalText([]byte(s))
}

// Config is the root configuration: declared variables, dependency
// resolution input, prefixing policy, hot reload and logging settings.
type Config struct {
	// Mode selects conditional dependencies and mode-scoped plugins (e.g. "development")
	Mode string `json:"mode" yaml:"mode" toml:"mode"`

	// Variables declared by the root project
	Variables map[string]VariableDecl `json:"variables" yaml:"variables" toml:"variables"`

	// Dependency resolution settings
	Dependencies DependenciesConfig `json:"dependencies" yaml:"dependencies" toml:"dependencies"`

	// Naming collision policy
	Prefix PrefixConfig `json:"prefix" yaml:"prefix" toml:"prefix"`

	// Hot reload settings
	Reload ReloadConfig `json:"reload" yaml:"reload" toml:"reload"`

	// Runtime logging behavior
	Logging LoggingConfig `json:"logging" yaml:"logging" toml:"logging"`
}

// VariableDecl is the on-disk form of a VariableSpec.
type VariableDecl struct {
	Type        string `json:"type,omitempty" yaml:"type,omitempty" toml:"type,omitempty"`
	Default     any    `json:"default,omitempty" yaml:"default,omitempty" toml:"default,omitempty"`
	Required    bool   `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Sensitive   bool   `json:"sensitive,omitempty" yaml:"sensitive,omitempty" toml:"sensitive,omitempty"`
	Description string `json:"description,omitempty" yaml:"description,omitempty" toml:"description,omitempty"`

	// Name of a validator registered on the Engine
	Validator string `json:"validator,omitempty" yaml:"validator,omitempty" toml:"validator,omitempty"`
}

// ToSpec converts the declaration. validators resolves the Validator name and
// may be nil; an unknown validator name is an error.
func (d VariableDecl) ToSpec(name string, validators map[string]Validator) (*VariableSpec, error) {
	typ, err := ParseValueType(d.Type)
	if err != nil {
		return nil, NewConfigValidationError("variables."+name+".type", err.Error())
	}

	spec := &VariableSpec{
		Name:        name,
		Type:        typ,
		Required:    d.Required,
		Sensitive:   d.Sensitive,
		Description: d.Description,
	}

	if d.Default != nil {
		raw, err := FromAny(d.Default)
		if err != nil {
			return nil, NewConfigValidationError("variables."+name+".default", err.Error())
		}
		def, err := CoerceValue(raw, typ)
		if err != nil {
			return nil, NewConfigValidationError("variables."+name+".default", "default does not match declared type "+typ.String())
		}
		spec.Default = &def
	}

	if d.Validator != "" {
		v, ok := validators[d.Validator]
		if !ok {
			return nil, NewConfigValidationError("variables."+name+".validator", "unknown validator "+d.Validator)
		}
		spec.Validator = v
	}
	return spec, nil
}

// DeclsToVariableSet converts a declaration map to a catalog ordered by name.
func DeclsToVariableSet(decls map[string]VariableDecl, validators map[string]Validator) (*VariableSet, error) {
	names := make([]string, 0, len(decls))
	for name := range decls {
		names = append(names, name)
	}
	sort.Strings(names)

	set := NewVariableSet()
	for _, name := range names {
		spec, err := decls[name].ToSpec(name, validators)
		if err != nil {
			return nil, err
		}
		set.Put(spec)
	}
	return set, nil
}

// DependenciesConfig is the Dependency Resolver input.
type DependenciesConfig struct {
	// Source ids loaded unconditionally
	Explicit []string `json:"explicit,omitempty" yaml:"explicit,omitempty" toml:"explicit,omitempty"`

	// Sources loaded when a rule matches the runtime context
	Conditional []ConditionalRule `json:"conditional,omitempty" yaml:"conditional,omitempty" toml:"conditional,omitempty"`

	// Version constraint per source id
	Versions map[string]string `json:"versions,omitempty" yaml:"versions,omitempty" toml:"versions,omitempty"`

	// Conflict resolution strategy, default "warn"
	Strategy ConflictStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty" toml:"strategy,omitempty"`

	// Priority per source id, default 0
	Priorities map[string]int `json:"priorities,omitempty" yaml:"priorities,omitempty" toml:"priorities,omitempty"`

	// Alias id -> real id
	Aliases map[string]string `json:"aliases,omitempty" yaml:"aliases,omitempty" toml:"aliases,omitempty"`

	// Source ids never loaded
	Exclude []string `json:"exclude,omitempty" yaml:"exclude,omitempty" toml:"exclude,omitempty"`

	// Load packages listed in the adjacent manifest
	AutoDiscover bool `json:"auto_discover,omitempty" yaml:"auto_discover,omitempty" toml:"auto_discover,omitempty"`

	// Manifest file used for auto-discovery, relative to the config file
	Manifest string `json:"manifest,omitempty" yaml:"manifest,omitempty" toml:"manifest,omitempty"`

	// Loading behavior
	Load LoadOptions `json:"load" yaml:"load" toml:"load"`

	// What happens to sources failing their version constraint
	VersionPolicy VersionPolicy `json:"version_policy,omitempty" yaml:"version_policy,omitempty" toml:"version_policy,omitempty"`

	// Conflict severity at which resolution aborts
	BlockOn BlockLevel `json:"block_on,omitempty" yaml:"block_on,omitempty" toml:"block_on,omitempty"`
}

// ConditionalRule adds packages when the runtime context matches.
//
// Modes and Env are declarative matchers (all must match; empty matches
// anything). Env values of "*" only require the key to be present. When is
// an optional programmatic predicate evaluated after the declarative ones.
type ConditionalRule struct {
	Name     string                       `json:"name,omitempty" yaml:"name,omitempty" toml:"name,omitempty"`
	Modes    []string                     `json:"modes,omitempty" yaml:"modes,omitempty" toml:"modes,omitempty"`
	Env      map[string]string            `json:"env,omitempty" yaml:"env,omitempty" toml:"env,omitempty"`
	Required bool                         `json:"required,omitempty" yaml:"required,omitempty" toml:"required,omitempty"`
	Packages []string                     `json:"packages" yaml:"packages" toml:"packages"`
	When     func(rt RuntimeContext) bool `json:"-" yaml:"-" toml:"-"`
}

// Matches evaluates the rule against rt.
func (r ConditionalRule) Matches(rt RuntimeContext) bool {
	if len(r.Modes) > 0 {
		found := false
		for _, m := range r.Modes {
			if strings.EqualFold(m, rt.Mode) {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	for key, want := range r.Env {
		got, ok := rt.Env[key]
		if !ok || (want != "*" && got != want) {
			return false
		}
	}
	if r.When != nil {
		return r.When(rt)
	}
	return true
}

// LoadOptions controls how dependency sources are loaded.
// Retries of 0 takes the default; a negative value disables retrying.
type LoadOptions struct {
	Parallel       bool     `json:"parallel" yaml:"parallel" toml:"parallel"`
	MaxConcurrency int      `json:"max_concurrency,omitempty" yaml:"max_concurrency,omitempty" toml:"max_concurrency,omitempty"`
	Timeout        Duration `json:"timeout,omitempty" yaml:"timeout,omitempty" toml:"timeout,omitempty"`
	Retries        int      `json:"retries,omitempty" yaml:"retries,omitempty" toml:"retries,omitempty"`
	RetryBackoff   Duration `json:"retry_backoff,omitempty" yaml:"retry_backoff,omitempty" toml:"retry_backoff,omitempty"`
	CacheTTL       Duration `json:"cache_ttl,omitempty" yaml:"cache_ttl,omitempty" toml:"cache_ttl,omitempty"`
}

// VersionPolicy decides how an unsatisfied version constraint is handled.
type VersionPolicy string

const (
	// VersionPolicyDrop drops the source and records a warning
	VersionPolicyDrop VersionPolicy = "drop"
	// VersionPolicyFail aborts resolution
	VersionPolicyFail VersionPolicy = "fail"
)

// BlockLevel decides which conflicts abort resolution outside strict mode.
type BlockLevel string

const (
	// BlockNever only records conflicts
	BlockNever BlockLevel = "never"
	// BlockOnError aborts on conflicts with error severity
	BlockOnError BlockLevel = "error"
	// BlockOnWarning aborts on any conflict
	BlockOnWarning BlockLevel = "warning"
)

// Blocks reports whether a conflict with severity must abort resolution.
func (b BlockLevel) Blocks(severity string) bool {
	switch b {
	case BlockOnWarning:
		return true
	case BlockOnError:
		return severity == SeverityError
	default:
		return false
	}
}

// PrefixConfig configures the Naming Collision Resolver.
type PrefixConfig struct {
	// Default strategy: "global-aware" (default), "auto" or "none"
	Strategy PrefixStrategy `json:"strategy,omitempty" yaml:"strategy,omitempty" toml:"strategy,omitempty"`

	// Separator used by generated prefixes, default "_"
	Separator string `json:"separator,omitempty" yaml:"separator,omitempty" toml:"separator,omitempty"`

	// Extra names treated as global in addition to the defaults
	Globals []string `json:"globals,omitempty" yaml:"globals,omitempty" toml:"globals,omitempty"`

	// Source id -> verbatim prefix
	Custom map[string]string `json:"custom,omitempty" yaml:"custom,omitempty" toml:"custom,omitempty"`

	// Sources merged without any prefix
	NoPrefixRisky []string `json:"no_prefix_risky,omitempty" yaml:"no_prefix_risky,omitempty" toml:"no_prefix_risky,omitempty"`

	// Sources always given a generated prefix
	AutoPrefixed []string `json:"auto_prefixed,omitempty" yaml:"auto_prefixed,omitempty" toml:"auto_prefixed,omitempty"`
}

// ReloadConfig configures the Hot Reload Manager.
type ReloadConfig struct {
	Enabled      bool      `json:"enabled" yaml:"enabled" toml:"enabled"`
	Debounce     Duration  `json:"debounce,omitempty" yaml:"debounce,omitempty" toml:"debounce,omitempty"`
	PollInterval Duration  `json:"poll_interval,omitempty" yaml:"poll_interval,omitempty" toml:"poll_interval,omitempty"`
	MaxSnapshots int       `json:"max_snapshots,omitempty" yaml:"max_snapshots,omitempty" toml:"max_snapshots,omitempty"`
	Mode         ApplyMode `json:"mode,omitempty" yaml:"mode,omitempty" toml:"mode,omitempty"`
	Watch        []string  `json:"watch,omitempty" yaml:"watch,omitempty" toml:"watch,omitempty"`
	AuditFile    string    `json:"audit_file,omitempty" yaml:"audit_file,omitempty" toml:"audit_file,omitempty"`
}

// LoggingConfig controls runtime logging.
type LoggingConfig struct {
	Level  string `json:"level,omitempty" yaml:"level,omitempty" toml:"level,omitempty"`
	Format string `json:"format,omitempty" yaml:"format,omitempty" toml:"format,omitempty"`
}

// DefaultConfig returns a configuration with every default applied.
func DefaultConfig() *Config {
	cfg := &Config{}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills zero values with defaults.
//
// Default values:
//   - Mode: "development"
//   - Strategy: warn; VersionPolicy: drop; BlockOn: never
//   - Load: 8 concurrent loads, 10s timeout, 2 retries, 5m cache TTL
//   - Prefix: global-aware with "_" separator
//   - Reload: 100ms debounce, 1s poll, 20 snapshots, incremental
//   - Logging: info
func (c *Config) ApplyDefaults() {
	if c.Mode == "" {
		c.Mode = "development"
	}
	if c.Variables == nil {
		c.Variables = make(map[string]VariableDecl)
	}

	d := &c.Dependencies
	if d.Strategy == "" {
		d.Strategy = StrategyWarn
	}
	if d.VersionPolicy == "" {
		d.VersionPolicy = VersionPolicyDrop
	}
	if d.BlockOn == "" {
		d.BlockOn = BlockNever
	}
	if d.Load.MaxConcurrency <= 0 {
		d.Load.MaxConcurrency = 8
	}
	if d.Load.Timeout <= 0 {
		d.Load.Timeout = Duration(10 * time.Second)
	}
	if d.Load.Retries == 0 {
		d.Load.Retries = 2
	}
	if d.Load.CacheTTL <= 0 {
		d.Load.CacheTTL = Duration(5 * time.Minute)
	}

	if c.Prefix.Strategy == "" {
		c.Prefix.Strategy = PrefixGlobalAware
	}
	if c.Prefix.Separator == "" {
		c.Prefix.Separator = "_"
	}

	r := &c.Reload
	if r.Debounce <= 0 {
		r.Debounce = Duration(100 * time.Millisecond)
	}
	if r.PollInterval <= 0 {
		r.PollInterval = Duration(time.Second)
	}
	if r.MaxSnapshots <= 0 {
		r.MaxSnapshots = 20
	}
	if r.Mode == "" {
		r.Mode = ApplyIncremental
	}

	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks enumerations and declarations. It does not resolve
// validator names, which are only known to the Engine.
func (c *Config) Validate() error {
	if !c.Dependencies.Strategy.Valid() {
		return NewConfigValidationError("dependencies.strategy", "unknown conflict strategy "+string(c.Dependencies.Strategy))
	}
	switch c.Dependencies.VersionPolicy {
	case VersionPolicyDrop, VersionPolicyFail:
	default:
		return NewConfigValidationError("dependencies.version_policy", "unknown version policy "+string(c.Dependencies.VersionPolicy))
	}
	switch c.Dependencies.BlockOn {
	case BlockNever, BlockOnError, BlockOnWarning:
	default:
		return NewConfigValidationError("dependencies.block_on", "unknown block level "+string(c.Dependencies.BlockOn))
	}
	if !c.Prefix.Strategy.Valid() {
		return NewConfigValidationError("prefix.strategy", "unknown prefix strategy "+string(c.Prefix.Strategy))
	}
	switch c.Reload.Mode {
	case ApplyIncremental, ApplyFull:
	default:
		return NewConfigValidationError("reload.mode", "unknown apply mode "+string(c.Reload.Mode))
	}
	for name, decl := range c.Variables {
		if strings.TrimSpace(name) == "" {
			return NewConfigValidationError("variables", "variable name cannot be empty")
		}
		if _, err := ParseValueType(decl.Type); err != nil {
			return NewConfigValidationError("variables."+name+".type", err.Error())
		}
	}
	for i, rule := range c.Dependencies.Conditional {
		if len(rule.Packages) == 0 {
			return NewConfigValidationError(fmt.Sprintf("dependencies.conditional[%d].packages", i), "conditional rule lists no packages")
		}
	}
	return nil
}

// Clone returns a deep copy. Default values inside declarations are copied
// recursively; ConditionalRule.When predicates are shared.
func (c *Config) Clone() *Config {
	if c == nil {
		return nil
	}
	out := *c

	if c.Variables != nil {
		out.Variables = make(map[string]VariableDecl, len(c.Variables))
		for k, v := range c.Variables {
			v.Default = cloneAny(v.Default)
			out.Variables[k] = v
		}
	}

	d := c.Dependencies
	out.Dependencies.Explicit = cloneStrings(d.Explicit)
	out.Dependencies.Versions = cloneStringMap(d.Versions)
	out.Dependencies.Aliases = cloneStringMap(d.Aliases)
	out.Dependencies.Exclude = cloneStrings(d.Exclude)
	if d.Priorities != nil {
		out.Dependencies.Priorities = make(map[string]int, len(d.Priorities))
		for k, v := range d.Priorities {
			out.Dependencies.Priorities[k] = v
		}
	}
	if d.Conditional != nil {
		out.Dependencies.Conditional = make([]ConditionalRule, len(d.Conditional))
		for i, r := range d.Conditional {
			r.Modes = cloneStrings(r.Modes)
			r.Env = cloneStringMap(r.Env)
			r.Packages = cloneStrings(r.Packages)
			out.Dependencies.Conditional[i] = r
		}
	}

	out.Prefix.Globals = cloneStrings(c.Prefix.Globals)
	out.Prefix.Custom = cloneStringMap(c.Prefix.Custom)
	out.Prefix.NoPrefixRisky = cloneStrings(c.Prefix.NoPrefixRisky)
	out.Prefix.AutoPrefixed = cloneStrings(c.Prefix.AutoPrefixed)
	out.Reload.Watch = cloneStrings(c.Reload.Watch)
	return &out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

func cloneStringMap(in map[string]string) map[string]string {
	if in == nil {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}

// cloneAny deep-copies decoded configuration data.
func cloneAny(v any) any {
	switch t := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(t))
		for k, item := range t {
			out[k] = cloneAny(item)
		}
		return out
	case []any:
		out := make([]any, len(t))
		for i, item := range t {
			out[i] = cloneAny(item)
		}
		return out
	case []string:
		return cloneStrings(t)
	default:
		return v
	}
}
