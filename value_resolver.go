// value_resolver.go: environment lookup, defaults, coercion and validation of declared variables
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"os"
	"strings"

	"github.com/agilira/go-errors"
)

// EnvSource supplies raw variable values. It is consulted before defaults.
type EnvSource interface {
	Lookup(name string) (string, bool)
}

// OSEnv reads the process environment.
type OSEnv struct{}

// Lookup implements EnvSource.
func (OSEnv) Lookup(name string) (string, bool) {
	return os.LookupEnv(name)
}

// Environ returns a copy of the process environment.
func (OSEnv) Environ() map[string]string {
	out := make(map[string]string)
	for _, kv := range os.Environ() {
		if k, v, ok := strings.Cut(kv, "="); ok {
			out[k] = v
		}
	}
	return out
}

// MapEnv is an in-memory environment.
type MapEnv map[string]string

// Lookup implements EnvSource.
func (m MapEnv) Lookup(name string) (string, bool) {
	v, ok := m[name]
	return v, ok
}

// Environ returns a copy of the map.
func (m MapEnv) Environ() map[string]string {
	return cloneStringMap(map[string]string(m))
}

// ValueResolver turns a merged catalog into concrete values.
type ValueResolver struct {
	env    EnvSource
	logger Logger
}

// NewValueResolver creates a resolver reading env. A nil env reads the
// process environment.
func NewValueResolver(env EnvSource, logger Logger) *ValueResolver {
	if env == nil {
		env = OSEnv{}
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &ValueResolver{env: env, logger: logger.With("component", "value_resolver")}
}

// Resolve computes a value for every variable of vars.
//
// The environment wins over the declared default. Required variables without
// either are collected and reported together as RequiredVariableMissing.
// Values that fail coercion or validation abort with ValidationFailed. An
// optional variable without a value is omitted and reported as a warning.
func (r *ValueResolver) Resolve(vars *VariableSet) (*Values, []*errors.Error, error) {
	values := NewValues()
	var warnings []*errors.Error
	var missing []string
	var failure error

	vars.Each(func(spec *VariableSpec) bool {
		raw, fromEnv := r.env.Lookup(spec.Name)

		var value Value
		switch {
		case fromEnv:
			v, err := Coerce(raw, spec.Type)
			if err != nil {
				failure = NewValidationFailedError(spec.Name, "cannot convert value to "+spec.Type.String()+": "+err.Error())
				return false
			}
			value = v
		case spec.Default != nil:
			value = spec.Default.Clone()
		case spec.Required:
			missing = append(missing, spec.Name)
			return true
		default:
			r.logger.Debug("Optional variable has no value", "variable", spec.Name)
			warnings = append(warnings, NewValidationFailedError(spec.Name, "no value and no default").
				WithSeverity(SeverityWarning))
			return true
		}

		if spec.Validator != nil {
			result := spec.Validator.Validate(value)
			if result.Failed() {
				failure = NewValidationFailedError(spec.Name, result.Reason())
				return false
			}
			if result.Value != nil {
				value = *result.Value
			}
		}

		values.Set(spec.Name, value, spec.Sensitive)
		return true
	})

	if failure != nil {
		r.logger.Error("Variable validation failed", "error", failure)
		return nil, warnings, failure
	}
	if len(missing) > 0 {
		r.logger.Error("Required variables missing", "variables", missing)
		return nil, warnings, NewRequiredVariableMissingError(missing...)
	}
	return values, warnings, nil
}

// ResolveNames re-resolves only names from vars into a copy of base. Names no
// longer present in vars are removed from the result.
func (r *ValueResolver) ResolveNames(vars *VariableSet, base *Values, names []string) (*Values, []*errors.Error, error) {
	subset := NewVariableSet()
	out := NewValues()
	if base != nil {
		out = base.Clone()
	}
	for _, name := range names {
		if spec, ok := vars.Get(name); ok {
			subset.Put(spec)
		} else {
			out.Delete(name)
		}
	}

	partial, warnings, err := r.Resolve(subset)
	if err != nil {
		return nil, warnings, err
	}
	for _, name := range subset.Names() {
		if v, ok := partial.Get(name); ok {
			out.Set(name, v, partial.IsSensitive(name))
		} else {
			out.Delete(name)
		}
	}
	return out, warnings, nil
}
