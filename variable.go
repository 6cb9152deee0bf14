// variable.go: variable declarations, validators and ordered catalogs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"sort"
	"strings"
)

// VariableSpec declares one environment/configuration variable.
//
// A spec is created when a configuration or declaration file is loaded and is
// treated as immutable for the rest of that resolution pass. Components that
// need a variation (prefixing, annotation) work on a Clone.
type VariableSpec struct {
	Name        string
	Type        ValueType
	Default     *Value
	Required    bool
	Sensitive   bool
	Validator   Validator
	Description string

	// Source and Strategy are filled in when the spec is merged into a catalog.
	Source   string
	Strategy string
}

// Clone returns a deep copy of the spec. The validator is shared.
func (s *VariableSpec) Clone() *VariableSpec {
	if s == nil {
		return nil
	}
	c := *s
	if s.Default != nil {
		d := s.Default.Clone()
		c.Default = &d
	}
	return &c
}

// ValidationResult is the outcome of a Validator.
//
// Simple validators set OK or Message. Schema validators may also return a
// replacement Value or a list of Issues.
type ValidationResult struct {
	OK      bool
	Message string
	Value   *Value
	Issues  []string
}

// Failed reports whether the result rejects the value.
func (r ValidationResult) Failed() bool {
	return !r.OK || len(r.Issues) > 0
}

// Reason returns a single human readable failure description.
func (r ValidationResult) Reason() string {
	if len(r.Issues) > 0 {
		return strings.Join(r.Issues, "; ")
	}
	if r.Message != "" {
		return r.Message
	}
	return "value rejected by validator"
}

// Validator checks a resolved value.
type Validator interface {
	Validate(value Value) ValidationResult
}

// ValidatorFunc adapts a `true | message` style function. An empty message
// with ok=false still fails.
type ValidatorFunc func(value Value) (ok bool, message string)

func (f ValidatorFunc) Validate(value Value) ValidationResult {
	ok, msg := f(value)
	return ValidationResult{OK: ok, Message: msg}
}

// SchemaFunc adapts a `{value} | {issues}` style function. A non-empty issue
// list fails; otherwise the returned value replaces the input.
type SchemaFunc func(value Value) (Value, []string)

func (f SchemaFunc) Validate(value Value) ValidationResult {
	out, issues := f(value)
	if len(issues) > 0 {
		return ValidationResult{Issues: issues}
	}
	return ValidationResult{OK: true, Value: &out}
}

// VariableSet is an insertion-ordered catalog with unique names.
type VariableSet struct {
	names []string
	specs map[string]*VariableSpec
}

// NewVariableSet creates a catalog holding specs in order. A later spec with
// the same name replaces the earlier one in place.
func NewVariableSet(specs ...*VariableSpec) *VariableSet {
	vs := &VariableSet{specs: make(map[string]*VariableSpec, len(specs))}
	for _, s := range specs {
		vs.Put(s)
	}
	return vs
}

// Put inserts or replaces a spec keeping the original position of a replaced name.
func (vs *VariableSet) Put(spec *VariableSpec) {
	if spec == nil {
		return
	}
	if _, exists := vs.specs[spec.Name]; !exists {
		vs.names = append(vs.names, spec.Name)
	}
	vs.specs[spec.Name] = spec
}

func (vs *VariableSet) Get(name string) (*VariableSpec, bool) {
	if vs == nil {
		return nil, false
	}
	s, ok := vs.specs[name]
	return s, ok
}

func (vs *VariableSet) Has(name string) bool {
	_, ok := vs.Get(name)
	return ok
}

// Delete removes name and reports whether it was present.
func (vs *VariableSet) Delete(name string) bool {
	if _, ok := vs.specs[name]; !ok {
		return false
	}
	delete(vs.specs, name)
	for i, n := range vs.names {
		if n == name {
			vs.names = append(vs.names[:i], vs.names[i+1:]...)
			break
		}
	}
	return true
}

// Names returns names in insertion order.
func (vs *VariableSet) Names() []string {
	if vs == nil {
		return nil
	}
	out := make([]string, len(vs.names))
	copy(out, vs.names)
	return out
}

func (vs *VariableSet) Len() int {
	if vs == nil {
		return 0
	}
	return len(vs.names)
}

// Each calls fn for every spec in order until fn returns false.
func (vs *VariableSet) Each(fn func(spec *VariableSpec) bool) {
	if vs == nil {
		return
	}
	for _, n := range vs.names {
		if !fn(vs.specs[n]) {
			return
		}
	}
}

// Clone deep-copies every spec.
func (vs *VariableSet) Clone() *VariableSet {
	out := NewVariableSet()
	vs.Each(func(spec *VariableSpec) bool {
		out.Put(spec.Clone())
		return true
	})
	return out
}

// Values holds resolved variable values in catalog order.
type Values struct {
	names     []string
	values    map[string]Value
	sensitive map[string]bool
}

// NewValues creates an empty value map.
func NewValues() *Values {
	return &Values{values: make(map[string]Value), sensitive: make(map[string]bool)}
}

// Set stores a value. Re-setting an existing name keeps its position.
func (v *Values) Set(name string, value Value, sensitive bool) {
	if _, exists := v.values[name]; !exists {
		v.names = append(v.names, name)
	}
	v.values[name] = value.Clone()
	if sensitive {
		v.sensitive[name] = true
	} else {
		delete(v.sensitive, name)
	}
}

func (v *Values) Get(name string) (Value, bool) {
	if v == nil {
		return Value{}, false
	}
	val, ok := v.values[name]
	return val, ok
}

// Delete removes a value.
func (v *Values) Delete(name string) {
	if _, ok := v.values[name]; !ok {
		return
	}
	delete(v.values, name)
	delete(v.sensitive, name)
	for i, n := range v.names {
		if n == name {
			v.names = append(v.names[:i], v.names[i+1:]...)
			break
		}
	}
}

func (v *Values) IsSensitive(name string) bool {
	return v != nil && v.sensitive[name]
}

func (v *Values) Names() []string {
	if v == nil {
		return nil
	}
	out := make([]string, len(v.names))
	copy(out, v.names)
	return out
}

func (v *Values) Len() int {
	if v == nil {
		return 0
	}
	return len(v.names)
}

// Clone returns a deep copy.
func (v *Values) Clone() *Values {
	out := NewValues()
	if v == nil {
		return out
	}
	for _, n := range v.names {
		out.Set(n, v.values[n], v.sensitive[n])
	}
	return out
}

// Equal compares names, order, values and sensitivity.
func (v *Values) Equal(other *Values) bool {
	if v.Len() != other.Len() {
		return false
	}
	for i, n := range v.Names() {
		if other.names[i] != n {
			return false
		}
		if !v.values[n].Equal(other.values[n]) || v.sensitive[n] != other.sensitive[n] {
			return false
		}
	}
	return true
}

// Strings renders every value as an environment string.
func (v *Values) Strings() map[string]string {
	out := make(map[string]string, v.Len())
	for _, n := range v.Names() {
		out[n] = v.values[n].String()
	}
	return out
}

// Masked renders every value with sensitive entries replaced by "****".
func (v *Values) Masked() map[string]string {
	out := v.Strings()
	for n := range out {
		if v.sensitive[n] {
			out[n] = "****"
		}
	}
	return out
}

// SortedNames returns the names in lexical order, used for hashing.
func (v *Values) SortedNames() []string {
	names := v.Names()
	sort.Strings(names)
	return names
}
