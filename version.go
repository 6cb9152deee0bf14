// version.go: dependency version parsing and constraint checks
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"strconv"
	"strings"
	"unicode"

	"github.com/agilira/go-errors"
)

// Version is a dot-separated numeric version with optional prerelease and
// build metadata, e.g. "1.4", "2.0.1-rc.1+build7". Any number of numeric
// components is accepted; components missing on one side compare as 0.
type Version struct {
	Components []uint64
	Prerelease string
	Build      string
	Original   string
}

// ParseVersion parses a version string. A leading "v" is ignored.
func ParseVersion(versionStr string) (*Version, error) {
	original := versionStr
	versionStr = strings.TrimPrefix(strings.TrimSpace(versionStr), "v")
	if versionStr == "" {
		return nil, errors.New(ErrCodeVersionConstraintUnsatisfied, "Empty version").
			WithSeverity(SeverityWarning)
	}

	var build, prerelease string
	if idx := strings.Index(versionStr, "+"); idx >= 0 {
		build = versionStr[idx+1:]
		versionStr = versionStr[:idx]
	}
	if idx := strings.Index(versionStr, "-"); idx >= 0 {
		prerelease = versionStr[idx+1:]
		versionStr = versionStr[:idx]
	}

	parts := strings.Split(versionStr, ".")
	components := make([]uint64, 0, len(parts))
	for i, part := range parts {
		n, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, errors.Wrap(err, ErrCodeVersionConstraintUnsatisfied, "Invalid version component").
				WithContext("component_index", strconv.Itoa(i)).
				WithContext("component_value", part).
				WithSeverity(SeverityWarning)
		}
		components = append(components, n)
	}

	return &Version{
		Components: components,
		Prerelease: prerelease,
		Build:      build,
		Original:   original,
	}, nil
}

// component returns the i-th numeric component, 0 when absent.
func (v *Version) component(i int) uint64 {
	if i < len(v.Components) {
		return v.Components[i]
	}
	return 0
}

// Compare compares two versions. Returns -1, 0, or 1.
func (v *Version) Compare(other *Version) int {
	n := len(v.Components)
	if len(other.Components) > n {
		n = len(other.Components)
	}
	for i := 0; i < n; i++ {
		a, b := v.component(i), other.component(i)
		if a < b {
			return -1
		}
		if a > b {
			return 1
		}
	}

	// Release > prerelease
	if v.Prerelease == "" && other.Prerelease != "" {
		return 1
	}
	if v.Prerelease != "" && other.Prerelease == "" {
		return -1
	}
	return strings.Compare(v.Prerelease, other.Prerelease)
}

// String returns the original text.
func (v *Version) String() string {
	return v.Original
}

// SatisfiesConstraint checks the version against a constraint.
//
// Supported forms: exact ("1.2.3" or "=1.2.3"), caret "^", tilde "~", and
// the comparators ">=", ">", "<=", "<". Clauses separated by whitespace or
// commas must all hold (">=1.0 <2.0"); alternatives separated by "||" need
// one match. "*" and "" always satisfy. A clause that cannot be parsed is
// not satisfied.
func (v *Version) SatisfiesConstraint(constraint string) bool {
	constraint = strings.TrimSpace(constraint)
	if constraint == "" || constraint == "*" {
		return true
	}
	for _, alternative := range strings.Split(constraint, "||") {
		clauses := constraintClauses(alternative)
		if len(clauses) == 0 {
			continue
		}
		all := true
		for _, clause := range clauses {
			if !v.satisfiesClause(clause) {
				all = false
				break
			}
		}
		if all {
			return true
		}
	}
	return false
}

// constraintClauses splits an AND range into clauses, joining a bare
// operator with the version that follows it (">= 1.0").
func constraintClauses(constraint string) []string {
	fields := strings.FieldsFunc(constraint, func(r rune) bool {
		return r == ',' || unicode.IsSpace(r)
	})
	clauses := make([]string, 0, len(fields))
	for i := 0; i < len(fields); i++ {
		f := fields[i]
		if strings.Trim(f, "<>=^~") == "" && i+1 < len(fields) {
			f += fields[i+1]
			i++
		}
		clauses = append(clauses, f)
	}
	return clauses
}

func (v *Version) satisfiesClause(constraint string) bool {
	if constraint == "*" {
		return true
	}

	for _, op := range []string{">=", "<=", ">", "<", "^", "~", "="} {
		if !strings.HasPrefix(constraint, op) {
			continue
		}
		target, err := ParseVersion(strings.TrimSpace(strings.TrimPrefix(constraint, op)))
		if err != nil {
			return false
		}
		cmp := v.Compare(target)
		switch op {
		case ">=":
			return cmp >= 0
		case "<=":
			return cmp <= 0
		case ">":
			return cmp > 0
		case "<":
			return cmp < 0
		case "^":
			return v.satisfiesCaret(target)
		case "~":
			return v.satisfiesTilde(target)
		default:
			return cmp == 0
		}
	}

	target, err := ParseVersion(constraint)
	if err != nil {
		return false
	}
	return v.Compare(target) == 0
}

// satisfiesCaret allows changes that do not modify the left-most non-zero component.
func (v *Version) satisfiesCaret(target *Version) bool {
	if v.Compare(target) < 0 {
		return false
	}
	pivot := 0
	for pivot < len(target.Components)-1 && target.component(pivot) == 0 {
		pivot++
	}
	for i := 0; i <= pivot; i++ {
		if v.component(i) != target.component(i) {
			return false
		}
	}
	return true
}

// satisfiesTilde allows patch-level changes when a minor component is given,
// minor-level changes otherwise.
func (v *Version) satisfiesTilde(target *Version) bool {
	if v.Compare(target) < 0 {
		return false
	}
	fixed := 2
	if len(target.Components) < 2 {
		fixed = 1
	}
	for i := 0; i < fixed; i++ {
		if v.component(i) != target.component(i) {
			return false
		}
	}
	return true
}

// VersionSatisfies checks a raw version string against a constraint. A
// version that is empty, "*" or unparsable always satisfies, since nothing
// reliable can be compared.
func VersionSatisfies(version, constraint string) bool {
	version = strings.TrimSpace(version)
	if version == "" || version == "*" {
		return true
	}
	v, err := ParseVersion(version)
	if err != nil {
		return true
	}
	return v.SatisfiesConstraint(constraint)
}

// CompareVersions orders two raw version strings. Unparsable versions sort
// below parsable ones; two unparsable versions compare equal.
func CompareVersions(a, b string) int {
	va, errA := ParseVersion(a)
	vb, errB := ParseVersion(b)
	switch {
	case errA != nil && errB != nil:
		return 0
	case errA != nil:
		return -1
	case errB != nil:
		return 1
	}
	return va.Compare(vb)
}
