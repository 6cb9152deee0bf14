// change_detector.go: configuration diffing into change sets
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"sort"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/google/uuid"
)

// ChangeType classifies a ChangeRecord.
type ChangeType string

const (
	ChangeAdded      ChangeType = "added"
	ChangeModified   ChangeType = "modified"
	ChangeRemoved    ChangeType = "removed"
	ChangeRenamed    ChangeType = "renamed"
	ChangeDependency ChangeType = "dependency"
)

// ChangeRecord is one difference between two configurations. Old and New hold
// VariableDecl values for variable records and the resolution inputs for the
// dependency record.
type ChangeRecord struct {
	Type        ChangeType
	Path        string
	Variable    string
	OldVariable string // set for renames
	Old         any
	New         any
	Timestamp   time.Time
}

// ChangeSet aggregates the records of one diff.
type ChangeSet struct {
	ID                string
	Timestamp         time.Time
	Path              string
	Records           []ChangeRecord
	AffectedVariables []string
	AffectedPlugins   []string

	// Hash of the snapshot the change set was computed against
	PreviousHash string
}

// Empty reports whether nothing changed.
func (cs *ChangeSet) Empty() bool {
	return cs == nil || len(cs.Records) == 0
}

// HasDependencyChange reports whether resolution inputs changed.
func (cs *ChangeSet) HasDependencyChange() bool {
	if cs == nil {
		return false
	}
	for _, r := range cs.Records {
		if r.Type == ChangeDependency {
			return true
		}
	}
	return false
}

// Count returns the number of records of type t.
func (cs *ChangeSet) Count(t ChangeType) int {
	n := 0
	for _, r := range cs.Records {
		if r.Type == t {
			n++
		}
	}
	return n
}

// ChangeDetector computes the difference between two configurations.
type ChangeDetector interface {
	Detect(path string, oldCfg, newCfg *Config) *ChangeSet
}

// ChangeDetectorFunc adapts a function to ChangeDetector.
type ChangeDetectorFunc func(path string, oldCfg, newCfg *Config) *ChangeSet

func (f ChangeDetectorFunc) Detect(path string, oldCfg, newCfg *Config) *ChangeSet {
	return f(path, oldCfg, newCfg)
}

// resolutionInputs is everything besides root variables that shapes the
// merged catalog.
type resolutionInputs struct {
	Mode         string
	Dependencies DependenciesConfig
	Prefix       PrefixConfig
}

var declCompare = []cmp.Option{
	cmpopts.IgnoreFields(ConditionalRule{}, "When"),
	cmpopts.EquateEmpty(),
}

// DefaultChangeDetector compares root variable declarations key by key and
// adds one dependency record when mode, dependency or prefix settings differ.
type DefaultChangeDetector struct {
	// Report a removed and an added declaration with identical content as one rename
	DetectRenames bool
}

// Detect implements ChangeDetector.
func (d DefaultChangeDetector) Detect(path string, oldCfg, newCfg *Config) *ChangeSet {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}
	now := timecache.CachedTime()
	cs := &ChangeSet{ID: uuid.NewString(), Timestamp: now, Path: path}

	var added, removed []string
	for _, name := range sortedDeclNames(newCfg.Variables) {
		oldDecl, existed := oldCfg.Variables[name]
		newDecl := newCfg.Variables[name]
		if !existed {
			added = append(added, name)
			continue
		}
		if !cmp.Equal(oldDecl, newDecl, declCompare...) {
			cs.Records = append(cs.Records, ChangeRecord{
				Type: ChangeModified, Path: path, Variable: name,
				Old: oldDecl, New: newDecl, Timestamp: now,
			})
		}
	}
	for _, name := range sortedDeclNames(oldCfg.Variables) {
		if _, still := newCfg.Variables[name]; !still {
			removed = append(removed, name)
		}
	}

	if d.DetectRenames {
		added, removed = d.pairRenames(cs, path, now, oldCfg, newCfg, added, removed)
	}
	for _, name := range added {
		cs.Records = append(cs.Records, ChangeRecord{
			Type: ChangeAdded, Path: path, Variable: name,
			New: newCfg.Variables[name], Timestamp: now,
		})
	}
	for _, name := range removed {
		cs.Records = append(cs.Records, ChangeRecord{
			Type: ChangeRemoved, Path: path, Variable: name,
			Old: oldCfg.Variables[name], Timestamp: now,
		})
	}

	oldInputs := resolutionInputs{Mode: oldCfg.Mode, Dependencies: oldCfg.Dependencies, Prefix: oldCfg.Prefix}
	newInputs := resolutionInputs{Mode: newCfg.Mode, Dependencies: newCfg.Dependencies, Prefix: newCfg.Prefix}
	if !cmp.Equal(oldInputs, newInputs, declCompare...) {
		cs.Records = append(cs.Records, ChangeRecord{
			Type: ChangeDependency, Path: path,
			Old: oldInputs, New: newInputs, Timestamp: now,
		})
	}

	cs.AffectedVariables = affectedVariables(cs.Records)
	return cs
}

func (d DefaultChangeDetector) pairRenames(cs *ChangeSet, path string, now time.Time, oldCfg, newCfg *Config, added, removed []string) ([]string, []string) {
	usedOld := make(map[string]bool)
	var remainingAdded []string
	for _, name := range added {
		paired := false
		for _, oldName := range removed {
			if usedOld[oldName] {
				continue
			}
			if cmp.Equal(oldCfg.Variables[oldName], newCfg.Variables[name], declCompare...) {
				usedOld[oldName] = true
				cs.Records = append(cs.Records, ChangeRecord{
					Type: ChangeRenamed, Path: path, Variable: name, OldVariable: oldName,
					Old: oldCfg.Variables[oldName], New: newCfg.Variables[name], Timestamp: now,
				})
				paired = true
				break
			}
		}
		if !paired {
			remainingAdded = append(remainingAdded, name)
		}
	}
	var remainingRemoved []string
	for _, name := range removed {
		if !usedOld[name] {
			remainingRemoved = append(remainingRemoved, name)
		}
	}
	return remainingAdded, remainingRemoved
}

func sortedDeclNames(decls map[string]VariableDecl) []string {
	names := make([]string, 0, len(decls))
	for n := range decls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func affectedVariables(records []ChangeRecord) []string {
	set := make(map[string]struct{})
	for _, r := range records {
		if r.Variable != "" {
			set[r.Variable] = struct{}{}
		}
		if r.OldVariable != "" {
			set[r.OldVariable] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for n := range set {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}
