// snapshot.go: immutable configuration snapshots and capped history
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sync"
	"time"

	"github.com/agilira/go-timecache"
	"github.com/google/uuid"
)

// ConfigSnapshot is a point-in-time copy of a configuration and the values
// resolved from it. Snapshots are never modified after creation; accessors
// return copies.
type ConfigSnapshot struct {
	ID         string
	Timestamp  time.Time
	SourcePath string
	Hash       string

	config    *Config
	variables *Values
}

// NewConfigSnapshot deep-copies cfg and values.
func NewConfigSnapshot(sourcePath string, cfg *Config, values *Values) *ConfigSnapshot {
	s := &ConfigSnapshot{
		ID:         uuid.NewString(),
		Timestamp:  timecache.CachedTime(),
		SourcePath: sourcePath,
		config:     cfg.Clone(),
		variables:  values.Clone(),
	}
	s.Hash = ContentHash(s.config, s.variables)
	return s
}

// Config returns a copy of the stored configuration.
func (s *ConfigSnapshot) Config() *Config {
	return s.config.Clone()
}

// Variables returns a copy of the stored values.
func (s *ConfigSnapshot) Variables() *Values {
	return s.variables.Clone()
}

// ContentHash returns a sha256 over the canonical JSON form of cfg and the
// values in name order.
func ContentHash(cfg *Config, values *Values) string {
	h := sha256.New()
	if cfg != nil {
		if data, err := json.Marshal(cfg); err == nil {
			h.Write(data)
		}
	}
	h.Write([]byte{0})
	for _, name := range values.SortedNames() {
		v, _ := values.Get(name)
		data, _ := json.Marshal(v)
		h.Write([]byte(name))
		h.Write([]byte{'='})
		h.Write(data)
		h.Write([]byte{'\n'})
	}
	return hex.EncodeToString(h.Sum(nil))
}

// SnapshotHistory keeps the most recent snapshots, oldest pruned first.
type SnapshotHistory struct {
	mu        sync.RWMutex
	max       int
	snapshots []*ConfigSnapshot
}

// NewSnapshotHistory creates a history holding at most max entries
// (20 when max <= 0).
func NewSnapshotHistory(max int) *SnapshotHistory {
	if max <= 0 {
		max = 20
	}
	return &SnapshotHistory{max: max}
}

// Append stores s and prunes the oldest entries beyond the cap.
func (h *SnapshotHistory) Append(s *ConfigSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.snapshots = append(h.snapshots, s)
	if over := len(h.snapshots) - h.max; over > 0 {
		h.snapshots = append([]*ConfigSnapshot(nil), h.snapshots[over:]...)
	}
}

// Latest returns the newest snapshot.
func (h *SnapshotHistory) Latest() (*ConfigSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snapshots) == 0 {
		return nil, false
	}
	return h.snapshots[len(h.snapshots)-1], true
}

// Previous returns the snapshot before the newest one.
func (h *SnapshotHistory) Previous() (*ConfigSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if len(h.snapshots) < 2 {
		return nil, false
	}
	return h.snapshots[len(h.snapshots)-2], true
}

// Get returns the snapshot with id.
func (h *SnapshotHistory) Get(id string) (*ConfigSnapshot, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, s := range h.snapshots {
		if s.ID == id {
			return s, true
		}
	}
	return nil, false
}

// List returns snapshots oldest first.
func (h *SnapshotHistory) List() []*ConfigSnapshot {
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]*ConfigSnapshot, len(h.snapshots))
	copy(out, h.snapshots)
	return out
}

func (h *SnapshotHistory) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.snapshots)
}
