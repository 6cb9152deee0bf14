// snapshot_test.go: tests for configuration snapshots and history
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleValues(pairs ...string) *Values {
	values := NewValues()
	for i := 0; i+1 < len(pairs); i += 2 {
		values.Set(pairs[i], StringValue(pairs[i+1]), false)
	}
	return values
}

func TestConfigSnapshot_Immutable(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Dependencies.Explicit = []string{"a"}
	values := sampleValues("PORT", "8080")

	snap := NewConfigSnapshot("/etc/envforge.yaml", cfg, values)
	require.NotEmpty(t, snap.ID)
	assert.Equal(t, "/etc/envforge.yaml", snap.SourcePath)
	assert.False(t, snap.Timestamp.IsZero())

	// mutations of the inputs do not reach the snapshot
	cfg.Dependencies.Explicit[0] = "changed"
	values.Set("PORT", StringValue("1"), false)
	assert.Equal(t, []string{"a"}, snap.Config().Dependencies.Explicit)
	port, _ := snap.Variables().Get("PORT")
	assert.Equal(t, "8080", port.String())

	// neither do mutations of returned copies
	snap.Config().Dependencies.Explicit[0] = "again"
	snap.Variables().Set("PORT", StringValue("2"), false)
	assert.Equal(t, []string{"a"}, snap.Config().Dependencies.Explicit)
	port, _ = snap.Variables().Get("PORT")
	assert.Equal(t, "8080", port.String())
}

func TestContentHash(t *testing.T) {
	cfg := DefaultConfig()

	a := ContentHash(cfg, sampleValues("A", "1", "B", "2"))
	b := ContentHash(cfg, sampleValues("B", "2", "A", "1"))
	assert.Equal(t, a, b, "value order does not affect the hash")

	c := ContentHash(cfg, sampleValues("A", "1", "B", "3"))
	assert.NotEqual(t, a, c, "values are part of the hash")

	other := cfg.Clone()
	other.Mode = "production"
	assert.NotEqual(t, a, ContentHash(other, sampleValues("A", "1", "B", "2")), "config is part of the hash")

	numeric := NewValues()
	numeric.Set("A", NumberValue(1), false)
	assert.NotEqual(t, ContentHash(cfg, sampleValues("A", "1")), ContentHash(cfg, numeric), "value kinds are distinguished")

	assert.Len(t, ContentHash(nil, nil), 64)
}

func TestSnapshotHistory(t *testing.T) {
	history := NewSnapshotHistory(3)
	_, ok := history.Latest()
	assert.False(t, ok)
	_, ok = history.Previous()
	assert.False(t, ok)

	var snaps []*ConfigSnapshot
	for i := 0; i < 5; i++ {
		s := NewConfigSnapshot("cfg.yaml", DefaultConfig(), sampleValues("N", fmt.Sprint(i)))
		snaps = append(snaps, s)
		history.Append(s)
	}

	assert.Equal(t, 3, history.Len(), "capped")
	list := history.List()
	assert.Equal(t, []string{snaps[2].ID, snaps[3].ID, snaps[4].ID}, []string{list[0].ID, list[1].ID, list[2].ID}, "oldest pruned first")

	latest, ok := history.Latest()
	require.True(t, ok)
	assert.Equal(t, snaps[4].ID, latest.ID)
	previous, ok := history.Previous()
	require.True(t, ok)
	assert.Equal(t, snaps[3].ID, previous.ID)

	_, ok = history.Get(snaps[0].ID)
	assert.False(t, ok, "pruned snapshot is gone")
	got, ok := history.Get(snaps[2].ID)
	require.True(t, ok)
	assert.Same(t, snaps[2], got)

	assert.Equal(t, 20, NewSnapshotHistory(0).max)
}
