// artifact_writer.go: sinks for artifacts emitted by pipeline runs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// ArtifactWriter accepts (path, content) pairs.
type ArtifactWriter interface {
	WriteArtifact(ctx context.Context, path string, content []byte) error
}

// FileArtifactWriter writes artifacts below a root directory.
type FileArtifactWriter struct {
	Root string
	Perm os.FileMode
}

// NewFileArtifactWriter creates a writer rooted at root with 0600 files.
func NewFileArtifactWriter(root string) *FileArtifactWriter {
	return &FileArtifactWriter{Root: root, Perm: 0600}
}

// WriteArtifact implements ArtifactWriter. Paths escaping Root are rejected.
func (w *FileArtifactWriter) WriteArtifact(ctx context.Context, path string, content []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	target := filepath.Join(w.Root, filepath.FromSlash(path))
	rel, err := filepath.Rel(w.Root, target)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return NewConfigPathError(path, "artifact path escapes output directory")
	}
	if err := os.MkdirAll(filepath.Dir(target), 0750); err != nil {
		return NewArtifactWriteError(path, err)
	}
	perm := w.Perm
	if perm == 0 {
		perm = 0600
	}
	if err := os.WriteFile(target, content, perm); err != nil {
		return NewArtifactWriteError(path, err)
	}
	return nil
}

// MemoryArtifactWriter keeps artifacts in memory. The last write of a path wins.
type MemoryArtifactWriter struct {
	mu    sync.Mutex
	files map[string][]byte
	order []string
}

// NewMemoryArtifactWriter creates an empty in-memory writer.
func NewMemoryArtifactWriter() *MemoryArtifactWriter {
	return &MemoryArtifactWriter{files: make(map[string][]byte)}
}

// WriteArtifact implements ArtifactWriter.
func (w *MemoryArtifactWriter) WriteArtifact(ctx context.Context, path string, content []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, ok := w.files[path]; !ok {
		w.order = append(w.order, path)
	}
	data := make([]byte, len(content))
	copy(data, content)
	w.files[path] = data
	return nil
}

// File returns the content written to path.
func (w *MemoryArtifactWriter) File(path string) ([]byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	data, ok := w.files[path]
	return data, ok
}

// Paths returns written paths in first-write order.
func (w *MemoryArtifactWriter) Paths() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return cloneStrings(w.order)
}
