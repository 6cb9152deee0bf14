// dependency_loader.go: declaration loaders and auto-discovery collaborators
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/BurntSushi/toml"
	"github.com/agilira/argus"
	"gopkg.in/yaml.v3"
)

// ErrDeclarationNotFound is returned by a DeclarationLoader when the
// identifier does not resolve to any declaration.
var ErrDeclarationNotFound = stderrors.New("declaration not found")

// Declaration is the parsed set of variables a source declares.
type Declaration struct {
	Name         string
	Version      string
	Dependencies []string
	Variables    *VariableSet
}

// DeclarationLoader resolves an identifier (package name, relative path or
// alias target) to a parsed Declaration. Implementations return an error
// wrapping ErrDeclarationNotFound when nothing exists for the identifier.
type DeclarationLoader interface {
	Load(ctx context.Context, id string) (*Declaration, error)
}

// VersionProber is implemented by loaders that can report the current
// version of a source cheaply. The resolver uses it to invalidate cached
// declarations whose underlying version changed within the TTL.
type VersionProber interface {
	ProbeVersion(ctx context.Context, id string) (string, error)
}

// AutoDiscoverer lists source ids that should be loaded without being
// configured explicitly.
type AutoDiscoverer interface {
	Discover(ctx context.Context, rt RuntimeContext) ([]string, error)
}

// DeclarationFile is the on-disk layout read by FileDeclarationLoader.
type DeclarationFile struct {
	Name         string                  `json:"name" yaml:"name" toml:"name"`
	Version      string                  `json:"version" yaml:"version" toml:"version"`
	Dependencies []string                `json:"dependencies,omitempty" yaml:"dependencies,omitempty" toml:"dependencies,omitempty"`
	Variables    map[string]VariableDecl `json:"variables" yaml:"variables" toml:"variables"`
}

// DeclarationFileNames are probed, in order, inside a source directory.
var DeclarationFileNames = []string{"envforge.json", "envforge.yaml", "envforge.yml", "envforge.toml"}

// FileDeclarationLoader reads declarations from the filesystem.
//
// Identifiers starting with "./", "../" or "/" are paths relative to BaseDir
// (a file, or a directory holding one of DeclarationFileNames). Any other
// identifier is a package name looked up as a directory under each of
// SearchPaths.
type FileDeclarationLoader struct {
	BaseDir     string
	SearchPaths []string
	Validators  map[string]Validator
}

// NewFileDeclarationLoader creates a loader rooted at baseDir. Without
// search paths packages are looked up in baseDir/envforge_modules.
func NewFileDeclarationLoader(baseDir string, searchPaths ...string) *FileDeclarationLoader {
	if len(searchPaths) == 0 {
		searchPaths = []string{filepath.Join(baseDir, "envforge_modules")}
	}
	return &FileDeclarationLoader{BaseDir: baseDir, SearchPaths: searchPaths}
}

// Load implements DeclarationLoader.
func (l *FileDeclarationLoader) Load(ctx context.Context, id string) (*Declaration, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	path, err := l.locate(id)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path) // #nosec G304 -- path resolved from configured roots
	if err != nil {
		return nil, fmt.Errorf("read declaration %s: %w", path, err)
	}

	var file DeclarationFile
	if err := decodeByFormat(path, data, &file); err != nil {
		return nil, err
	}

	vars, err := DeclsToVariableSet(file.Variables, l.Validators)
	if err != nil {
		return nil, err
	}
	name := file.Name
	if name == "" {
		name = id
	}
	return &Declaration{
		Name:         name,
		Version:      file.Version,
		Dependencies: file.Dependencies,
		Variables:    vars,
	}, nil
}

// ProbeVersion implements VersionProber by re-reading only the version field.
func (l *FileDeclarationLoader) ProbeVersion(ctx context.Context, id string) (string, error) {
	path, err := l.locate(id)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path) // #nosec G304 -- path resolved from configured roots
	if err != nil {
		return "", err
	}
	var file DeclarationFile
	if err := decodeByFormat(path, data, &file); err != nil {
		return "", err
	}
	return file.Version, nil
}

func (l *FileDeclarationLoader) locate(id string) (string, error) {
	var candidates []string
	if IsPathReference(id) {
		p := id
		if !filepath.IsAbs(p) {
			p = filepath.Join(l.BaseDir, p)
		}
		candidates = append(candidates, p)
	} else {
		for _, root := range l.SearchPaths {
			candidates = append(candidates, filepath.Join(root, filepath.FromSlash(id)))
		}
	}

	for _, c := range candidates {
		info, err := os.Stat(c)
		if err != nil {
			continue
		}
		if !info.IsDir() {
			return c, nil
		}
		for _, name := range DeclarationFileNames {
			f := filepath.Join(c, name)
			if st, err := os.Stat(f); err == nil && !st.IsDir() {
				return f, nil
			}
		}
	}
	return "", fmt.Errorf("source %q: %w", id, ErrDeclarationNotFound)
}

// IsPathReference reports whether id names a filesystem path rather than a package.
func IsPathReference(id string) bool {
	return strings.HasPrefix(id, "./") || strings.HasPrefix(id, "../") || filepath.IsAbs(id)
}

// decodeByFormat parses data according to the extension of path.
func decodeByFormat(path string, data []byte, out any) error {
	format := argus.DetectFormat(path)
	var err error
	switch format {
	case argus.FormatJSON:
		err = json.Unmarshal(data, out)
	case argus.FormatYAML:
		err = yaml.Unmarshal(data, out)
	case argus.FormatTOML:
		_, err = toml.Decode(string(data), out)
	default:
		return NewConfigParseError(path, format.String(), fmt.Errorf("unsupported format"))
	}
	if err != nil {
		return NewConfigParseError(path, format.String(), err)
	}
	return nil
}

// MapDeclarationLoader serves declarations from memory. It is safe for
// concurrent use and records how many times each id was loaded.
type MapDeclarationLoader struct {
	mu           sync.Mutex
	declarations map[string]*Declaration
	failures     map[string]error
	calls        map[string]int
}

// NewMapDeclarationLoader creates an empty in-memory loader.
func NewMapDeclarationLoader() *MapDeclarationLoader {
	return &MapDeclarationLoader{
		declarations: make(map[string]*Declaration),
		failures:     make(map[string]error),
		calls:        make(map[string]int),
	}
}

// Add registers a declaration under id.
func (m *MapDeclarationLoader) Add(id, version string, specs ...*VariableSpec) *MapDeclarationLoader {
	return m.AddDeclaration(id, &Declaration{Name: id, Version: version, Variables: NewVariableSet(specs...)})
}

// AddDeclaration registers a full declaration under id.
func (m *MapDeclarationLoader) AddDeclaration(id string, decl *Declaration) *MapDeclarationLoader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.declarations[id] = decl
	return m
}

// Fail makes every load of id return err.
func (m *MapDeclarationLoader) Fail(id string, err error) *MapDeclarationLoader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failures[id] = err
	return m
}

// Calls returns how many times id was loaded.
func (m *MapDeclarationLoader) Calls(id string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[id]
}

// Load implements DeclarationLoader.
func (m *MapDeclarationLoader) Load(ctx context.Context, id string) (*Declaration, error) {
	m.mu.Lock()
	m.calls[id]++
	failure := m.failures[id]
	decl, ok := m.declarations[id]
	m.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if failure != nil {
		return nil, failure
	}
	if !ok {
		return nil, fmt.Errorf("source %q: %w", id, ErrDeclarationNotFound)
	}
	return &Declaration{
		Name:         decl.Name,
		Version:      decl.Version,
		Dependencies: cloneStrings(decl.Dependencies),
		Variables:    decl.Variables.Clone(),
	}, nil
}

// ProbeVersion implements VersionProber.
func (m *MapDeclarationLoader) ProbeVersion(ctx context.Context, id string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	decl, ok := m.declarations[id]
	if !ok {
		return "", ErrDeclarationNotFound
	}
	return decl.Version, nil
}

// ManifestDiscoverer reads dependency names from a manifest file such as
// envforge.manifest.json. Keys of the "dependencies" table (or entries of a
// "dependencies" list) become auto-discovered source ids.
type ManifestDiscoverer struct {
	Path string
}

// DefaultManifestNames are looked up next to the root config file.
var DefaultManifestNames = []string{
	"envforge.manifest.json",
	"envforge.manifest.yaml",
	"envforge.manifest.yml",
	"envforge.manifest.toml",
}

// FindManifest returns the first default manifest present in dir, or "".
func FindManifest(dir string) string {
	for _, name := range DefaultManifestNames {
		p := filepath.Join(dir, name)
		if st, err := os.Stat(p); err == nil && !st.IsDir() {
			return p
		}
	}
	return ""
}

// Discover implements AutoDiscoverer. A missing manifest yields no ids.
func (d *ManifestDiscoverer) Discover(ctx context.Context, rt RuntimeContext) ([]string, error) {
	if d.Path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(d.Path) // #nosec G304 -- manifest path comes from config
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var parsed map[string]any
	if err := decodeByFormat(d.Path, data, &parsed); err != nil {
		return nil, err
	}

	var ids []string
	switch deps := parsed["dependencies"].(type) {
	case map[string]interface{}:
		for name := range deps {
			ids = append(ids, name)
		}
		sort.Strings(ids)
	case []interface{}:
		for _, item := range deps {
			if s, ok := item.(string); ok {
				ids = append(ids, s)
			}
		}
	}
	return ids, nil
}
