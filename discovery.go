// discovery.go: discovery of every file a hot reload watch list needs
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"os"
	"path/filepath"
	"regexp"
)

// ReferenceScanner extracts file references from configuration text. The
// result may be incomplete; missing references only shrink the watch list.
type ReferenceScanner interface {
	Scan(path string, content []byte) []string
}

// RegexReferenceScanner reports quoted relative paths ("./x", "../y").
type RegexReferenceScanner struct {
	Patterns []*regexp.Regexp
}

var defaultReferencePattern = regexp.MustCompile(`["'](\.{1,2}/[^"'\s]+)["']`)

// NewRegexReferenceScanner creates a scanner with the default pattern. Every
// pattern must capture the path in its first group.
func NewRegexReferenceScanner(patterns ...*regexp.Regexp) *RegexReferenceScanner {
	if len(patterns) == 0 {
		patterns = []*regexp.Regexp{defaultReferencePattern}
	}
	return &RegexReferenceScanner{Patterns: patterns}
}

// Scan implements ReferenceScanner.
func (s *RegexReferenceScanner) Scan(path string, content []byte) []string {
	var refs []string
	for _, re := range s.Patterns {
		for _, m := range re.FindAllSubmatch(content, -1) {
			if len(m) > 1 {
				refs = append(refs, string(m[1]))
			}
		}
	}
	return refs
}

// FileDiscovery lists the files a reload manager watches for one root
// configuration file.
type FileDiscovery struct {
	Scanner ReferenceScanner
	logger  Logger
}

// NewFileDiscovery creates a discovery using scanner, or the regex scanner
// when nil.
func NewFileDiscovery(scanner ReferenceScanner, logger Logger) *FileDiscovery {
	if scanner == nil {
		scanner = NewRegexReferenceScanner()
	}
	if logger == nil {
		logger = DefaultLogger()
	}
	return &FileDiscovery{Scanner: scanner, logger: logger}
}

// Discover returns existing files to watch, primary first, without duplicates:
// the primary file, the dependency manifest, local overrides, .env files for
// the mode, references found by the scanner, explicit path dependencies and
// the extra paths in reload.watch.
func (d *FileDiscovery) Discover(configPath string, cfg *Config) []string {
	primary, err := filepath.Abs(configPath)
	if err != nil {
		primary = configPath
	}
	dir := filepath.Dir(primary)
	if cfg == nil {
		cfg = DefaultConfig()
	}

	seen := make(map[string]struct{})
	var files []string
	add := func(p string) {
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		p = filepath.Clean(p)
		if _, dup := seen[p]; dup {
			return
		}
		info, err := os.Stat(p)
		if err != nil {
			return
		}
		if info.IsDir() {
			for _, name := range DeclarationFileNames {
				candidate := filepath.Join(p, name)
				if st, err := os.Stat(candidate); err == nil && st.Mode().IsRegular() {
					if _, dup := seen[candidate]; !dup {
						seen[candidate] = struct{}{}
						files = append(files, candidate)
					}
					return
				}
			}
			return
		}
		seen[p] = struct{}{}
		files = append(files, p)
	}

	add(primary)

	if cfg.Dependencies.Manifest != "" {
		add(cfg.Dependencies.Manifest)
	} else if m := FindManifest(dir); m != "" {
		add(m)
	}

	add(LocalOverridePath(primary))
	add(".env")
	add(".env.local")
	if cfg.Mode != "" {
		add(".env." + cfg.Mode)
		add(".env." + cfg.Mode + ".local")
	}

	if content, err := os.ReadFile(primary); err == nil { // #nosec G304 -- primary config path
		for _, ref := range d.Scanner.Scan(primary, content) {
			add(ref)
		}
	}

	for _, id := range cfg.Dependencies.Explicit {
		if IsPathReference(id) {
			add(id)
		}
	}
	for _, w := range cfg.Reload.Watch {
		add(w)
	}

	d.logger.Debug("Watch list discovered", "config", primary, "files", len(files))
	return files
}
