// dependency_loader_test.go: tests for file and in-memory declaration loaders
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package envforge

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileDeclarationLoader_Formats(t *testing.T) {
	env := NewTestEnvironment(t)
	env.WriteFile("envforge_modules/json-pkg/envforge.json", `{
  "name": "json-pkg",
  "version": "1.2.0",
  "dependencies": ["yaml-pkg"],
  "variables": {
    "TIMEOUT": {"type": "number", "default": 30},
    "TOKEN": {"required": true, "sensitive": true}
  }
}`)
	env.WriteFile("envforge_modules/yaml-pkg/envforge.yaml", `name: yaml-pkg
version: 0.3.1
variables:
  ENABLED:
    type: boolean
    default: true
  HOSTS:
    type: array
    default: [a, b]
`)
	env.WriteFile("envforge_modules/@scope/toml-pkg/envforge.toml", `name = "@scope/toml-pkg"
version = "2.0.0"

[variables.RATE]
type = "number"
default = 1.5
description = "requests per second"
`)

	loader := NewFileDeclarationLoader(env.Dir())
	ctx := context.Background()

	t.Run("JSON", func(t *testing.T) {
		decl, err := loader.Load(ctx, "json-pkg")
		require.NoError(t, err)
		assert.Equal(t, "1.2.0", decl.Version)
		assert.Equal(t, []string{"yaml-pkg"}, decl.Dependencies)
		assert.Equal(t, []string{"TIMEOUT", "TOKEN"}, decl.Variables.Names())

		token, _ := decl.Variables.Get("TOKEN")
		assert.True(t, token.Required)
		assert.True(t, token.Sensitive)
		timeout, _ := decl.Variables.Get("TIMEOUT")
		assert.Equal(t, TypeNumber, timeout.Type)
		assert.Equal(t, "30", timeout.Default.String())
	})

	t.Run("YAML", func(t *testing.T) {
		decl, err := loader.Load(ctx, "yaml-pkg")
		require.NoError(t, err)
		hosts, _ := decl.Variables.Get("HOSTS")
		assert.True(t, ArrayValue(StringValue("a"), StringValue("b")).Equal(*hosts.Default))
		enabled, _ := decl.Variables.Get("ENABLED")
		assert.True(t, BooleanValue(true).Equal(*enabled.Default))
	})

	t.Run("ScopedTOML", func(t *testing.T) {
		decl, err := loader.Load(ctx, "@scope/toml-pkg")
		require.NoError(t, err)
		assert.Equal(t, "@scope/toml-pkg", decl.Name)
		rate, _ := decl.Variables.Get("RATE")
		assert.Equal(t, "1.5", rate.Default.String())
		assert.Equal(t, "requests per second", rate.Description)

		version, err := loader.ProbeVersion(ctx, "@scope/toml-pkg")
		require.NoError(t, err)
		assert.Equal(t, "2.0.0", version)
	})

	t.Run("NotFound", func(t *testing.T) {
		_, err := loader.Load(ctx, "nope")
		assert.True(t, stderrors.Is(err, ErrDeclarationNotFound))
	})
}

func TestFileDeclarationLoader_PathReferences(t *testing.T) {
	env := NewTestEnvironment(t)
	env.WriteFile("app/config/shared.yaml", "version: 1.0.0\nvariables:\n  SHARED:\n    default: x\n")
	env.WriteFile("app/local-lib/envforge.yml", "variables:\n  LOCAL:\n    default: y\n")
	env.WriteFile("app/bad/envforge.json", "{not json")

	loader := NewFileDeclarationLoader(filepath.Join(env.Dir(), "app"))
	ctx := context.Background()

	decl, err := loader.Load(ctx, "./config/shared.yaml")
	require.NoError(t, err)
	assert.Equal(t, []string{"SHARED"}, decl.Variables.Names())

	decl, err = loader.Load(ctx, "./local-lib")
	require.NoError(t, err)
	assert.Equal(t, "./local-lib", decl.Name, "name defaults to the id")

	abs := filepath.Join(env.Dir(), "app", "config", "shared.yaml")
	_, err = loader.Load(ctx, abs)
	assert.NoError(t, err)

	_, err = loader.Load(ctx, "./bad")
	require.Error(t, err)
	assert.True(t, HasErrorCode(err, ErrCodeConfigParseError))

	assert.True(t, IsPathReference("../x"))
	assert.False(t, IsPathReference("pkg"))
}

func TestFileDeclarationLoader_ExtraSearchPaths(t *testing.T) {
	env := NewTestEnvironment(t)
	env.WriteFile("vendor-a/pkg/envforge.json", `{"version":"1.0.0","variables":{"A":{}}}`)
	env.WriteFile("vendor-b/pkg/envforge.json", `{"version":"2.0.0","variables":{"B":{}}}`)

	loader := NewFileDeclarationLoader(env.Dir(), filepath.Join(env.Dir(), "vendor-a"), filepath.Join(env.Dir(), "vendor-b"))
	decl, err := loader.Load(context.Background(), "pkg")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", decl.Version, "first search path wins")
}

func TestMapDeclarationLoader(t *testing.T) {
	loader := NewMapDeclarationLoader().Add("a", "1.0.0", stringSpec("X", "1"))
	ctx := context.Background()

	decl, err := loader.Load(ctx, "a")
	require.NoError(t, err)
	decl.Variables.Delete("X")

	again, err := loader.Load(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, 1, again.Variables.Len(), "loads return copies")
	assert.Equal(t, 2, loader.Calls("a"))

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = loader.Load(cancelled, "a")
	assert.ErrorIs(t, err, context.Canceled)

	_, err = loader.ProbeVersion(ctx, "missing")
	assert.ErrorIs(t, err, ErrDeclarationNotFound)
}

func TestManifestDiscoverer(t *testing.T) {
	env := NewTestEnvironment(t)
	ctx := context.Background()

	t.Run("MapOfDependencies", func(t *testing.T) {
		path := env.WriteFile("map/envforge.manifest.json", `{"dependencies":{"zeta":"^1.0.0","alpha":"*"}}`)
		assert.Equal(t, path, FindManifest(filepath.Dir(path)))

		ids, err := (&ManifestDiscoverer{Path: path}).Discover(ctx, RuntimeContext{})
		require.NoError(t, err)
		assert.Equal(t, []string{"alpha", "zeta"}, ids)
	})

	t.Run("ListOfDependencies", func(t *testing.T) {
		path := env.WriteFile("list/envforge.manifest.yaml", "dependencies:\n  - first\n  - second\n")
		ids, err := (&ManifestDiscoverer{Path: path}).Discover(ctx, RuntimeContext{})
		require.NoError(t, err)
		assert.Equal(t, []string{"first", "second"}, ids)
	})

	t.Run("MissingManifest", func(t *testing.T) {
		ids, err := (&ManifestDiscoverer{Path: filepath.Join(env.Dir(), "absent.json")}).Discover(ctx, RuntimeContext{})
		assert.NoError(t, err)
		assert.Empty(t, ids)
		assert.Equal(t, "", FindManifest(filepath.Join(env.Dir(), "list-none")))

		ids, err = (&ManifestDiscoverer{}).Discover(ctx, RuntimeContext{})
		assert.NoError(t, err)
		assert.Empty(t, ids)
	})
}
