// Package envforge resolves environment variable catalogs across a project
// and its dependencies and keeps them live while configuration files change.
//
// A build runs in three stages. The Resolver loads variable declarations of
// every dependency source (explicit, conditional on the runtime mode and
// environment, or auto-discovered from a manifest), orders them, applies the
// naming collision strategy and merges them into one catalog. The
// ValueResolver reads the environment, applies defaults, coerces types and
// runs validators. The Pipeline then drives registered plugins through a
// fixed sequence of phases, from config to closeBundle, collecting the
// artifacts they emit.
//
// Key Features:
//   - Conflict strategies: strict, priority, latest, warn, ignore
//   - Prefix strategies: global-aware, auto, none, custom per source
//   - Parallel, cached and retried declaration loading
//   - Plugin ordering by declared predecessors with cycle detection
//   - Debounced hot reload with change sets, snapshots and rollback
//   - Structured logging, go-errors codes and Prometheus metrics
//
// Basic Usage:
//
//	engine := envforge.NewEngine(envforge.EngineOptions{
//		Loader: envforge.NewFileDeclarationLoader("."),
//		Writer: envforge.NewFileArtifactWriter("dist"),
//	})
//
//	cfg, err := envforge.LoadConfigFromFile("envforge.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	result, err := engine.Build(ctx, cfg, envforge.RuntimeFromEnv(cfg.Mode, envforge.OSEnv{}, "."))
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Println(result.Values.Masked())
//
// Hot Reload:
//
//	manager, err := engine.NewReloadManager("envforge.yaml", envforge.ReloadOptionsFromConfig(cfg.Reload))
//	if err != nil {
//		log.Fatal(err)
//	}
//	manager.Subscribe(func(ev envforge.ReloadEvent) { log.Println(ev.Type) })
//	if err := manager.Start(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer manager.Stop()
//
// Copyright (c) 2025 AGILira - A. Giordano
// SPDX-License-Identifier: MPL-2.0
package envforge
