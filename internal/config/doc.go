// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package config loads, validates and saves the promptlab configuration.
//
// The file is TOML (JSON is accepted by extension) with the sections
// [server], [storage], [orchestrator], [analytics], [reconcile] and one
// [[providers]] table per LLM backend.
//
// # Key Types
//
//   - Config: Main configuration structure with all settings
//   - ProviderConfig: One provider entry, converted with Settings()
//   - ValidateErrors: Every problem Validate found
//
// # Configuration Precedence
//
// Configuration is loaded from (in order of precedence):
//   - Environment variables (PROMPTLAB_*, <VENDOR>_API_KEY)
//   - --config path, or ~/.promptlab/config.toml
//   - Built-in defaults
//
// # Usage
//
//	cfg, err := config.Load(flagPath)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	for _, p := range cfg.UsableProviders() {
//	    client, err := provider.New(p.Settings())
//	    ...
//	}
package config
