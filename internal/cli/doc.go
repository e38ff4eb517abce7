// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package cli implements the promptlab command line.
//
// Every HTTP operation has a command counterpart that calls the same
// orchestrator, aggregator and exporters directly, so the CLI works without
// a running server.
//
// # Key Types
//
//   - Command: Enumeration of the CLI commands
//   - Args: Global flags plus the raw arguments of one command
//   - ArgParser: Per-command flag and positional parsing
//   - App: Config, stores, orchestrator, aggregator and workers built from config
//   - JSONResponse: The --json output envelope
//
// # Usage
//
//	func main() {
//	    os.Exit(cli.Run(os.Args[1:]))
//	}
//
// # Commands Overview
//
//   - serve: HTTP API with graceful shutdown
//   - chat: Interactive REPL with history and markdown rendering
//   - ask: One message, from arguments or stdin
//   - summary, report, export: Analytics
//   - providers, templates, validate: Catalog and prompt checks
//   - conversations: List, show and delete
//   - config, status, version
//
// All commands support --json. Exit codes are listed in errors.go.
package cli
