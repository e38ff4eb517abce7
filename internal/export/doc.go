// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package export renders analytics reports and per-user data exports.
//
// # Key Types
//
//   - Format: Output encoding (JSON, CSV, Markdown)
//   - Exporter: Renders a Report or UserData in one format
//   - UserData: A user's conversations, exchange records and summary
//
// # Supported Formats
//
//   - JSON: The complete document, machine-readable
//   - CSV: One section per table, each with its own header row
//   - Markdown: Human-readable with optional YAML front matter
//
// # Usage
//
//	data, err := export.CollectUser(ctx, export.Sources{
//	    Conversations: convs,
//	    Metrics:       metrics,
//	    Aggregator:    agg,
//	}, "alice", 30)
//	exp, _ := export.New(export.FormatCSV, nil)
//	body, err := exp.User(data)
//	path, err := export.WriteFile("exports", "user", "alice", body, exp)
package export
