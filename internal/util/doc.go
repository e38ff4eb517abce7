// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package util provides small helpers shared across promptlab packages.
//
// # Key Functions
//
// String Utilities:
//   - TruncateRunes: UTF-8 safe string truncation with ellipsis
//   - Title: one-line conversation titles derived from message text
//   - StringWidth, TruncateWidth, PadRight, PadLeft: display-width aware
//     helpers for aligned terminal tables
//
// File Operations:
//   - AtomicWriteFile: Crash-safe file writing with fsync
//   - WriteError: Which step of an atomic write failed, and for which file
//
// # Usage
//
//	title := util.Title(text, 50, "New conversation")
//
//	// Write exports atomically to prevent partial files
//	err := util.AtomicWriteFile(path, data, 0644)
package util
