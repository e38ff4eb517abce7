// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package sentiment classifies assistant replies as positive, negative or
// neutral.
//
// # Key Types
//
//   - Analyzer: interface consumed by the orchestrator
//   - Result: label plus polarity, subjectivity and confidence scores
//   - LexiconAnalyzer: built-in word-list analyzer with negation and
//     intensifier handling
//
// # Usage
//
//	a := sentiment.NewLexiconAnalyzer()
//	r, err := a.Analyze(ctx, reply)
//	if err == nil && r.Label == sentiment.Negative {
//	    // ...
//	}
package sentiment
