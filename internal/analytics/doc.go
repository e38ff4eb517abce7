// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package analytics rolls exchange records up into summaries and reports.
//
// Everything is computed from telemetry.ExchangeRecord values read from a
// MetricsStore. Nothing is cached and nothing is written, so the same
// records always produce the same output.
//
// # Key Types
//
//   - Aggregator: Summarize and Report entry points
//   - Summary: counts, provider and sentiment breakdowns, cost analysis,
//     activity (user scope) and platform figures (global scope)
//   - Report: summary plus insights, recommendations and conversation rows
//
// # Windows
//
// A window of N days covers N UTC calendar days ending with today. The
// daily cost trend always has N points, oldest first, zero days included.
//
// # Usage
//
//	agg := analytics.New(metricsStore, convStore, analytics.Options{})
//	s, err := agg.Summarize(ctx, telemetry.UserScope("u1"), 30)
//	fmt.Println(s.TotalCost, s.Sentiment.Trend)
package analytics
