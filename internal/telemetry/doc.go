// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package telemetry holds the per-exchange accounting record and the store
// it is written to.
//
// One ExchangeRecord is written for every successful exchange: the provider
// actually used, latency, token counts, cost at full precision and the
// optional sentiment of the user's text. Records are append-only.
//
// # Key Types
//
//   - ExchangeRecord: one exchange's measurements
//   - Scope: user, conversation or global selection for queries
//   - MetricsStore: Append/Query/Prune/DeleteConversation contract
//   - MemoryStore: in-process MetricsStore
//   - Sweeper: periodic retention pruning
//
// The sqlite implementation of MetricsStore lives in package storage.
//
// # Usage
//
//	store := telemetry.NewMemoryStore()
//	_ = store.Append(ctx, rec)
//	recs, _ := store.Query(ctx, telemetry.UserScope("u1"), time.Now().AddDate(0, 0, -30))
//
// # Privacy
//
// Records carry no message text. Only counts, costs and sentiment scores.
package telemetry
