// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package reconcile retries persistence writes that failed after a provider
// already answered.
//
// The orchestrator never calls a provider twice for one exchange. When a
// store write fails it enqueues a Job holding the writes that did not land,
// and a Runner replays them in order until they succeed or the attempt
// budget runs out. Store writes are idempotent by ID, so replaying a write
// that partly landed is safe.
//
// Message order within a conversation is kept by one keyed lock (Locks),
// owned by the Queue. The Runner replays a job only under its
// conversation's lock, and an exchange that finds pending writes on its
// conversation settles them (Runner.Settle) before appending anything new.
//
// # Key Types
//
//   - Job: remaining Steps plus their payloads
//   - Queue: backlog with bounded history
//   - Runner: background replay with exponential backoff
//   - Locks: per-conversation mutex shared with the orchestrator
//
// # Usage
//
//	queue := reconcile.NewQueue(100, 1000)
//	runner := reconcile.NewRunner(queue, convStore, metricsStore, reconcile.Options{})
//	runner.Start()
//	defer runner.Stop()
package reconcile
