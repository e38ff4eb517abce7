// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package orchestrator sends user messages to LLM providers with ordered
// fallback and records every successful exchange.
//
// # Exchange
//
// SendMessage tries the preferred provider (when configured) and then the
// rest in priority order, one attempt each under a per-provider timeout. The
// first reply wins. Sentiment of the reply is analyzed best effort.
// The user message, the reply and an ExchangeRecord are then written in that
// order on a context detached from the caller, so a reply that was paid for
// is always kept. Failed writes are handed to the reconcile runner and
// surface as a *PersistenceError warning on an otherwise successful result.
// The runner shares the per-conversation lock, and the next exchange on a
// conversation replays its pending writes before adding new messages.
//
// # Errors
//
//   - ErrNotFound, ErrForbidden: conversation lookup and ownership
//   - ErrAllProvidersExhausted: *ExhaustedError with one AttemptError per provider
//   - ErrAnalysisDegraded: warning only
//   - ErrPersistenceFailure: *PersistenceError, warning only
//   - ErrPendingWrites: earlier writes of the conversation still fail
//   - ErrConfiguration: *ConfigurationError from New
//
// # Usage
//
//	orch, err := orchestrator.New(opts, clients, analyzer, convStore, metricsStore, runner)
//	res, err := orch.SendMessage(ctx, orchestrator.Request{UserID: "u1", Text: "Hello"})
//	fmt.Println(res.AssistantMessage.Content, res.Record.Provider)
package orchestrator
