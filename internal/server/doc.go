// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package server exposes the orchestrator and analytics over HTTP.
//
// Every chat and analytics route lives under a configurable prefix
// (default /api/v1). Errors use one envelope:
//
//	{"error": {"message": "...", "type": "not_found_error", "code": 404}}
//
// # Endpoints
//
//   - POST   /chat/message                      - Send a message, with provider fallback
//   - GET    /chat/conversations/{user_id}      - List a user's conversations (limit, offset)
//   - GET    /chat/conversations/{id}/detail    - Full conversation (?user_id= required)
//   - DELETE /chat/conversations/{id}           - Delete a conversation and its records
//   - GET    /chat/providers                    - Configured providers in fallback order
//   - POST   /chat/validate-prompt              - Validate a template or raw prompt
//   - GET    /chat/templates                    - Built-in templates (?category=)
//   - GET    /analytics/summary                 - Summary for user, conversation or global scope
//   - GET    /analytics/{user,conversation}/{id} - Scoped summary shortcuts
//   - GET    /analytics/global                  - Platform-wide summary
//   - POST   /analytics/report                  - Report as JSON, CSV or Markdown
//   - GET    /analytics/export/{user_id}        - Everything stored for a user
//   - GET    /health                            - Liveness
//   - GET    /status                            - Store probes, providers, reconciliation backlog
//
// # Middleware
//
// Requests pass through panic recovery, security headers, request logging,
// CORS and an optional per-client token bucket (golang.org/x/time/rate).
//
// # Usage
//
//	srv, err := server.New(server.Options{Addr: "127.0.0.1:8000"}, server.Deps{
//		Orchestrator:  orch,
//		Aggregator:    agg,
//		Conversations: convs,
//		Metrics:       metrics,
//	})
//	if err != nil {
//		return err
//	}
//	go srv.Start()
//	defer srv.Shutdown(ctx)
package server
