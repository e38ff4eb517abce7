// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package provider defines the LLM backend interface and one adapter per
// vendor.
//
// Every backend implements Client: Generate for a single request and
// Descriptor for static model, pricing and rate-limit information. Callers
// depend only on the interface.
//
// # Key Types
//
//   - Client: the {Generate, Descriptor} interface
//   - Descriptor: model, capabilities, context size, prices, rate limits
//   - Error: failure with a Kind (timeout, rate_limited, unavailable,
//     invalid_request)
//   - Settings: configuration for New
//
// # Adapters
//
//   - GeminiClient: Google generateContent over REST
//   - OpenAIClient: OpenAI and Groq through go-openai
//   - ClaudeClient: Anthropic Messages API over REST
//
// Clients built by New are wrapped with a local rate limiter derived from
// the descriptor, so a saturated provider fails immediately with
// KindRateLimited.
//
// # Usage
//
//	c, err := provider.New(provider.Settings{Name: provider.Groq, APIKey: key})
//	reply, err := c.Generate(ctx, provider.Request{Prompt: "Hello", MaxTokens: 2048})
//	fmt.Println(reply.Text, reply.CostUSD.StringFixed(4))
package provider
