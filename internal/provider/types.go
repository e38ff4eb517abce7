// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
)

// ============================================================================
// PROVIDER NAMES
// ============================================================================

// Canonical provider names. Configuration may introduce others, but these are
// the ones with built-in adapters and default descriptors.
const (
	Gemini = "gemini"
	Groq   = "groq"
	OpenAI = "openai"
	Claude = "claude"
)

// DefaultPriority is the fallback order used when configuration does not
// override it.
var DefaultPriority = []string{Gemini, Groq, OpenAI, Claude}

// NormalizeName lowercases and trims a provider name for lookups.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// ============================================================================
// CLIENT INTERFACE
// ============================================================================

// Client is a single LLM backend. Implementations must be safe for
// concurrent use.
type Client interface {
	// Generate sends one request and returns the reply. Errors returned are
	// *Error values carrying a Kind.
	Generate(ctx context.Context, req Request) (*Reply, error)

	// Descriptor returns static information about the backend. It never
	// changes over the lifetime of the client.
	Descriptor() Descriptor
}

// Role values accepted in Message.Role.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleSystem    = "system"
)

// Message is one turn of conversation history sent to a provider.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request is the vendor-neutral generation request.
type Request struct {
	// Prompt is the new user message.
	Prompt string

	// History holds prior turns, oldest first. It never includes Prompt.
	History []Message

	// System is an optional system instruction.
	System string

	MaxTokens   int
	Temperature float64
}

// Messages returns History followed by the prompt as a user message.
func (r Request) Messages() []Message {
	msgs := make([]Message, 0, len(r.History)+1)
	msgs = append(msgs, r.History...)
	return append(msgs, Message{Role: RoleUser, Content: r.Prompt})
}

// EstimatedInputTokens approximates the prompt size for rate limiting.
func (r Request) EstimatedInputTokens() int {
	n := EstimateTokens(r.System) + EstimateTokens(r.Prompt)
	for _, m := range r.History {
		n += EstimateTokens(m.Content)
	}
	return n
}

// Reply is a successful generation.
type Reply struct {
	Text         string
	Model        string
	TokensInput  int
	TokensOutput int

	// CostUSD is the provider's own cost figure for this call.
	CostUSD decimal.Decimal
}

// TotalTokens returns input plus output tokens.
func (r *Reply) TotalTokens() int {
	return r.TokensInput + r.TokensOutput
}

// EstimateTokens approximates token count at four characters per token.
func EstimateTokens(text string) int {
	n := len([]rune(text))
	if n == 0 {
		return 0
	}
	return (n + 3) / 4
}
