// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"errors"
	"fmt"

	"github.com/shopspring/decimal"
)

// ============================================================================
// CONSTRUCTION FROM SETTINGS
// ============================================================================

// API flavors understood by New.
const (
	APIGemini = "gemini"
	APIOpenAI = "openai"
	APIClaude = "claude"
)

// Settings describes one configured provider. Zero fields fall back to the
// built-in descriptor for Name when one exists.
type Settings struct {
	Name    string
	API     string // gemini | openai | claude; defaults from Name
	APIKey  string
	BaseURL string
	Model   string

	Capabilities          []string
	Languages             []string
	MaxContextTokens      int
	InputPricePerMillion  *decimal.Decimal
	OutputPricePerMillion *decimal.Decimal
	RequestsPerMinute     int
	TokensPerMinute       int

	// DisableRateLimit skips the local limiter even when limits are known.
	DisableRateLimit bool
}

// ErrUnknownAPI is returned for a provider whose API flavor cannot be
// determined.
var ErrUnknownAPI = errors.New("unknown provider api")

// Describe resolves the descriptor for s without constructing a client.
func (s Settings) Describe() Descriptor {
	name := NormalizeName(s.Name)
	d, ok := DefaultDescriptor(name)
	if !ok {
		d = Descriptor{Name: name}
	}
	if s.Model != "" {
		d.Model = s.Model
	}
	if len(s.Capabilities) > 0 {
		d.Capabilities = append([]string(nil), s.Capabilities...)
	}
	if len(s.Languages) > 0 {
		d.Languages = append([]string(nil), s.Languages...)
	}
	if s.MaxContextTokens > 0 {
		d.MaxContextTokens = s.MaxContextTokens
	}
	if s.InputPricePerMillion != nil {
		d.InputPricePerMillion = *s.InputPricePerMillion
	}
	if s.OutputPricePerMillion != nil {
		d.OutputPricePerMillion = *s.OutputPricePerMillion
	}
	if s.RequestsPerMinute > 0 {
		d.RateLimits.RequestsPerMinute = s.RequestsPerMinute
	}
	if s.TokensPerMinute > 0 {
		d.RateLimits.TokensPerMinute = s.TokensPerMinute
	}
	return d
}

func (s Settings) api() string {
	if s.API != "" {
		return NormalizeName(s.API)
	}
	switch NormalizeName(s.Name) {
	case Gemini:
		return APIGemini
	case OpenAI, Groq:
		return APIOpenAI
	case Claude:
		return APIClaude
	}
	return ""
}

// New builds a Client for s, wrapped with its rate limits.
func New(s Settings) (Client, error) {
	desc := s.Describe()
	if desc.Name == "" {
		return nil, fmt.Errorf("provider name is required")
	}
	if desc.Model == "" {
		return nil, fmt.Errorf("provider %s: model is required", desc.Name)
	}

	var c Client
	switch s.api() {
	case APIGemini:
		c = NewGeminiClient(s.APIKey, s.BaseURL, desc)
	case APIClaude:
		c = NewClaudeClient(s.APIKey, s.BaseURL, desc)
	case APIOpenAI:
		if desc.Name == Groq {
			c = NewGroqClient(s.APIKey, s.BaseURL, desc)
		} else {
			c = NewOpenAIClient(s.APIKey, s.BaseURL, desc)
		}
	default:
		return nil, fmt.Errorf("provider %s: %w %q", desc.Name, ErrUnknownAPI, s.API)
	}

	if s.DisableRateLimit {
		return c, nil
	}
	return WithRateLimit(c), nil
}

// NewAll builds clients for every entry, preserving order. Duplicate names
// are rejected.
func NewAll(all []Settings) ([]Client, error) {
	seen := make(map[string]bool, len(all))
	clients := make([]Client, 0, len(all))
	for _, s := range all {
		c, err := New(s)
		if err != nil {
			return nil, err
		}
		name := c.Descriptor().Name
		if seen[name] {
			return nil, fmt.Errorf("provider %s configured more than once", name)
		}
		seen[name] = true
		clients = append(clients, c)
	}
	return clients, nil
}
