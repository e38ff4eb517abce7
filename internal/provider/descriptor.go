// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"github.com/shopspring/decimal"
)

// ============================================================================
// DESCRIPTOR
// ============================================================================

// RateLimits are the published limits of a provider account.
// Zero means unlimited.
type RateLimits struct {
	RequestsPerMinute int `json:"requests_per_minute"`
	TokensPerMinute   int `json:"tokens_per_minute"`
}

// Descriptor is static information about a provider. Built once at startup
// and shared read-only.
type Descriptor struct {
	Name             string   `json:"name"`
	Model            string   `json:"model"`
	Capabilities     []string `json:"capabilities"`
	MaxContextTokens int      `json:"max_context_tokens"`
	Languages        []string `json:"supported_languages"`

	// Prices are USD per one million tokens.
	InputPricePerMillion  decimal.Decimal `json:"input_price_per_million"`
	OutputPricePerMillion decimal.Decimal `json:"output_price_per_million"`

	RateLimits RateLimits `json:"rate_limits"`
}

var million = decimal.NewFromInt(1_000_000)

// Cost returns the USD cost of a call with the given token counts.
func (d Descriptor) Cost(tokensIn, tokensOut int) decimal.Decimal {
	in := d.InputPricePerMillion.Mul(decimal.NewFromInt(int64(tokensIn)))
	out := d.OutputPricePerMillion.Mul(decimal.NewFromInt(int64(tokensOut)))
	return in.Add(out).Div(million)
}

// HasCapability reports whether the descriptor lists capability c.
func (d Descriptor) HasCapability(c string) bool {
	for _, have := range d.Capabilities {
		if have == c {
			return true
		}
	}
	return false
}

// clone returns a deep copy so callers cannot mutate shared slices.
func (d Descriptor) clone() Descriptor {
	d.Capabilities = append([]string(nil), d.Capabilities...)
	d.Languages = append([]string(nil), d.Languages...)
	return d
}

// ============================================================================
// BUILT-IN DEFAULTS
// ============================================================================

// Capability tags.
const (
	CapTextGeneration = "text_generation"
	CapReasoning      = "reasoning"
	CapCodeGeneration = "code_generation"
	CapMultimodal     = "multimodal"
	CapLongContext    = "long_context"
	CapFastInference  = "fast_inference"
)

var commonLanguages = []string{"es", "en", "fr", "de", "it", "pt"}

var defaultDescriptors = map[string]Descriptor{
	Gemini: {
		Name:                  Gemini,
		Model:                 "gemini-1.5-flash",
		Capabilities:          []string{CapTextGeneration, CapReasoning, CapCodeGeneration, CapMultimodal, CapLongContext},
		MaxContextTokens:      1_048_576,
		Languages:             []string{"es", "en", "fr", "de", "it", "pt", "ja", "ko", "zh"},
		InputPricePerMillion:  decimal.RequireFromString("0.075"),
		OutputPricePerMillion: decimal.RequireFromString("0.30"),
		RateLimits:            RateLimits{RequestsPerMinute: 60, TokensPerMinute: 32_000},
	},
	Groq: {
		Name:                  Groq,
		Model:                 "llama-3.1-8b-instant",
		Capabilities:          []string{CapTextGeneration, CapReasoning, CapCodeGeneration, CapFastInference},
		MaxContextTokens:      131_072,
		Languages:             commonLanguages,
		InputPricePerMillion:  decimal.RequireFromString("0.27"),
		OutputPricePerMillion: decimal.RequireFromString("0.27"),
		RateLimits:            RateLimits{RequestsPerMinute: 30, TokensPerMinute: 6_000},
	},
	OpenAI: {
		Name:                  OpenAI,
		Model:                 "gpt-3.5-turbo",
		Capabilities:          []string{CapTextGeneration, CapReasoning, CapCodeGeneration},
		MaxContextTokens:      16_385,
		Languages:             commonLanguages,
		InputPricePerMillion:  decimal.RequireFromString("0.50"),
		OutputPricePerMillion: decimal.RequireFromString("1.50"),
		RateLimits:            RateLimits{RequestsPerMinute: 3_500, TokensPerMinute: 90_000},
	},
	Claude: {
		Name:                  Claude,
		Model:                 "claude-3-haiku-20240307",
		Capabilities:          []string{CapTextGeneration, CapReasoning, CapCodeGeneration, CapLongContext},
		MaxContextTokens:      200_000,
		Languages:             commonLanguages,
		InputPricePerMillion:  decimal.RequireFromString("0.25"),
		OutputPricePerMillion: decimal.RequireFromString("1.25"),
		RateLimits:            RateLimits{RequestsPerMinute: 50, TokensPerMinute: 50_000},
	},
}

// DefaultDescriptor returns the built-in descriptor for a canonical provider
// name.
func DefaultDescriptor(name string) (Descriptor, bool) {
	d, ok := defaultDescriptors[NormalizeName(name)]
	if !ok {
		return Descriptor{}, false
	}
	return d.clone(), true
}
