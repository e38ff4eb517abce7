// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"sort"
	"strings"
)

// =============================================================================
// TEMPLATE TYPES
// =============================================================================

// Category groups templates by purpose.
type Category string

const (
	CategoryGeneral     Category = "general"
	CategoryCreative    Category = "creative"
	CategoryAnalytical  Category = "analytical"
	CategoryTechnical   Category = "technical"
	CategoryEducational Category = "educational"
	CategoryBusiness    Category = "business"
)

// Categories lists every category in display order.
var Categories = []Category{
	CategoryGeneral, CategoryCreative, CategoryAnalytical,
	CategoryTechnical, CategoryEducational, CategoryBusiness,
}

// ValidCategory reports whether c is a known category.
func ValidCategory(c Category) bool {
	for _, known := range Categories {
		if c == known {
			return true
		}
	}
	return false
}

// Complexity is a rough difficulty rating.
type Complexity string

const (
	ComplexitySimple       Complexity = "simple"
	ComplexityIntermediate Complexity = "intermediate"
	ComplexityAdvanced     Complexity = "advanced"
)

// Template is a reusable prompt with {var} or {{var}} placeholders.
// Variables maps each placeholder to a short description of what it expects.
type Template struct {
	ID          string            `json:"id"`
	Name        string            `json:"name"`
	Description string            `json:"description"`
	Category    Category          `json:"category"`
	Complexity  Complexity        `json:"complexity"`
	Body        string            `json:"template"`
	Variables   map[string]string `json:"variables"`
}

// RequiredVariables returns the placeholders used in the body.
func (t Template) RequiredVariables() []string {
	return Variables(t.Body)
}

// Render fills the template. See Render.
func (t Template) Render(vars map[string]string) (string, error) {
	return Render(t.Body, vars)
}

// EstimatedTokens estimates the size of the unrendered body.
func (t Template) EstimatedTokens() int {
	return EstimateTokens(t.Body)
}

// IsComplex reports whether the template is rated advanced.
func (t Template) IsComplex() bool {
	return t.Complexity == ComplexityAdvanced
}

// =============================================================================
// BUILT-IN TEMPLATES
// =============================================================================

var builtins = []Template{
	{
		ID:          "sentiment-analysis",
		Name:        "Sentiment Analysis",
		Description: "Analyzes the sentiment of a given text",
		Category:    CategoryAnalytical,
		Complexity:  ComplexityIntermediate,
		Body: "Analyze the sentiment of the following text and give a detailed assessment:\n\n" +
			"Text: {text}\n\n" +
			"Please evaluate:\n" +
			"1. Overall sentiment (positive/negative/neutral)\n" +
			"2. Confidence level (0-100%)\n" +
			"3. Keywords that drive the sentiment\n" +
			"4. Suggestions for improvement if it is negative",
		Variables: map[string]string{"text": "The text to analyze"},
	},
	{
		ID:          "creative-writing",
		Name:        "Creative Writing",
		Description: "Generates creative content about a topic",
		Category:    CategoryCreative,
		Complexity:  ComplexityIntermediate,
		Body: "Write creative content about the topic: {topic}\n\n" +
			"Content type: {content_type}\n" +
			"Tone: {tone}\n" +
			"Length: {length}\n\n" +
			"The content should be:\n" +
			"- Original and creative\n" +
			"- Appropriate for the requested tone\n" +
			"- Of the requested length\n" +
			"- Engaging for the target audience",
		Variables: map[string]string{
			"topic":        "The main topic",
			"content_type": "article, story, poem, etc.",
			"tone":         "formal, informal, humorous, etc.",
			"length":       "short, medium, long",
		},
	},
	{
		ID:          "executive-summary",
		Name:        "Executive Summary",
		Description: "Condenses complex information into an executive summary",
		Category:    CategoryBusiness,
		Complexity:  ComplexityIntermediate,
		Body: "Write an executive summary of the following content:\n\n" +
			"{content}\n\n" +
			"The summary must include:\n" +
			"1. Key points (at most 5)\n" +
			"2. Important conclusions\n" +
			"3. Recommended actions\n" +
			"4. Risks or considerations\n\n" +
			"Format: at most 200 words, clear and direct language",
		Variables: map[string]string{"content": "The content to summarize"},
	},
	{
		ID:          "technical-analysis",
		Name:        "Technical Analysis",
		Description: "Performs a detailed technical analysis",
		Category:    CategoryTechnical,
		Complexity:  ComplexityAdvanced,
		Body: "Perform a detailed technical analysis of:\n\n" +
			"{subject}\n\n" +
			"Cover:\n" +
			"1. Architecture and design\n" +
			"2. Strengths and weaknesses\n" +
			"3. Best practices applied\n" +
			"4. Suggested improvements\n" +
			"5. Scalability considerations\n\n" +
			"Technical level: {technical_level}",
		Variables: map[string]string{
			"subject":         "The technical subject to analyze",
			"technical_level": "basic, intermediate, advanced",
		},
	},
	{
		ID:          "tutor",
		Name:        "Tutor",
		Description: "Explains a concept step by step",
		Category:    CategoryEducational,
		Complexity:  ComplexityIntermediate,
		Body: "Act as a tutor and explain the concept: {concept}\n\n" +
			"Student level: {student_level}\n" +
			"Context: {context}\n\n" +
			"Provide:\n" +
			"1. A clear and simple definition\n" +
			"2. Practical examples\n" +
			"3. Analogies or metaphors\n" +
			"4. Practice exercises\n" +
			"5. Further resources\n\n" +
			"Use language suited to the student's level.",
		Variables: map[string]string{
			"concept":       "The concept to explain",
			"student_level": "beginner, intermediate, advanced",
			"context":       "Where the student meets the concept",
		},
	},
}

// Builtins returns copies of the built-in templates in display order.
func Builtins() []Template {
	out := make([]Template, len(builtins))
	for i, t := range builtins {
		out[i] = t.clone()
	}
	return out
}

// Lookup finds a built-in template by id, case-insensitively.
func Lookup(id string) (Template, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	for _, t := range builtins {
		if t.ID == id {
			return t.clone(), true
		}
	}
	return Template{}, false
}

// ByCategory returns built-in templates in category c. An empty category
// returns all of them.
func ByCategory(c Category) []Template {
	if c == "" {
		return Builtins()
	}
	var out []Template
	for _, t := range builtins {
		if t.Category == c {
			out = append(out, t.clone())
		}
	}
	return out
}

func (t Template) clone() Template {
	vars := make(map[string]string, len(t.Variables))
	for k, v := range t.Variables {
		vars[k] = v
	}
	t.Variables = vars
	return t
}

// VariableNames returns the documented variable names, sorted.
func (t Template) VariableNames() []string {
	names := make([]string, 0, len(t.Variables))
	for k := range t.Variables {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}
