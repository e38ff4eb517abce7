// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package prompt

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/jeranaias/promptlab/internal/util"
)

// MaxPromptRunes is the longest prompt or template accepted.
const MaxPromptRunes = 50000

var (
	// ErrMissingVariable is returned by Render when a placeholder has no value.
	ErrMissingVariable = errors.New("missing template variable")

	// ErrUnknownTemplate is returned for a template id that does not exist.
	ErrUnknownTemplate = errors.New("unknown template")
)

// placeholder matches {{name}} or {name}. The double form is tried first.
var placeholder = regexp.MustCompile(`\{\{(\w+)\}\}|\{(\w+)\}`)

// =============================================================================
// PARSING
// =============================================================================

// Variables returns placeholder names in order of first appearance.
func Variables(text string) []string {
	var names []string
	seen := make(map[string]bool)
	for _, m := range placeholder.FindAllStringSubmatch(text, -1) {
		name := m[1]
		if name == "" {
			name = m[2]
		}
		if !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	return names
}

// BalancedBraces reports whether single and double braces each open and
// close the same number of times. "{{" and "}}" count as one double brace.
func BalancedBraces(text string) bool {
	single, double := 0, 0
	for i := 0; i < len(text); i++ {
		switch text[i] {
		case '{':
			if i+1 < len(text) && text[i+1] == '{' {
				double++
				i++
			} else {
				single++
			}
		case '}':
			if i+1 < len(text) && text[i+1] == '}' {
				double--
				i++
			} else {
				single--
			}
		}
	}
	return single == 0 && double == 0
}

// EstimateTokens approximates token count at four runes per token, rounded
// down.
func EstimateTokens(text string) int {
	return util.RuneLen(text) / 4
}

// Check returns every structural problem with text. An empty result means
// the text is a usable prompt.
func Check(text string) []string {
	var problems []string
	if n := util.RuneLen(text); n > MaxPromptRunes {
		problems = append(problems, fmt.Sprintf("template is too long (%d characters, max %d)", n, MaxPromptRunes))
	}
	if strings.TrimSpace(text) == "" {
		problems = append(problems, "template content cannot be empty")
	}
	if !BalancedBraces(text) {
		problems = append(problems, "template has unbalanced braces")
	}
	for _, name := range Variables(text) {
		if name[0] >= '0' && name[0] <= '9' {
			problems = append(problems, fmt.Sprintf("invalid variable name: %s", name))
		}
	}
	return problems
}

// =============================================================================
// RENDERING
// =============================================================================

// Render substitutes {{name}} and {name} with vars[name]. Every placeholder
// must have a value; extra values are ignored.
func Render(text string, vars map[string]string) (string, error) {
	if missing := Missing(text, vars); len(missing) > 0 {
		return "", fmt.Errorf("%w: %s", ErrMissingVariable, strings.Join(missing, ", "))
	}
	return placeholder.ReplaceAllStringFunc(text, func(m string) string {
		name := strings.Trim(m, "{}")
		return vars[name]
	}), nil
}

// Missing lists placeholders in text without a value in vars.
func Missing(text string, vars map[string]string) []string {
	var missing []string
	for _, name := range Variables(text) {
		if _, ok := vars[name]; !ok {
			missing = append(missing, name)
		}
	}
	return missing
}

// =============================================================================
// VALIDATION REQUEST
// =============================================================================

// Request asks for a prompt to be validated: a built-in template by id, or
// raw content. Variables, when given, are used to render it.
type Request struct {
	TemplateID string            `json:"template_id,omitempty"`
	Content    string            `json:"template_content,omitempty"`
	Variables  map[string]string `json:"variables,omitempty"`
	Category   Category          `json:"category,omitempty"`
}

// TemplateInfo describes the template that was validated.
type TemplateInfo struct {
	ID          string     `json:"id,omitempty"`
	Name        string     `json:"name"`
	Description string     `json:"description"`
	Category    Category   `json:"category"`
	Complexity  Complexity `json:"complexity"`
	IsComplex   bool       `json:"is_complex"`
}

// Result is the outcome of Validate.
type Result struct {
	Valid             bool          `json:"is_valid"`
	RenderedPrompt    string        `json:"rendered_prompt,omitempty"`
	RequiredVariables []string      `json:"required_variables"`
	MissingVariables  []string      `json:"missing_variables"`
	EstimatedTokens   int           `json:"estimated_tokens"`
	Errors            []string      `json:"validation_errors"`
	Template          *TemplateInfo `json:"template_info,omitempty"`
}

// Validate checks a request. Problems are reported in the Result; the error
// is only for requests that name no template and carry no content, or name
// an unknown template.
func Validate(req Request) (*Result, error) {
	tmpl, err := resolve(req)
	if err != nil {
		return nil, err
	}

	res := &Result{
		RequiredVariables: nonNil(tmpl.RequiredVariables()),
		MissingVariables:  nonNil(Missing(tmpl.Body, req.Variables)),
		EstimatedTokens:   tmpl.EstimatedTokens(),
		Errors:            nonNil(Check(tmpl.Body)),
		Template: &TemplateInfo{
			ID:          tmpl.ID,
			Name:        tmpl.Name,
			Description: tmpl.Description,
			Category:    tmpl.Category,
			Complexity:  tmpl.Complexity,
			IsComplex:   tmpl.IsComplex(),
		},
	}

	if len(res.MissingVariables) == 0 && len(req.Variables) > 0 && len(res.Errors) == 0 {
		rendered, err := tmpl.Render(req.Variables)
		if err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("template rendering failed: %v", err))
		} else {
			res.RenderedPrompt = rendered
			res.EstimatedTokens = EstimateTokens(rendered)
		}
	}

	res.Valid = len(res.Errors) == 0 && len(res.MissingVariables) == 0
	return res, nil
}

func resolve(req Request) (Template, error) {
	if req.TemplateID != "" {
		t, ok := Lookup(req.TemplateID)
		if !ok {
			return Template{}, fmt.Errorf("%w: %s", ErrUnknownTemplate, req.TemplateID)
		}
		return t, nil
	}
	if req.Content == "" {
		return Template{}, errors.New("either template_id or template_content is required")
	}
	category := req.Category
	if !ValidCategory(category) {
		category = CategoryGeneral
	}
	return Template{
		Name:        "Custom Template",
		Description: "User-provided template",
		Category:    category,
		Complexity:  ComplexitySimple,
		Body:        req.Content,
	}, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
