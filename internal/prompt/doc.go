// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

// Package prompt validates prompts and renders the built-in templates.
//
// Placeholders are written {name} or {{name}}. A prompt is valid when it is
// non-empty, at most MaxPromptRunes long, has balanced braces and every
// placeholder has a value.
//
// # Usage
//
//	res, err := prompt.Validate(prompt.Request{
//		TemplateID: "tutor",
//		Variables:  map[string]string{"concept": "recursion", "student_level": "beginner", "context": "CS101"},
//	})
//	fmt.Println(res.Valid, res.RenderedPrompt)
package prompt
