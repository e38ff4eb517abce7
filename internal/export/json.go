// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"encoding/json"
	"fmt"

	"github.com/jeranaias/promptlab/internal/analytics"
)

// =============================================================================
// JSON EXPORTER
// =============================================================================

// JSONExporter renders documents as indented JSON. It always writes the
// complete document regardless of options.
type JSONExporter struct {
	options *Options
}

// NewJSONExporter creates a new JSON exporter.
func NewJSONExporter(opts *Options) *JSONExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &JSONExporter{options: opts}
}

// Report implements Exporter.
func (e *JSONExporter) Report(rep *analytics.Report) ([]byte, error) {
	if rep == nil {
		return nil, fmt.Errorf("report is nil")
	}
	return json.MarshalIndent(rep, "", "  ")
}

// User implements Exporter.
func (e *JSONExporter) User(data *UserData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("user data is nil")
	}
	return json.MarshalIndent(data, "", "  ")
}

// FileExtension returns the file extension for JSON.
func (e *JSONExporter) FileExtension() string {
	return ".json"
}

// MimeType returns the MIME type for JSON.
func (e *JSONExporter) MimeType() string {
	return "application/json"
}
