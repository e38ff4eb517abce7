// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"encoding/json"
	"io"
	"os"
	"time"
)

// JSONResponse is the envelope every command prints under --json.
type JSONResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data"`
	Error     *string     `json:"error"`
	Timestamp string      `json:"timestamp"`
	Command   string      `json:"command,omitempty"`
}

// NewJSONResponse creates a new successful JSON response.
func NewJSONResponse(command string, data interface{}) *JSONResponse {
	return &JSONResponse{
		Success:   true,
		Data:      data,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// NewJSONErrorResponse creates a new error JSON response.
func NewJSONErrorResponse(command string, err error) *JSONResponse {
	errStr := err.Error()
	return &JSONResponse{
		Success:   false,
		Error:     &errStr,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Command:   command,
	}
}

// WriteTo writes the indented response to w.
func (r *JSONResponse) WriteTo(w io.Writer) error {
	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	return encoder.Encode(r)
}

// Print outputs the JSON response to stdout. Human-readable messages go to
// stderr when JSON mode is on.
func (r *JSONResponse) Print() error {
	return r.WriteTo(os.Stdout)
}

// =============================================================================
// COMMAND DATA
// =============================================================================

// VersionData represents the data returned by the version command.
type VersionData struct {
	Version   string `json:"version"`
	GitCommit string `json:"git_commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version,omitempty"`
}

// AskData is the result of the ask command.
type AskData struct {
	ConversationID string   `json:"conversation_id"`
	Response       string   `json:"response"`
	Provider       string   `json:"provider"`
	Model          string   `json:"model"`
	InputTokens    int      `json:"input_tokens"`
	OutputTokens   int      `json:"output_tokens"`
	CostUSD        string   `json:"cost_usd"`
	LatencyMs      int64    `json:"latency_ms"`
	Sentiment      string   `json:"sentiment,omitempty"`
	FailedAttempts []string `json:"failed_attempts,omitempty"`
	Warnings       []string `json:"warnings,omitempty"`
}

// StatusData is the result of the status command.
type StatusData struct {
	ConfigPath    string   `json:"config_path"`
	Storage       string   `json:"storage"`
	StoragePath   string   `json:"storage_path,omitempty"`
	Providers     []string `json:"providers"`
	Skipped       []string `json:"skipped_providers"`
	Exchanges24h  int      `json:"exchanges_24h"`
	RetentionDays int      `json:"retention_days"`
	ListenAddr    string   `json:"listen_addr"`
}
