// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
)

const (
	// DefaultClaudeURL is the base URL of the Anthropic API.
	DefaultClaudeURL = "https://api.anthropic.com"

	anthropicVersion = "2023-06-01"
)

// ClaudeClient calls Anthropic's Messages API.
type ClaudeClient struct {
	apiKey     string
	baseURL    string
	desc       Descriptor
	httpClient *http.Client
}

type claudeMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type claudeRequest struct {
	Model       string          `json:"model"`
	MaxTokens   int             `json:"max_tokens"`
	System      string          `json:"system,omitempty"`
	Messages    []claudeMessage `json:"messages"`
	Temperature float64         `json:"temperature"`
}

type claudeResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

type claudeErrorResponse struct {
	Type  string `json:"type"`
	Error struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// claudeOverloaded is Anthropic's non-standard "overloaded" status.
const claudeOverloaded = 529

// NewClaudeClient creates a Claude adapter. An empty baseURL selects
// DefaultClaudeURL.
func NewClaudeClient(apiKey, baseURL string, desc Descriptor) *ClaudeClient {
	if baseURL == "" {
		baseURL = DefaultClaudeURL
	}
	if desc.Name == "" {
		desc.Name = Claude
	}
	return &ClaudeClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		desc:       desc.clone(),
		httpClient: sharedHTTPClient,
	}
}

// WithHTTPClient replaces the transport, mainly for tests.
func (c *ClaudeClient) WithHTTPClient(hc *http.Client) *ClaudeClient {
	c.httpClient = hc
	return c
}

// Descriptor implements Client.
func (c *ClaudeClient) Descriptor() Descriptor {
	return c.desc.clone()
}

// Generate implements Client.
func (c *ClaudeClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	if c.apiKey == "" {
		return nil, Wrap(c.desc.Name, ErrNotConfigured)
	}

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = 1024
	}
	body := claudeRequest{
		Model:       c.desc.Model,
		MaxTokens:   maxTokens,
		System:      req.System,
		Temperature: req.Temperature,
	}
	for _, m := range req.Messages() {
		if m.Role == RoleSystem {
			if body.System != "" {
				body.System += "\n\n"
			}
			body.System += m.Content
			continue
		}
		body.Messages = append(body.Messages, claudeMessage{Role: m.Role, Content: m.Content})
	}

	headers := map[string]string{
		"x-api-key":         c.apiKey,
		"anthropic-version": anthropicVersion,
	}

	var resp claudeResponse
	err := postJSON(ctx, c.httpClient, c.desc.Name, c.baseURL+"/v1/messages", headers, body, &resp, claudeErrorMessage)
	if err != nil {
		if pe, ok := err.(*Error); ok && pe.Status == claudeOverloaded {
			pe.Kind = KindUnavailable
		}
		return nil, err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Provider: c.desc.Name, Kind: KindUnavailable, Message: "no text content in response", Err: ErrEmptyResponse}
	}

	model := resp.Model
	if model == "" {
		model = c.desc.Model
	}
	in, out := resp.Usage.InputTokens, resp.Usage.OutputTokens
	return &Reply{
		Text:         text,
		Model:        model,
		TokensInput:  in,
		TokensOutput: out,
		CostUSD:      c.desc.Cost(in, out),
	}, nil
}

func claudeErrorMessage(data []byte) string {
	var e claudeErrorResponse
	if json.Unmarshal(data, &e) != nil {
		return ""
	}
	if e.Error.Type != "" {
		return e.Error.Type + ": " + e.Error.Message
	}
	return e.Error.Message
}
