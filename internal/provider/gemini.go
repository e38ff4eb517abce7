// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

// DefaultGeminiURL is the base URL of the Generative Language API.
const DefaultGeminiURL = "https://generativelanguage.googleapis.com/v1beta"

// GeminiClient calls Google's generateContent endpoint.
type GeminiClient struct {
	apiKey     string
	baseURL    string
	desc       Descriptor
	httpClient *http.Client
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent         `json:"contents"`
	SystemInstruction *geminiContent          `json:"systemInstruction,omitempty"`
	GenerationConfig  *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	Temperature     float64 `json:"temperature"`
	MaxOutputTokens int     `json:"maxOutputTokens,omitempty"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	UsageMetadata struct {
		PromptTokenCount     int `json:"promptTokenCount"`
		CandidatesTokenCount int `json:"candidatesTokenCount"`
		TotalTokenCount      int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
	ModelVersion string `json:"modelVersion"`
}

type geminiErrorResponse struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}

// NewGeminiClient creates a Gemini adapter. An empty baseURL selects
// DefaultGeminiURL.
func NewGeminiClient(apiKey, baseURL string, desc Descriptor) *GeminiClient {
	if baseURL == "" {
		baseURL = DefaultGeminiURL
	}
	if desc.Name == "" {
		desc.Name = Gemini
	}
	return &GeminiClient{
		apiKey:     strings.TrimSpace(apiKey),
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		desc:       desc.clone(),
		httpClient: sharedHTTPClient,
	}
}

// WithHTTPClient replaces the transport, mainly for tests.
func (c *GeminiClient) WithHTTPClient(hc *http.Client) *GeminiClient {
	c.httpClient = hc
	return c
}

// Descriptor implements Client.
func (c *GeminiClient) Descriptor() Descriptor {
	return c.desc.clone()
}

// Generate implements Client.
func (c *GeminiClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	if c.apiKey == "" {
		return nil, Wrap(c.desc.Name, ErrNotConfigured)
	}

	body := geminiRequest{
		GenerationConfig: &geminiGenerationConfig{
			Temperature:     req.Temperature,
			MaxOutputTokens: req.MaxTokens,
		},
	}
	if req.System != "" {
		body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: req.System}}}
	}
	for _, m := range req.Messages() {
		switch m.Role {
		case RoleSystem:
			// Gemini has no inline system role; fold into the instruction.
			if body.SystemInstruction == nil {
				body.SystemInstruction = &geminiContent{}
			}
			body.SystemInstruction.Parts = append(body.SystemInstruction.Parts, geminiPart{Text: m.Content})
		case RoleAssistant:
			body.Contents = append(body.Contents, geminiContent{Role: "model", Parts: []geminiPart{{Text: m.Content}}})
		default:
			body.Contents = append(body.Contents, geminiContent{Role: "user", Parts: []geminiPart{{Text: m.Content}}})
		}
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", c.baseURL, c.desc.Model)
	headers := map[string]string{"x-goog-api-key": c.apiKey}

	var resp geminiResponse
	if err := postJSON(ctx, c.httpClient, c.desc.Name, url, headers, body, &resp, geminiErrorMessage); err != nil {
		return nil, err
	}

	if len(resp.Candidates) == 0 {
		return nil, &Error{Provider: c.desc.Name, Kind: KindUnavailable, Message: "no candidates in response", Err: ErrEmptyResponse}
	}
	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		sb.WriteString(p.Text)
	}
	text := sb.String()
	if strings.TrimSpace(text) == "" {
		return nil, &Error{Provider: c.desc.Name, Kind: KindUnavailable,
			Message: "empty candidate (finish reason " + resp.Candidates[0].FinishReason + ")", Err: ErrEmptyResponse}
	}

	in := resp.UsageMetadata.PromptTokenCount
	out := resp.UsageMetadata.CandidatesTokenCount
	if in == 0 && out == 0 {
		in = req.EstimatedInputTokens()
		out = EstimateTokens(text)
	}
	model := resp.ModelVersion
	if model == "" {
		model = c.desc.Model
	}

	return &Reply{
		Text:         text,
		Model:        model,
		TokensInput:  in,
		TokensOutput: out,
		CostUSD:      c.desc.Cost(in, out),
	}, nil
}

func geminiErrorMessage(data []byte) string {
	var e geminiErrorResponse
	if json.Unmarshal(data, &e) != nil {
		return ""
	}
	if e.Error.Status != "" {
		return e.Error.Status + ": " + e.Error.Message
	}
	return e.Error.Message
}
