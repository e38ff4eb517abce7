// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"errors"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// DefaultGroqURL is Groq's OpenAI-compatible endpoint.
const DefaultGroqURL = "https://api.groq.com/openai/v1"

// OpenAIClient talks to any OpenAI-compatible chat completions API. It backs
// both the openai and groq providers.
type OpenAIClient struct {
	api        *openai.Client
	configured bool
	desc       Descriptor
}

// NewOpenAIClient creates an adapter for an OpenAI-compatible API. An empty
// baseURL keeps the SDK default (api.openai.com).
func NewOpenAIClient(apiKey, baseURL string, desc Descriptor) *OpenAIClient {
	return newOpenAIClient(apiKey, baseURL, desc, sharedHTTPClient)
}

// NewGroqClient creates an adapter for Groq. An empty baseURL selects
// DefaultGroqURL.
func NewGroqClient(apiKey, baseURL string, desc Descriptor) *OpenAIClient {
	if baseURL == "" {
		baseURL = DefaultGroqURL
	}
	if desc.Name == "" {
		desc.Name = Groq
	}
	return newOpenAIClient(apiKey, baseURL, desc, sharedHTTPClient)
}

func newOpenAIClient(apiKey, baseURL string, desc Descriptor, hc *http.Client) *OpenAIClient {
	apiKey = strings.TrimSpace(apiKey)
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimSuffix(baseURL, "/")
	}
	cfg.HTTPClient = hc
	if desc.Name == "" {
		desc.Name = OpenAI
	}
	return &OpenAIClient{
		api:        openai.NewClientWithConfig(cfg),
		configured: apiKey != "",
		desc:       desc.clone(),
	}
}

// WithHTTPClient rebuilds the SDK client on a different transport, mainly
// for tests.
func (c *OpenAIClient) WithHTTPClient(apiKey, baseURL string, hc *http.Client) *OpenAIClient {
	return newOpenAIClient(apiKey, baseURL, c.desc, hc)
}

// Descriptor implements Client.
func (c *OpenAIClient) Descriptor() Descriptor {
	return c.desc.clone()
}

// Generate implements Client.
func (c *OpenAIClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	name := c.desc.Name
	if !c.configured {
		return nil, Wrap(name, ErrNotConfigured)
	}

	msgs := make([]openai.ChatCompletionMessage, 0, len(req.History)+2)
	if req.System != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: req.System})
	}
	for _, m := range req.Messages() {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: m.Role, Content: m.Content})
	}

	resp, err := c.api.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       c.desc.Model,
		Messages:    msgs,
		MaxTokens:   req.MaxTokens,
		Temperature: float32(req.Temperature),
	})
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, Wrap(name, ctxErr)
		}
		return nil, openaiError(name, err)
	}

	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return nil, &Error{Provider: name, Kind: KindUnavailable, Message: "no choices in response", Err: ErrEmptyResponse}
	}

	text := resp.Choices[0].Message.Content
	in, out := resp.Usage.PromptTokens, resp.Usage.CompletionTokens
	if in == 0 && out == 0 {
		in = req.EstimatedInputTokens()
		out = EstimateTokens(text)
	}
	model := resp.Model
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

// openaiError maps SDK error types onto *Error.
func openaiError(name string, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return &Error{Provider: name, Kind: KindForStatus(apiErr.HTTPStatusCode),
			Status: apiErr.HTTPStatusCode, Message: apiErr.Message, Err: err}
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return &Error{Provider: name, Kind: KindForStatus(reqErr.HTTPStatusCode),
			Status: reqErr.HTTPStatusCode, Message: reqErr.Error(), Err: err}
	}
	return Wrap(name, err)
}
