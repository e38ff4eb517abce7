// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// DESCRIPTOR & PRICING TESTS
// =============================================================================

func TestDescriptor_Cost(t *testing.T) {
	d, ok := DefaultDescriptor(OpenAI)
	require.True(t, ok)

	// 1000 in at $0.50/M + 500 out at $1.50/M = 0.0005 + 0.00075
	got := d.Cost(1000, 500)
	assert.True(t, got.Equal(decimal.RequireFromString("0.00125")), "cost = %s", got)

	assert.True(t, d.Cost(0, 0).IsZero())
}

func TestDefaultDescriptor_Unknown(t *testing.T) {
	if _, ok := DefaultDescriptor("mistral"); ok {
		t.Error("DefaultDescriptor(mistral) should not exist")
	}
}

func TestDefaultDescriptor_ReturnsCopy(t *testing.T) {
	d, _ := DefaultDescriptor(Gemini)
	d.Capabilities[0] = "mutated"
	again, _ := DefaultDescriptor(Gemini)
	if again.Capabilities[0] == "mutated" {
		t.Error("DefaultDescriptor leaked shared slice")
	}
}

func TestSettings_Describe_Overrides(t *testing.T) {
	price := decimal.RequireFromString("2.5")
	s := Settings{Name: "OpenAI", Model: "gpt-4o-mini", InputPricePerMillion: &price, RequestsPerMinute: 10}
	d := s.Describe()

	assert.Equal(t, OpenAI, d.Name)
	assert.Equal(t, "gpt-4o-mini", d.Model)
	assert.True(t, d.InputPricePerMillion.Equal(price))
	assert.True(t, d.OutputPricePerMillion.Equal(decimal.RequireFromString("1.50")))
	assert.Equal(t, 10, d.RateLimits.RequestsPerMinute)
}

func TestEstimateTokens(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		if got := EstimateTokens(tt.text); got != tt.want {
			t.Errorf("EstimateTokens(%q) = %d, want %d", tt.text, got, tt.want)
		}
	}
}

func TestRequest_Messages(t *testing.T) {
	req := Request{
		Prompt:  "now",
		History: []Message{{Role: RoleUser, Content: "a"}, {Role: RoleAssistant, Content: "b"}},
	}
	msgs := req.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, Message{Role: RoleUser, Content: "now"}, msgs[2])
	assert.Len(t, req.History, 2, "Messages must not grow History")
}

// =============================================================================
// ERROR TESTS
// =============================================================================

func TestKindForStatus(t *testing.T) {
	tests := map[int]ErrorKind{
		http.StatusTooManyRequests:     KindRateLimited,
		http.StatusGatewayTimeout:      KindTimeout,
		http.StatusBadRequest:          KindInvalidRequest,
		http.StatusNotFound:            KindInvalidRequest,
		http.StatusInternalServerError: KindUnavailable,
		http.StatusUnauthorized:        KindUnavailable,
	}
	for status, want := range tests {
		if got := KindForStatus(status); got != want {
			t.Errorf("KindForStatus(%d) = %s, want %s", status, got, want)
		}
	}
}

func TestWrap(t *testing.T) {
	e := Wrap("groq", context.DeadlineExceeded)
	assert.Equal(t, KindTimeout, e.Kind)
	assert.True(t, errors.Is(e, ErrTimeout))
	assert.True(t, errors.Is(e, context.DeadlineExceeded))

	e = Wrap("groq", ErrNotConfigured)
	assert.Equal(t, KindInvalidRequest, e.Kind)

	orig := &Error{Provider: "x", Kind: KindRateLimited}
	assert.Same(t, orig, Wrap("y", fmt.Errorf("wrapped: %w", orig)))

	assert.Nil(t, Wrap("x", nil))
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindRateLimited, KindOf(fmt.Errorf("x: %w", ErrRateLimited)))
	assert.Equal(t, KindTimeout, KindOf(context.DeadlineExceeded))
	assert.Equal(t, KindUnavailable, KindOf(errors.New("boom")))
}

// =============================================================================
// RATE LIMIT TESTS
// =============================================================================

type stubClient struct {
	desc  Descriptor
	calls int
}

func (s *stubClient) Generate(ctx context.Context, req Request) (*Reply, error) {
	s.calls++
	return &Reply{Text: "ok", TokensInput: 1, TokensOutput: 1}, nil
}

func (s *stubClient) Descriptor() Descriptor { return s.desc }

func TestWithRateLimit_Unlimited(t *testing.T) {
	stub := &stubClient{desc: Descriptor{Name: "x"}}
	if WithRateLimit(stub) != Client(stub) {
		t.Error("WithRateLimit should return the client unchanged when no limits are set")
	}
}

func TestWithRateLimit_RequestsPerMinute(t *testing.T) {
	stub := &stubClient{desc: Descriptor{Name: "x", RateLimits: RateLimits{RequestsPerMinute: 2}}}
	c := WithRateLimit(stub).(*limitedClient)
	frozen := time.Now()
	c.now = func() time.Time { return frozen }

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := c.Generate(ctx, Request{Prompt: "hi"}); err != nil {
			t.Fatalf("call %d: %v", i, err)
		}
	}
	_, err := c.Generate(ctx, Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Equal(t, KindRateLimited, KindOf(err))
	assert.Equal(t, 2, stub.calls, "rejected call must not reach the provider")

	// Half a minute later one more request fits.
	frozen = frozen.Add(30 * time.Second)
	_, err = c.Generate(ctx, Request{Prompt: "hi"})
	assert.NoError(t, err)
}

func TestWithRateLimit_TokensPerMinute(t *testing.T) {
	stub := &stubClient{desc: Descriptor{Name: "x", RateLimits: RateLimits{TokensPerMinute: 10}}}
	c := WithRateLimit(stub).(*limitedClient)
	frozen := time.Now()
	c.now = func() time.Time { return frozen }

	// 40 chars = 10 tokens, exactly the burst.
	prompt := "0123456789012345678901234567890123456789"
	_, err := c.Generate(context.Background(), Request{Prompt: prompt})
	require.NoError(t, err)

	_, err = c.Generate(context.Background(), Request{Prompt: "more"})
	assert.Equal(t, KindRateLimited, KindOf(err))
}

// =============================================================================
// ADAPTER TESTS
// =============================================================================

func TestOpenAIClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		var body struct {
			Model    string    `json:"model"`
			Messages []Message `json:"messages"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "gpt-3.5-turbo", body.Model)
		require.Len(t, body.Messages, 2)
		assert.Equal(t, RoleSystem, body.Messages[0].Role)
		assert.Equal(t, "Hello", body.Messages[1].Content)

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","model":"gpt-3.5-turbo-0125",
			"choices":[{"index":0,"message":{"role":"assistant","content":"Hi"},"finish_reason":"stop"}],
			"usage":{"prompt_tokens":1000,"completion_tokens":500,"total_tokens":1500}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(OpenAI)
	c := NewOpenAIClient("sk-test", srv.URL, desc)
	reply, err := c.Generate(context.Background(), Request{Prompt: "Hello", System: "be brief"})
	require.NoError(t, err)

	assert.Equal(t, "Hi", reply.Text)
	assert.Equal(t, "gpt-3.5-turbo-0125", reply.Model)
	assert.Equal(t, 1500, reply.TotalTokens())
	assert.True(t, reply.CostUSD.Equal(decimal.RequireFromString("0.00125")), "cost = %s", reply.CostUSD)
}

func TestOpenAIClient_RateLimited(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusTooManyRequests)
		fmt.Fprint(w, `{"error":{"message":"slow down","type":"rate_limit_exceeded"}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(Groq)
	c := NewGroqClient("gsk-test", srv.URL, desc)
	_, err := c.Generate(context.Background(), Request{Prompt: "Hello"})
	require.Error(t, err)

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, Groq, pe.Provider)
	assert.Equal(t, KindRateLimited, pe.Kind)
}

func TestOpenAIClient_NotConfigured(t *testing.T) {
	desc, _ := DefaultDescriptor(OpenAI)
	_, err := NewOpenAIClient("", "", desc).Generate(context.Background(), Request{Prompt: "x"})
	assert.True(t, errors.Is(err, ErrNotConfigured))
	assert.Equal(t, KindInvalidRequest, KindOf(err))
}

func TestGeminiClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/models/gemini-1.5-flash:generateContent", r.URL.Path)
		assert.Equal(t, "g-key", r.Header.Get("x-goog-api-key"))
		assert.Empty(t, r.URL.Query().Get("key"), "api key must not travel in the URL")

		var body geminiRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		require.Len(t, body.Contents, 3)
		assert.Equal(t, "model", body.Contents[1].Role)

		fmt.Fprint(w, `{"candidates":[{"content":{"role":"model","parts":[{"text":"Hola"}]},"finishReason":"STOP"}],
			"usageMetadata":{"promptTokenCount":10,"candidatesTokenCount":2,"totalTokenCount":12}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(Gemini)
	c := NewGeminiClient("g-key", srv.URL, desc)
	reply, err := c.Generate(context.Background(), Request{
		Prompt:  "Hola?",
		History: []Message{{Role: RoleUser, Content: "hi"}, {Role: RoleAssistant, Content: "hello"}},
	})
	require.NoError(t, err)
	assert.Equal(t, "Hola", reply.Text)
	assert.Equal(t, 10, reply.TokensInput)
	assert.Equal(t, 2, reply.TokensOutput)
	assert.Equal(t, "gemini-1.5-flash", reply.Model)
}

func TestGeminiClient_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"code":400,"message":"bad prompt","status":"INVALID_ARGUMENT"}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(Gemini)
	_, err := NewGeminiClient("k", srv.URL, desc).Generate(context.Background(), Request{Prompt: "x"})

	var pe *Error
	require.True(t, errors.As(err, &pe))
	assert.Equal(t, KindInvalidRequest, pe.Kind)
	assert.Equal(t, http.StatusBadRequest, pe.Status)
	assert.Contains(t, pe.Message, "INVALID_ARGUMENT")
}

func TestGeminiClient_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	desc, _ := DefaultDescriptor(Gemini)
	_, err := NewGeminiClient("k", srv.URL, desc).Generate(ctx, Request{Prompt: "x"})
	assert.Equal(t, KindTimeout, KindOf(err))
}

func TestClaudeClient_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "a-key", r.Header.Get("x-api-key"))
		assert.Equal(t, anthropicVersion, r.Header.Get("anthropic-version"))

		var body claudeRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "sys", body.System)
		assert.Equal(t, 2048, body.MaxTokens)

		fmt.Fprint(w, `{"id":"m1","model":"claude-3-haiku-20240307","content":[{"type":"text","text":"Sure."}],
			"stop_reason":"end_turn","usage":{"input_tokens":4,"output_tokens":2}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(Claude)
	reply, err := NewClaudeClient("a-key", srv.URL, desc).Generate(context.Background(),
		Request{Prompt: "go", System: "sys", MaxTokens: 2048})
	require.NoError(t, err)
	assert.Equal(t, "Sure.", reply.Text)
	assert.Equal(t, 6, reply.TotalTokens())
}

func TestClaudeClient_Overloaded(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(claudeOverloaded)
		fmt.Fprint(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	}))
	defer srv.Close()

	desc, _ := DefaultDescriptor(Claude)
	_, err := NewClaudeClient("a-key", srv.URL, desc).Generate(context.Background(), Request{Prompt: "go"})
	assert.Equal(t, KindUnavailable, KindOf(err))
	assert.Contains(t, err.Error(), "overloaded_error")
}

// =============================================================================
// REGISTRY TESTS
// =============================================================================

func TestNew_PicksAdapter(t *testing.T) {
	tests := []struct {
		settings Settings
		wantName string
	}{
		{Settings{Name: "gemini", APIKey: "k"}, Gemini},
		{Settings{Name: "groq", APIKey: "k"}, Groq},
		{Settings{Name: "openai", APIKey: "k"}, OpenAI},
		{Settings{Name: "claude", APIKey: "k"}, Claude},
		{Settings{Name: "local", API: "openai", Model: "llama3", BaseURL: "http://127.0.0.1:11434/v1"}, "local"},
	}
	for _, tt := range tests {
		c, err := New(tt.settings)
		require.NoError(t, err, tt.settings.Name)
		assert.Equal(t, tt.wantName, c.Descriptor().Name)
	}
}

func TestNew_Errors(t *testing.T) {
	_, err := New(Settings{Name: "mystery", Model: "m"})
	assert.True(t, errors.Is(err, ErrUnknownAPI))

	_, err = New(Settings{Name: "mystery", API: "openai"})
	assert.Error(t, err, "model is required for providers without defaults")
}

func TestNewAll_RejectsDuplicates(t *testing.T) {
	_, err := NewAll([]Settings{{Name: "openai"}, {Name: "OpenAI"}})
	assert.Error(t, err)

	clients, err := NewAll([]Settings{{Name: "groq"}, {Name: "gemini"}})
	require.NoError(t, err)
	assert.Equal(t, Groq, clients[0].Descriptor().Name)
	assert.Equal(t, Gemini, clients[1].Descriptor().Name)
}
