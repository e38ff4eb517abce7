// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// fixture stores one conversation of two exchanges for alice and one
// exchange for bob.
func fixture(t *testing.T) (Sources, string) {
	t.Helper()
	ctx := context.Background()
	convs := storage.NewMemoryStore()
	metrics := telemetry.NewMemoryStore()
	now := time.Now().UTC().Add(-time.Minute)

	conv := &storage.Conversation{UserID: "alice", Title: "Pricing | plans", CreatedAt: now, UpdatedAt: now}
	id, err := convs.Create(ctx, conv)
	require.NoError(t, err)

	for i, text := range []string{"hello", "thanks"} {
		at := now.Add(time.Duration(i) * time.Second)
		require.NoError(t, convs.AppendMessage(ctx, id, storage.NewMessage(storage.RoleUser, text, at)))
		reply := storage.NewMessage(storage.RoleAssistant, "reply "+text, at.Add(time.Millisecond))
		reply.Metadata = map[string]any{"provider": "groq", "response_time_ms": int64(250), "tokens_used": 12, "cost_usd": "0.0001"}
		require.NoError(t, convs.AppendMessage(ctx, id, reply))

		mood := sentiment.NewResult(0.4, 0.5)
		require.NoError(t, metrics.Append(ctx, telemetry.ExchangeRecord{
			ID: telemetry.NewRecordID(), ConversationID: id, UserID: "alice",
			Provider: "groq", Model: "llama", LatencyMs: 250,
			TokensInput: 5, TokensOutput: 7, Tokens: 12,
			CostUSD: decimal.RequireFromString("0.0001"), Sentiment: &mood,
			Timestamp: at.Add(time.Millisecond),
		}))
	}
	require.NoError(t, metrics.Append(ctx, telemetry.ExchangeRecord{
		ID: telemetry.NewRecordID(), ConversationID: "other", UserID: "bob",
		Provider: "openai", Model: "gpt", LatencyMs: 900, Tokens: 3, TokensInput: 1, TokensOutput: 2,
		CostUSD: decimal.Zero, Timestamp: now,
	}))

	return Sources{
		Conversations: convs,
		Metrics:       metrics,
		Aggregator:    analytics.New(metrics, convs, analytics.Options{}),
	}, id
}

func TestParseFormat(t *testing.T) {
	tests := []struct {
		in   string
		want Format
		err  bool
	}{
		{"", FormatJSON, false},
		{"JSON", FormatJSON, false},
		{"csv", FormatCSV, false},
		{" md ", FormatMarkdown, false},
		{"markdown", FormatMarkdown, false},
		{"html", "", true},
	}
	for _, tt := range tests {
		got, err := ParseFormat(tt.in)
		if tt.err {
			assert.True(t, errors.Is(err, ErrUnsupportedFormat), tt.in)
			continue
		}
		require.NoError(t, err, tt.in)
		assert.Equal(t, tt.want, got, tt.in)
	}

	_, err := New(Format("pdf"), nil)
	assert.ErrorIs(t, err, ErrUnsupportedFormat)
}

func TestCollectUser(t *testing.T) {
	src, id := fixture(t)
	data, err := CollectUser(context.Background(), src, "alice", 7)
	require.NoError(t, err)

	assert.Equal(t, "alice", data.UserID)
	assert.Equal(t, 7, data.PeriodDays)
	require.Len(t, data.Conversations, 1)
	assert.Equal(t, id, data.Conversations[0].ID)
	assert.Len(t, data.Conversations[0].Messages, 4)
	assert.Len(t, data.Records, 2, "bob's record must not leak into alice's export")
	assert.Equal(t, 2, data.Summary.TotalExchanges)

	empty, err := CollectUser(context.Background(), src, "nobody", 7)
	require.NoError(t, err)
	assert.Empty(t, empty.Conversations)
	assert.Empty(t, empty.Records)

	_, err = CollectUser(context.Background(), src, "", 7)
	assert.Error(t, err)
}

func TestJSONUserRoundTrips(t *testing.T) {
	src, _ := fixture(t)
	data, err := CollectUser(context.Background(), src, "alice", 30)
	require.NoError(t, err)

	body, err := NewJSONExporter(nil).User(data)
	require.NoError(t, err)

	var decoded map[string]any
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, "alice", decoded["user_id"])
	assert.Len(t, decoded["records"], 2)
}

func TestCSVUserSections(t *testing.T) {
	src, id := fixture(t)
	data, err := CollectUser(context.Background(), src, "alice", 30)
	require.NoError(t, err)

	body, err := NewCSVExporter(nil).User(data)
	require.NoError(t, err)
	sections := strings.Split(string(body), "\n\n")
	require.Len(t, sections, 4, "summary, conversations, records, messages")

	rows, err := csv.NewReader(strings.NewReader(sections[1])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, conversationHeader, rows[0])
	assert.Equal(t, []string{id, "Pricing | plans"}, rows[1][:2])
	assert.Equal(t, "4", rows[1][3])
	assert.Equal(t, "24", rows[1][4])
	assert.Equal(t, "250", rows[1][5])

	records, err := csv.NewReader(strings.NewReader(sections[2])).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, recordHeader, records[0])
	assert.Len(t, records, 3)
	assert.Equal(t, "0.00010000", records[1][8])
	assert.Equal(t, "positive", records[1][9])

	noMessages, err := NewCSVExporter(&Options{}).User(data)
	require.NoError(t, err)
	assert.Len(t, strings.Split(string(noMessages), "\n\n"), 3)
}

func TestCSVReport(t *testing.T) {
	src, _ := fixture(t)
	rep, err := src.Aggregator.Report(context.Background(), analytics.ReportRequest{
		UserID: "alice", Type: analytics.ReportDetailed, Days: 30, IncludeRecommendations: true,
	})
	require.NoError(t, err)

	body, err := NewCSVExporter(nil).Report(rep)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.HasPrefix(out, "Metric,Value\n"))
	assert.Contains(t, out, "report_id,"+rep.ID)
	assert.Contains(t, out, "Category,Metric,Value")
	assert.Contains(t, out, "provider_count,groq,2")
	assert.Contains(t, out, "provider_percentage,groq,100")
	assert.Contains(t, out, "recommendation,1,")
}

func TestMarkdownReport(t *testing.T) {
	src, _ := fixture(t)
	rep, err := src.Aggregator.Report(context.Background(), analytics.ReportRequest{
		UserID: "alice", Type: analytics.ReportDetailed, Days: 30, IncludeRecommendations: true,
	})
	require.NoError(t, err)

	body, err := NewMarkdownExporter(nil).Report(rep)
	require.NoError(t, err)
	out := string(body)
	assert.True(t, strings.HasPrefix(out, "---\nreport_id: "+rep.ID+"\n"))
	assert.Contains(t, out, "scope: \"user:alice\"")
	assert.Contains(t, out, "| groq | 2 | 100.00% |")
	assert.Contains(t, out, "Pricing \\| plans")
	assert.Contains(t, out, "## Recommendations")

	plain, err := NewMarkdownExporter(&Options{}).Report(rep)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(plain), "# Analytics Report"))

	_, err = NewMarkdownExporter(nil).Report(&analytics.Report{ID: "x"})
	assert.Error(t, err)
}

func TestMarkdownUser(t *testing.T) {
	src, _ := fixture(t)
	data, err := CollectUser(context.Background(), src, "alice", 30)
	require.NoError(t, err)

	body, err := NewMarkdownExporter(nil).User(data)
	require.NoError(t, err)
	out := string(body)
	assert.Contains(t, out, "#### [User]")
	assert.Contains(t, out, "reply thanks")
	assert.Contains(t, out, "*groq | 250ms | 12 tokens | $0.0001*")
	assert.Contains(t, out, "- Positive: 2 (100.00%)")

	short, err := NewMarkdownExporter(&Options{IncludeMetadata: true}).User(data)
	require.NoError(t, err)
	assert.NotContains(t, string(short), "reply thanks")
}

func TestEscapeYAML(t *testing.T) {
	tests := []struct {
		in, want string
	}{
		{"plain", "plain"},
		{"a: b", `"a: b"`},
		{`back\slash`, `"back\\slash"`},
		{"line\nbreak", `"line\nbreak"`},
		{` padded`, `" padded"`},
		{`say "hi"`, `"say \"hi\""`},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, escapeYAML(tt.in), tt.in)
	}
}

func TestSanitizeFilename(t *testing.T) {
	assert.Equal(t, "a-b-c_d", sanitizeFilename("a/b:c d"))
	assert.Equal(t, "export", sanitizeFilename(""))
	assert.Equal(t, 50, len([]rune(sanitizeFilename(strings.Repeat("x", 80)))))
}

func TestWriteFile(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested")
	exp := NewJSONExporter(nil)

	path, err := WriteFile(dir, "user", "alice/bob", []byte(`{"ok":true}`), exp)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "user_alice-bob.json"), path)

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.JSONEq(t, `{"ok":true}`, string(got))
}

func TestFormatDuration(t *testing.T) {
	assert.Equal(t, "250ms", formatDuration(250))
	assert.Equal(t, "1.50s", formatDuration(1500))
	assert.Equal(t, "2m 5s", formatDuration(125000))
}
