// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
	"time"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// CSV EXPORTER
// =============================================================================

// CSVExporter renders documents as CSV sections separated by blank lines.
// Each section starts with its own header row.
type CSVExporter struct {
	options *Options
}

// NewCSVExporter creates a new CSV exporter.
func NewCSVExporter(opts *Options) *CSVExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &CSVExporter{options: opts}
}

// Section headers.
var (
	summaryHeader      = []string{"Metric", "Value"}
	conversationHeader = []string{"ID", "Title", "Created At", "Message Count", "Total Tokens", "Avg Response Time"}
	breakdownHeader    = []string{"Category", "Metric", "Value"}
	recordHeader       = []string{"Record ID", "Conversation ID", "Timestamp", "Provider", "Model", "Latency Ms", "Tokens Input", "Tokens Output", "Cost USD", "Sentiment"}
	messageHeader      = []string{"Conversation ID", "Message ID", "Role", "Timestamp", "Content"}
)

// Report implements Exporter.
func (e *CSVExporter) Report(rep *analytics.Report) ([]byte, error) {
	if rep == nil {
		return nil, fmt.Errorf("report is nil")
	}

	sections := [][][]string{
		append([][]string{summaryHeader},
			append([][]string{
				{"report_id", rep.ID},
				{"report_type", string(rep.Type)},
				{"generated_at", rep.GeneratedAt.UTC().Format(time.RFC3339)},
			}, summaryRows(rep.Summary, rep.Insights)...)...),
	}

	if len(rep.Conversations) > 0 {
		rows := [][]string{conversationHeader}
		for _, c := range rep.Conversations {
			rows = append(rows, []string{
				c.ID, c.Title, c.CreatedAt.UTC().Format(time.RFC3339),
				strconv.Itoa(c.MessageCount), strconv.Itoa(c.TotalTokens), formatFloat(c.AvgResponseTimeMs),
			})
		}
		sections = append(sections, rows)
	}

	breakdown := append([][]string{breakdownHeader}, breakdownRows(rep.Summary)...)
	for i, r := range rep.Recommendations {
		breakdown = append(breakdown, []string{"recommendation", strconv.Itoa(i + 1), r})
	}
	sections = append(sections, breakdown)

	if len(rep.Records) > 0 {
		sections = append(sections, e.recordRows(rep.Records))
	}
	return writeSections(sections)
}

// User implements Exporter.
func (e *CSVExporter) User(data *UserData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("user data is nil")
	}

	summary := [][]string{summaryHeader,
		{"user_id", data.UserID},
		{"exported_at", data.ExportedAt.UTC().Format(time.RFC3339)},
	}
	if data.Summary != nil {
		summary = append(summary, summaryRows(data.Summary, analytics.NewInsights(data.Summary))...)
	}

	convs := [][]string{conversationHeader}
	tokens, latency := conversationTotals(data)
	for _, c := range data.Conversations {
		convs = append(convs, []string{
			c.ID, c.Title, c.CreatedAt.UTC().Format(time.RFC3339),
			strconv.Itoa(len(c.Messages)), strconv.Itoa(tokens[c.ID]), formatFloat(latency[c.ID]),
		})
	}

	sections := [][][]string{summary, convs, e.recordRows(data.Records)}
	if e.options.IncludeMessages {
		msgs := [][]string{messageHeader}
		for _, c := range data.Conversations {
			for _, m := range c.Messages {
				msgs = append(msgs, []string{c.ID, m.ID, m.Role, m.Timestamp.UTC().Format(time.RFC3339Nano), m.Content})
			}
		}
		sections = append(sections, msgs)
	}
	return writeSections(sections)
}

// FileExtension returns the file extension for CSV.
func (e *CSVExporter) FileExtension() string {
	return ".csv"
}

// MimeType returns the MIME type for CSV.
func (e *CSVExporter) MimeType() string {
	return "text/csv"
}

func (e *CSVExporter) recordRows(records []telemetry.ExchangeRecord) [][]string {
	rows := [][]string{recordHeader}
	for _, r := range records {
		mood := ""
		if r.Sentiment != nil {
			mood = string(r.Sentiment.Label)
		}
		rows = append(rows, []string{
			r.ID, r.ConversationID, r.Timestamp.UTC().Format(time.RFC3339Nano),
			r.Provider, r.Model, strconv.FormatInt(r.LatencyMs, 10),
			strconv.Itoa(r.TokensInput), strconv.Itoa(r.TokensOutput),
			r.CostUSD.StringFixed(analytics.UnitCostPlaces), mood,
		})
	}
	return rows
}

// =============================================================================
// ROW BUILDERS
// =============================================================================

func summaryRows(s *analytics.Summary, in analytics.Insights) [][]string {
	if s == nil {
		return nil
	}
	rows := [][]string{
		{"scope", s.Scope.String()},
		{"period_days", strconv.Itoa(s.WindowDays)},
		{"total_conversations", strconv.Itoa(s.TotalConversations)},
		{"total_messages", strconv.Itoa(s.TotalMessages)},
		{"total_tokens_used", strconv.Itoa(s.TotalTokens)},
		{"total_cost_usd", s.TotalCost.String()},
		{"avg_response_time_ms", formatFloat(s.AvgResponseTimeMs)},
		{"most_used_provider", derefString(s.MostUsedProvider, "")},
		{"efficiency_score", formatFloat(in.EfficiencyScore)},
	}
	if s.Activity != nil {
		rows = append(rows,
			[]string{"activity_level", string(s.Activity.Level)},
			[]string{"activity_trend", string(s.Activity.Trend)})
	}
	if s.Platform != nil {
		rows = append(rows,
			[]string{"total_users", strconv.Itoa(s.Platform.TotalUsers)},
			[]string{"platform_health", string(s.Platform.Health)},
			[]string{"platform_utilization", formatFloat(s.Platform.Utilization)})
	}
	return rows
}

func breakdownRows(s *analytics.Summary) [][]string {
	if s == nil {
		return nil
	}
	var rows [][]string
	for _, p := range s.Providers {
		rows = append(rows,
			[]string{"provider_count", p.Provider, strconv.Itoa(p.Count)},
			[]string{"provider_percentage", p.Provider, formatFloat(p.Percentage)},
			[]string{"provider_cost", p.Provider, p.Cost.String()})
	}
	for _, l := range s.Sentiment.Labels {
		rows = append(rows,
			[]string{"sentiment_count", string(l.Label), strconv.Itoa(l.Count)},
			[]string{"sentiment_percentage", string(l.Label), formatFloat(l.Percentage)})
	}
	rows = append(rows,
		[]string{"sentiment", "trend", string(s.Sentiment.Trend)},
		[]string{"sentiment", "avg_polarity", formatFloat(s.Sentiment.AvgPolarity)},
		[]string{"cost_analysis", "total_cost", s.Cost.Total.String()},
		[]string{"cost_analysis", "cost_per_message", s.Cost.PerMessage.String()},
		[]string{"cost_analysis", "cost_per_token", s.Cost.PerToken.String()})
	for _, d := range s.Cost.Daily {
		rows = append(rows, []string{"daily_cost", d.Date, d.Cost.String()})
	}
	return rows
}

// conversationTotals sums tokens and averages latency per conversation.
func conversationTotals(data *UserData) (map[string]int, map[string]float64) {
	tokens := make(map[string]int)
	sum := make(map[string]int64)
	n := make(map[string]int)
	for _, r := range data.Records {
		tokens[r.ConversationID] += r.Tokens
		sum[r.ConversationID] += r.LatencyMs
		n[r.ConversationID]++
	}
	latency := make(map[string]float64, len(n))
	for id, count := range n {
		latency[id] = float64(sum[id]) / float64(count)
	}
	return tokens, latency
}

func writeSections(sections [][][]string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	for i, rows := range sections {
		if i > 0 {
			buf.WriteString("\n")
		}
		if err := w.WriteAll(rows); err != nil {
			return nil, fmt.Errorf("write csv: %w", err)
		}
	}
	return buf.Bytes(), nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
