// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package export

import (
	"fmt"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/jeranaias/promptlab/internal/analytics"
	"github.com/jeranaias/promptlab/internal/storage"
)

// =============================================================================
// MARKDOWN EXPORTER
// =============================================================================

// MarkdownExporter renders documents as Markdown with optional YAML front matter.
type MarkdownExporter struct {
	options *Options
}

// NewMarkdownExporter creates a new Markdown exporter.
func NewMarkdownExporter(opts *Options) *MarkdownExporter {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &MarkdownExporter{options: opts}
}

// Report implements Exporter.
func (e *MarkdownExporter) Report(rep *analytics.Report) ([]byte, error) {
	if rep == nil {
		return nil, fmt.Errorf("report is nil")
	}
	if rep.Summary == nil {
		return nil, fmt.Errorf("report %s has no summary", rep.ID)
	}

	var sb strings.Builder
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("report_id: %s\n", escapeYAML(rep.ID)))
		sb.WriteString(fmt.Sprintf("type: %s\n", rep.Type))
		sb.WriteString(fmt.Sprintf("scope: %s\n", escapeYAML(rep.Summary.Scope.String())))
		sb.WriteString(fmt.Sprintf("period_days: %d\n", rep.PeriodDays))
		sb.WriteString(fmt.Sprintf("generated: %s\n", rep.GeneratedAt.UTC().Format(time.RFC3339)))
		sb.WriteString("generator: promptlab\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# Analytics Report: %s\n\n", escapeMarkdown(rep.Summary.Scope.String())))
	e.writeSummary(&sb, rep.Summary, rep.Insights)

	if len(rep.Conversations) > 0 {
		sb.WriteString("## Conversations\n\n")
		sb.WriteString("| Title | Created | Messages | Tokens | Avg Response | Cost |\n")
		sb.WriteString("|---|---|---:|---:|---:|---:|\n")
		for _, c := range rep.Conversations {
			sb.WriteString(fmt.Sprintf("| %s | %s | %d | %d | %s | $%s |\n",
				escapeTableCell(c.Title), formatTimestamp(c.CreatedAt), c.MessageCount,
				c.TotalTokens, formatDuration(c.AvgResponseTimeMs), c.TotalCost))
		}
		sb.WriteString("\n")
	}

	if len(rep.Recommendations) > 0 {
		sb.WriteString("## Recommendations\n\n")
		for _, r := range rep.Recommendations {
			sb.WriteString(fmt.Sprintf("- %s\n", r))
		}
		sb.WriteString("\n")
	}

	e.writeFooter(&sb, rep.GeneratedAt)
	return []byte(sb.String()), nil
}

// User implements Exporter.
func (e *MarkdownExporter) User(data *UserData) ([]byte, error) {
	if data == nil {
		return nil, fmt.Errorf("user data is nil")
	}

	var sb strings.Builder
	if e.options.IncludeMetadata {
		sb.WriteString("---\n")
		sb.WriteString(fmt.Sprintf("user_id: %s\n", escapeYAML(data.UserID)))
		sb.WriteString(fmt.Sprintf("period_days: %d\n", data.PeriodDays))
		sb.WriteString(fmt.Sprintf("conversations: %d\n", len(data.Conversations)))
		sb.WriteString(fmt.Sprintf("exchanges: %d\n", len(data.Records)))
		sb.WriteString(fmt.Sprintf("exported: %s\n", data.ExportedAt.UTC().Format(time.RFC3339)))
		sb.WriteString("generator: promptlab\n")
		sb.WriteString("---\n\n")
	}

	sb.WriteString(fmt.Sprintf("# Data Export: %s\n\n", escapeMarkdown(data.UserID)))
	if data.Summary != nil {
		e.writeSummary(&sb, data.Summary, analytics.NewInsights(data.Summary))
	}

	sb.WriteString("## Conversations\n\n")
	if len(data.Conversations) == 0 {
		sb.WriteString("*No conversations.*\n\n")
	}
	for _, conv := range data.Conversations {
		e.writeConversation(&sb, conv)
	}

	e.writeFooter(&sb, data.ExportedAt)
	return []byte(sb.String()), nil
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return ".md"
}

// MimeType returns the MIME type for Markdown.
func (e *MarkdownExporter) MimeType() string {
	return "text/markdown"
}

// =============================================================================
// SECTIONS
// =============================================================================

func (e *MarkdownExporter) writeSummary(sb *strings.Builder, s *analytics.Summary, in analytics.Insights) {
	sb.WriteString("## Summary\n\n")
	sb.WriteString(fmt.Sprintf("- **Window**: %s to %s (%d days)\n",
		s.From.Format("2006-01-02"), s.To.Add(-time.Nanosecond).Format("2006-01-02"), s.WindowDays))
	sb.WriteString(fmt.Sprintf("- **Conversations**: %d\n", s.TotalConversations))
	sb.WriteString(fmt.Sprintf("- **Messages**: %d\n", s.TotalMessages))
	sb.WriteString(fmt.Sprintf("- **Tokens Used**: %d\n", s.TotalTokens))
	sb.WriteString(fmt.Sprintf("- **Total Cost**: $%s\n", s.TotalCost))
	sb.WriteString(fmt.Sprintf("- **Avg Response Time**: %s\n", formatDuration(s.AvgResponseTimeMs)))
	sb.WriteString(fmt.Sprintf("- **Most Used Provider**: %s\n", derefString(s.MostUsedProvider, "none")))
	sb.WriteString(fmt.Sprintf("- **Efficiency Score**: %.1f\n", in.EfficiencyScore))
	if s.Activity != nil {
		sb.WriteString(fmt.Sprintf("- **Activity**: %s, %s\n", s.Activity.Level, s.Activity.Trend))
	}
	if s.Platform != nil {
		sb.WriteString(fmt.Sprintf("- **Users**: %d\n", s.Platform.TotalUsers))
		sb.WriteString(fmt.Sprintf("- **Platform Health**: %s\n", s.Platform.Health))
	}
	sb.WriteString("\n")

	if len(s.Providers) > 0 {
		sb.WriteString("### Providers\n\n")
		sb.WriteString("| Provider | Exchanges | Share | Tokens | Cost | Avg Latency |\n")
		sb.WriteString("|---|---:|---:|---:|---:|---:|\n")
		for _, p := range s.Providers {
			sb.WriteString(fmt.Sprintf("| %s | %d | %.2f%% | %d | $%s | %s |\n",
				p.Provider, p.Count, p.Percentage, p.Tokens, p.Cost, formatDuration(p.AvgLatencyMs)))
		}
		sb.WriteString("\n")
	}

	if s.Sentiment.Analyzed > 0 {
		sb.WriteString("### Sentiment\n\n")
		for _, l := range s.Sentiment.Labels {
			sb.WriteString(fmt.Sprintf("- %s: %d (%.2f%%)\n", titleCase(string(l.Label)), l.Count, l.Percentage))
		}
		sb.WriteString(fmt.Sprintf("- Trend: %s\n\n", s.Sentiment.Trend))
	}
}

func (e *MarkdownExporter) writeConversation(sb *strings.Builder, conv *storage.Conversation) {
	title := conv.Title
	if title == "" {
		title = "Untitled"
	}
	sb.WriteString(fmt.Sprintf("### %s\n\n", escapeMarkdown(title)))
	sb.WriteString(fmt.Sprintf("- **ID**: `%s`\n", conv.ID))
	sb.WriteString(fmt.Sprintf("- **Created**: %s\n", formatTimestamp(conv.CreatedAt)))
	sb.WriteString(fmt.Sprintf("- **Last Updated**: %s\n", formatTimestamp(conv.UpdatedAt)))
	sb.WriteString(fmt.Sprintf("- **Messages**: %d\n\n", len(conv.Messages)))

	if !e.options.IncludeMessages {
		return
	}
	for _, msg := range conv.Messages {
		sb.WriteString(fmt.Sprintf("#### %s <sub>%s</sub>\n\n", formatRoleLabel(msg.Role), formatTimestamp(msg.Timestamp)))
		sb.WriteString(strings.TrimSpace(msg.Content))
		sb.WriteString("\n\n")
		if msg.Role == storage.RoleAssistant && e.options.IncludeMetadata {
			if stats := formatMessageStats(msg); stats != "" {
				sb.WriteString(stats)
				sb.WriteString("\n\n")
			}
		}
	}
	sb.WriteString("---\n\n")
}

func (e *MarkdownExporter) writeFooter(sb *strings.Builder, at time.Time) {
	sb.WriteString(fmt.Sprintf("*Exported from promptlab on %s*\n",
		at.UTC().Format("January 2, 2006 at 3:04 PM")))
}

// =============================================================================
// FORMATTING HELPERS
// =============================================================================

// formatRoleLabel returns a display label for a message role.
func formatRoleLabel(role string) string {
	switch role {
	case "":
		return "Unknown"
	case storage.RoleUser:
		return "[User]"
	case storage.RoleAssistant:
		return "[Assistant]"
	case storage.RoleSystem:
		return "[System]"
	default:
		return titleCase(role)
	}
}

// formatMessageStats renders the provider metadata of an assistant message.
func formatMessageStats(msg storage.Message) string {
	if len(msg.Metadata) == 0 {
		return ""
	}
	var parts []string
	if p, ok := msg.Metadata["provider"].(string); ok && p != "" {
		parts = append(parts, p)
	}
	if ms, ok := asFloat(msg.Metadata["response_time_ms"]); ok {
		parts = append(parts, formatDuration(ms))
	}
	if tok, ok := asFloat(msg.Metadata["tokens_used"]); ok && tok > 0 {
		parts = append(parts, fmt.Sprintf("%.0f tokens", tok))
	}
	if c, ok := msg.Metadata["cost_usd"].(string); ok && c != "" {
		parts = append(parts, "$"+c)
	}
	if len(parts) == 0 {
		return ""
	}
	return "*" + strings.Join(parts, " | ") + "*"
}

// asFloat reads a numeric metadata value. Values decoded from JSON arrive
// as float64, values set in process keep their Go type.
func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	default:
		return 0, false
	}
}

func titleCase(s string) string {
	return cases.Title(language.English).String(s)
}

// escapeMarkdown escapes characters that would break formatting in headings.
func escapeMarkdown(s string) string {
	s = strings.ReplaceAll(s, "#", "\\#")
	s = strings.ReplaceAll(s, "*", "\\*")
	s = strings.ReplaceAll(s, "_", "\\_")
	s = strings.ReplaceAll(s, "[", "\\[")
	s = strings.ReplaceAll(s, "]", "\\]")
	return s
}

func escapeTableCell(s string) string {
	s = strings.ReplaceAll(s, "|", "\\|")
	s = strings.ReplaceAll(s, "\n", " ")
	return escapeMarkdown(s)
}

// escapeYAML quotes values containing YAML special characters.
func escapeYAML(s string) string {
	if strings.ContainsAny(s, ":#|>@`\"'[]{}!%&*\n\r\\") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		s = strings.ReplaceAll(s, "\\", "\\\\")
		s = strings.ReplaceAll(s, "\"", "\\\"")
		s = strings.ReplaceAll(s, "\n", "\\n")
		s = strings.ReplaceAll(s, "\r", "\\r")
		return fmt.Sprintf("\"%s\"", s)
	}
	return s
}
