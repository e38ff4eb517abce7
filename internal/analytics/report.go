// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// ReportType selects how much a report carries.
type ReportType string

const (
	// ReportSummary is the summary, insights and optional extras.
	ReportSummary ReportType = "summary"
	// ReportDetailed always includes the conversation list.
	ReportDetailed ReportType = "detailed"
	// ReportExport adds the raw exchange records of the window.
	ReportExport ReportType = "export"
)

// ErrInvalidReport is returned for an unknown report type.
var ErrInvalidReport = errors.New("invalid report request")

// ReportRequest describes a report. An empty UserID means a global report.
type ReportRequest struct {
	UserID                 string     `json:"user_id,omitempty"`
	Type                   ReportType `json:"report_type"`
	Days                   int        `json:"days"`
	IncludeConversations   bool       `json:"include_conversations"`
	IncludeRecommendations bool       `json:"include_recommendations"`
}

// ConversationRow is one conversation in a user report. Totals cover the
// report window only.
type ConversationRow struct {
	ID                string    `json:"id"`
	Title             string    `json:"title"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
	MessageCount      int       `json:"message_count"`
	TotalTokens       int       `json:"total_tokens"`
	AvgResponseTimeMs float64   `json:"avg_response_time"`
	TotalCost         Money     `json:"total_cost"`
	SentimentTrend    Trend     `json:"sentiment_trend"`
}

// Report bundles a summary with insights and optional extras.
type Report struct {
	ID              string                     `json:"report_id"`
	Type            ReportType                 `json:"report_type"`
	GeneratedAt     time.Time                  `json:"generated_at"`
	PeriodDays      int                        `json:"period_days"`
	Summary         *Summary                   `json:"summary"`
	Insights        Insights                   `json:"insights"`
	Conversations   []ConversationRow          `json:"conversations,omitempty"`
	Recommendations []string                   `json:"recommendations,omitempty"`
	Records         []telemetry.ExchangeRecord `json:"records,omitempty"`
}

// ReportID formats the id of a report generated at t.
func ReportID(t time.Time) string {
	return "report_" + t.UTC().Format("20060102_150405")
}

// ParseReportType maps a name to a ReportType; empty means ReportSummary.
func ParseReportType(name string) (ReportType, error) {
	switch t := ReportType(strings.ToLower(strings.TrimSpace(name))); t {
	case "":
		return ReportSummary, nil
	case ReportSummary, ReportDetailed, ReportExport:
		return t, nil
	default:
		return "", fmt.Errorf("%w: unknown report type %q", ErrInvalidReport, name)
	}
}

// Report generates a report. The records and the conversation list load
// concurrently; either failing fails the report.
func (a *Aggregator) Report(ctx context.Context, req ReportRequest) (*Report, error) {
	typ, err := ParseReportType(string(req.Type))
	if err != nil {
		return nil, err
	}

	scope := telemetry.GlobalScope()
	if req.UserID != "" {
		scope = telemetry.UserScope(req.UserID)
	}
	days, from, to := a.window(req.Days)
	wantConvs := (req.IncludeConversations || typ == ReportDetailed) && req.UserID != "" && a.convs != nil

	var (
		records []telemetry.ExchangeRecord
		convs   []storage.ConversationSummary
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		records, err = a.load(gctx, scope, from, to)
		return err
	})
	if wantConvs {
		g.Go(func() error {
			var err error
			convs, err = a.convs.ListByUser(gctx, req.UserID, storage.MaxListLimit, 0)
			if err != nil {
				return fmt.Errorf("list conversations of %s: %w", req.UserID, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Printf("REPORT_FAILED | scope=%s error=%v", scope, err)
		return nil, err
	}

	summary := a.aggregate(scope, days, from, to, records)
	now := a.now().UTC()
	rep := &Report{
		ID:          ReportID(now),
		Type:        typ,
		GeneratedAt: now,
		PeriodDays:  days,
		Summary:     summary,
		Insights:    NewInsights(summary),
	}
	if wantConvs {
		rep.Conversations = a.conversationRows(convs, records)
	}
	if req.IncludeRecommendations {
		rep.Recommendations = Recommendations(summary)
	}
	if typ == ReportExport {
		rep.Records = records
	}

	log.Printf("REPORT_GENERATED | id=%s type=%s scope=%s days=%d conversations=%d",
		rep.ID, typ, scope, days, len(rep.Conversations))
	return rep, nil
}

// conversationRows joins stored conversations with their records.
func (a *Aggregator) conversationRows(convs []storage.ConversationSummary, records []telemetry.ExchangeRecord) []ConversationRow {
	type acc struct {
		tokens     int
		latency    int64
		n          int
		cost       decimal.Decimal
		polarities []float64
	}
	byConv := make(map[string]*acc)
	for i := range records {
		r := &records[i]
		c, ok := byConv[r.ConversationID]
		if !ok {
			c = &acc{cost: decimal.Zero}
			byConv[r.ConversationID] = c
		}
		c.n++
		c.tokens += r.Tokens
		c.latency += r.LatencyMs
		c.cost = c.cost.Add(r.CostUSD)
		if r.Sentiment != nil {
			c.polarities = append(c.polarities, r.Sentiment.Polarity)
		}
	}

	rows := make([]ConversationRow, 0, len(convs))
	for _, cs := range convs {
		row := ConversationRow{
			ID:             cs.ID,
			Title:          cs.Title,
			CreatedAt:      cs.CreatedAt,
			UpdatedAt:      cs.UpdatedAt,
			MessageCount:   cs.MessageCount,
			SentimentTrend: TrendStable,
		}
		if c, ok := byConv[cs.ID]; ok {
			row.TotalTokens = c.tokens
			row.AvgResponseTimeMs = round(float64(c.latency)/float64(c.n), 2)
			row.TotalCost = Money{c.cost}
			row.SentimentTrend = a.polarityTrend(c.polarities)
		}
		rows = append(rows, row)
	}
	return rows
}
