// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

var fixedNow = time.Date(2025, 3, 10, 15, 30, 0, 0, time.UTC)

func newTestAggregator(t *testing.T, records ...telemetry.ExchangeRecord) (*Aggregator, *telemetry.MemoryStore) {
	t.Helper()
	store := telemetry.NewMemoryStore()
	for _, r := range records {
		require.NoError(t, store.Append(context.Background(), r))
	}
	agg := New(store, nil, Options{})
	agg.now = func() time.Time { return fixedNow }
	return agg, store
}

var seq int

func rec(user, conv, prov string, at time.Time, cost string, mood *sentiment.Result) telemetry.ExchangeRecord {
	seq++
	return telemetry.ExchangeRecord{
		ID:             fmt.Sprintf("rec-%04d", seq),
		ConversationID: conv,
		UserID:         user,
		Provider:       prov,
		Model:          prov + "-model",
		LatencyMs:      100,
		TokensInput:    4,
		TokensOutput:   6,
		Tokens:         10,
		CostUSD:        decimal.RequireFromString(cost),
		Sentiment:      mood,
		Timestamp:      at,
	}
}

func mood(p float64) *sentiment.Result {
	r := sentiment.NewResult(p, 0.5)
	return &r
}

func daysAgo(n int) time.Time {
	return fixedNow.AddDate(0, 0, -n)
}

// =============================================================================
// PERCENTAGES
// =============================================================================

func TestPercentagesSumToHundred(t *testing.T) {
	tests := []struct {
		counts []int
		want   []float64
	}{
		{[]int{1, 1, 1}, []float64{33.34, 33.33, 33.33}},
		{[]int{2, 1}, []float64{66.67, 33.33}},
		{[]int{1, 0, 0}, []float64{100, 0, 0}},
		{[]int{0, 0}, []float64{0, 0}},
		{[]int{1, 1, 1, 1, 1, 1, 1}, nil},
		{[]int{5, 3, 7, 11, 13}, nil},
	}
	for _, tt := range tests {
		got := Percentages(tt.counts)
		if tt.want != nil {
			assert.Equal(t, tt.want, got, "counts %v", tt.counts)
		}

		total := 0
		nonZero := false
		for i, p := range got {
			total += int(p*100 + 0.5)
			if tt.counts[i] > 0 {
				nonZero = true
			}
		}
		if nonZero {
			assert.Equal(t, 10000, total, "counts %v sum", tt.counts)
		}
	}
}

// =============================================================================
// SUMMARIZE
// =============================================================================

func TestSummarizeEmptyWindow(t *testing.T) {
	agg, _ := newTestAggregator(t, rec("u2", "c9", "groq", daysAgo(1), "0.5", nil))

	s, err := agg.Summarize(context.Background(), telemetry.UserScope("u1"), 30)
	require.NoError(t, err)

	assert.Equal(t, 30, s.WindowDays)
	assert.Zero(t, s.TotalConversations)
	assert.Zero(t, s.TotalMessages)
	assert.Zero(t, s.TotalTokens)
	assert.True(t, s.TotalCost.IsZero())
	assert.Zero(t, s.AvgResponseTimeMs)
	assert.Empty(t, s.Providers)
	assert.Nil(t, s.MostUsedProvider)
	assert.Nil(t, s.Sentiment.Dominant)
	assert.Equal(t, TrendStable, s.Sentiment.Trend)
	require.Len(t, s.Sentiment.Labels, 3)
	for _, l := range s.Sentiment.Labels {
		assert.Zero(t, l.Percentage)
	}
	assert.Len(t, s.Cost.Daily, 30)
	require.NotNil(t, s.Activity)
	assert.Equal(t, TrendStable, s.Activity.Trend)
	assert.Equal(t, ActivityLow, s.Activity.Level)
	assert.Nil(t, s.Platform)

	data, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"provider_breakdown":[]`)
	assert.Contains(t, string(data), `"total_cost":0.0000`)
}

func TestSummarizeDailyCostTrend(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "groq", daysAgo(2), "0.01", nil),
		rec("u1", "c1", "groq", daysAgo(0).Add(-time.Hour), "0.02", nil),
	)

	s, err := agg.Summarize(context.Background(), telemetry.UserScope("u1"), 3)
	require.NoError(t, err)

	daily := s.Cost.Daily
	require.Len(t, daily, 3)
	assert.Equal(t, "2025-03-08", daily[0].Date)
	assert.Equal(t, "2025-03-09", daily[1].Date)
	assert.Equal(t, "2025-03-10", daily[2].Date)
	assert.Equal(t, "0.0100", daily[0].Cost.String())
	assert.True(t, daily[1].Cost.IsZero())
	assert.Zero(t, daily[1].Exchanges)
	assert.Equal(t, "0.0200", daily[2].Cost.String())
	assert.Equal(t, "0.0300", s.TotalCost.String())
}

func TestSummarizeWindowBounds(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "groq", daysAgo(3), "1", nil),
		rec("u1", "c1", "groq", daysAgo(2), "1", nil),
		rec("u1", "c1", "groq", fixedNow.Add(48*time.Hour), "1", nil),
	)

	s, err := agg.Summarize(context.Background(), telemetry.UserScope("u1"), 3)
	require.NoError(t, err)
	assert.Equal(t, 1, s.TotalExchanges, "only the record inside the 3 UTC days")
	assert.Equal(t, time.Date(2025, 3, 8, 0, 0, 0, 0, time.UTC), s.From)
	assert.Equal(t, time.Date(2025, 3, 11, 0, 0, 0, 0, time.UTC), s.To)

	s, err = agg.Summarize(context.Background(), telemetry.UserScope("u1"), 0)
	require.NoError(t, err)
	assert.Equal(t, DefaultWindowDays, s.WindowDays)

	s, err = agg.Summarize(context.Background(), telemetry.UserScope("u1"), 5000)
	require.NoError(t, err)
	assert.Equal(t, MaxWindowDays, s.WindowDays)
	assert.Len(t, s.Cost.Daily, MaxWindowDays)
}

func TestSummarizeCountsAndProviders(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "openai", daysAgo(1), "0.003", mood(0.5)),
		rec("u1", "c1", "groq", daysAgo(1), "0.001", mood(0.0)),
		rec("u1", "c2", "groq", daysAgo(0), "0.002", mood(-0.5)),
		rec("u1", "c2", "claude", daysAgo(0), "0.000", nil),
	)

	s, err := agg.Summarize(context.Background(), telemetry.UserScope("u1"), 7)
	require.NoError(t, err)

	assert.Equal(t, 2, s.TotalConversations)
	assert.Equal(t, 4, s.TotalExchanges)
	assert.Equal(t, 8, s.TotalMessages)
	assert.Equal(t, 40, s.TotalTokens)
	assert.Equal(t, "0.0060", s.TotalCost.String())
	assert.Equal(t, 100.0, s.AvgResponseTimeMs)
	assert.Equal(t, 4.0, s.AvgMessagesPerConversation)

	require.Len(t, s.Providers, 3)
	assert.Equal(t, "groq", s.Providers[0].Provider)
	assert.Equal(t, 2, s.Providers[0].Count)
	assert.Equal(t, 50.0, s.Providers[0].Percentage)
	assert.Equal(t, "openai", s.Providers[1].Provider, "canonical order breaks the tie")
	assert.Equal(t, "claude", s.Providers[2].Provider)
	require.NotNil(t, s.MostUsedProvider)
	assert.Equal(t, "groq", *s.MostUsedProvider)

	assert.Equal(t, "0.0008", s.Cost.PerMessage.String())
	assert.Equal(t, "0.00015000", s.Cost.PerToken.String())
	require.Len(t, s.Cost.ByProvider, 3)
	assert.Equal(t, "0.0030", s.Cost.ByProvider[0].Cost.String())

	assert.Equal(t, 3, s.Sentiment.Analyzed)
	assert.Equal(t, 1, s.Sentiment.Count(sentiment.Positive))
	assert.Equal(t, 1, s.Sentiment.Count(sentiment.Neutral))
	assert.Equal(t, 1, s.Sentiment.Count(sentiment.Negative))
	require.NotNil(t, s.Sentiment.Dominant)
	assert.Equal(t, sentiment.Positive, *s.Sentiment.Dominant, "positive wins ties")
	assert.Equal(t, 0.0, s.Sentiment.AvgPolarity)
}

func TestMostUsedProviderTieBreak(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "zeta", daysAgo(0), "0", nil),
		rec("u1", "c1", "alpha", daysAgo(0), "0", nil),
		rec("u1", "c1", "claude", daysAgo(0), "0", nil),
	)
	s, err := agg.Summarize(context.Background(), telemetry.GlobalScope(), 1)
	require.NoError(t, err)
	require.NotNil(t, s.MostUsedProvider)
	assert.Equal(t, "claude", *s.MostUsedProvider)
	assert.Equal(t, "alpha", s.Providers[1].Provider)
	assert.Equal(t, "zeta", s.Providers[2].Provider)
}

func TestSummarizeSentimentTrend(t *testing.T) {
	tests := []struct {
		name       string
		polarities []float64
		want       Trend
	}{
		{"improving", []float64{-0.5, -0.4, 0.3, 0.6}, TrendIncreasing},
		{"declining", []float64{0.8, 0.6, 0.1, -0.2}, TrendDecreasing},
		{"flat", []float64{0.2, 0.25, 0.2, 0.22}, TrendStable},
		{"single", []float64{0.9}, TrendStable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var recs []telemetry.ExchangeRecord
			for i, p := range tt.polarities {
				recs = append(recs, rec("u1", "c1", "groq", daysAgo(len(tt.polarities)-i), "0", mood(p)))
			}
			agg, _ := newTestAggregator(t, recs...)
			s, err := agg.Summarize(context.Background(), telemetry.ConversationScope("c1"), 30)
			require.NoError(t, err)
			assert.Equal(t, tt.want, s.Sentiment.Trend)
			assert.Nil(t, s.Activity, "activity is user scope only")
		})
	}
}

func TestSummarizeActivityTrend(t *testing.T) {
	var recs []telemetry.ExchangeRecord
	recs = append(recs, rec("u1", "c1", "groq", daysAgo(8), "0", nil))
	for i := 0; i < 3; i++ {
		recs = append(recs, rec("u1", "c1", "groq", daysAgo(1), "0", nil))
	}
	agg, _ := newTestAggregator(t, recs...)

	s, err := agg.Summarize(context.Background(), telemetry.UserScope("u1"), 10)
	require.NoError(t, err)
	require.NotNil(t, s.Activity)
	assert.Equal(t, 2, s.Activity.FirstHalf)
	assert.Equal(t, 6, s.Activity.SecondHalf)
	assert.Equal(t, TrendIncreasing, s.Activity.Trend)
	assert.Equal(t, 0.8, s.Activity.MessagesPerDay)
	assert.Equal(t, ActivityLow, s.Activity.Level)
}

func TestActivityTrendThresholds(t *testing.T) {
	agg := New(telemetry.NewMemoryStore(), nil, Options{})
	tests := []struct {
		first, second int
		want          Trend
	}{
		{0, 0, TrendStable},
		{0, 2, TrendIncreasing},
		{20, 22, TrendStable},
		{20, 24, TrendIncreasing},
		{30, 20, TrendDecreasing},
		{2, 0, TrendDecreasing},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, agg.activityTrend(tt.first, tt.second), "%d -> %d", tt.first, tt.second)
	}
	assert.Equal(t, ActivityHigh, levelFor(10))
	assert.Equal(t, ActivityMedium, levelFor(3))
	assert.Equal(t, ActivityLow, levelFor(2.99))
}

func TestSummarizeGlobalPlatform(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "groq", daysAgo(0), "0", nil),
		rec("u1", "c2", "groq", daysAgo(0), "0", nil),
		rec("u2", "c3", "groq", daysAgo(0), "0", nil),
		rec("u2", "c4", "groq", daysAgo(0), "0", nil),
	)
	s, err := agg.Summarize(context.Background(), telemetry.GlobalScope(), 30)
	require.NoError(t, err)
	require.NotNil(t, s.Platform)
	assert.Equal(t, 2, s.Platform.TotalUsers)
	assert.Equal(t, 2.0, s.Platform.AvgConversationsPerUser)
	assert.Equal(t, HealthGood, s.Platform.Health)
	assert.Equal(t, 40.0, s.Platform.Utilization)

	assert.Equal(t, HealthInsufficientData, platform(0, 0).Health)
	assert.Equal(t, HealthExcellent, platform(1, 6).Health)
	assert.Equal(t, 100.0, platform(1, 6).Utilization)
	assert.Equal(t, HealthNeedsImprovement, platform(3, 1).Health)
}

func TestSummarizeIdempotent(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "openai", daysAgo(3), "0.003", mood(0.5)),
		rec("u1", "c1", "groq", daysAgo(1), "0.001", mood(-0.3)),
		rec("u2", "c2", "gemini", daysAgo(0), "0.002", nil),
		rec("u3", "c3", "claude", daysAgo(0), "0.004", mood(0.05)),
	)

	for _, scope := range []telemetry.Scope{telemetry.GlobalScope(), telemetry.UserScope("u1"), telemetry.ConversationScope("c1")} {
		a, err := agg.Summarize(context.Background(), scope, 14)
		require.NoError(t, err)
		b, err := agg.Summarize(context.Background(), scope, 14)
		require.NoError(t, err)

		ja, _ := json.Marshal(a)
		jb, _ := json.Marshal(b)
		assert.JSONEq(t, string(ja), string(jb), "scope %s", scope)
	}
}

func TestSummarizeErrors(t *testing.T) {
	agg, _ := newTestAggregator(t)
	_, err := agg.Summarize(context.Background(), telemetry.UserScope(""), 30)
	assert.ErrorIs(t, err, ErrInvalidScope)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = agg.Summarize(ctx, telemetry.GlobalScope(), 30)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMoneyJSON(t *testing.T) {
	m := Money{decimal.RequireFromString("0.00015")}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	assert.Equal(t, "0.0002", string(data))

	var back Money
	require.NoError(t, json.Unmarshal([]byte(`"1.25"`), &back))
	assert.True(t, back.Equal(decimal.RequireFromString("1.25")))
}

// =============================================================================
// INSIGHTS / RECOMMENDATIONS
// =============================================================================

func TestEfficiencyScore(t *testing.T) {
	s := &Summary{TotalMessages: 4, TotalCost: Money{decimal.RequireFromString("2")}, AvgResponseTimeMs: 1000}
	assert.Equal(t, 85.0, EfficiencyScore(s))

	s = &Summary{TotalMessages: 4, TotalCost: Money{decimal.RequireFromString("50")}, AvgResponseTimeMs: 20000}
	assert.Equal(t, 0.0, EfficiencyScore(s))

	assert.Equal(t, 0.0, EfficiencyScore(&Summary{}))
}

func TestRecommendations(t *testing.T) {
	user := telemetry.UserScope("u1")
	neg := sentiment.Negative

	tests := []struct {
		name string
		s    Summary
		want []string
	}{
		{
			name: "low usage single provider",
			s:    Summary{Scope: user, TotalMessages: 2, Providers: []ProviderShare{{Provider: "groq"}}},
			want: []string{RecommendExplore, RecommendDiversify},
		},
		{
			name: "expensive and slow",
			s: Summary{
				Scope: telemetry.GlobalScope(), TotalMessages: 40,
				TotalCost:         Money{decimal.RequireFromString("10.5")},
				AvgResponseTimeMs: 6000,
				Providers:         []ProviderShare{{Provider: "groq"}, {Provider: "openai"}},
			},
			want: []string{RecommendCheaperProviders, RecommendFasterProviders},
		},
		{
			name: "negative sentiment",
			s: Summary{
				Scope: user, TotalMessages: 120,
				Providers: []ProviderShare{{Provider: "groq"}, {Provider: "openai"}},
				Sentiment: SentimentBreakdown{
					Analyzed: 10,
					Dominant: &neg,
					Labels:   []SentimentShare{{Label: sentiment.Negative, Count: 4}},
				},
			},
			want: []string{RecommendTemplates, RecommendReviewSentiment},
		},
		{
			name: "healthy",
			s:    Summary{Scope: user, TotalMessages: 50, Providers: []ProviderShare{{Provider: "a"}, {Provider: "b"}}},
			want: []string{RecommendHealthy},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Recommendations(&tt.s))
		})
	}
}

// =============================================================================
// REPORTS
// =============================================================================

func TestReportWithConversations(t *testing.T) {
	ctx := context.Background()
	convs := storage.NewMemoryStore()
	created := fixedNow.Add(-2 * time.Hour)
	_, err := convs.Create(ctx, &storage.Conversation{ID: "c1", UserID: "u1", Title: "Greeting", CreatedAt: created, UpdatedAt: created})
	require.NoError(t, err)
	require.NoError(t, convs.AppendMessage(ctx, "c1", storage.NewMessage(storage.RoleUser, "hi", created)))
	require.NoError(t, convs.AppendMessage(ctx, "c1", storage.NewMessage(storage.RoleAssistant, "hello", created)))

	metrics := telemetry.NewMemoryStore()
	require.NoError(t, metrics.Append(ctx, rec("u1", "c1", "groq", created, "0.25", mood(0.4))))

	agg := New(metrics, convs, Options{})
	agg.now = func() time.Time { return fixedNow }

	rep, err := agg.Report(ctx, ReportRequest{UserID: "u1", Type: ReportDetailed, IncludeRecommendations: true})
	require.NoError(t, err)

	assert.Equal(t, "report_20250310_153000", rep.ID)
	assert.Equal(t, ReportDetailed, rep.Type)
	assert.Equal(t, DefaultWindowDays, rep.PeriodDays)
	assert.Equal(t, 1, rep.Summary.TotalExchanges)
	require.Len(t, rep.Conversations, 1)
	row := rep.Conversations[0]
	assert.Equal(t, "Greeting", row.Title)
	assert.Equal(t, 2, row.MessageCount)
	assert.Equal(t, 10, row.TotalTokens)
	assert.Equal(t, "0.2500", row.TotalCost.String())
	assert.Contains(t, rep.Recommendations, RecommendDiversify)
	assert.Equal(t, "groq", rep.Insights.MostUsedProvider)
	assert.Equal(t, ActivityLow, rep.Insights.ActivityLevel)
	assert.Nil(t, rep.Records)
}

func TestReportGlobalExport(t *testing.T) {
	agg, _ := newTestAggregator(t,
		rec("u1", "c1", "groq", daysAgo(0), "0.1", nil),
		rec("u2", "c2", "openai", daysAgo(1), "0.2", nil),
	)

	rep, err := agg.Report(context.Background(), ReportRequest{Type: "EXPORT", Days: 7, IncludeConversations: true})
	require.NoError(t, err)
	assert.Equal(t, ReportExport, rep.Type)
	assert.Len(t, rep.Records, 2)
	assert.Empty(t, rep.Conversations, "global reports carry no conversation list")
	assert.Empty(t, rep.Recommendations)
	assert.Equal(t, HealthNeedsImprovement, rep.Insights.PlatformHealth)
}

type failingConvs struct{ storage.ConversationStore }

func (failingConvs) ListByUser(ctx context.Context, userID string, limit, offset int) ([]storage.ConversationSummary, error) {
	return nil, errors.New("disk on fire")
}

func TestReportErrors(t *testing.T) {
	agg, _ := newTestAggregator(t)
	_, err := agg.Report(context.Background(), ReportRequest{Type: "pdf"})
	assert.ErrorIs(t, err, ErrInvalidReport)

	agg.convs = failingConvs{}
	_, err = agg.Report(context.Background(), ReportRequest{UserID: "u1", IncludeConversations: true})
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "disk on fire"))
}
