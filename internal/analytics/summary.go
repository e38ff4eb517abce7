// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/storage"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// =============================================================================
// CONSTANTS
// =============================================================================

const (
	DefaultWindowDays = 30
	MaxWindowDays     = 365

	// DefaultSentimentThreshold is the minimum shift in mean polarity between
	// the two halves of a window that counts as a trend.
	DefaultSentimentThreshold = 0.1

	// DefaultActivityRatio is how much busier (as a fraction) one half of the
	// window must be than the other before activity counts as a trend.
	DefaultActivityRatio = 0.1

	// MinActivityDelta is the smallest message-count difference between the
	// halves that counts as an activity trend.
	MinActivityDelta = 2

	// MoneyPlaces and UnitCostPlaces are the decimals used when rendering.
	MoneyPlaces    = 4
	UnitCostPlaces = 8

	dateLayout = "2006-01-02"
	day        = 24 * time.Hour
)

// ErrInvalidScope is returned for a scope without a required id.
var ErrInvalidScope = errors.New("invalid analytics scope")

// Trend classifies a change between the two halves of a window.
type Trend string

const (
	TrendIncreasing Trend = "increasing"
	TrendDecreasing Trend = "decreasing"
	TrendStable     Trend = "stable"
)

// ActivityLevel buckets messages per day.
type ActivityLevel string

const (
	ActivityHigh   ActivityLevel = "high"   // >= 10 messages per day
	ActivityMedium ActivityLevel = "medium" // >= 3
	ActivityLow    ActivityLevel = "low"
)

// Health rates conversations per user across the platform.
type Health string

const (
	HealthExcellent        Health = "excellent"
	HealthGood             Health = "good"
	HealthNeedsImprovement Health = "needs_improvement"
	HealthInsufficientData Health = "insufficient_data"
)

// =============================================================================
// MONEY
// =============================================================================

// Money is a USD amount. It keeps full precision and renders with
// MoneyPlaces decimals as a JSON number.
type Money struct{ decimal.Decimal }

// MarshalJSON renders m as a bare number.
func (m Money) MarshalJSON() ([]byte, error) {
	return []byte(m.StringFixed(MoneyPlaces)), nil
}

// UnmarshalJSON accepts quoted and bare numbers.
func (m *Money) UnmarshalJSON(b []byte) error {
	return m.Decimal.UnmarshalJSON(b)
}

func (m Money) String() string { return m.StringFixed(MoneyPlaces) }

// UnitCost is a per-token USD amount, rendered with UnitCostPlaces decimals.
type UnitCost struct{ decimal.Decimal }

// MarshalJSON renders u as a bare number.
func (u UnitCost) MarshalJSON() ([]byte, error) {
	return []byte(u.StringFixed(UnitCostPlaces)), nil
}

// UnmarshalJSON accepts quoted and bare numbers.
func (u *UnitCost) UnmarshalJSON(b []byte) error {
	return u.Decimal.UnmarshalJSON(b)
}

func (u UnitCost) String() string { return u.StringFixed(UnitCostPlaces) }

// =============================================================================
// SUMMARY
// =============================================================================

// ProviderShare is one provider's part of the exchanges in a window.
type ProviderShare struct {
	Provider     string  `json:"provider"`
	Count        int     `json:"count"`
	Percentage   float64 `json:"percentage"`
	Tokens       int     `json:"tokens"`
	Cost         Money   `json:"cost"`
	AvgLatencyMs float64 `json:"avg_latency_ms"`
}

// SentimentShare is one label's part of the analyzed exchanges.
type SentimentShare struct {
	Label      sentiment.Label `json:"label"`
	Count      int             `json:"count"`
	Percentage float64         `json:"percentage"`
}

// SentimentBreakdown summarizes sentiment over exchanges that were analyzed.
// Labels always lists positive, neutral and negative in that order.
type SentimentBreakdown struct {
	Analyzed    int              `json:"analyzed"`
	Labels      []SentimentShare `json:"labels"`
	Dominant    *sentiment.Label `json:"dominant_sentiment"`
	Trend       Trend            `json:"sentiment_trend"`
	AvgPolarity float64          `json:"avg_polarity"`
}

// Count returns the number of exchanges with label l.
func (b SentimentBreakdown) Count(l sentiment.Label) int {
	for _, s := range b.Labels {
		if s.Label == l {
			return s.Count
		}
	}
	return 0
}

// DailyPoint is one UTC calendar day of a window.
type DailyPoint struct {
	Date      string `json:"date"`
	Exchanges int    `json:"exchanges"`
	Tokens    int    `json:"tokens"`
	Cost      Money  `json:"cost"`
}

// ProviderCost is the spend on one provider.
type ProviderCost struct {
	Provider string `json:"provider"`
	Cost     Money  `json:"cost"`
}

// CostAnalysis breaks down spend. Daily has exactly one point per window day,
// oldest first.
type CostAnalysis struct {
	Total      Money          `json:"total_cost"`
	PerMessage Money          `json:"cost_per_message"`
	PerToken   UnitCost       `json:"cost_per_token"`
	ByProvider []ProviderCost `json:"cost_by_provider"`
	Daily      []DailyPoint   `json:"daily_cost_trend"`
}

// Activity describes how busy a user is. Only user summaries carry it.
type Activity struct {
	Trend          Trend         `json:"activity_trend"`
	Level          ActivityLevel `json:"activity_level"`
	MessagesPerDay float64       `json:"messages_per_day"`
	FirstHalf      int           `json:"first_half_messages"`
	SecondHalf     int           `json:"second_half_messages"`
}

// Platform holds global-only figures.
type Platform struct {
	TotalUsers              int     `json:"total_users"`
	AvgConversationsPerUser float64 `json:"avg_conversations_per_user"`
	Health                  Health  `json:"platform_health"`
	Utilization             float64 `json:"platform_utilization"`
}

// Summary is the analytics view of one scope over a window of days.
// From is the start of the oldest UTC day and To the end of today.
type Summary struct {
	Scope      telemetry.Scope `json:"scope"`
	WindowDays int             `json:"window_days"`
	From       time.Time       `json:"from"`
	To         time.Time       `json:"to"`

	TotalConversations         int     `json:"total_conversations"`
	TotalExchanges             int     `json:"total_exchanges"`
	TotalMessages              int     `json:"total_messages"`
	TotalTokens                int     `json:"total_tokens"`
	TotalCost                  Money   `json:"total_cost"`
	AvgResponseTimeMs          float64 `json:"avg_response_time_ms"`
	AvgMessagesPerConversation float64 `json:"avg_messages_per_conversation"`

	Providers        []ProviderShare    `json:"provider_breakdown"`
	MostUsedProvider *string            `json:"most_used_provider"`
	Sentiment        SentimentBreakdown `json:"sentiment"`
	Cost             CostAnalysis       `json:"cost_analysis"`

	Activity *Activity `json:"activity,omitempty"`
	Platform *Platform `json:"platform,omitempty"`
}

// =============================================================================
// AGGREGATOR
// =============================================================================

// Options tune classification. Zero fields take the package defaults.
type Options struct {
	DefaultWindowDays  int
	SentimentThreshold float64
	ActivityRatio      float64
}

func (o Options) withDefaults() Options {
	if o.DefaultWindowDays <= 0 || o.DefaultWindowDays > MaxWindowDays {
		o.DefaultWindowDays = DefaultWindowDays
	}
	if o.SentimentThreshold <= 0 {
		o.SentimentThreshold = DefaultSentimentThreshold
	}
	if o.ActivityRatio <= 0 {
		o.ActivityRatio = DefaultActivityRatio
	}
	return o
}

// Aggregator computes summaries and reports from exchange records. It is
// read-only and safe for concurrent use.
type Aggregator struct {
	metrics telemetry.MetricsStore
	convs   storage.ConversationStore
	opts    Options
	now     func() time.Time
}

// New creates an Aggregator. convs is only used to list conversations in
// reports and may be nil.
func New(metrics telemetry.MetricsStore, convs storage.ConversationStore, opts Options) *Aggregator {
	return &Aggregator{
		metrics: metrics,
		convs:   convs,
		opts:    opts.withDefaults(),
		now:     time.Now,
	}
}

// Summarize computes the summary of scope over the trailing windowDays UTC
// days, today included. windowDays <= 0 selects the default window; larger
// than MaxWindowDays is capped. An empty window is not an error.
func (a *Aggregator) Summarize(ctx context.Context, scope telemetry.Scope, windowDays int) (*Summary, error) {
	if err := scope.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidScope, err)
	}

	days, from, to := a.window(windowDays)
	records, err := a.load(ctx, scope, from, to)
	if err != nil {
		return nil, err
	}

	s := a.aggregate(scope, days, from, to, records)
	log.Printf("SUMMARY_COMPUTED | scope=%s days=%d records=%d", scope, days, len(records))
	return s, nil
}

// window resolves a day count into [from, to) on UTC day boundaries.
func (a *Aggregator) window(days int) (int, time.Time, time.Time) {
	if days <= 0 {
		days = a.opts.DefaultWindowDays
	}
	if days > MaxWindowDays {
		days = MaxWindowDays
	}
	today := dayStart(a.now())
	return days, today.AddDate(0, 0, -(days - 1)), today.AddDate(0, 0, 1)
}

func (a *Aggregator) load(ctx context.Context, scope telemetry.Scope, from, to time.Time) ([]telemetry.ExchangeRecord, error) {
	records, err := a.metrics.Query(ctx, scope, from)
	if err != nil {
		return nil, fmt.Errorf("query %s records: %w", scope, err)
	}
	out := records[:0]
	for i := range records {
		r := &records[i]
		if !r.Timestamp.Before(from) && r.Timestamp.Before(to) && scope.Matches(r) {
			out = append(out, *r)
		}
	}
	telemetry.SortRecords(out)
	return out, nil
}

// aggregate builds a Summary from records already filtered to the window and
// sorted oldest first.
func (a *Aggregator) aggregate(scope telemetry.Scope, days int, from, to time.Time, records []telemetry.ExchangeRecord) *Summary {
	s := &Summary{Scope: scope, WindowDays: days, From: from, To: to}

	convs := make(map[string]bool)
	users := make(map[string]bool)
	total := decimal.Zero
	var latency int64
	for i := range records {
		r := &records[i]
		convs[r.ConversationID] = true
		users[r.UserID] = true
		s.TotalTokens += r.Tokens
		total = total.Add(r.CostUSD)
		latency += r.LatencyMs
	}

	n := len(records)
	s.TotalExchanges = n
	s.TotalMessages = 2 * n
	s.TotalConversations = len(convs)
	s.TotalCost = Money{total}
	if n > 0 {
		s.AvgResponseTimeMs = round(float64(latency)/float64(n), 2)
	}
	if len(convs) > 0 {
		s.AvgMessagesPerConversation = round(float64(s.TotalMessages)/float64(len(convs)), 2)
	}

	s.Providers, s.MostUsedProvider = providerBreakdown(records)
	s.Sentiment = a.sentimentBreakdown(records)
	s.Cost = costAnalysis(s, records, from, days)

	switch scope.Kind {
	case telemetry.ScopeKindUser:
		s.Activity = a.activity(records, from, days)
	case telemetry.ScopeKindGlobal:
		s.Platform = platform(len(users), len(convs))
	}
	return s
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func round(v float64, places int) float64 {
	p := math.Pow(10, float64(places))
	return math.Round(v*p) / p
}
