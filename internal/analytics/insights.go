// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// Insights are derived scores shown next to a summary.
type Insights struct {
	EfficiencyScore     float64       `json:"efficiency_score"`
	ActivityLevel       ActivityLevel `json:"activity_level,omitempty"`
	ActivityTrend       Trend         `json:"activity_trend,omitempty"`
	SentimentTrend      Trend         `json:"sentiment_trend"`
	MostUsedProvider    string        `json:"most_used_provider,omitempty"`
	PlatformHealth      Health        `json:"platform_health,omitempty"`
	PlatformUtilization float64       `json:"platform_utilization,omitempty"`
}

// NewInsights derives insights from s.
func NewInsights(s *Summary) Insights {
	in := Insights{
		EfficiencyScore: EfficiencyScore(s),
		SentimentTrend:  s.Sentiment.Trend,
	}
	if s.MostUsedProvider != nil {
		in.MostUsedProvider = *s.MostUsedProvider
	}
	if s.Activity != nil {
		in.ActivityLevel = s.Activity.Level
		in.ActivityTrend = s.Activity.Trend
	}
	if s.Platform != nil {
		in.PlatformHealth = s.Platform.Health
		in.PlatformUtilization = s.Platform.Utilization
	}
	return in
}

// EfficiencyScore rates spend and speed from 0 to 100. Every dollar costs 10
// points of the cost half, every 100ms of mean latency one point of the
// speed half. No messages scores 0.
func EfficiencyScore(s *Summary) float64 {
	if s.TotalMessages == 0 {
		return 0
	}
	cost := s.TotalCost.InexactFloat64()
	costScore := max(0, 100-cost*10)
	speedScore := max(0, 100-s.AvgResponseTimeMs/100)
	return round((costScore+speedScore)/2, 1)
}

// =============================================================================
// RECOMMENDATIONS
// =============================================================================

// Recommendation texts.
const (
	RecommendCheaperProviders = "Consider using more cost-effective providers for simple queries to reduce costs"
	RecommendFasterProviders  = "Response times are high. Consider optimizing prompts or switching to faster providers"
	RecommendTemplates        = "High usage detected. Consider using conversation templates for common queries"
	RecommendExplore          = "Low usage detected. Try exploring different prompt templates to increase engagement"
	RecommendDiversify        = "Using only one provider. Consider diversifying to improve reliability"
	RecommendReviewSentiment  = "High negative sentiment detected. Review prompt templates and responses"
	RecommendHealthy          = "Your usage patterns look healthy. Continue exploring different prompt templates"
)

// Recommendation thresholds.
var (
	costAlert = decimal.NewFromInt(10)
)

const (
	latencyAlertMs     = 5000
	highUsageMessages  = 100
	lowUsageMessages   = 5
	negativeShareAlert = 0.3
)

// Recommendations returns advice for s, always at least one line.
func Recommendations(s *Summary) []string {
	var out []string
	if s.TotalCost.GreaterThan(costAlert) {
		out = append(out, RecommendCheaperProviders)
	}
	if s.AvgResponseTimeMs > latencyAlertMs {
		out = append(out, RecommendFasterProviders)
	}
	if s.Scope.Kind == telemetry.ScopeKindUser {
		switch {
		case s.TotalMessages > highUsageMessages:
			out = append(out, RecommendTemplates)
		case s.TotalMessages < lowUsageMessages:
			out = append(out, RecommendExplore)
		}
	}
	if len(s.Providers) == 1 {
		out = append(out, RecommendDiversify)
	}
	if n := s.Sentiment.Analyzed; n > 0 {
		if float64(s.Sentiment.Count(sentiment.Negative))/float64(n) > negativeShareAlert {
			out = append(out, RecommendReviewSentiment)
		}
	}
	if len(out) == 0 {
		out = append(out, RecommendHealthy)
	}
	return out
}
