// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package analytics

import (
	"math"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"github.com/jeranaias/promptlab/internal/provider"
	"github.com/jeranaias/promptlab/internal/sentiment"
	"github.com/jeranaias/promptlab/internal/telemetry"
)

// percentScale is 100% in hundredths of a percent.
const percentScale = 10000

// Percentages splits 100 across counts with two decimals using the largest
// remainder method, so the results always sum to exactly 100.00. Remainder
// ties go to the earlier index. All-zero counts yield all zeros.
func Percentages(counts []int) []float64 {
	out := make([]float64, len(counts))
	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		return out
	}

	units := make([]int, len(counts))
	rems := make([]int, len(counts))
	assigned := 0
	for i, c := range counts {
		q := c * percentScale
		units[i] = q / total
		rems[i] = q % total
		assigned += units[i]
	}

	idx := make([]int, len(counts))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(a, b int) bool { return rems[idx[a]] > rems[idx[b]] })
	for k := 0; k < percentScale-assigned; k++ {
		units[idx[k]]++
	}

	for i, u := range units {
		out[i] = float64(u) / 100
	}
	return out
}

// providerRank orders canonical providers first, then everything else.
func providerRank(name string) int {
	for i, p := range provider.DefaultPriority {
		if p == name {
			return i
		}
	}
	return len(provider.DefaultPriority)
}

// providerBreakdown returns shares sorted by count, ties in canonical
// provider order then by name. The first share is the most used provider.
func providerBreakdown(records []telemetry.ExchangeRecord) ([]ProviderShare, *string) {
	type acc struct {
		count, tokens int
		cost          decimal.Decimal
		latency       int64
	}
	byName := make(map[string]*acc)
	for i := range records {
		r := &records[i]
		a, ok := byName[r.Provider]
		if !ok {
			a = &acc{cost: decimal.Zero}
			byName[r.Provider] = a
		}
		a.count++
		a.tokens += r.Tokens
		a.cost = a.cost.Add(r.CostUSD)
		a.latency += r.LatencyMs
	}

	names := make([]string, 0, len(byName))
	for name := range byName {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		ri, rj := providerRank(names[i]), providerRank(names[j])
		if ri != rj {
			return ri < rj
		}
		return names[i] < names[j]
	})

	counts := make([]int, len(names))
	for i, name := range names {
		counts[i] = byName[name].count
	}
	pct := Percentages(counts)

	shares := make([]ProviderShare, len(names))
	for i, name := range names {
		a := byName[name]
		shares[i] = ProviderShare{
			Provider:     name,
			Count:        a.count,
			Percentage:   pct[i],
			Tokens:       a.tokens,
			Cost:         Money{a.cost},
			AvgLatencyMs: round(float64(a.latency)/float64(a.count), 2),
		}
	}
	sort.SliceStable(shares, func(i, j int) bool { return shares[i].Count > shares[j].Count })

	if len(shares) == 0 {
		return shares, nil
	}
	top := shares[0].Provider
	return shares, &top
}

func labelIndex(l sentiment.Label) int {
	for i, known := range sentiment.Labels {
		if known == l {
			return i
		}
	}
	return -1
}

// sentimentBreakdown covers records that carry a sentiment result.
func (a *Aggregator) sentimentBreakdown(records []telemetry.ExchangeRecord) SentimentBreakdown {
	counts := make([]int, len(sentiment.Labels))
	var polarities []float64
	for i := range records {
		r := &records[i]
		if r.Sentiment == nil {
			continue
		}
		idx := labelIndex(r.Sentiment.Label)
		if idx < 0 {
			continue
		}
		counts[idx]++
		polarities = append(polarities, r.Sentiment.Polarity)
	}

	pct := Percentages(counts)
	b := SentimentBreakdown{
		Analyzed: len(polarities),
		Labels:   make([]SentimentShare, len(sentiment.Labels)),
		Trend:    a.polarityTrend(polarities),
	}
	best := -1
	for i, l := range sentiment.Labels {
		b.Labels[i] = SentimentShare{Label: l, Count: counts[i], Percentage: pct[i]}
		if counts[i] > 0 && (best < 0 || counts[i] > counts[best]) {
			best = i
		}
	}
	if best >= 0 {
		dominant := sentiment.Labels[best]
		b.Dominant = &dominant
	}
	if len(polarities) > 0 {
		b.AvgPolarity = round(mean(polarities), 4)
	}
	return b
}

// polarityTrend compares the mean polarity of the earlier and later halves
// of a chronological series. With an odd length the middle value belongs to
// the later half.
func (a *Aggregator) polarityTrend(polarities []float64) Trend {
	if len(polarities) < 2 {
		return TrendStable
	}
	half := len(polarities) / 2
	diff := mean(polarities[half:]) - mean(polarities[:half])
	switch {
	case diff >= a.opts.SentimentThreshold:
		return TrendIncreasing
	case diff <= -a.opts.SentimentThreshold:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func costAnalysis(s *Summary, records []telemetry.ExchangeRecord, from time.Time, days int) CostAnalysis {
	c := CostAnalysis{
		Total:      s.TotalCost,
		ByProvider: make([]ProviderCost, len(s.Providers)),
		Daily:      dailyTrend(records, from, days),
	}
	if s.TotalMessages > 0 {
		c.PerMessage = Money{s.TotalCost.Div(decimal.NewFromInt(int64(s.TotalMessages)))}
	}
	if s.TotalTokens > 0 {
		c.PerToken = UnitCost{s.TotalCost.Div(decimal.NewFromInt(int64(s.TotalTokens)))}
	}
	for i, p := range s.Providers {
		c.ByProvider[i] = ProviderCost{Provider: p.Provider, Cost: p.Cost}
	}
	return c
}

// dailyTrend buckets records into days UTC days starting at from. Days
// without activity are present with zero values.
func dailyTrend(records []telemetry.ExchangeRecord, from time.Time, days int) []DailyPoint {
	points := make([]DailyPoint, days)
	costs := make([]decimal.Decimal, days)
	for i := range points {
		points[i].Date = from.AddDate(0, 0, i).Format(dateLayout)
		costs[i] = decimal.Zero
	}
	for i := range records {
		r := &records[i]
		idx := int(dayStart(r.Timestamp).Sub(from) / day)
		if idx < 0 || idx >= days {
			continue
		}
		points[idx].Exchanges++
		points[idx].Tokens += r.Tokens
		costs[idx] = costs[idx].Add(r.CostUSD)
	}
	for i := range points {
		points[i].Cost = Money{costs[i]}
	}
	return points
}

// activity splits the window at its midpoint and compares message counts.
func (a *Aggregator) activity(records []telemetry.ExchangeRecord, from time.Time, days int) *Activity {
	mid := from.Add(time.Duration(days) * day / 2)
	act := &Activity{}
	for i := range records {
		if records[i].Timestamp.Before(mid) {
			act.FirstHalf += 2
		} else {
			act.SecondHalf += 2
		}
	}
	act.Trend = a.activityTrend(act.FirstHalf, act.SecondHalf)

	perDay := float64(2*len(records)) / float64(days)
	act.MessagesPerDay = round(perDay, 2)
	act.Level = levelFor(perDay)
	return act
}

// activityTrend reports a trend when one half exceeds the other by more than
// the configured ratio and by at least MinActivityDelta messages.
func (a *Aggregator) activityTrend(first, second int) Trend {
	ratio := 1 + a.opts.ActivityRatio
	switch {
	case second-first >= MinActivityDelta && float64(second) > float64(first)*ratio:
		return TrendIncreasing
	case first-second >= MinActivityDelta && float64(first) > float64(second)*ratio:
		return TrendDecreasing
	default:
		return TrendStable
	}
}

func levelFor(messagesPerDay float64) ActivityLevel {
	switch {
	case messagesPerDay >= 10:
		return ActivityHigh
	case messagesPerDay >= 3:
		return ActivityMedium
	default:
		return ActivityLow
	}
}

func platform(users, conversations int) *Platform {
	p := &Platform{TotalUsers: users, Health: HealthInsufficientData}
	if users == 0 {
		return p
	}
	perUser := float64(conversations) / float64(users)
	p.AvgConversationsPerUser = round(perUser, 2)
	p.Utilization = round(math.Min(100, perUser*20), 1)
	switch {
	case perUser >= 5:
		p.Health = HealthExcellent
	case perUser >= 2:
		p.Health = HealthGood
	default:
		p.Health = HealthNeedsImprovement
	}
	return p
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
