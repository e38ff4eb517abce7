// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sentiment

import (
	"context"
	"errors"
	"fmt"
	"math"
)

// =============================================================================
// RESULT TYPES
// =============================================================================

// Label is the coarse sentiment class of a text.
type Label string

const (
	Positive Label = "positive"
	Negative Label = "negative"
	Neutral  Label = "neutral"
)

// Labels lists every label in canonical order. Breakdowns and tie-breaks
// iterate in this order.
var Labels = []Label{Positive, Neutral, Negative}

// LabelThreshold is the absolute polarity above which a text stops being
// neutral.
const LabelThreshold = 0.1

// Result is the outcome of analyzing one text.
type Result struct {
	Label        Label   `json:"label"`
	Polarity     float64 `json:"polarity"`     // [-1, 1]
	Subjectivity float64 `json:"subjectivity"` // [0, 1]
	Confidence   float64 `json:"confidence"`   // [0, 1]
}

// ErrEmptyText is returned when there is nothing to analyze.
var ErrEmptyText = errors.New("sentiment: empty text")

// ErrOutOfRange is returned by Validate for scores outside their domain.
var ErrOutOfRange = errors.New("sentiment: score out of range")

// LabelFor maps a polarity score to its label.
func LabelFor(polarity float64) Label {
	switch {
	case polarity > LabelThreshold:
		return Positive
	case polarity < -LabelThreshold:
		return Negative
	default:
		return Neutral
	}
}

// NewResult builds a Result from raw scores, clamping them into range and
// deriving the label and confidence.
func NewResult(polarity, subjectivity float64) Result {
	polarity = clamp(polarity, -1, 1)
	return Result{
		Label:        LabelFor(polarity),
		Polarity:     polarity,
		Subjectivity: clamp(subjectivity, 0, 1),
		Confidence:   math.Abs(polarity),
	}
}

// Validate reports whether every score is within its domain and the label is
// one of the known values.
func (r Result) Validate() error {
	switch r.Label {
	case Positive, Negative, Neutral:
	default:
		return fmt.Errorf("%w: label %q", ErrOutOfRange, r.Label)
	}
	if r.Polarity < -1 || r.Polarity > 1 || math.IsNaN(r.Polarity) {
		return fmt.Errorf("%w: polarity %v", ErrOutOfRange, r.Polarity)
	}
	if r.Subjectivity < 0 || r.Subjectivity > 1 || math.IsNaN(r.Subjectivity) {
		return fmt.Errorf("%w: subjectivity %v", ErrOutOfRange, r.Subjectivity)
	}
	if r.Confidence < 0 || r.Confidence > 1 || math.IsNaN(r.Confidence) {
		return fmt.Errorf("%w: confidence %v", ErrOutOfRange, r.Confidence)
	}
	return nil
}

// =============================================================================
// ANALYZER INTERFACE
// =============================================================================

// Analyzer scores a piece of text.
type Analyzer interface {
	Analyze(ctx context.Context, text string) (Result, error)
}

// AnalyzerFunc adapts a plain function to the Analyzer interface.
type AnalyzerFunc func(ctx context.Context, text string) (Result, error)

// Analyze calls f.
func (f AnalyzerFunc) Analyze(ctx context.Context, text string) (Result, error) {
	return f(ctx, text)
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(lo, math.Min(hi, v))
}
