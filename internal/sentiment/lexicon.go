// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package sentiment

import (
	"context"
	"strings"
	"unicode"

	"golang.org/x/text/runes"
	"golang.org/x/text/transform"
	"golang.org/x/text/unicode/norm"
)

// =============================================================================
// LEXICON ANALYZER
// =============================================================================

const (
	// negationWindow is how many tokens back a negator still flips a word.
	negationWindow = 3

	// "not good" scores mildly negative, not as the inverse of "good".
	negationFactor = -0.5

	intensifierFactor = 1.5
)

// LexiconAnalyzer scores text against a fixed word list. Results are
// deterministic for a given input.
type LexiconAnalyzer struct {
	words        map[string]float64
	intensifiers map[string]bool
	negators     map[string]bool
}

// NewLexiconAnalyzer returns an analyzer loaded with the built-in English and
// Spanish word lists.
func NewLexiconAnalyzer() *LexiconAnalyzer {
	a := &LexiconAnalyzer{
		words:        make(map[string]float64, len(defaultLexicon)),
		intensifiers: make(map[string]bool, len(defaultIntensifiers)),
		negators:     make(map[string]bool, len(defaultNegators)),
	}
	for w, score := range defaultLexicon {
		a.words[w] = score
	}
	for _, w := range defaultIntensifiers {
		a.intensifiers[w] = true
	}
	for _, w := range defaultNegators {
		a.negators[w] = true
	}
	return a
}

// AddWord registers or overrides a lexicon entry. Not safe for use once the
// analyzer is shared between goroutines.
func (a *LexiconAnalyzer) AddWord(word string, polarity float64) {
	a.words[normalize(word)] = clamp(polarity, -1, 1)
}

// Analyze implements Analyzer.
func (a *LexiconAnalyzer) Analyze(ctx context.Context, text string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}

	tokens := tokenize(text)
	if len(tokens) == 0 {
		return Result{}, ErrEmptyText
	}

	var sum float64
	opinions := 0
	for i, tok := range tokens {
		score, ok := a.words[tok]
		if !ok {
			continue
		}
		if i > 0 && a.intensifiers[tokens[i-1]] {
			score *= intensifierFactor
		}
		if a.negatedAt(tokens, i) {
			score *= negationFactor
		}
		sum += clamp(score, -1, 1)
		opinions++
	}

	if opinions == 0 {
		return NewResult(0, 0), nil
	}

	polarity := sum / float64(opinions)
	subjectivity := 2 * float64(opinions) / float64(len(tokens))
	return NewResult(polarity, subjectivity), nil
}

func (a *LexiconAnalyzer) negatedAt(tokens []string, i int) bool {
	start := i - negationWindow
	if start < 0 {
		start = 0
	}
	for j := start; j < i; j++ {
		if a.negators[tokens[j]] {
			return true
		}
	}
	return false
}

// =============================================================================
// TOKENIZATION
// =============================================================================

// normalize lowercases s and strips combining marks so "fantástico" and
// "fantastico" match the same entry. Chains carry state, so each call builds
// its own.
func normalize(s string) string {
	t := transform.Chain(norm.NFD, runes.Remove(runes.In(unicode.Mn)), norm.NFC)
	folded, _, err := transform.String(t, s)
	if err != nil {
		folded = s
	}
	return strings.ToLower(folded)
}

func tokenize(text string) []string {
	return strings.FieldsFunc(normalize(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '\''
	})
}

// =============================================================================
// WORD LISTS
// =============================================================================

var defaultIntensifiers = []string{
	"very", "really", "extremely", "incredibly", "super", "so", "truly", "highly",
	"muy", "realmente",
}

var defaultNegators = []string{
	"not", "no", "never", "none", "nothing", "neither", "nor", "cannot",
	"don't", "doesn't", "didn't", "isn't", "wasn't", "aren't", "won't", "can't",
	"shouldn't", "wouldn't", "nunca", "nada", "tampoco",
}

var defaultLexicon = map[string]float64{
	// positive
	"good": 0.7, "great": 0.8, "excellent": 1.0, "amazing": 0.9, "awesome": 0.9,
	"wonderful": 1.0, "fantastic": 0.9, "perfect": 1.0, "nice": 0.6, "best": 1.0,
	"better": 0.5, "happy": 0.8, "glad": 0.5, "love": 0.5, "like": 0.2,
	"helpful": 0.6, "useful": 0.5, "clear": 0.3, "correct": 0.4, "easy": 0.4,
	"thanks": 0.4, "thank": 0.4, "pleased": 0.5, "enjoy": 0.4, "brilliant": 0.9,
	"success": 0.6, "successful": 0.7, "beautiful": 0.85, "fine": 0.4, "well": 0.3,
	"impressive": 0.8, "recommend": 0.4, "effective": 0.6, "efficient": 0.5,
	"bueno": 0.7, "buena": 0.7, "excelente": 1.0, "genial": 0.8, "fantastico": 0.9,
	"gracias": 0.4, "feliz": 0.8, "perfecto": 1.0,

	// negative
	"bad": -0.7, "terrible": -1.0, "awful": -1.0, "horrible": -1.0, "poor": -0.4,
	"worse": -0.5, "worst": -1.0, "hate": -0.8, "sad": -0.5, "angry": -0.5,
	"wrong": -0.5, "error": -0.3, "fail": -0.5, "failed": -0.5, "failure": -0.6,
	"problem": -0.3, "broken": -0.4, "difficult": -0.4, "hard": -0.3, "sorry": -0.5,
	"unfortunately": -0.5, "useless": -0.5, "confusing": -0.4, "slow": -0.3,
	"annoying": -0.8, "disappointing": -0.6, "disappointed": -0.75, "ugly": -0.7,
	"impossible": -0.67, "unable": -0.5, "painful": -0.7, "boring": -1.0,
	"malo": -0.7, "mala": -0.7, "triste": -0.5, "peor": -0.6, "problema": -0.3,
}
