// SPDX-License-Identifier: Apache-2.0

// Package matcher scores free-text intents against credential scope tags.
// The default scorer is a weighted token-overlap heuristic; an embedding
// backend can be swapped in behind the same Scorer interface without
// touching the Selector.
package matcher

import (
	"context"
	"strings"
)

// SparseIntentConfidence is the uniform score handed to every candidate when
// the intent text tokenizes to nothing. Sparse input must not fail hard.
const SparseIntentConfidence = 10

// Scorer turns an intent text and a credential's scope tags into a
// confidence in [0,100].
type Scorer interface {
	Score(ctx context.Context, text string, tags []string) (int, error)
}

// OverlapScorer is the default similarity strategy: per tag, an exact phrase
// occurrence in the normalized intent counts double versus partial token
// overlap, and the final score is 100 * matchedWeight / totalWeight.
type OverlapScorer struct{}

func NewOverlapScorer() *OverlapScorer {
	return &OverlapScorer{}
}

const (
	phraseWeight  = 2.0
	tokenWeight   = 1.0
	partialCredit = 0.5
	// stemPrefixLen is the shared-prefix length at which two tokens are
	// treated as inflections of the same word (generate/generation).
	stemPrefixLen = 5
)

func (s *OverlapScorer) Score(_ context.Context, text string, tags []string) (int, error) {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return SparseIntentConfidence, nil
	}
	if len(tags) == 0 {
		return 0, nil
	}

	normalizedText := strings.Join(terms, " ")

	var matched, total float64
	for _, tag := range tags {
		tokens := tagTokens(tag)
		if len(tokens) == 0 {
			continue
		}

		if strings.Contains(normalizedText, normalizeTag(tag)) {
			matched += phraseWeight
			total += phraseWeight
			continue
		}

		var tagMatched float64
		for _, token := range tokens {
			tagMatched += bestTokenMatch(token, terms)
		}
		matched += tokenWeight * tagMatched / float64(len(tokens))
		total += tokenWeight
	}
	if total == 0 {
		return 0, nil
	}

	return clampConfidence(100 * matched / total), nil
}

// CoveredTerms counts how many intent terms are matched by at least one tag
// token. The Selector uses it for the superset tie-break; it is independent
// of the scoring strategy so plugged-in scorers keep deterministic ties.
func CoveredTerms(text string, tags []string) int {
	terms := Tokenize(text)
	if len(terms) == 0 {
		return 0
	}

	tokens := make([]string, 0, len(tags)*2)
	for _, tag := range tags {
		tokens = append(tokens, tagTokens(tag)...)
	}

	covered := 0
	for _, term := range terms {
		for _, token := range tokens {
			if tokensRelated(term, token) {
				covered++
				break
			}
		}
	}
	return covered
}

// bestTokenMatch returns 1 for an exact term match, half credit for a
// stem-level match, zero otherwise.
func bestTokenMatch(token string, terms []string) float64 {
	best := 0.0
	for _, term := range terms {
		switch {
		case term == token:
			return 1.0
		case sharedPrefix(term, token) >= stemPrefixLen:
			best = partialCredit
		}
	}
	return best
}

func tokensRelated(a, b string) bool {
	return a == b || sharedPrefix(a, b) >= stemPrefixLen
}

func sharedPrefix(a, b string) int {
	n := min(len(a), len(b))
	for i := 0; i < n; i++ {
		if a[i] != b[i] {
			return i
		}
	}
	return n
}

func clampConfidence(v float64) int {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return int(v + 0.5)
}
