package ranker

import (
	"context"
	"strings"
	"unicode"

	"github.com/coverbot/policyqa/types"
)

// selectedCandidate is a candidate after MMR selection and compression.
type selectedCandidate struct {
	candidate
	truncated bool
}

// selectMMR performs maximal-marginal-relevance selection until the token
// budget or the chunk cap is reached. A chunk that would overflow the
// remaining budget is compressed to its most relevant contiguous sub-span
// instead of being truncated from the start.
func (r *Ranker) selectMMR(ctx context.Context, query types.Query, candidates []candidate) []selectedCandidate {
	queryTokens := contentTokens(query.Text)
	lambda := r.cfg.Lambda
	if lambda <= 0 || lambda > 1 {
		lambda = 0.7
	}

	var selected []selectedCandidate
	remaining := append([]candidate(nil), candidates...)
	budget := r.cfg.TokenBudget

	for len(remaining) > 0 && len(selected) < r.cfg.MaxChunks && budget > 0 {
		bestIdx, bestScore := -1, 0.0
		for i, c := range remaining {
			maxSim := 0.0
			for _, s := range selected {
				if sim := jaccard(c.tokens, s.tokens); sim > maxSim {
					maxSim = sim
				}
			}
			score := lambda*c.relevance - (1-lambda)*maxSim
			if bestIdx == -1 || score > bestScore {
				bestIdx, bestScore = i, score
			}
		}

		pick := remaining[bestIdx]
		remaining = append(remaining[:bestIdx], remaining[bestIdx+1:]...)

		cost := r.counter.CountTokens(pick.chunk.Text)
		truncated := false
		if cost > budget {
			// Not enough room for a meaningful excerpt: stop selecting.
			if budget < minSpanTokens {
				break
			}
			span := r.bestSpan(pick.chunk.Text, queryTokens, budget)
			if span == "" {
				break
			}
			pick.chunk.Text = span
			pick.tokens = contentTokens(span)
			cost = r.counter.CountTokens(span)
			truncated = true
		}

		budget -= cost
		selected = append(selected, selectedCandidate{candidate: pick, truncated: truncated})
	}
	return selected
}

// minSpanTokens is the smallest excerpt worth keeping after compression.
const minSpanTokens = 30

// bestSpan returns the contiguous sentence window of text that maximizes
// lexical overlap with the query while fitting the token budget.
func (r *Ranker) bestSpan(text string, queryTokens []string, budget int) string {
	sentences := splitSentences(text)
	if len(sentences) == 0 {
		return ""
	}

	costs := make([]int, len(sentences))
	overlaps := make([]float64, len(sentences))
	for i, s := range sentences {
		costs[i] = r.counter.CountTokens(s)
		overlaps[i] = overlapCount(queryTokens, contentTokens(s))
	}

	bestStart, bestEnd, bestScore := -1, -1, -1.0
	for start := range sentences {
		cost := 0
		score := 0.0
		for end := start; end < len(sentences); end++ {
			cost += costs[end]
			if cost > budget {
				break
			}
			score += overlaps[end]
			if score > bestScore {
				bestStart, bestEnd, bestScore = start, end, score
			}
		}
	}
	if bestStart < 0 {
		return ""
	}
	return strings.TrimSpace(strings.Join(sentences[bestStart:bestEnd+1], " "))
}

func overlapCount(queryTokens, passageTokens []string) float64 {
	set := make(map[string]bool, len(passageTokens))
	for _, t := range passageTokens {
		set[t] = true
	}
	n := 0.0
	for _, t := range queryTokens {
		if set[t] {
			n++
		}
	}
	return n
}

// splitSentences breaks text on sentence punctuation and newlines.
func splitSentences(text string) []string {
	raw := strings.FieldsFunc(text, func(r rune) bool {
		return r == '.' || r == '!' || r == '?' || r == '\n' || r == ';'
	})
	out := make([]string, 0, len(raw))
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s != "" {
			out = append(out, s+".")
		}
	}
	return out
}

// jaccard computes token-set Jaccard similarity.
func jaccard(a, b []string) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	setA := make(map[string]bool, len(a))
	for _, t := range a {
		setA[t] = true
	}
	setB := make(map[string]bool, len(b))
	for _, t := range b {
		setB[t] = true
	}
	inter := 0
	for t := range setA {
		if setB[t] {
			inter++
		}
	}
	union := len(setA) + len(setB) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

func contentTokens(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
