package rerank

import (
	"context"
	"strings"
	"unicode"
)

// LexicalScorer scores (query, passage) pairs by content-token overlap with a
// bigram bonus. It is the offline default; hosted cross-encoders plug in via
// the same Scorer interface.
type LexicalScorer struct{}

// NewLexicalScorer creates a lexical scorer.
func NewLexicalScorer() *LexicalScorer { return &LexicalScorer{} }

// Name returns the scorer name.
func (s *LexicalScorer) Name() string { return "lexical" }

// Score returns one relevance score per passage, in input order.
func (s *LexicalScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	queryTerms := contentTokens(query)
	queryBigrams := bigrams(queryTerms)

	scores := make([]float64, len(passages))
	for i, p := range passages {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		scores[i] = overlapScore(queryTerms, queryBigrams, p)
	}
	return scores, nil
}

func overlapScore(queryTerms []string, queryBigrams map[string]bool, passage string) float64 {
	if len(queryTerms) == 0 {
		return 0
	}
	passageTerms := contentTokens(passage)
	passageSet := make(map[string]bool, len(passageTerms))
	for _, t := range passageTerms {
		passageSet[t] = true
	}

	matched := 0
	for _, t := range queryTerms {
		if passageSet[t] {
			matched++
		}
	}
	unigram := float64(matched) / float64(len(queryTerms))

	if len(queryBigrams) == 0 {
		return unigram
	}
	passageBigrams := bigrams(passageTerms)
	matchedBi := 0
	for b := range queryBigrams {
		if passageBigrams[b] {
			matchedBi++
		}
	}
	bigram := float64(matchedBi) / float64(len(queryBigrams))

	// Bigram matches indicate phrase-level agreement, worth more than
	// scattered term hits.
	return 0.7*unigram + 0.3*bigram
}

func bigrams(terms []string) map[string]bool {
	out := make(map[string]bool)
	for i := 0; i+1 < len(terms); i++ {
		out[terms[i]+" "+terms[i+1]] = true
	}
	return out
}

// stopTokens are excluded from overlap scoring; mixed Hebrew and English set
// matching the corpus.
var stopTokens = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"be": true, "to": true, "of": true, "in": true, "for": true, "on": true,
	"with": true, "at": true, "by": true, "from": true, "and": true, "or": true,
	"what": true, "which": true, "who": true, "how": true, "when": true,
	"i": true, "my": true, "me": true, "do": true, "does": true, "it": true,
	"this": true, "that": true, "under": true,
	"את": true, "של": true, "על": true, "עם": true, "או": true, "לא": true,
	"כן": true, "הוא": true, "היא": true, "זה": true, "מה": true, "האם": true,
	"אם": true, "יש": true, "אני": true,
}

func contentTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if stopTokens[f] || len([]rune(f)) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}
