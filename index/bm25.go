package index

import (
	"math"
	"strings"
	"unicode"
)

// bm25Params are the standard Okapi BM25 parameters.
type bm25Params struct {
	K1 float64
	B  float64
}

func defaultBM25Params() bm25Params {
	return bm25Params{K1: 1.5, B: 0.75}
}

// bm25Stats holds the corpus statistics needed for scoring. It is rebuilt
// whenever chunks are added and read-only afterwards.
type bm25Stats struct {
	params    bm25Params
	avgDocLen float64
	docLens   []int
	termFreqs []map[string]int
	idf       map[string]float64
}

func buildBM25Stats(texts []string, params bm25Params) *bm25Stats {
	s := &bm25Stats{
		params:    params,
		docLens:   make([]int, len(texts)),
		termFreqs: make([]map[string]int, len(texts)),
		idf:       make(map[string]float64),
	}

	totalLen := 0
	termDocCount := make(map[string]int)
	for i, text := range texts {
		terms := tokenizeTerms(text)
		s.docLens[i] = len(terms)
		totalLen += len(terms)

		tf := make(map[string]int, len(terms))
		for _, term := range terms {
			tf[term]++
		}
		s.termFreqs[i] = tf
		for term := range tf {
			termDocCount[term]++
		}
	}

	if len(texts) > 0 {
		s.avgDocLen = float64(totalLen) / float64(len(texts))
	}

	n := float64(len(texts))
	for term, df := range termDocCount {
		s.idf[term] = math.Log((n-float64(df)+0.5)/(float64(df)+0.5) + 1.0)
	}
	return s
}

// score computes the BM25 score of document i against the query terms.
func (s *bm25Stats) score(i int, queryTerms []string) float64 {
	if i >= len(s.termFreqs) || s.avgDocLen == 0 {
		return 0
	}
	tf := s.termFreqs[i]
	docLen := float64(s.docLens[i])

	score := 0.0
	for _, term := range queryTerms {
		f, ok := tf[term]
		if !ok {
			continue
		}
		idf := s.idf[term]
		num := float64(f) * (s.params.K1 + 1.0)
		den := float64(f) + s.params.K1*(1.0-s.params.B+s.params.B*(docLen/s.avgDocLen))
		score += idf * (num / den)
	}
	return score
}

// tokenizeTerms lower-cases and splits on non-letter/digit runes. This keeps
// Hebrew and other non-Latin scripts intact while stripping punctuation, so
// exact policy numbers and named coverages still match.
func tokenizeTerms(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}

func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) {
		return 0.0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0.0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
