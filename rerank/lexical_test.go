package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLexicalScorerOrdersByOverlap(t *testing.T) {
	s := NewLexicalScorer()
	query := "waiting period for dental surgery"
	passages := []string{
		"The waiting period for dental surgery is 90 days from the policy start date.",
		"Dental cleanings are covered twice per year.",
		"Home insurance covers water damage to the structure.",
	}

	scores, err := s.Score(context.Background(), query, passages)
	require.NoError(t, err)
	require.Len(t, scores, 3)

	assert.Greater(t, scores[0], scores[1], "the passage repeating the query phrase scores highest")
	assert.Greater(t, scores[1], scores[2], "a partial term match beats no match")
	assert.Zero(t, scores[2])
}

func TestLexicalScorerBigramBonus(t *testing.T) {
	s := NewLexicalScorer()
	query := "waiting period"

	scores, err := s.Score(context.Background(), query, []string{
		"the waiting period is ninety days", // phrase intact
		"the period of waiting was long",    // same terms, order broken
	})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1], "intact phrases earn the bigram bonus")
}

func TestLexicalScorerEmptyQuery(t *testing.T) {
	s := NewLexicalScorer()
	scores, err := s.Score(context.Background(), "the is a of", []string{"some passage"})
	require.NoError(t, err)
	assert.Zero(t, scores[0], "stopword-only queries score nothing")
}

func TestLexicalScorerHebrew(t *testing.T) {
	s := NewLexicalScorer()
	scores, err := s.Score(context.Background(), "תקופת המתנה לניתוח", []string{
		"תקופת המתנה לניתוח היא 90 יום.",
		"ביטוח רכב מכסה תאונות.",
	})
	require.NoError(t, err)
	assert.Greater(t, scores[0], scores[1])
}

func TestLexicalScorerContextCancellation(t *testing.T) {
	s := NewLexicalScorer()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := s.Score(ctx, "q", []string{"a", "b"})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestContentTokens(t *testing.T) {
	tokens := contentTokens("What is the co-payment for X-rays under my policy?")
	assert.Contains(t, tokens, "payment")
	assert.Contains(t, tokens, "rays")
	assert.Contains(t, tokens, "policy")
	assert.NotContains(t, tokens, "what", "stopwords are dropped")
	assert.NotContains(t, tokens, "x", "single-rune fragments are dropped")
}
