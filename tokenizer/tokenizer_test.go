package tokenizer

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEstimatorCounts(t *testing.T) {
	c := NewEstimatorCounter()

	assert.Equal(t, 0, c.CountTokens(""))
	assert.Equal(t, 1, c.CountTokens("hi"), "short text still costs at least one token")
	assert.Equal(t, 25, c.CountTokens(strings.Repeat("a", 100)), "latin averages four chars per token")
	assert.Equal(t, 50, c.CountTokens(strings.Repeat("ש", 100)), "dense scripts average two chars per token")
}

func TestEstimatorMixedScript(t *testing.T) {
	c := NewEstimatorCounter()
	// 40 latin chars + 20 hebrew chars -> 10 + 10.
	text := strings.Repeat("a", 40) + strings.Repeat("ב", 20)
	assert.Equal(t, 20, c.CountTokens(text))
}

func TestNewCounterFallsBackForUnknownModel(t *testing.T) {
	c := NewCounter("definitely-not-a-model", nil)
	_, ok := c.(*EstimatorCounter)
	assert.True(t, ok, "unknown models fall back to the estimator")
	assert.Positive(t, c.CountTokens("some text here"))
}
