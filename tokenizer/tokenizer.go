// Package tokenizer provides token counting for context budgets. The primary
// implementation uses tiktoken; a character-based estimator serves as fallback
// when encoding data is unavailable or the text is out of vocabulary.
package tokenizer

import (
	"unicode"

	"github.com/pkoukk/tiktoken-go"
	"go.uber.org/zap"
)

// Counter counts tokens in text.
type Counter interface {
	// CountTokens returns the token count of text.
	CountTokens(text string) int
}

// TiktokenCounter counts tokens with a tiktoken encoding, falling back to the
// estimator on error.
type TiktokenCounter struct {
	enc      *tiktoken.Tiktoken
	fallback *EstimatorCounter
	logger   *zap.Logger
}

// NewTiktokenCounter creates a counter for the given model (e.g. "gpt-4o").
func NewTiktokenCounter(model string, logger *zap.Logger) (*TiktokenCounter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		return nil, err
	}
	return &TiktokenCounter{
		enc:      enc,
		fallback: NewEstimatorCounter(),
		logger:   logger.With(zap.String("component", "tokenizer")),
	}, nil
}

// CountTokens returns the token count of text.
func (c *TiktokenCounter) CountTokens(text string) int {
	if c.enc == nil {
		return c.fallback.CountTokens(text)
	}
	return len(c.enc.Encode(text, nil, nil))
}

// EstimatorCounter approximates token counts without encoding data. Latin
// script averages ~4 characters per token; Hebrew, Arabic and CJK text runs
// closer to 2 characters per token.
type EstimatorCounter struct{}

// NewEstimatorCounter creates an estimator counter.
func NewEstimatorCounter() *EstimatorCounter {
	return &EstimatorCounter{}
}

// CountTokens returns an estimated token count of text.
func (c *EstimatorCounter) CountTokens(text string) int {
	if text == "" {
		return 0
	}
	var latin, dense int
	for _, r := range text {
		if r <= unicode.MaxASCII {
			latin++
		} else {
			dense++
		}
	}
	n := latin/4 + dense/2
	if n == 0 {
		n = 1
	}
	return n
}

// NewCounter returns a tiktoken counter for model, or the estimator when the
// encoding cannot be constructed (offline environments).
func NewCounter(model string, logger *zap.Logger) Counter {
	if logger == nil {
		logger = zap.NewNop()
	}
	c, err := NewTiktokenCounter(model, logger)
	if err != nil {
		logger.Warn("tiktoken unavailable, using estimator", zap.Error(err))
		return NewEstimatorCounter()
	}
	return c
}
