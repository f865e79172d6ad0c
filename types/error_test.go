package types

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorFormatting(t *testing.T) {
	e := NewError(ErrRateLimited, "too many requests")
	assert.Equal(t, "[RATE_LIMITED] too many requests", e.Error())

	cause := errors.New("socket closed")
	e = NewError(ErrProviderUnavailable, "request failed").WithCause(cause)
	assert.Equal(t, "[PROVIDER_UNAVAILABLE] request failed: socket closed", e.Error())
	assert.ErrorIs(t, e, cause)
}

func TestErrorTaxonomyHelpers(t *testing.T) {
	e := NewError(ErrProviderUnavailable, "down").WithRetryable(true).WithProvider("openai")

	assert.True(t, IsRetryable(e))
	assert.True(t, IsProviderUnavailable(e))
	assert.Equal(t, ErrProviderUnavailable, GetErrorCode(e))

	plain := errors.New("plain")
	assert.False(t, IsRetryable(plain))
	assert.Equal(t, ErrorCode(""), GetErrorCode(plain))
}

func TestErrorAsThroughWrapping(t *testing.T) {
	inner := NewError(ErrUnsafeInput, "blocked")
	wrapped := fmt.Errorf("screening: %w", inner)

	var typed *Error
	assert.True(t, errors.As(wrapped, &typed))
	assert.Equal(t, ErrUnsafeInput, typed.Code)
}

func TestNormalizedText(t *testing.T) {
	assert.Equal(t, "what is covered", NormalizedText("  What IS   covered ?! "))
	assert.Equal(t, "what is covered", NormalizedText("what is covered."))
	assert.Equal(t, "", NormalizedText("   "))
	assert.Equal(t, "תקופת המתנה", NormalizedText("תקופת   המתנה?"))
}
