package types

import "fmt"

// ErrorCode represents a unified error code across the pipeline.
type ErrorCode string

// Input and upstream error codes
const (
	ErrInvalidInput        ErrorCode = "INVALID_INPUT"
	ErrInputTooLong        ErrorCode = "INPUT_TOO_LONG"
	ErrUnsafeInput         ErrorCode = "UNSAFE_INPUT"
	ErrProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"
	ErrIndexUnavailable    ErrorCode = "INDEX_UNAVAILABLE"
	ErrRateLimited         ErrorCode = "RATE_LIMITED"
	ErrTimeout             ErrorCode = "TIMEOUT"
	ErrUpstreamError       ErrorCode = "UPSTREAM_ERROR"
)

// Pipeline error codes
const (
	ErrNoContext            ErrorCode = "NO_CONTEXT"
	ErrVerificationRejected ErrorCode = "VERIFICATION_REJECTED"
	ErrContractViolation    ErrorCode = "CONTRACT_VIOLATION"
	ErrInternalError        ErrorCode = "INTERNAL_ERROR"
)

// Error represents a structured error with code, message, and metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Provider  string    `json:"provider,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// WithProvider sets the provider name.
func (e *Error) WithProvider(provider string) *Error {
	e.Provider = provider
	return e
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	if e, ok := err.(*Error); ok {
		return e.Retryable
	}
	return false
}

// GetErrorCode extracts the error code from an error.
func GetErrorCode(err error) ErrorCode {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return ""
}

// IsProviderUnavailable reports whether err is the distinguishable
// "provider unavailable" condition of an LLM or embedding backend.
func IsProviderUnavailable(err error) bool {
	return GetErrorCode(err) == ErrProviderUnavailable
}

// Fixed user-facing safe messages. The user always receives either a grounded
// answer or one of these; raw errors never surface.
const (
	// MsgInsufficientInformation is returned when no usable context survives
	// ranking. The generator emits it without calling the model.
	MsgInsufficientInformation = "I could not find information about this in the policy documents. Please contact customer support for assistance."

	// MsgInsufficientConfidence is the verifier's rejection fallback.
	MsgInsufficientConfidence = "I don't have enough information to answer confidently; please contact support."

	// MsgServiceUnavailable is returned on exhausted upstream retries.
	MsgServiceUnavailable = "The service is temporarily unavailable. Please try again in a few minutes."
)
