package llm

import (
	"context"
	"time"
)

// CompletionRequest is a single text-completion call.
type CompletionRequest struct {
	System      string  `json:"system,omitempty"`
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model,omitempty"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens,omitempty"`
}

// Usage reports token consumption of one call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Completion is the provider response.
type Completion struct {
	Text      string    `json:"text"`
	Model     string    `json:"model"`
	Provider  string    `json:"provider"`
	Usage     Usage     `json:"usage"`
	CreatedAt time.Time `json:"created_at"`
}

// StreamFunc receives incremental text deltas during a streamed completion.
// Returning an error aborts the stream.
type StreamFunc func(delta string) error

// Provider is the unified language-model interface. Implementations must
// return a types.Error with code PROVIDER_UNAVAILABLE when the backend is
// down, so callers can distinguish unavailability from bad requests.
type Provider interface {
	// Complete generates a completion for the given request.
	Complete(ctx context.Context, req *CompletionRequest) (*Completion, error)

	// CompleteStream generates a completion, delivering text incrementally
	// through fn and returning the assembled result.
	CompleteStream(ctx context.Context, req *CompletionRequest, fn StreamFunc) (*Completion, error)

	// Name returns the provider name.
	Name() string
}
