package llm

import (
	"context"
	"math"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/types"
)

// RetryPolicy configures bounded exponential backoff for provider calls.
type RetryPolicy struct {
	MaxRetries   int           `json:"max_retries"`   // 0 disables retry
	InitialDelay time.Duration `json:"initial_delay"` //
	MaxDelay     time.Duration `json:"max_delay"`     //
	Multiplier   float64       `json:"multiplier"`    // exponential factor
	Jitter       bool          `json:"jitter"`        // randomize delays
}

// DefaultRetryPolicy returns the policy used for LLM and embedding calls.
func DefaultRetryPolicy() *RetryPolicy {
	return &RetryPolicy{
		MaxRetries:   3,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     10 * time.Second,
		Multiplier:   2.0,
		Jitter:       true,
	}
}

// Retryer retries a function according to a RetryPolicy. Only errors marked
// retryable by the types taxonomy are retried.
type Retryer struct {
	policy *RetryPolicy
	logger *zap.Logger
}

// NewRetryer creates a Retryer, normalizing degenerate policy values.
func NewRetryer(policy *RetryPolicy, logger *zap.Logger) *Retryer {
	if policy == nil {
		policy = DefaultRetryPolicy()
	}
	if policy.MaxRetries < 0 {
		policy.MaxRetries = 0
	}
	if policy.InitialDelay <= 0 {
		policy.InitialDelay = 500 * time.Millisecond
	}
	if policy.MaxDelay <= 0 {
		policy.MaxDelay = 10 * time.Second
	}
	if policy.Multiplier < 1.0 {
		policy.Multiplier = 2.0
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Retryer{policy: policy, logger: logger}
}

// Do executes fn, retrying retryable failures with exponential backoff until
// the policy or the context is exhausted.
func (r *Retryer) Do(ctx context.Context, fn func() error) error {
	var lastErr error

	for attempt := 0; attempt <= r.policy.MaxRetries; attempt++ {
		if attempt > 0 {
			delay := r.delayFor(attempt)
			r.logger.Debug("retrying after failure",
				zap.Int("attempt", attempt),
				zap.Duration("delay", delay),
				zap.Error(lastErr))
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if !types.IsRetryable(lastErr) {
			return lastErr
		}
	}

	return lastErr
}

func (r *Retryer) delayFor(attempt int) time.Duration {
	d := float64(r.policy.InitialDelay) * math.Pow(r.policy.Multiplier, float64(attempt-1))
	if d > float64(r.policy.MaxDelay) {
		d = float64(r.policy.MaxDelay)
	}
	if r.policy.Jitter {
		d = d/2 + rand.Float64()*d/2
	}
	return time.Duration(d)
}
