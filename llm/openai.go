package llm

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/coverbot/policyqa/types"
)

// OpenAIConfig configures the OpenAI-compatible chat completions provider.
// Works against OpenAI, Nebius, and any other /v1/chat/completions backend.
type OpenAIConfig struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	APIKey      string        `json:"api_key" yaml:"api_key"`
	Model       string        `json:"model" yaml:"model"`
	Timeout     time.Duration `json:"timeout" yaml:"timeout"`
	RatePerSec  float64       `json:"rate_per_sec" yaml:"rate_per_sec"` // 0 disables limiting
	RateBurst   int           `json:"rate_burst" yaml:"rate_burst"`
	RetryPolicy *RetryPolicy  `json:"retry" yaml:"retry"`
}

// DefaultOpenAIConfig returns sane defaults for an OpenAI-compatible backend.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "gpt-4o-mini",
		Timeout:    60 * time.Second,
		RatePerSec: 5,
		RateBurst:  10,
	}
}

// OpenAIProvider implements Provider over the chat completions API.
type OpenAIProvider struct {
	cfg     OpenAIConfig
	client  *http.Client
	limiter *rate.Limiter
	retryer *Retryer
	logger  *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.RatePerSec > 0 {
		burst := cfg.RateBurst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RatePerSec), burst)
	}
	return &OpenAIProvider{
		cfg:     cfg,
		client:  &http.Client{Timeout: cfg.Timeout},
		limiter: limiter,
		retryer: NewRetryer(cfg.RetryPolicy, logger),
		logger:  logger.With(zap.String("component", "llm_provider"), zap.String("provider", "openai")),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens,omitempty"`
	Stream      bool          `json:"stream,omitempty"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		Delta struct {
			Content string `json:"content"`
		} `json:"delta"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Complete generates a completion for the given request.
func (p *OpenAIProvider) Complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	var out *Completion
	err := p.retryer.Do(ctx, func() error {
		c, err := p.complete(ctx, req)
		if err != nil {
			return err
		}
		out = c
		return nil
	})
	return out, err
}

func (p *OpenAIProvider) complete(ctx context.Context, req *CompletionRequest) (*Completion, error) {
	resp, err := p.post(ctx, p.buildBody(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp)
	}

	var cr chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&cr); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode completion response").
			WithCause(err).WithProvider(p.Name())
	}
	if len(cr.Choices) == 0 {
		return nil, types.NewError(types.ErrUpstreamError, "empty choices in completion response").
			WithProvider(p.Name())
	}

	return &Completion{
		Text:     cr.Choices[0].Message.Content,
		Model:    cr.Model,
		Provider: p.Name(),
		Usage: Usage{
			PromptTokens:     cr.Usage.PromptTokens,
			CompletionTokens: cr.Usage.CompletionTokens,
			TotalTokens:      cr.Usage.TotalTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// CompleteStream generates a completion, delivering deltas through fn.
// Streaming calls are not retried: deltas may already have been delivered.
func (p *OpenAIProvider) CompleteStream(ctx context.Context, req *CompletionRequest, fn StreamFunc) (*Completion, error) {
	resp, err := p.post(ctx, p.buildBody(req, true))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, p.mapHTTPError(resp)
	}

	var sb strings.Builder
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "[DONE]" {
			break
		}
		var cr chatResponse
		if err := json.Unmarshal([]byte(payload), &cr); err != nil {
			p.logger.Warn("skipping malformed stream event", zap.Error(err))
			continue
		}
		if len(cr.Choices) == 0 {
			continue
		}
		delta := cr.Choices[0].Delta.Content
		if delta == "" {
			continue
		}
		sb.WriteString(delta)
		if err := fn(delta); err != nil {
			return nil, err
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "read completion stream").
			WithCause(err).WithProvider(p.Name())
	}

	return &Completion{
		Text:      sb.String(),
		Model:     p.cfg.Model,
		Provider:  p.Name(),
		CreatedAt: time.Now(),
	}, nil
}

func (p *OpenAIProvider) buildBody(req *CompletionRequest, stream bool) *chatRequest {
	model := req.Model
	if model == "" {
		model = p.cfg.Model
	}
	messages := make([]chatMessage, 0, 2)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}
	messages = append(messages, chatMessage{Role: "user", Content: req.Prompt})
	return &chatRequest{
		Model:       model,
		Messages:    messages,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      stream,
	}
}

func (p *OpenAIProvider) post(ctx context.Context, body *chatRequest) (*http.Response, error) {
	if p.limiter != nil {
		if err := p.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	data, err := json.Marshal(body)
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal completion request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/chat/completions", bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build completion request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrProviderUnavailable, "completion request failed").
			WithCause(err).WithProvider(p.Name()).WithRetryable(true)
	}
	return resp, nil
}

// mapHTTPError converts a non-200 response into the unified error taxonomy.
func (p *OpenAIProvider) mapHTTPError(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	msg := fmt.Sprintf("provider returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return types.NewError(types.ErrRateLimited, msg).WithProvider(p.Name()).WithRetryable(true)
	case resp.StatusCode == http.StatusRequestTimeout:
		return types.NewError(types.ErrTimeout, msg).WithProvider(p.Name()).WithRetryable(true)
	case resp.StatusCode >= 500:
		return types.NewError(types.ErrProviderUnavailable, msg).WithProvider(p.Name()).WithRetryable(true)
	default:
		return types.NewError(types.ErrUpstreamError, msg).WithProvider(p.Name())
	}
}
