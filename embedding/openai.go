package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/types"
)

// OpenAIConfig configures the OpenAI-compatible embeddings provider.
type OpenAIConfig struct {
	BaseURL    string        `json:"base_url" yaml:"base_url"`
	APIKey     string        `json:"api_key" yaml:"api_key"`
	Model      string        `json:"model" yaml:"model"`
	Dimensions int           `json:"dimensions" yaml:"dimensions"`
	Timeout    time.Duration `json:"timeout" yaml:"timeout"`
}

// DefaultOpenAIConfig returns defaults for an OpenAI-compatible backend.
func DefaultOpenAIConfig() OpenAIConfig {
	return OpenAIConfig{
		BaseURL:    "https://api.openai.com/v1",
		Model:      "text-embedding-3-small",
		Dimensions: 1536,
		Timeout:    30 * time.Second,
	}
}

// OpenAIProvider implements Provider over the /embeddings endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *http.Client
	logger *zap.Logger
}

// NewOpenAIProvider creates an OpenAI-compatible embedding provider.
func NewOpenAIProvider(cfg OpenAIConfig, logger *zap.Logger) *OpenAIProvider {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	return &OpenAIProvider{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "embedding_provider")),
	}
}

// Name returns the provider name.
func (p *OpenAIProvider) Name() string { return "openai" }

// Dimensions returns the embedding dimensionality.
func (p *OpenAIProvider) Dimensions() int { return p.cfg.Dimensions }

type embedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Index     int       `json:"index"`
		Embedding []float64 `json:"embedding"`
	} `json:"data"`
}

// EmbedQuery embeds a single search query.
func (p *OpenAIProvider) EmbedQuery(ctx context.Context, text string) ([]float64, error) {
	vecs, err := p.EmbedDocuments(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vecs[0], nil
}

// EmbedDocuments embeds a batch of documents.
func (p *OpenAIProvider) EmbedDocuments(ctx context.Context, texts []string) ([][]float64, error) {
	data, err := json.Marshal(embedRequest{Model: p.cfg.Model, Input: texts})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal embedding request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(p.cfg.BaseURL, "/")+"/embeddings", bytes.NewReader(data))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build embedding request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrProviderUnavailable, "embedding request failed").
			WithCause(err).WithProvider(p.Name()).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("embedding backend returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, types.NewError(types.ErrProviderUnavailable, msg).
				WithProvider(p.Name()).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrUpstreamError, msg).WithProvider(p.Name())
	}

	var er embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&er); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode embedding response").
			WithCause(err).WithProvider(p.Name())
	}
	if len(er.Data) != len(texts) {
		return nil, types.NewError(types.ErrUpstreamError,
			fmt.Sprintf("embedding count mismatch: want %d, got %d", len(texts), len(er.Data))).
			WithProvider(p.Name())
	}

	out := make([][]float64, len(texts))
	for _, d := range er.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, types.NewError(types.ErrUpstreamError, "embedding index out of range").
				WithProvider(p.Name())
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}
