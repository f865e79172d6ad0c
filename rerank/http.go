package rerank

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

// HTTPConfig configures a hosted rerank backend speaking the common
// /rerank JSON contract (Cohere, Jina, Voyage compatible).
type HTTPConfig struct {
	BaseURL string        `json:"base_url" yaml:"base_url"`
	APIKey  string        `json:"api_key" yaml:"api_key"`
	Model   string        `json:"model" yaml:"model"`
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
}

// HTTPScorer implements Scorer against a hosted cross-encoder.
type HTTPScorer struct {
	cfg    HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPScorer creates a hosted rerank scorer.
func NewHTTPScorer(cfg HTTPConfig, logger *zap.Logger) *HTTPScorer {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 15 * time.Second
	}
	return &HTTPScorer{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With(zap.String("component", "rerank_scorer")),
	}
}

// Name returns the scorer name.
func (s *HTTPScorer) Name() string { return "http" }

type rerankRequest struct {
	Model     string   `json:"model"`
	Query     string   `json:"query"`
	Documents []string `json:"documents"`
	TopN      int      `json:"top_n"`
}

type rerankResponse struct {
	Results []struct {
		Index          int     `json:"index"`
		RelevanceScore float64 `json:"relevance_score"`
	} `json:"results"`
}

// Score returns one relevance score per passage, in input order.
func (s *HTTPScorer) Score(ctx context.Context, query string, passages []string) ([]float64, error) {
	body, err := json.Marshal(rerankRequest{
		Model:     s.cfg.Model,
		Query:     query,
		Documents: passages,
		TopN:      len(passages),
	})
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "marshal rerank request").WithCause(err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		strings.TrimRight(s.cfg.BaseURL, "/")+"/rerank", bytes.NewReader(body))
	if err != nil {
		return nil, types.NewError(types.ErrInternalError, "build rerank request").WithCause(err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+s.cfg.APIKey)
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, types.NewError(types.ErrProviderUnavailable, "rerank request failed").
			WithCause(err).WithProvider(s.Name()).WithRetryable(true)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		msg := fmt.Sprintf("rerank backend returned HTTP %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, types.NewError(types.ErrProviderUnavailable, msg).
				WithProvider(s.Name()).WithRetryable(true)
		}
		return nil, types.NewError(types.ErrUpstreamError, msg).WithProvider(s.Name())
	}

	var rr rerankResponse
	if err := json.NewDecoder(resp.Body).Decode(&rr); err != nil {
		return nil, types.NewError(types.ErrUpstreamError, "decode rerank response").
			WithCause(err).WithProvider(s.Name())
	}

	scores := make([]float64, len(passages))
	for _, r := range rr.Results {
		if r.Index < 0 || r.Index >= len(scores) {
			return nil, types.NewError(types.ErrUpstreamError, "rerank index out of range").
				WithProvider(s.Name())
		}
		scores[r.Index] = r.RelevanceScore
	}
	return scores, nil
}
