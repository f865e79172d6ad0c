// Package retrieval implements the multi-strategy retrieval engine: dense,
// sparse, and hybrid search against the abstract document index, with query
// expansion, automatic domain widening, per-call timeouts, and isolation of
// per-sub-query failures.
package retrieval

import (
	"context"
	"math"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/coverbot/policyqa/embedding"
	"github.com/coverbot/policyqa/index"
	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/types"
)

// Config configures the retrieval engine.
type Config struct {
	// TopK candidates per search call.
	TopK int `json:"top_k" yaml:"top_k"`
	// Alpha weights dense scores in the hybrid fusion:
	// hybrid = alpha*dense + (1-alpha)*sparse, after per-set min-max
	// normalization.
	Alpha float64 `json:"alpha" yaml:"alpha"`
	// AlphaPerDomain overrides Alpha for specific domains.
	AlphaPerDomain map[types.Domain]float64 `json:"alpha_per_domain" yaml:"alpha_per_domain"`
	// MaxExpansions caps generated paraphrases per sub-query.
	MaxExpansions int `json:"max_expansions" yaml:"max_expansions"`
	// MinResults triggers cross-domain widening when a domain-scoped
	// search returns fewer hits.
	MinResults int `json:"min_results" yaml:"min_results"`
	// CallTimeout bounds each external call (embed, search). A timed-out
	// call contributes nothing; it is not a pipeline failure.
	CallTimeout time.Duration `json:"call_timeout" yaml:"call_timeout"`
	// MaxConcurrency bounds concurrent sub-query retrievals.
	MaxConcurrency int `json:"max_concurrency" yaml:"max_concurrency"`
	// UseLLMExpansion enables model-generated paraphrases in addition to
	// rule-based synonym substitution.
	UseLLMExpansion bool `json:"use_llm_expansion" yaml:"use_llm_expansion"`
}

// DefaultConfig returns the default retrieval configuration.
func DefaultConfig() Config {
	return Config{
		TopK:            20,
		Alpha:           0.6,
		MaxExpansions:   3,
		MinResults:      3,
		CallTimeout:     10 * time.Second,
		MaxConcurrency:  8,
		UseLLMExpansion: true,
	}
}

// Engine runs retrieval for a set of sub-queries concurrently.
type Engine struct {
	cfg      Config
	idx      index.Index
	embedder embedding.Provider
	provider llm.Provider // optional, for paraphrase expansion
	logger   *zap.Logger
}

// NewEngine creates a retrieval engine. provider may be nil to disable
// model-generated expansion.
func NewEngine(cfg Config, idx index.Index, embedder embedding.Provider, provider llm.Provider, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TopK <= 0 {
		cfg.TopK = 20
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 8
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Engine{
		cfg:      cfg,
		idx:      idx,
		embedder: embedder,
		provider: provider,
		logger:   logger.With(zap.String("component", "retrieval_engine")),
	}
}

// Retrieve runs one retrieval per sub-query, issued concurrently. A backend
// failure on one sub-query yields zero results for it and never fails the
// whole call; only context cancellation aborts.
func (e *Engine) Retrieve(ctx context.Context, subQueries []types.SubQuery) ([]types.RetrievalResult, error) {
	var (
		mu  sync.Mutex
		all []types.RetrievalResult
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.cfg.MaxConcurrency)

	for _, sq := range subQueries {
		g.Go(func() error {
			if gctx.Err() != nil {
				return gctx.Err()
			}
			results := e.retrieveOne(gctx, sq)
			mu.Lock()
			all = append(all, results...)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return all, nil
}

// accumulator merges per-expansion search hits for one sub-query, keeping
// the best score per chunk and method.
type accumulator struct {
	chunks      map[string]types.DocumentChunk
	dense       map[string]float64
	sparse      map[string]float64
	crossDomain map[string]bool
}

func newAccumulator() *accumulator {
	return &accumulator{
		chunks:      make(map[string]types.DocumentChunk),
		dense:       make(map[string]float64),
		sparse:      make(map[string]float64),
		crossDomain: make(map[string]bool),
	}
}

func (a *accumulator) add(hits []index.Hit, dense bool, widened bool) {
	for _, h := range hits {
		id := h.Chunk.ID
		if _, ok := a.chunks[id]; !ok {
			a.chunks[id] = h.Chunk
			a.crossDomain[id] = widened
		}
		m := a.sparse
		if dense {
			m = a.dense
		}
		if h.Score > m[id] {
			m[id] = h.Score
		}
	}
}

func (e *Engine) retrieveOne(ctx context.Context, sq types.SubQuery) []types.RetrievalResult {
	domain := sq.Domain()
	acc := newAccumulator()

	queries := e.expand(ctx, sq)
	for _, q := range queries {
		e.searchInto(ctx, acc, q, domain, false)
	}

	// Domain-scoped search under the minimum: widen to all domains and tag
	// the extra results so ranking can discount them.
	if domain != types.DomainGeneral && len(acc.chunks) < e.cfg.MinResults {
		e.logger.Debug("widening to cross-domain search",
			zap.String("sub_query_id", sq.ID),
			zap.Int("scoped_hits", len(acc.chunks)))
		for _, q := range queries {
			e.searchInto(ctx, acc, q, types.DomainGeneral, true)
		}
	}

	return e.fuse(acc, sq)
}

// searchInto runs one dense and one sparse search for q and merges the hits.
// The dense and sparse paths carry independent timeouts so a slow embedding
// backend cannot starve keyword search; failures contribute nothing.
func (e *Engine) searchInto(ctx context.Context, acc *accumulator, q string, domain types.Domain, widened bool) {
	denseCtx, cancelDense := context.WithTimeout(ctx, e.cfg.CallTimeout)
	vec, err := e.embedder.EmbedQuery(denseCtx, q)
	if err != nil {
		e.logger.Warn("embedding failed, dense search skipped",
			zap.String("query", q), zap.Error(err))
	} else {
		hits, err := e.idx.VectorSearch(denseCtx, vec, e.cfg.TopK, domain)
		if err != nil {
			e.logger.Warn("dense search failed", zap.String("query", q), zap.Error(err))
		} else {
			acc.add(hits, true, widened)
		}
	}
	cancelDense()

	sparseCtx, cancelSparse := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancelSparse()
	hits, err := e.idx.KeywordSearch(sparseCtx, q, e.cfg.TopK, domain)
	if err != nil {
		e.logger.Warn("sparse search failed", zap.String("query", q), zap.Error(err))
		return
	}
	acc.add(hits, false, widened)
}

// fuse min-max normalizes dense and sparse scores over the accumulated set
// and combines them with the per-domain alpha.
func (e *Engine) fuse(acc *accumulator, sq types.SubQuery) []types.RetrievalResult {
	if len(acc.chunks) == 0 {
		return nil
	}
	alpha := e.alphaFor(sq.Domain())
	denseNorm := minMaxNormalize(acc.dense)
	sparseNorm := minMaxNormalize(acc.sparse)

	results := make([]types.RetrievalResult, 0, len(acc.chunks))
	for id, chunk := range acc.chunks {
		d, hasDense := denseNorm[id]
		s, hasSparse := sparseNorm[id]

		var method types.RetrievalMethod
		var score float64
		switch {
		case hasDense && hasSparse:
			method = types.MethodHybrid
			score = alpha*d + (1-alpha)*s
		case hasDense:
			method = types.MethodDense
			score = alpha * d
		default:
			method = types.MethodSparse
			score = (1 - alpha) * s
		}

		results = append(results, types.RetrievalResult{
			Chunk:       chunk,
			SubQueryID:  sq.ID,
			Method:      method,
			Score:       score,
			DenseScore:  d,
			SparseScore: s,
			CrossDomain: acc.crossDomain[id],
		})
	}
	return results
}

func (e *Engine) alphaFor(domain types.Domain) float64 {
	if a, ok := e.cfg.AlphaPerDomain[domain]; ok {
		return a
	}
	if e.cfg.Alpha > 0 {
		return e.cfg.Alpha
	}
	return 0.6
}

func minMaxNormalize(scores map[string]float64) map[string]float64 {
	if len(scores) == 0 {
		return scores
	}
	lo, hi := math.MaxFloat64, -math.MaxFloat64
	for _, s := range scores {
		lo = math.Min(lo, s)
		hi = math.Max(hi, s)
	}
	out := make(map[string]float64, len(scores))
	if hi == lo {
		for id := range scores {
			out[id] = 1.0
		}
		return out
	}
	for id, s := range scores {
		out[id] = (s - lo) / (hi - lo)
	}
	return out
}
