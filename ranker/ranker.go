// Package ranker merges per-sub-query retrieval results into a ranked
// context: cross-encoder re-ranking, duplicate removal, maximal-marginal-
// relevance diversity sampling, an absolute quality floor, and compression
// to a token budget. "No good context" is a valid outcome.
package ranker

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/rerank"
	"github.com/coverbot/policyqa/tokenizer"
	"github.com/coverbot/policyqa/types"
)

// Config configures the context ranker.
type Config struct {
	// Lambda balances relevance against redundancy in MMR selection:
	// pick argmax lambda*relevance - (1-lambda)*maxSimilarityToSelected.
	Lambda float64 `json:"lambda" yaml:"lambda"`
	// DedupJaccard is the token-Jaccard threshold above which two chunks
	// are considered duplicates.
	DedupJaccard float64 `json:"dedup_jaccard" yaml:"dedup_jaccard"`
	// MinRelevance drops chunks below this floor even with budget left.
	MinRelevance float64 `json:"min_relevance" yaml:"min_relevance"`
	// MaxChunks caps the number of selected chunks.
	MaxChunks int `json:"max_chunks" yaml:"max_chunks"`
	// TokenBudget caps the total selected text.
	TokenBudget int `json:"token_budget" yaml:"token_budget"`
	// CrossDomainPenalty multiplies the relevance of results obtained by
	// domain widening.
	CrossDomainPenalty float64 `json:"cross_domain_penalty" yaml:"cross_domain_penalty"`
	// RerankTimeout bounds the re-rank scorer call; on timeout the
	// retrieval-stage scores are used instead.
	RerankTimeout time.Duration `json:"rerank_timeout" yaml:"rerank_timeout"`
}

// DefaultConfig returns the default ranker configuration.
func DefaultConfig() Config {
	return Config{
		Lambda:             0.7,
		DedupJaccard:       0.9,
		MinRelevance:       0.15,
		MaxChunks:          8,
		TokenBudget:        3000,
		CrossDomainPenalty: 0.8,
		RerankTimeout:      10 * time.Second,
	}
}

// Ranker is the context-ranking stage.
type Ranker struct {
	cfg     Config
	scorer  rerank.Scorer
	counter tokenizer.Counter
	logger  *zap.Logger
}

// NewRanker creates a ranker. counter may be nil, in which case a character
// estimator is used for budgets.
func NewRanker(cfg Config, scorer rerank.Scorer, counter tokenizer.Counter, logger *zap.Logger) *Ranker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if counter == nil {
		counter = tokenizer.NewEstimatorCounter()
	}
	if cfg.MaxChunks <= 0 {
		cfg.MaxChunks = 8
	}
	if cfg.TokenBudget <= 0 {
		cfg.TokenBudget = 3000
	}
	return &Ranker{
		cfg:     cfg,
		scorer:  scorer,
		counter: counter,
		logger:  logger.With(zap.String("component", "context_ranker")),
	}
}

// candidate is one chunk with its working relevance score.
type candidate struct {
	chunk       types.DocumentChunk
	relevance   float64
	crossDomain bool
	tokens      []string
}

// Rank merges retrieval results into a RankedContext.
func (r *Ranker) Rank(ctx context.Context, query types.Query, results []types.RetrievalResult) (types.RankedContext, error) {
	out := types.RankedContext{TokenBudget: r.cfg.TokenBudget}
	if len(results) == 0 {
		return out, nil
	}

	candidates := r.collapseByChunk(results)
	r.rescore(ctx, query, candidates)
	candidates = r.dedupe(candidates)

	// Quality floor: forcing weak padding into the context is worse than
	// an empty context.
	kept := candidates[:0]
	for _, c := range candidates {
		if c.relevance >= r.cfg.MinRelevance {
			kept = append(kept, c)
		}
	}
	candidates = kept
	if len(candidates) == 0 {
		r.logger.Info("no context above relevance floor", zap.String("query_id", query.ID))
		return out, nil
	}

	selected := r.selectMMR(ctx, query, candidates)
	for i, c := range selected {
		out.Entries = append(out.Entries, types.ContextEntry{
			Marker:    i + 1,
			Chunk:     c.chunk,
			Relevance: c.relevance,
			Truncated: c.truncated,
		})
		out.TokenCount += r.counter.CountTokens(c.chunk.Text)
	}

	r.logger.Info("context ranked",
		zap.String("query_id", query.ID),
		zap.Int("candidates", len(results)),
		zap.Int("selected", len(out.Entries)),
		zap.Int("tokens", out.TokenCount))
	return out, nil
}

// collapseByChunk merges results for the same chunk across sub-queries,
// keeping the best retrieval score as the initial relevance.
func (r *Ranker) collapseByChunk(results []types.RetrievalResult) []candidate {
	byID := make(map[string]*candidate)
	order := make([]string, 0, len(results))
	for _, res := range results {
		c, ok := byID[res.Chunk.ID]
		if !ok {
			byID[res.Chunk.ID] = &candidate{
				chunk:       res.Chunk,
				relevance:   res.Score,
				crossDomain: res.CrossDomain,
				tokens:      contentTokens(res.Chunk.Text),
			}
			order = append(order, res.Chunk.ID)
			continue
		}
		if res.Score > c.relevance {
			c.relevance = res.Score
		}
		// A chunk found in-domain for any sub-query is not discounted.
		if !res.CrossDomain {
			c.crossDomain = false
		}
	}

	out := make([]candidate, 0, len(byID))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out
}

// rescore replaces retrieval scores with re-ranker scores. On scorer failure
// or timeout the retrieval scores stand; this is degradation, not an error.
func (r *Ranker) rescore(ctx context.Context, query types.Query, candidates []candidate) {
	if r.scorer != nil {
		callCtx, cancel := context.WithTimeout(ctx, r.cfg.RerankTimeout)
		defer cancel()

		passages := make([]string, len(candidates))
		for i, c := range candidates {
			passages[i] = c.chunk.Text
		}
		scores, err := r.scorer.Score(callCtx, query.Text, passages)
		switch {
		case err != nil:
			r.logger.Warn("re-rank failed, keeping retrieval scores", zap.Error(err))
		case len(scores) != len(passages):
			r.logger.Warn("re-rank returned wrong score count, keeping retrieval scores",
				zap.Int("passages", len(passages)), zap.Int("scores", len(scores)))
		default:
			for i := range candidates {
				candidates[i].relevance = scores[i]
			}
		}
	}

	penalty := r.cfg.CrossDomainPenalty
	if penalty <= 0 || penalty > 1 {
		penalty = 1
	}
	for i := range candidates {
		if candidates[i].crossDomain {
			candidates[i].relevance *= penalty
		}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].relevance > candidates[j].relevance
	})
}

// dedupe removes chunks sharing a source location or overlapping above the
// Jaccard threshold, keeping the highest-scored of each duplicate group.
// Candidates must already be sorted by relevance descending; the operation
// is idempotent.
func (r *Ranker) dedupe(candidates []candidate) []candidate {
	seenSource := make(map[string]bool)
	kept := make([]candidate, 0, len(candidates))

	for _, c := range candidates {
		key := c.chunk.Source.Key()
		if seenSource[key] {
			continue
		}
		dup := false
		for _, k := range kept {
			if jaccard(c.tokens, k.tokens) >= r.cfg.DedupJaccard {
				dup = true
				break
			}
		}
		if dup {
			continue
		}
		seenSource[key] = true
		kept = append(kept, c)
	}
	return kept
}
