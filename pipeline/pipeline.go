// Package pipeline orchestrates the five answer stages end to end: analyze,
// retrieve, rank, generate, verify. It owns the request-scoped concerns the
// stages do not: input screening, answer caching, request coalescing,
// speculative retrieval, the total deadline, metrics, and tracing.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/coverbot/policyqa/analyzer"
	"github.com/coverbot/policyqa/generator"
	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/ranker"
	"github.com/coverbot/policyqa/retrieval"
	"github.com/coverbot/policyqa/types"
	"github.com/coverbot/policyqa/verifier"
)

// Config configures the orchestrator.
type Config struct {
	// TotalTimeout bounds one answer end to end. On expiry the user gets
	// the safe unavailable message, never a hang or a raw error.
	TotalTimeout time.Duration `json:"total_timeout" yaml:"total_timeout"`
	// Speculative starts retrieval for the rule-guessed domain while the
	// analyzer runs, and discards it if the analysis disagrees.
	Speculative bool            `json:"speculative" yaml:"speculative"`
	Guardrails  GuardrailConfig `json:"guardrails" yaml:"guardrails"`
	Cache       CacheConfig     `json:"cache" yaml:"cache"`
}

// DefaultConfig returns the default orchestrator configuration.
func DefaultConfig() Config {
	return Config{
		TotalTimeout: 60 * time.Second,
		Speculative:  true,
		Guardrails:   DefaultGuardrailConfig(),
		Cache:        DefaultCacheConfig(),
	}
}

// Pipeline wires the five stages together.
type Pipeline struct {
	cfg       Config
	analyzer  analyzer.Analyzer
	engine    *retrieval.Engine
	ranker    *ranker.Ranker
	generator *generator.Generator
	verifier  *verifier.Verifier

	cache   *AnswerCache
	sf      singleflight.Group
	metrics *Metrics
	tracer  trace.Tracer
	logger  *zap.Logger
}

// NewPipeline assembles the orchestrator. metrics may be nil to disable
// instrument collection.
func NewPipeline(cfg Config, a analyzer.Analyzer, e *retrieval.Engine, r *ranker.Ranker, g *generator.Generator, v *verifier.Verifier, metrics *Metrics, logger *zap.Logger) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.TotalTimeout <= 0 {
		cfg.TotalTimeout = 60 * time.Second
	}
	return &Pipeline{
		cfg:       cfg,
		analyzer:  a,
		engine:    e,
		ranker:    r,
		generator: g,
		verifier:  v,
		cache:     NewAnswerCache(cfg.Cache, logger),
		metrics:   metrics,
		tracer:    otel.Tracer("policyqa/pipeline"),
		logger:    logger.With(zap.String("component", "pipeline")),
	}
}

// Close releases pipeline-owned resources.
func (p *Pipeline) Close() error {
	return p.cache.Close()
}

// Answer runs the full pipeline for one question. Guardrail violations come
// back as typed errors for the API layer; every other failure degrades to a
// safe response. Identical concurrent questions share one computation.
func (p *Pipeline) Answer(ctx context.Context, text string, domain types.Domain) (*types.Response, error) {
	clean, err := p.cfg.Guardrails.screen(text)
	if err != nil {
		p.metrics.countRequest("invalid_input")
		return nil, err
	}

	key := cacheKey(clean, domain)
	if resp, ok := p.cache.Get(ctx, key); ok {
		p.metrics.countCache(true)
		p.metrics.countRequest("cache_hit")
		return resp, nil
	}
	p.metrics.countCache(false)

	// The flight runs detached from any single caller: coalesced waiters
	// must not lose the answer because the caller who started the flight
	// disconnected. The total deadline inside run still bounds it.
	flightCtx := context.WithoutCancel(ctx)
	ch := p.sf.DoChan(key, func() (interface{}, error) {
		// A previous flight may have populated the cache between our lookup
		// and joining the group.
		if resp, ok := p.cache.Get(flightCtx, key); ok {
			return resp, nil
		}
		return p.run(flightCtx, key, clean, domain, nil)
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			p.logger.Debug("request coalesced", zap.String("key", key))
		}
		return res.Val.(*types.Response), nil
	}
}

// AnswerStream is Answer with incremental delivery of the generated text.
// The verification verdict arrives only in the returned response, after the
// stream completes; streamed requests bypass coalescing.
func (p *Pipeline) AnswerStream(ctx context.Context, text string, domain types.Domain, fn llm.StreamFunc) (*types.Response, error) {
	clean, err := p.cfg.Guardrails.screen(text)
	if err != nil {
		p.metrics.countRequest("invalid_input")
		return nil, err
	}

	key := cacheKey(clean, domain)
	if resp, ok := p.cache.Get(ctx, key); ok {
		p.metrics.countCache(true)
		p.metrics.countRequest("cache_hit")
		if err := fn(resp.Answer); err != nil {
			return nil, err
		}
		return resp, nil
	}
	p.metrics.countCache(false)
	return p.run(ctx, key, clean, domain, fn)
}

func (p *Pipeline) run(ctx context.Context, key, text string, domain types.Domain, fn llm.StreamFunc) (*types.Response, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.TotalTimeout)
	defer cancel()
	ctx, span := p.tracer.Start(ctx, "pipeline.answer")
	defer span.End()

	query := types.NewQuery(text, domain)
	start := time.Now()

	spec := p.startSpeculative(ctx, query)

	analysis, err := p.analyze(ctx, query)
	if err != nil {
		return p.degrade(ctx, query, err)
	}

	results, err := p.retrieve(ctx, analysis, spec)
	if err != nil {
		return p.degrade(ctx, query, err)
	}

	rctx, err := p.rank(ctx, query, results)
	if err != nil {
		return p.degrade(ctx, query, err)
	}

	answer, err := p.generate(ctx, analysis, rctx, fn)
	if err != nil {
		return p.degrade(ctx, query, err)
	}

	verdict := p.verify(ctx, analysis, rctx, answer)

	resp := buildResponse(analysis, answer, verdict)
	if verdict.Status != types.StatusRejected {
		p.cache.Set(ctx, key, *resp)
	}
	p.metrics.countRequest(string(verdict.Status))
	p.logger.Info("question answered",
		zap.String("query_id", query.ID),
		zap.String("status", string(verdict.Status)),
		zap.Duration("elapsed", time.Since(start)))
	return resp, nil
}

// specOutcome carries the speculative retrieval result, if any.
type specOutcome struct {
	guess   types.Domain
	ch      chan specResult
	cancel  context.CancelFunc
	started bool
}

type specResult struct {
	results []types.RetrievalResult
	subID   string
	err     error
}

// startSpeculative begins retrieval for the rule-guessed domain before the
// analyzer has spoken. The guess costs one wasted retrieval when wrong and
// saves the retrieval latency when right.
func (p *Pipeline) startSpeculative(ctx context.Context, query types.Query) specOutcome {
	if !p.cfg.Speculative {
		return specOutcome{}
	}
	guess := query.DeclaredDomain
	if guess == "" || guess == types.DomainGeneral {
		guess = analyzer.GuessDomain(query.Text)
	}

	specCtx, cancel := context.WithCancel(ctx)
	sq := types.SubQuery{
		ID:      uuid.NewString(),
		QueryID: query.ID,
		Text:    query.Text,
		Domains: []types.Domain{guess},
	}
	ch := make(chan specResult, 1)
	go func() {
		results, err := p.engine.Retrieve(specCtx, []types.SubQuery{sq})
		ch <- specResult{results: results, subID: sq.ID, err: err}
	}()
	return specOutcome{guess: guess, ch: ch, cancel: cancel, started: true}
}

// retrieve uses the speculative results when the analysis confirms the guess
// (single sub-query on the guessed domain) and discards them otherwise.
func (p *Pipeline) retrieve(ctx context.Context, analysis types.Analysis, spec specOutcome) ([]types.RetrievalResult, error) {
	defer p.metrics.observeStage("retrieve", time.Now())
	ctx, span := p.tracer.Start(ctx, "pipeline.retrieve")
	defer span.End()

	if spec.started {
		if len(analysis.SubQueries) == 1 && analysis.SubQueries[0].Domain() == spec.guess {
			out := <-spec.ch
			spec.cancel()
			if out.err == nil {
				// Re-tag the results with the analyzer's sub-query identity.
				for i := range out.results {
					out.results[i].SubQueryID = analysis.SubQueries[0].ID
				}
				p.logger.Debug("speculative retrieval used",
					zap.String("query_id", analysis.Query.ID),
					zap.String("domain", string(spec.guess)))
				return out.results, nil
			}
		} else {
			spec.cancel()
		}
	}
	return p.engine.Retrieve(ctx, analysis.SubQueries)
}

func (p *Pipeline) analyze(ctx context.Context, query types.Query) (types.Analysis, error) {
	defer p.metrics.observeStage("analyze", time.Now())
	ctx, span := p.tracer.Start(ctx, "pipeline.analyze")
	defer span.End()
	return p.analyzer.Analyze(ctx, query)
}

func (p *Pipeline) rank(ctx context.Context, query types.Query, results []types.RetrievalResult) (types.RankedContext, error) {
	defer p.metrics.observeStage("rank", time.Now())
	ctx, span := p.tracer.Start(ctx, "pipeline.rank")
	defer span.End()
	return p.ranker.Rank(ctx, query, results)
}

func (p *Pipeline) generate(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, fn llm.StreamFunc) (types.Answer, error) {
	defer p.metrics.observeStage("generate", time.Now())
	ctx, span := p.tracer.Start(ctx, "pipeline.generate")
	defer span.End()
	if fn != nil {
		return p.generator.GenerateStream(ctx, analysis, rctx, fn)
	}
	return p.generator.Generate(ctx, analysis, rctx)
}

func (p *Pipeline) verify(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, answer types.Answer) types.VerificationResult {
	defer p.metrics.observeStage("verify", time.Now())
	ctx, span := p.tracer.Start(ctx, "pipeline.verify")
	defer span.End()
	return p.verifier.Verify(ctx, analysis, rctx, answer)
}

// degrade maps an internal failure to the safe unavailable response. A
// cancellation initiated by the caller propagates instead: the caller is
// gone, nobody reads the safe message. The total deadline expiring is not a
// cancellation; it degrades like any other failure.
func (p *Pipeline) degrade(ctx context.Context, query types.Query, err error) (*types.Response, error) {
	_ = ctx
	if errors.Is(err, context.Canceled) {
		return nil, err
	}
	p.logger.Error("pipeline degraded to safe response",
		zap.String("query_id", query.ID), zap.Error(err))
	p.metrics.countRequest("degraded")
	return &types.Response{
		Answer: types.MsgServiceUnavailable,
		Status: types.StatusRejected,
	}, nil
}

// buildResponse shapes the terminal artifact for the API layer. Rejected
// answers surface only the verifier's fallback text.
func buildResponse(analysis types.Analysis, answer types.Answer, verdict types.VerificationResult) *types.Response {
	domains := make([]types.Domain, 0, len(analysis.SubQueries))
	seen := make(map[types.Domain]bool)
	for _, sq := range analysis.SubQueries {
		if d := sq.Domain(); !seen[d] {
			seen[d] = true
			domains = append(domains, d)
		}
	}

	if verdict.Status == types.StatusRejected {
		return &types.Response{
			Answer:  verdict.Fallback,
			Domains: domains,
			Status:  verdict.Status,
		}
	}
	return &types.Response{
		Answer:     answer.Text,
		Citations:  answer.Citations,
		Confidence: answer.Confidence,
		Domains:    domains,
		Status:     verdict.Status,
	}
}
