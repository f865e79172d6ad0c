// Package policyqa provides the top-level entry point: one call assembles
// the question-answering system from a configuration.
//
// Usage:
//
//	cfg := config.MustLoad("config.yaml")
//	sys, err := policyqa.New(cfg)
//	defer sys.Close()
//
//	resp, err := sys.Answer(ctx, "Is a rental car covered after an accident?", types.DomainCar)
package policyqa

import (
	"context"
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/coverbot/policyqa/analyzer"
	"github.com/coverbot/policyqa/config"
	"github.com/coverbot/policyqa/embedding"
	"github.com/coverbot/policyqa/generator"
	"github.com/coverbot/policyqa/index"
	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/pipeline"
	"github.com/coverbot/policyqa/ranker"
	"github.com/coverbot/policyqa/rerank"
	"github.com/coverbot/policyqa/retrieval"
	"github.com/coverbot/policyqa/tokenizer"
	"github.com/coverbot/policyqa/types"
	"github.com/coverbot/policyqa/verifier"
)

// Store is an index usable for both answering and ingestion.
type Store interface {
	index.Index
	index.Writer
}

// System is the assembled question-answering service.
type System struct {
	Pipeline *pipeline.Pipeline
	Store    Store
	Logger   *zap.Logger
	// Registry holds the system's Prometheus instruments for exposure by
	// the embedding server.
	Registry *prometheus.Registry

	embedder embedding.Provider
	counter  tokenizer.Counter
}

// New assembles a System from configuration.
func New(cfg *config.Config) (*System, error) {
	logger, err := cfg.Log.BuildLogger()
	if err != nil {
		return nil, err
	}

	store, err := buildStore(cfg.Index, logger)
	if err != nil {
		return nil, err
	}

	provider := llm.NewOpenAIProvider(cfg.LLM, logger)
	embedder := embedding.NewCachedProvider(embedding.NewOpenAIProvider(cfg.Embedding, logger), logger)
	counter := tokenizer.NewCounter(cfg.LLM.Model, logger)

	var scorer rerank.Scorer
	switch cfg.Rerank.Backend {
	case "http":
		scorer = rerank.NewHTTPScorer(cfg.Rerank.HTTP, logger)
	default:
		scorer = rerank.NewLexicalScorer()
	}

	registry := prometheus.NewRegistry()
	pipe := pipeline.NewPipeline(
		cfg.Pipeline,
		analyzer.NewLLMAnalyzer(cfg.Analyzer, provider, logger),
		retrieval.NewEngine(cfg.Retrieval, store, embedder, provider, logger),
		ranker.NewRanker(cfg.Ranker, scorer, counter, logger),
		generator.NewGenerator(cfg.Generator, provider, logger),
		verifier.NewVerifier(cfg.Verifier, logger),
		pipeline.NewMetrics(registry),
		logger,
	)

	return &System{
		Pipeline: pipe,
		Store:    store,
		Logger:   logger,
		Registry: registry,
		embedder: embedder,
		counter:  counter,
	}, nil
}

func buildStore(cfg config.IndexConfig, logger *zap.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "memory":
		return index.NewInMemoryIndex(logger), nil
	case "sqlite":
		return index.OpenSQLiteIndex(cfg.Path, logger)
	default:
		return nil, fmt.Errorf("unknown index backend %q", cfg.Backend)
	}
}

// Answer runs the pipeline for one question.
func (s *System) Answer(ctx context.Context, question string, domain types.Domain) (*types.Response, error) {
	return s.Pipeline.Answer(ctx, question, domain)
}

// AnswerStream runs the pipeline with incremental text delivery.
func (s *System) AnswerStream(ctx context.Context, question string, domain types.Domain, fn llm.StreamFunc) (*types.Response, error) {
	return s.Pipeline.AnswerStream(ctx, question, domain, fn)
}

// Ingest embeds and stores document chunks. Chunks arriving without an
// embedding are embedded here; token counts are filled in when absent.
func (s *System) Ingest(ctx context.Context, chunks []types.DocumentChunk) error {
	var missing []int
	var texts []string
	for i, c := range chunks {
		if len(c.Embedding) == 0 {
			missing = append(missing, i)
			texts = append(texts, c.Text)
		}
		if c.TokenCount == 0 {
			chunks[i].TokenCount = s.counter.CountTokens(c.Text)
		}
	}
	if len(missing) > 0 {
		vecs, err := s.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return err
		}
		for j, i := range missing {
			chunks[i].Embedding = vecs[j]
		}
	}
	return s.Store.Add(ctx, chunks)
}

// Health checks the index backend.
func (s *System) Health(ctx context.Context) error {
	return s.Store.Health(ctx)
}

// Close releases system resources.
func (s *System) Close() error {
	err := s.Pipeline.Close()
	_ = s.Logger.Sync()
	return err
}
