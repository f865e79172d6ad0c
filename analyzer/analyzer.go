// Package analyzer decomposes a raw question into one or more domain-tagged
// sub-queries. Classification prefers a label-constrained language-model call
// and falls back to keyword rules on failure or timeout; the output sequence
// is guaranteed non-empty.
package analyzer

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/types"
)

// Analyzer is the query-analysis stage contract.
type Analyzer interface {
	// Analyze decomposes a query into a non-empty sequence of sub-queries.
	Analyze(ctx context.Context, query types.Query) (types.Analysis, error)
}

// Config configures the LLM-backed analyzer.
type Config struct {
	UseLLM        bool          `json:"use_llm" yaml:"use_llm"`
	Timeout       time.Duration `json:"timeout" yaml:"timeout"`
	Temperature   float64       `json:"temperature" yaml:"temperature"`
	MaxSubQueries int           `json:"max_sub_queries" yaml:"max_sub_queries"`
}

// DefaultConfig returns the default analyzer configuration.
func DefaultConfig() Config {
	return Config{
		UseLLM:        true,
		Timeout:       8 * time.Second,
		Temperature:   0.0,
		MaxSubQueries: 4,
	}
}

// LLMAnalyzer implements Analyzer with model classification and rule fallback.
type LLMAnalyzer struct {
	cfg      Config
	provider llm.Provider
	logger   *zap.Logger
}

// NewLLMAnalyzer creates an analyzer. provider may be nil, in which case the
// rule-based classifier handles everything.
func NewLLMAnalyzer(cfg Config, provider llm.Provider, logger *zap.Logger) *LLMAnalyzer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LLMAnalyzer{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "query_analyzer")),
	}
}

const classifyPromptTemplate = `Classify the insurance question below.

Allowed domains: car, home, health, life, travel, dental, business, general.
Allowed types: coverage, claim, premium, eligibility, general.

Question: %s

Respond with exactly two lines:
domains: <comma-separated domains mentioned, one or more>
type: <one type>`

// Analyze decomposes a query into a non-empty sequence of sub-queries.
func (a *LLMAnalyzer) Analyze(ctx context.Context, query types.Query) (types.Analysis, error) {
	domains, qType := a.classify(ctx, query)

	entities := extractEntities(query.Text)
	complex := isComplex(query.Text)

	analysis := types.Analysis{Query: query}

	if len(domains) >= 2 {
		// Cross-domain intent: one sub-query per domain, each narrowed to
		// that domain's scope, and the synthesis flag raised.
		if len(domains) > a.cfg.MaxSubQueries && a.cfg.MaxSubQueries > 0 {
			domains = domains[:a.cfg.MaxSubQueries]
		}
		analysis.RequiresSynthesis = true
		for _, d := range domains {
			analysis.SubQueries = append(analysis.SubQueries, types.SubQuery{
				ID:       uuid.NewString(),
				QueryID:  query.ID,
				Text:     narrowToDomain(query.Text, d),
				Domains:  []types.Domain{d},
				Type:     qType,
				Entities: entities,
				Complex:  complex,
			})
		}
		a.logger.Info("cross-domain question split",
			zap.String("query_id", query.ID),
			zap.Int("sub_queries", len(analysis.SubQueries)))
		return analysis, nil
	}

	domain := types.DomainGeneral
	if len(domains) == 1 {
		domain = domains[0]
	}
	analysis.SubQueries = []types.SubQuery{{
		ID:       uuid.NewString(),
		QueryID:  query.ID,
		Text:     query.Text,
		Domains:  []types.Domain{domain},
		Type:     qType,
		Entities: entities,
		Complex:  complex,
	}}
	return analysis, nil
}

// classify determines domains and question type, via the model when enabled
// and via rules otherwise or on any model failure.
func (a *LLMAnalyzer) classify(ctx context.Context, query types.Query) ([]types.Domain, types.QuestionType) {
	// A declared domain short-circuits domain detection but not type
	// classification.
	declared := query.DeclaredDomain != "" && query.DeclaredDomain != types.DomainGeneral

	if a.cfg.UseLLM && a.provider != nil {
		domains, qType, err := a.classifyWithLLM(ctx, query.Text)
		if err == nil {
			if declared {
				return []types.Domain{query.DeclaredDomain}, qType
			}
			return domains, qType
		}
		a.logger.Warn("model classification failed, using rules",
			zap.String("query_id", query.ID), zap.Error(err))
	}

	qType := classifyQuestionType(query.Text)
	if declared {
		return []types.Domain{query.DeclaredDomain}, qType
	}
	return classifyDomains(query.Text), qType
}

func (a *LLMAnalyzer) classifyWithLLM(ctx context.Context, text string) ([]types.Domain, types.QuestionType, error) {
	ctx, cancel := context.WithTimeout(ctx, a.cfg.Timeout)
	defer cancel()

	resp, err := a.provider.Complete(ctx, &llm.CompletionRequest{
		Prompt:      fmt.Sprintf(classifyPromptTemplate, text),
		Temperature: a.cfg.Temperature,
		MaxTokens:   64,
	})
	if err != nil {
		return nil, "", err
	}
	return parseClassification(resp.Text)
}

// parseClassification validates model output against the fixed label sets.
// Anything outside them is rejected so the rule fallback takes over.
func parseClassification(text string) ([]types.Domain, types.QuestionType, error) {
	validDomains := map[types.Domain]bool{types.DomainGeneral: true}
	for _, d := range types.AllDomains() {
		validDomains[d] = true
	}
	validTypes := map[types.QuestionType]bool{
		types.QuestionCoverage: true, types.QuestionClaim: true,
		types.QuestionPremium: true, types.QuestionEligibility: true,
		types.QuestionGeneral: true,
	}

	var domains []types.Domain
	qType := types.QuestionGeneral
	sawDomains, sawType := false, false

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(strings.ToLower(line))
		switch {
		case strings.HasPrefix(line, "domains:"):
			for _, part := range strings.Split(strings.TrimPrefix(line, "domains:"), ",") {
				d := types.Domain(strings.TrimSpace(part))
				if !validDomains[d] {
					return nil, "", fmt.Errorf("unknown domain label %q", d)
				}
				if d != types.DomainGeneral {
					domains = append(domains, d)
				}
			}
			sawDomains = true
		case strings.HasPrefix(line, "type:"):
			t := types.QuestionType(strings.TrimSpace(strings.TrimPrefix(line, "type:")))
			if !validTypes[t] {
				return nil, "", fmt.Errorf("unknown type label %q", t)
			}
			qType = t
			sawType = true
		}
	}
	if !sawDomains || !sawType {
		return nil, "", fmt.Errorf("malformed classification output")
	}
	return domains, qType, nil
}

// narrowToDomain restates the question scoped to a single domain.
func narrowToDomain(text string, domain types.Domain) string {
	trimmed := strings.TrimRight(strings.TrimSpace(text), "?")
	return fmt.Sprintf("%s, under %s insurance", trimmed, domain)
}
