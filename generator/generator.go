// Package generator produces grounded answers from ranked context. Every
// factual statement carries an inline citation marker, multi-domain questions
// are answered per domain and then synthesized, and the reported confidence
// is calibrated against context strength before leaving this stage.
package generator

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/types"
)

// Config configures the answer generator.
type Config struct {
	// Model overrides the provider default model when non-empty.
	Model string `json:"model" yaml:"model"`
	// Temperature for answer generation. Low by default: grounded answers
	// should not be creative.
	Temperature float64 `json:"temperature" yaml:"temperature"`
	// MaxTokens caps the completion length.
	MaxTokens int `json:"max_tokens" yaml:"max_tokens"`
	// Timeout bounds each provider call.
	Timeout time.Duration `json:"timeout" yaml:"timeout"`
	// MinChunks is the context size below which confidence is scaled down.
	MinChunks int `json:"min_chunks" yaml:"min_chunks"`
}

// DefaultConfig returns the default generator configuration.
func DefaultConfig() Config {
	return Config{
		Temperature: 0.2,
		MaxTokens:   800,
		Timeout:     30 * time.Second,
		MinChunks:   3,
	}
}

// Generator is the answer-generation stage.
type Generator struct {
	cfg      Config
	provider llm.Provider
	logger   *zap.Logger
}

// NewGenerator creates a generator backed by the given provider.
func NewGenerator(cfg Config, provider llm.Provider, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.MinChunks <= 0 {
		cfg.MinChunks = 3
	}
	return &Generator{
		cfg:      cfg,
		provider: provider,
		logger:   logger.With(zap.String("component", "answer_generator")),
	}
}

// Generate produces an answer for the analyzed query from the ranked context.
// An empty context returns the deterministic insufficient-information answer
// without invoking the model.
func (g *Generator) Generate(ctx context.Context, analysis types.Analysis, rctx types.RankedContext) (types.Answer, error) {
	return g.generate(ctx, analysis, rctx, nil)
}

// GenerateStream is Generate with incremental text delivery. Synthesized
// answers cannot stream token-by-token because merging needs the complete
// sub-answers; they are delivered as a single delta.
func (g *Generator) GenerateStream(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, fn llm.StreamFunc) (types.Answer, error) {
	return g.generate(ctx, analysis, rctx, fn)
}

func (g *Generator) generate(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, fn llm.StreamFunc) (types.Answer, error) {
	if rctx.Empty() {
		ans := types.Answer{
			Text:                types.MsgInsufficientInformation,
			Confidence:          0,
			InsufficientContext: true,
		}
		if fn != nil {
			if err := fn(ans.Text); err != nil {
				return types.Answer{}, err
			}
		}
		return ans, nil
	}

	byDomain := groupByDomain(rctx.Entries)
	if analysis.RequiresSynthesis && len(byDomain) >= 2 {
		return g.synthesize(ctx, analysis, rctx, byDomain, fn)
	}
	return g.single(ctx, analysis.Query, rctx, fn)
}

// single answers from the whole context in one completion.
func (g *Generator) single(ctx context.Context, query types.Query, rctx types.RankedContext, fn llm.StreamFunc) (types.Answer, error) {
	text, err := g.complete(ctx, renderContext(rctx.Entries), query.Text, fn)
	if err != nil {
		return types.Answer{}, err
	}
	ans := g.parse(text, rctx)
	g.logger.Info("answer generated",
		zap.String("query_id", query.ID),
		zap.Int("citations", len(ans.Citations)),
		zap.Float64("confidence", ans.Confidence))
	return ans, nil
}

// synthesize answers each domain from its own slice of the context, then
// merges the sub-answers in a second completion. Markers stay global across
// the whole ranked context so merged citations remain resolvable.
func (g *Generator) synthesize(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, byDomain map[types.Domain][]types.ContextEntry, fn llm.StreamFunc) (types.Answer, error) {
	order := domainOrder(rctx.Entries)
	subAnswers := make(map[types.Domain]string, len(byDomain))

	for _, d := range order {
		question := analysis.Query.Text
		for _, sq := range analysis.SubQueries {
			if sq.Domain() == d {
				question = sq.Text
				break
			}
		}
		text, err := g.complete(ctx, renderContext(byDomain[d]), question, nil)
		if err != nil {
			return types.Answer{}, err
		}
		subAnswers[d] = text
	}

	merged, err := g.completeRaw(ctx, fmt.Sprintf(mergeTemplate,
		analysis.Query.Text, renderSubAnswers(subAnswers, order)), fn)
	if err != nil {
		return types.Answer{}, err
	}

	ans := g.parse(merged, rctx)
	ans.Synthesized = true
	ans.Conflicts = detectConflicts(subAnswers, byDomain, order)
	if len(ans.Conflicts) > 0 {
		ans.Confidence = calibrate(rawConfidence(merged), len(rctx.Entries), g.cfg.MinChunks, len(ans.Conflicts))
	}
	g.logger.Info("synthesized answer generated",
		zap.String("query_id", analysis.Query.ID),
		zap.Int("domains", len(order)),
		zap.Int("conflicts", len(ans.Conflicts)),
		zap.Float64("confidence", ans.Confidence))
	return ans, nil
}

func (g *Generator) complete(ctx context.Context, contextBlock, question string, fn llm.StreamFunc) (string, error) {
	return g.completeRaw(ctx, fmt.Sprintf(answerTemplate, contextBlock, question), fn)
}

func (g *Generator) completeRaw(ctx context.Context, prompt string, fn llm.StreamFunc) (string, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.cfg.Timeout)
	defer cancel()

	req := &llm.CompletionRequest{
		System:      systemPrompt,
		Prompt:      prompt,
		Model:       g.cfg.Model,
		Temperature: g.cfg.Temperature,
		MaxTokens:   g.cfg.MaxTokens,
	}
	var (
		resp *llm.Completion
		err  error
	)
	if fn != nil {
		resp, err = g.provider.CompleteStream(callCtx, req, fn)
	} else {
		resp, err = g.provider.Complete(callCtx, req)
	}
	if err != nil {
		return "", err
	}
	return resp.Text, nil
}

var (
	markerPattern     = regexp.MustCompile(`\[(\d+)\]`)
	confidencePattern = regexp.MustCompile(`(?i)\n?\s*confidence:\s*([0-9]*\.?[0-9]+)\s*$`)
)

// parse strips the trailing confidence line, resolves citation markers
// against the context, and calibrates confidence. Markers that do not
// resolve stay in the text for the verifier to flag.
func (g *Generator) parse(raw string, rctx types.RankedContext) types.Answer {
	reported := rawConfidence(raw)
	text := strings.TrimSpace(confidencePattern.ReplaceAllString(raw, ""))

	var citations []types.Citation
	seen := make(map[int]bool)
	for _, m := range markerPattern.FindAllStringSubmatch(text, -1) {
		marker, err := strconv.Atoi(m[1])
		if err != nil || seen[marker] {
			continue
		}
		entry, ok := rctx.Entry(marker)
		if !ok {
			continue
		}
		seen[marker] = true
		citations = append(citations, types.Citation{
			Marker:  marker,
			ChunkID: entry.Chunk.ID,
			Source:  entry.Chunk.Source,
		})
	}

	return types.Answer{
		Text:       text,
		Citations:  citations,
		Confidence: calibrate(reported, len(rctx.Entries), g.cfg.MinChunks, 0),
	}
}

// rawConfidence reads the model's trailing self-report, defaulting to 0.5
// when absent or unparseable.
func rawConfidence(raw string) float64 {
	m := confidencePattern.FindStringSubmatch(raw)
	if m == nil {
		return 0.5
	}
	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 1 {
		return 0.5
	}
	return v
}

// calibrate scales the self-reported confidence by context strength and
// conflict count: reported * min(1, chunks/minChunks) * (1 - 0.15*conflicts),
// clamped to [0,1].
func calibrate(reported float64, chunks, minChunks, conflicts int) float64 {
	strength := float64(chunks) / float64(minChunks)
	if strength > 1 {
		strength = 1
	}
	c := reported * strength * (1 - 0.15*float64(conflicts))
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}

func groupByDomain(entries []types.ContextEntry) map[types.Domain][]types.ContextEntry {
	out := make(map[types.Domain][]types.ContextEntry)
	for _, e := range entries {
		out[e.Chunk.Domain] = append(out[e.Chunk.Domain], e)
	}
	return out
}

// domainOrder returns domains in first-appearance order over the ranked
// entries, so sub-answer ordering is deterministic.
func domainOrder(entries []types.ContextEntry) []types.Domain {
	var order []types.Domain
	seen := make(map[types.Domain]bool)
	for _, e := range entries {
		if !seen[e.Chunk.Domain] {
			seen[e.Chunk.Domain] = true
			order = append(order, e.Chunk.Domain)
		}
	}
	return order
}

// quantityPattern captures a number together with its trailing unit word,
// e.g. "90 days", "30 ימים", "15%".
var quantityPattern = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*(%|[\p{L}"']+)`)

// detectConflicts flags pairs of sub-answers that state different numbers
// for the same unit. Conflicts are surfaced, never resolved here.
func detectConflicts(subAnswers map[types.Domain]string, byDomain map[types.Domain][]types.ContextEntry, order []types.Domain) []types.Conflict {
	quantities := make(map[types.Domain]map[string]string, len(subAnswers))
	for d, text := range subAnswers {
		q := make(map[string]string)
		for _, m := range quantityPattern.FindAllStringSubmatch(text, -1) {
			unit := strings.ToLower(m[2])
			if _, ok := q[unit]; !ok {
				q[unit] = m[1]
			}
		}
		quantities[d] = q
	}

	var conflicts []types.Conflict
	for i := 0; i < len(order); i++ {
		for j := i + 1; j < len(order); j++ {
			a, b := order[i], order[j]
			for unit, va := range quantities[a] {
				vb, ok := quantities[b][unit]
				if !ok || va == vb {
					continue
				}
				conflicts = append(conflicts, types.Conflict{
					SourceA:     byDomain[a][0].Chunk.Source,
					SourceB:     byDomain[b][0].Chunk.Source,
					Description: fmt.Sprintf("%s states %s %s but %s states %s %s", a, va, unit, b, vb, unit),
				})
			}
		}
	}
	return conflicts
}
