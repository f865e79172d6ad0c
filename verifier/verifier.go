// Package verifier is the last gate before an answer reaches the user. It
// validates citations against the context the generator actually saw, scores
// the answer for unsupported claims and for completeness against the decomposed
// question, and decides approve / approve-with-warnings / reject. Hallucination
// is a hard gate: no accumulation of other merits can offset it.
package verifier

import (
	"context"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/types"
)

// Config configures the verifier.
type Config struct {
	// SupportThreshold is the minimum lexical-support ratio for a claim to
	// count as grounded in the context.
	SupportThreshold float64 `json:"support_threshold" yaml:"support_threshold"`
	// HallucinationThreshold is the maximum tolerated fraction of
	// unsupported claims. Above it the answer is rejected outright.
	HallucinationThreshold float64 `json:"hallucination_threshold" yaml:"hallucination_threshold"`
	// CompletenessThreshold is the minimum fraction of sub-queries the
	// answer must address. Below it a soft issue is recorded.
	CompletenessThreshold float64 `json:"completeness_threshold" yaml:"completeness_threshold"`
	// MaxSoftIssues is the number of non-hallucination issues tolerated
	// before rejection.
	MaxSoftIssues int `json:"max_soft_issues" yaml:"max_soft_issues"`
}

// DefaultConfig returns the default verifier configuration.
func DefaultConfig() Config {
	return Config{
		SupportThreshold:       0.5,
		HallucinationThreshold: 0.1,
		CompletenessThreshold:  0.8,
		MaxSoftIssues:          2,
	}
}

// Verifier is the answer-verification stage.
type Verifier struct {
	cfg    Config
	logger *zap.Logger
}

// NewVerifier creates a verifier.
func NewVerifier(cfg Config, logger *zap.Logger) *Verifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.SupportThreshold <= 0 {
		cfg.SupportThreshold = 0.5
	}
	if cfg.HallucinationThreshold <= 0 {
		cfg.HallucinationThreshold = 0.1
	}
	if cfg.CompletenessThreshold <= 0 {
		cfg.CompletenessThreshold = 0.8
	}
	if cfg.MaxSoftIssues <= 0 {
		cfg.MaxSoftIssues = 2
	}
	return &Verifier{cfg: cfg, logger: logger.With(zap.String("component", "verifier"))}
}

// Verify checks the answer against the exact context it was generated from
// and the analyzed question, and returns the terminal verdict.
func (v *Verifier) Verify(ctx context.Context, analysis types.Analysis, rctx types.RankedContext, answer types.Answer) types.VerificationResult {
	_ = ctx

	// The deterministic insufficient-information answer is already the safe
	// outcome; there is nothing to gate.
	if answer.InsufficientContext {
		return types.VerificationResult{Status: types.StatusApproved, CompletenessScore: 1}
	}

	if rctx.Empty() {
		res := types.VerificationResult{
			Status: types.StatusRejected,
			Issues: []types.Issue{{
				Type:        types.IssueNoContext,
				Hard:        true,
				Description: "answer was generated without any supporting context",
			}},
			Fallback: types.MsgInsufficientInformation,
		}
		v.logResult(analysis.Query.ID, res)
		return res
	}

	var issues []types.Issue
	issues = append(issues, v.checkCitations(answer, rctx)...)

	hallucination, unsupported := v.hallucinationScore(answer.Text, rctx)
	if hallucination > v.cfg.HallucinationThreshold {
		issues = append(issues, types.Issue{
			Type: types.IssueHallucination,
			Hard: true,
			Description: fmt.Sprintf("%d of the answer's claims lack support in the context (score %.2f)",
				unsupported, hallucination),
		})
	}

	completeness := v.completenessScore(answer.Text, analysis.SubQueries)
	if completeness < v.cfg.CompletenessThreshold {
		issues = append(issues, types.Issue{
			Type:        types.IssueCompleteness,
			Description: fmt.Sprintf("answer addresses %.0f%% of the question's parts", completeness*100),
		})
	}

	res := types.VerificationResult{
		Status:             v.decide(issues),
		Issues:             issues,
		HallucinationScore: hallucination,
		CompletenessScore:  completeness,
	}
	if res.Status == types.StatusRejected {
		res.Fallback = types.MsgInsufficientConfidence
	}
	v.logResult(analysis.Query.ID, res)
	return res
}

// decide applies the verdict rule: any hard issue rejects, more than
// MaxSoftIssues soft issues reject, one or more soft issues warn.
func (v *Verifier) decide(issues []types.Issue) types.VerificationStatus {
	soft := 0
	for _, is := range issues {
		if is.Hard {
			return types.StatusRejected
		}
		soft++
	}
	switch {
	case soft == 0:
		return types.StatusApproved
	case soft <= v.cfg.MaxSoftIssues:
		return types.StatusApprovedWarn
	default:
		return types.StatusRejected
	}
}

var markerPattern = regexp.MustCompile(`\[(\d+)\]`)

// checkCitations validates that every marker in the text resolves to a
// context entry, and that the answer cites at all.
func (v *Verifier) checkCitations(answer types.Answer, rctx types.RankedContext) []types.Issue {
	var issues []types.Issue

	markers := markerPattern.FindAllStringSubmatch(answer.Text, -1)
	if len(markers) == 0 {
		issues = append(issues, types.Issue{
			Type:        types.IssueCitation,
			Description: "answer cites no sources",
		})
		return issues
	}

	reported := make(map[int]bool)
	for _, m := range markers {
		n, err := strconv.Atoi(m[1])
		if err != nil || reported[n] {
			continue
		}
		if _, ok := rctx.Entry(n); !ok {
			reported[n] = true
			issues = append(issues, types.Issue{
				Type:        types.IssueCitation,
				Description: fmt.Sprintf("citation [%d] does not match any context passage", n),
			})
		}
	}
	return issues
}

// hallucinationScore extracts factual claims from the answer and measures the
// fraction lacking lexical support in any context chunk.
func (v *Verifier) hallucinationScore(text string, rctx types.RankedContext) (float64, int) {
	chunkTokens := make([]map[string]bool, len(rctx.Entries))
	for i, e := range rctx.Entries {
		chunkTokens[i] = tokenSet(e.Chunk.Text)
	}

	claims := extractClaims(text)
	if len(claims) == 0 {
		return 0, 0
	}

	unsupported := 0
	for _, claim := range claims {
		if maxSupport(tokenSet(claim), chunkTokens) < v.cfg.SupportThreshold {
			unsupported++
		}
	}
	return float64(unsupported) / float64(len(claims)), unsupported
}

// maxSupport is the best overlap ratio of the claim's content tokens against
// any single context chunk.
func maxSupport(claim map[string]bool, chunks []map[string]bool) float64 {
	if len(claim) == 0 {
		return 1
	}
	best := 0.0
	for _, chunk := range chunks {
		hits := 0
		for t := range claim {
			if chunk[t] {
				hits++
			}
		}
		if r := float64(hits) / float64(len(claim)); r > best {
			best = r
		}
	}
	return best
}

// completenessScore is the fraction of sub-queries whose key terms and
// extracted entity values appear in the answer.
func (v *Verifier) completenessScore(text string, subQueries []types.SubQuery) float64 {
	if len(subQueries) == 0 {
		return 1
	}
	answerTokens := tokenSet(text)
	lower := strings.ToLower(text)

	covered := 0
	for _, sq := range subQueries {
		if v.covers(answerTokens, lower, sq) {
			covered++
		}
	}
	return float64(covered) / float64(len(subQueries))
}

// covers reports whether the answer addresses one sub-query: at least half of
// the sub-query's content tokens appear, and so does every entity value the
// analyzer extracted from it.
func (v *Verifier) covers(answerTokens map[string]bool, answerLower string, sq types.SubQuery) bool {
	for _, e := range sq.Entities {
		if !strings.Contains(answerLower, strings.ToLower(e.Value)) {
			return false
		}
	}

	tokens := contentTokens(sq.Text)
	if len(tokens) == 0 {
		return true
	}
	hits := 0
	for _, t := range tokens {
		if answerTokens[t] {
			hits++
		}
	}
	return float64(hits)/float64(len(tokens)) >= 0.5
}

func (v *Verifier) logResult(queryID string, res types.VerificationResult) {
	v.logger.Info("answer verified",
		zap.String("query_id", queryID),
		zap.String("status", string(res.Status)),
		zap.Int("issues", len(res.Issues)),
		zap.Float64("hallucination", res.HallucinationScore),
		zap.Float64("completeness", res.CompletenessScore))
}

// extractClaims splits the answer into factual sentences, skipping citation
// markers, questions, and fragments too short to assert anything.
func extractClaims(text string) []string {
	clean := markerPattern.ReplaceAllString(text, "")
	raw := strings.FieldsFunc(clean, func(r rune) bool {
		return r == '.' || r == '!' || r == '\n'
	})
	var claims []string
	for _, s := range raw {
		s = strings.TrimSpace(s)
		if s == "" || strings.HasSuffix(s, "?") {
			continue
		}
		if len(contentTokens(s)) < 3 {
			continue
		}
		claims = append(claims, s)
	}
	return claims
}

// stopTokens are function words excluded from support and coverage matching,
// in both answer languages.
var stopTokens = map[string]bool{
	"the": true, "a": true, "an": true, "is": true, "are": true, "was": true,
	"be": true, "to": true, "of": true, "in": true, "on": true, "for": true,
	"and": true, "or": true, "if": true, "it": true, "this": true, "that": true,
	"your": true, "you": true, "with": true, "under": true, "not": true,
	"yes": true, "no": true, "policy": true, "insurance": true,
	"של": true, "את": true, "על": true, "עם": true, "אם": true, "כן": true,
	"לא": true, "זה": true, "יש": true, "הוא": true, "היא": true, "או": true,
	"פוליסה": true, "ביטוח": true, "הביטוח": true, "הפוליסה": true,
}

func contentTokens(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	out := fields[:0]
	for _, f := range fields {
		if stopTokens[f] || utf8.RuneCountInString(f) < 2 {
			continue
		}
		out = append(out, f)
	}
	return out
}

func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range contentTokens(text) {
		set[t] = true
	}
	return set
}
