package retrieval

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/types"
)

// synonymMap drives rule-based expansion. Hebrew inflection loses recall on
// exact-term search, so common surface variants are included alongside
// English synonyms.
var synonymMap = map[string][]string{
	"coverage":   {"protection", "insurance cover"},
	"claim":      {"reimbursement request", "compensation request"},
	"cost":       {"price", "premium"},
	"deductible": {"excess", "out of pocket"},
	"accident":   {"crash", "collision"},
	"abroad":     {"overseas", "outside the country"},
	"waiting":    {"qualifying"},
	"cancel":     {"terminate", "end"},
	"כיסוי":      {"הגנה", "ביטוח"},
	"תביעה":      {"החזר", "פיצוי"},
	"רכב":        {"מכונית", "אוטו"},
	"חו\"ל":      {"חול", "נסיעות לחול"},
	"תרופה":      {"תרופות"},
	"ניתוח":      {"ניתוחים"},
}

var listNumberPrefix = regexp.MustCompile(`^\d+[\.\)]\s*`)

const expandPromptTemplate = `Generate %d alternative search queries for the question below.
Each alternative should rephrase the same information need with different vocabulary.
Answer in the question's language. Return only the queries, one per line.

Question: %s`

// expand returns the sub-query text plus up to MaxExpansions paraphrases.
// The original always comes first; expansion failures degrade to rule-based
// synonym substitution.
func (e *Engine) expand(ctx context.Context, sq types.SubQuery) []string {
	if e.cfg.MaxExpansions <= 0 {
		return []string{sq.Text}
	}

	if e.cfg.UseLLMExpansion && e.provider != nil {
		expansions, err := e.expandWithLLM(ctx, sq.Text)
		if err == nil {
			return expansions
		}
		e.logger.Warn("model expansion failed, using rules",
			zap.String("sub_query_id", sq.ID), zap.Error(err))
	}
	return e.expandWithRules(sq.Text)
}

func (e *Engine) expandWithLLM(ctx context.Context, text string) ([]string, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.cfg.CallTimeout)
	defer cancel()

	resp, err := e.provider.Complete(callCtx, &llm.CompletionRequest{
		Prompt:      fmt.Sprintf(expandPromptTemplate, e.cfg.MaxExpansions, text),
		Temperature: 0.5,
		MaxTokens:   256,
	})
	if err != nil {
		return nil, err
	}

	expansions := []string{text}
	for _, line := range strings.Split(strings.TrimSpace(resp.Text), "\n") {
		line = listNumberPrefix.ReplaceAllString(strings.TrimSpace(line), "")
		if line == "" || strings.EqualFold(line, text) {
			continue
		}
		expansions = append(expansions, line)
		if len(expansions) > e.cfg.MaxExpansions {
			break
		}
	}
	return expansions, nil
}

func (e *Engine) expandWithRules(text string) []string {
	expansions := []string{text}
	lower := strings.ToLower(text)

	// Sorted iteration keeps the variant set stable when MaxExpansions cuts
	// the list short.
	words := make([]string, 0, len(synonymMap))
	for word := range synonymMap {
		words = append(words, word)
	}
	sort.Strings(words)

	for _, word := range words {
		if !strings.Contains(lower, word) {
			continue
		}
		synonyms := synonymMap[word]
		for _, syn := range synonyms {
			variant := strings.Replace(lower, word, syn, 1)
			if variant != lower {
				expansions = append(expansions, variant)
			}
			if len(expansions) > e.cfg.MaxExpansions {
				return expansions
			}
		}
	}
	return expansions
}
