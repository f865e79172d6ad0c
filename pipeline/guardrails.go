package pipeline

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/coverbot/policyqa/types"
)

// GuardrailConfig configures input screening.
type GuardrailConfig struct {
	// MaxQueryChars rejects questions longer than this many runes.
	MaxQueryChars int `json:"max_query_chars" yaml:"max_query_chars"`
	// ScrubPII replaces identifiers in the question before it reaches any
	// external provider.
	ScrubPII bool `json:"scrub_pii" yaml:"scrub_pii"`
}

// DefaultGuardrailConfig returns the default guardrail configuration.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{MaxQueryChars: 1000, ScrubPII: true}
}

// injectionPatterns match attempts to override the answering instructions, in
// both supported languages.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?(previous|prior|above)\s+(instructions?|prompts?)`),
	regexp.MustCompile(`(?i)disregard\s+(all\s+)?(previous|prior)\s+instructions?`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+(a|an)\s`),
	regexp.MustCompile(`(?i)(reveal|show|print|repeat)\s+(your\s+)?(system\s+)?prompt`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are|a)\s`),
	regexp.MustCompile(`התעלם\s+מההוראות`),
	regexp.MustCompile(`שכח\s+את\s+ההוראות`),
}

// piiPatterns identify personal identifiers worth scrubbing before the text
// leaves the process: national IDs, payment cards, phone numbers, emails.
var piiPatterns = []struct {
	re          *regexp.Regexp
	replacement string
}{
	{regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`), "[card]"},
	{regexp.MustCompile(`\b0\d{1,2}[ -]?\d{7}\b`), "[phone]"},
	{regexp.MustCompile(`\b\+\d{2,3}[ -]?\d{1,2}[ -]?\d{7}\b`), "[phone]"},
	{regexp.MustCompile(`\b\d{9}\b`), "[id]"},
	{regexp.MustCompile(`[\w.+-]+@[\w-]+\.[\w.]+`), "[email]"},
}

// screen validates and sanitizes raw question text. It returns the text safe
// to process or a typed error the API layer can map to a client fault.
func (g GuardrailConfig) screen(text string) (string, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", types.NewError(types.ErrInvalidInput, "question is empty")
	}
	maxChars := g.MaxQueryChars
	if maxChars <= 0 {
		maxChars = 1000
	}
	if utf8.RuneCountInString(trimmed) > maxChars {
		return "", types.NewError(types.ErrInputTooLong, "question exceeds the maximum length")
	}
	for _, p := range injectionPatterns {
		if p.MatchString(trimmed) {
			return "", types.NewError(types.ErrUnsafeInput, "question contains a disallowed instruction pattern")
		}
	}
	if g.ScrubPII {
		for _, p := range piiPatterns {
			trimmed = p.re.ReplaceAllString(trimmed, p.replacement)
		}
	}
	return trimmed, nil
}
