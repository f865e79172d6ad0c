package types

// Citation maps an inline marker in generated text to one context entry's
// source reference. Every citation in an approved answer resolves to exactly
// one entry of the context given to the generator.
type Citation struct {
	Marker  int       `json:"marker"`
	ChunkID string    `json:"chunk_id"`
	Source  SourceRef `json:"source"`
}

// Conflict records a pair of sources whose content disagrees. Conflicts are
// flagged, never silently resolved.
type Conflict struct {
	SourceA     SourceRef `json:"source_a"`
	SourceB     SourceRef `json:"source_b"`
	Description string    `json:"description"`
}

// Answer is the generator output for one pipeline run.
type Answer struct {
	Text       string     `json:"text"`
	Citations  []Citation `json:"citations"`
	Confidence float64    `json:"confidence"` // calibrated, in [0,1]
	Conflicts  []Conflict `json:"conflicts,omitempty"`
	// Synthesized marks answers merged from per-domain sub-answers.
	Synthesized bool `json:"synthesized,omitempty"`
	// InsufficientContext marks the deterministic no-context answer; the
	// model was never invoked.
	InsufficientContext bool `json:"insufficient_context,omitempty"`
}

// VerificationStatus is the terminal state of one pipeline run.
type VerificationStatus string

const (
	StatusApproved     VerificationStatus = "approved"
	StatusApprovedWarn VerificationStatus = "approved_with_warnings"
	StatusRejected     VerificationStatus = "rejected"
)

// IssueType classifies a verification finding.
type IssueType string

const (
	IssueCitation      IssueType = "citation"
	IssueHallucination IssueType = "hallucination"
	IssueCompleteness  IssueType = "completeness"
	IssueNoContext     IssueType = "no_context"
)

// Issue is one problem the verifier found with a generated answer.
type Issue struct {
	Type        IssueType `json:"type"`
	Hard        bool      `json:"hard"` // hard issues force rejection
	Description string    `json:"description"`
}

// VerificationResult is the terminal artifact of one pipeline run.
type VerificationResult struct {
	Status             VerificationStatus `json:"status"`
	Issues             []Issue            `json:"issues,omitempty"`
	HallucinationScore float64            `json:"hallucination_score"`
	CompletenessScore  float64            `json:"completeness_score"`
	// Fallback is the safe user-facing text when Status is rejected.
	Fallback string `json:"fallback,omitempty"`
}

// Response is what the pipeline exposes to the API layer.
type Response struct {
	Answer     string             `json:"answer"`
	Citations  []Citation         `json:"citations"`
	Confidence float64            `json:"confidence"`
	Domains    []Domain           `json:"domains"`
	Status     VerificationStatus `json:"status"`
}
