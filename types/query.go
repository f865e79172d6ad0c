package types

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Domain identifies an insurance line of business.
type Domain string

const (
	DomainCar      Domain = "car"
	DomainHome     Domain = "home"
	DomainHealth   Domain = "health"
	DomainLife     Domain = "life"
	DomainTravel   Domain = "travel"
	DomainDental   Domain = "dental"
	DomainBusiness Domain = "business"
	DomainGeneral  Domain = "general"
)

// AllDomains lists every concrete domain, excluding DomainGeneral.
func AllDomains() []Domain {
	return []Domain{
		DomainCar, DomainHome, DomainHealth, DomainLife,
		DomainTravel, DomainDental, DomainBusiness,
	}
}

// QuestionType classifies what the user is asking about.
type QuestionType string

const (
	QuestionCoverage    QuestionType = "coverage"
	QuestionClaim       QuestionType = "claim"
	QuestionPremium     QuestionType = "premium"
	QuestionEligibility QuestionType = "eligibility"
	QuestionGeneral     QuestionType = "general"
)

// EntityType classifies an extracted entity span.
type EntityType string

const (
	EntityAmount     EntityType = "amount"
	EntityDate       EntityType = "date"
	EntityDuration   EntityType = "duration"
	EntityPolicyTerm EntityType = "policy_term"
)

// Entity is a typed key-value pair extracted from the question, used for
// query expansion and completeness checking.
type Entity struct {
	Type  EntityType `json:"type"`
	Value string     `json:"value"`
}

// Query is the raw user question. Immutable, created once per turn.
type Query struct {
	ID             string    `json:"id"`
	Text           string    `json:"text"`
	Language       string    `json:"language,omitempty"` // BCP 47 tag, e.g. "he", "en"
	DeclaredDomain Domain    `json:"declared_domain,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}

// NewQuery creates a Query for one user turn.
func NewQuery(text string, declaredDomain Domain) Query {
	return Query{
		ID:             uuid.NewString(),
		Text:           text,
		DeclaredDomain: declaredDomain,
		CreatedAt:      time.Now(),
	}
}

// NormalizedText returns the cache key form of a question: lower-cased,
// whitespace-collapsed, trailing question marks stripped.
func NormalizedText(text string) string {
	s := strings.ToLower(strings.TrimSpace(text))
	s = strings.TrimRight(s, "?!. ")
	return strings.Join(strings.Fields(s), " ")
}

// SubQuery is a narrowed, single-domain restatement of part of the original
// question. Order within an Analysis reflects generation order, not priority.
type SubQuery struct {
	ID       string       `json:"id"`
	QueryID  string       `json:"query_id"`
	Text     string       `json:"text"`
	Domains  []Domain     `json:"domains"`
	Type     QuestionType `json:"type"`
	Entities []Entity     `json:"entities,omitempty"`
	Complex  bool         `json:"complex,omitempty"`
}

// Domain returns the primary domain of the sub-query, or DomainGeneral when
// unscoped.
func (s SubQuery) Domain() Domain {
	if len(s.Domains) == 0 {
		return DomainGeneral
	}
	return s.Domains[0]
}

// Analysis is the Query Analyzer output: a non-empty ordered sequence of
// sub-queries plus the synthesis flag for cross-domain questions.
type Analysis struct {
	Query             Query      `json:"query"`
	SubQueries        []SubQuery `json:"sub_queries"`
	RequiresSynthesis bool       `json:"requires_synthesis"`
}
