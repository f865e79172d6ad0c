package analyzer

import (
	"regexp"
	"strings"

	"github.com/coverbot/policyqa/types"
)

// domainKeywords maps each domain to its trigger keywords, Hebrew and English,
// mirroring the corpus vocabulary.
var domainKeywords = map[types.Domain][]string{
	types.DomainCar: {
		"car", "vehicle", "auto", "collision", "windshield", "driver",
		"רכב", "מכונית", "נהג", "שמשה", "תאונת דרכים",
	},
	types.DomainHome: {
		"home", "house", "apartment", "flood", "burglary", "mortgage",
		"דירה", "בית", "הצפה", "פריצה", "משכנתא", "מבנה", "תכולה",
	},
	types.DomainHealth: {
		"health", "medical", "surgery", "medication", "hospital", "doctor",
		"בריאות", "ניתוח", "תרופות", "בית חולים", "רופא",
	},
	types.DomainLife: {
		"life insurance", "death benefit", "beneficiary",
		"ביטוח חיים", "מוטב", "מקרה מוות",
	},
	types.DomainTravel: {
		"travel", "abroad", "trip", "luggage", "flight", "overseas",
		"נסיעות", "חו\"ל", "חול", "טיסה", "מזוודה", "כבודה",
	},
	types.DomainDental: {
		"dental", "tooth", "teeth", "orthodontic",
		"שיניים", "שן", "יישור שיניים",
	},
	types.DomainBusiness: {
		"business", "liability", "employee", "commercial",
		"עסק", "חבות מעבידים", "צד שלישי עסקי",
	},
}

// questionTypeKeywords classifies the question type by trigger phrases.
var questionTypeKeywords = map[types.QuestionType][]string{
	types.QuestionCoverage: {
		"covered", "coverage", "cover", "include", "insured against",
		"כיסוי", "מכוסה", "כולל",
	},
	types.QuestionClaim: {
		"claim", "file a claim", "reimburse", "compensation", "waiting period",
		"תביעה", "להגיש", "פיצוי", "החזר", "תקופת המתנה",
	},
	types.QuestionPremium: {
		"premium", "cost", "price", "pay", "deductible", "discount",
		"פרמיה", "מחיר", "עלות", "תשלום", "השתתפות עצמית", "הנחה",
	},
	types.QuestionEligibility: {
		"eligible", "eligibility", "qualify", "entitled", "can i get",
		"זכאי", "זכאות", "מגיע לי",
	},
}

// policyTerms are domain-glossary terms extracted as typed entities.
var policyTerms = []string{
	"deductible", "waiting period", "premium", "exclusion", "rider",
	"beneficiary", "underwriting", "grace period", "co-payment",
	"השתתפות עצמית", "תקופת המתנה", "פרמיה", "חריג", "מוטב", "תקופת אכשרה",
}

var (
	amountPattern   = regexp.MustCompile(`(?:[$€£₪]\s?\d[\d,]*(?:\.\d+)?)|(?:\d[\d,]*(?:\.\d+)?\s?(?:₪|\$|שקל(?:ים)?|nis|ils|usd|eur|dollars?|euros?))`)
	durationPattern = regexp.MustCompile(`\d+\s?(?:days?|weeks?|months?|years?|ימים|יום|שבועות|חודשים|חודש|שנים|שנה)`)
	datePattern     = regexp.MustCompile(`\d{1,2}[./-]\d{1,2}[./-]\d{2,4}`)
)

// classifyDomains returns every domain whose keywords appear in the text, in
// a stable order.
func classifyDomains(text string) []types.Domain {
	lower := strings.ToLower(text)
	var found []types.Domain
	for _, d := range types.AllDomains() {
		for _, kw := range domainKeywords[d] {
			if strings.Contains(lower, kw) {
				found = append(found, d)
				break
			}
		}
	}
	return found
}

// classifyQuestionType returns the first matching question type, defaulting
// to QuestionGeneral.
func classifyQuestionType(text string) types.QuestionType {
	lower := strings.ToLower(text)
	for _, qt := range []types.QuestionType{
		types.QuestionCoverage, types.QuestionClaim,
		types.QuestionPremium, types.QuestionEligibility,
	} {
		for _, kw := range questionTypeKeywords[qt] {
			if strings.Contains(lower, kw) {
				return qt
			}
		}
	}
	return types.QuestionGeneral
}

// extractEntities pulls typed spans (amounts, durations, dates, policy
// terms) from the question. Failures are impossible by construction; an
// empty slice is a valid result.
func extractEntities(text string) []types.Entity {
	var entities []types.Entity
	lower := strings.ToLower(text)

	for _, m := range amountPattern.FindAllString(lower, -1) {
		entities = append(entities, types.Entity{Type: types.EntityAmount, Value: strings.TrimSpace(m)})
	}
	for _, m := range durationPattern.FindAllString(lower, -1) {
		entities = append(entities, types.Entity{Type: types.EntityDuration, Value: strings.TrimSpace(m)})
	}
	for _, m := range datePattern.FindAllString(text, -1) {
		entities = append(entities, types.Entity{Type: types.EntityDate, Value: m})
	}
	for _, term := range policyTerms {
		if strings.Contains(lower, term) {
			entities = append(entities, types.Entity{Type: types.EntityPolicyTerm, Value: term})
		}
	}
	return entities
}

// GuessDomain is the fast heuristic used for speculative retrieval before
// full classification returns. It reports the first keyword-matched domain,
// or DomainGeneral.
func GuessDomain(text string) types.Domain {
	domains := classifyDomains(text)
	if len(domains) == 1 {
		return domains[0]
	}
	return types.DomainGeneral
}

// isComplex reports whether the question likely spans multiple clauses.
func isComplex(text string) bool {
	if len(strings.Fields(text)) > 15 {
		return true
	}
	lower := strings.ToLower(text)
	for _, conj := range []string{" and ", " or ", " as well as ", " וגם ", " או "} {
		if strings.Contains(lower, conj) {
			return true
		}
	}
	return false
}
