package types

// DocType tags the structural kind of a document chunk.
type DocType string

const (
	DocTypePolicy DocType = "policy"
	DocTypeFAQ    DocType = "faq"
	DocTypeTable  DocType = "table"
	DocTypeList   DocType = "list"
)

// SourceRef points at a concrete location in a source document. It is the
// stable, machine-parseable part of every citation.
type SourceRef struct {
	DocumentID string `json:"source_id"`
	Section    string `json:"section,omitempty"`
	Page       int    `json:"page,omitempty"`
}

// Key returns the identity used for source-level deduplication.
func (r SourceRef) Key() string {
	return r.DocumentID + "#" + r.Section + "#" + itoa(r.Page)
}

func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}

// DocumentChunk is one retrievable unit of the corpus. Chunks are produced by
// out-of-scope ingestion and are read-only to the pipeline.
type DocumentChunk struct {
	ID         string    `json:"id"`
	Domain     Domain    `json:"domain"`
	DocType    DocType   `json:"doc_type"`
	Source     SourceRef `json:"source"`
	Text       string    `json:"text"`
	Embedding  []float64 `json:"embedding,omitempty"`
	TokenCount int       `json:"token_count,omitempty"`
}

// RetrievalMethod tags which search strategy produced a score.
type RetrievalMethod string

const (
	MethodDense  RetrievalMethod = "dense"
	MethodSparse RetrievalMethod = "sparse"
	MethodHybrid RetrievalMethod = "hybrid"
)

// RetrievalResult is one chunk returned for one sub-query, with per-method
// scores. Ephemeral, per-request.
type RetrievalResult struct {
	Chunk       DocumentChunk   `json:"chunk"`
	SubQueryID  string          `json:"sub_query_id"`
	Method      RetrievalMethod `json:"method"`
	Score       float64         `json:"score"`
	DenseScore  float64         `json:"dense_score"`
	SparseScore float64         `json:"sparse_score"`
	// CrossDomain marks results obtained by widening a domain-scoped search
	// that returned too few hits; ranking discounts them.
	CrossDomain bool `json:"cross_domain,omitempty"`
}

// ContextEntry is one ranked chunk handed to the generator. Marker is the
// 1-based index cited as [Marker] in generated text.
type ContextEntry struct {
	Marker    int           `json:"marker"`
	Chunk     DocumentChunk `json:"chunk"`
	Relevance float64       `json:"relevance"`
	// Truncated is set when compression cut the chunk to its most relevant
	// sub-span to fit the token budget.
	Truncated bool `json:"truncated,omitempty"`
}

// RankedContext is the deduplicated, diversity-adjusted context selection.
// "No good context" (empty Entries) is a valid outcome.
type RankedContext struct {
	Entries     []ContextEntry `json:"entries"`
	TokenBudget int            `json:"token_budget"`
	TokenCount  int            `json:"token_count"`
}

// Empty reports whether no usable context survived ranking.
func (rc RankedContext) Empty() bool {
	return len(rc.Entries) == 0
}

// Entry resolves a citation marker to its context entry.
func (rc RankedContext) Entry(marker int) (ContextEntry, bool) {
	for _, e := range rc.Entries {
		if e.Marker == marker {
			return e, true
		}
	}
	return ContextEntry{}, false
}
