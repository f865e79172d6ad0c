// Package index defines the abstract document index the retrieval engine
// consumes: vector similarity search, keyword (BM25) search, and a health
// check. Two implementations are provided: a pure in-memory index and a
// SQLite-backed index for persistent small corpora.
package index

import (
	"context"

	"github.com/coverbot/policyqa/types"
)

// Hit is one search result with the method-specific raw score.
type Hit struct {
	Chunk types.DocumentChunk `json:"chunk"`
	Score float64             `json:"score"`
}

// Index is the abstract document index. Domain may be types.DomainGeneral (or
// empty) to search across all domains.
type Index interface {
	// VectorSearch returns the topK chunks most similar to the query
	// embedding, optionally filtered by domain.
	VectorSearch(ctx context.Context, embedding []float64, topK int, domain types.Domain) ([]Hit, error)

	// KeywordSearch returns the topK chunks by BM25 term scoring,
	// optionally filtered by domain.
	KeywordSearch(ctx context.Context, query string, topK int, domain types.Domain) ([]Hit, error)

	// Health reports whether the index backend is reachable.
	Health(ctx context.Context) error
}

// Writer is the optional ingestion-side interface of an index.
type Writer interface {
	// Add stores chunks; chunks must carry pre-computed embeddings.
	Add(ctx context.Context, chunks []types.DocumentChunk) error
}

func domainMatches(chunk types.DocumentChunk, domain types.Domain) bool {
	return domain == "" || domain == types.DomainGeneral || chunk.Domain == domain
}
