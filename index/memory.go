package index

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"

	"github.com/coverbot/policyqa/types"
)

// InMemoryIndex is a process-local Index for tests and small corpora.
type InMemoryIndex struct {
	mu     sync.RWMutex
	chunks []types.DocumentChunk
	bm25   *bm25Stats
	params bm25Params
	logger *zap.Logger
}

// NewInMemoryIndex creates an empty in-memory index.
func NewInMemoryIndex(logger *zap.Logger) *InMemoryIndex {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &InMemoryIndex{
		params: defaultBM25Params(),
		logger: logger.With(zap.String("component", "memory_index")),
	}
}

// Add stores chunks and rebuilds the BM25 statistics.
func (ix *InMemoryIndex) Add(ctx context.Context, chunks []types.DocumentChunk) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	for _, c := range chunks {
		if c.Embedding == nil {
			return types.NewError(types.ErrInvalidInput, "chunk "+c.ID+" has no embedding")
		}
		ix.chunks = append(ix.chunks, c)
	}
	texts := make([]string, len(ix.chunks))
	for i, c := range ix.chunks {
		texts[i] = c.Text
	}
	ix.bm25 = buildBM25Stats(texts, ix.params)

	ix.logger.Info("chunks indexed",
		zap.Int("added", len(chunks)),
		zap.Int("total", len(ix.chunks)))
	return nil
}

// VectorSearch returns the topK chunks by cosine similarity.
func (ix *InMemoryIndex) VectorSearch(ctx context.Context, embedding []float64, topK int, domain types.Domain) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	hits := make([]Hit, 0, len(ix.chunks))
	for _, c := range ix.chunks {
		if !domainMatches(c, domain) || c.Embedding == nil {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: cosineSimilarity(embedding, c.Embedding)})
	}
	return topHits(hits, topK), nil
}

// KeywordSearch returns the topK chunks by BM25 score.
func (ix *InMemoryIndex) KeywordSearch(ctx context.Context, query string, topK int, domain types.Domain) ([]Hit, error) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()

	if ix.bm25 == nil {
		return nil, nil
	}
	queryTerms := tokenizeTerms(query)
	hits := make([]Hit, 0, len(ix.chunks))
	for i, c := range ix.chunks {
		if !domainMatches(c, domain) {
			continue
		}
		score := ix.bm25.score(i, queryTerms)
		if score <= 0 {
			continue
		}
		hits = append(hits, Hit{Chunk: c, Score: score})
	}
	return topHits(hits, topK), nil
}

// Health always succeeds for the in-memory index.
func (ix *InMemoryIndex) Health(ctx context.Context) error { return nil }

// Count returns the number of indexed chunks.
func (ix *InMemoryIndex) Count() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.chunks)
}

func topHits(hits []Hit, topK int) []Hit {
	sort.SliceStable(hits, func(i, j int) bool {
		return hits[i].Score > hits[j].Score
	})
	if topK > 0 && len(hits) > topK {
		hits = hits[:topK]
	}
	return hits
}
