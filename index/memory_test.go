package index

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbot/policyqa/types"
)

func chunk(id string, domain types.Domain, text string, embedding []float64) types.DocumentChunk {
	return types.DocumentChunk{
		ID:        id,
		Domain:    domain,
		Source:    types.SourceRef{DocumentID: "doc-" + id, Section: id},
		Text:      text,
		Embedding: embedding,
	}
}

func TestInMemoryAddRejectsMissingEmbedding(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	err := ix.Add(context.Background(), []types.DocumentChunk{
		{ID: "c1", Text: "no embedding"},
	})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}

func TestVectorSearchRanksByCosine(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	require.NoError(t, ix.Add(context.Background(), []types.DocumentChunk{
		chunk("exact", types.DomainCar, "a", []float64{1, 0, 0}),
		chunk("close", types.DomainCar, "b", []float64{0.9, 0.1, 0}),
		chunk("far", types.DomainCar, "c", []float64{0, 0, 1}),
	}))

	hits, err := ix.VectorSearch(context.Background(), []float64{1, 0, 0}, 2, types.DomainGeneral)
	require.NoError(t, err)
	require.Len(t, hits, 2, "topK caps the result set")
	assert.Equal(t, "exact", hits[0].Chunk.ID)
	assert.Equal(t, "close", hits[1].Chunk.ID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-9)
}

func TestVectorSearchDomainFilter(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	require.NoError(t, ix.Add(context.Background(), []types.DocumentChunk{
		chunk("car", types.DomainCar, "a", []float64{1, 0}),
		chunk("home", types.DomainHome, "b", []float64{1, 0}),
	}))

	hits, err := ix.VectorSearch(context.Background(), []float64{1, 0}, 10, types.DomainHome)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "home", hits[0].Chunk.ID)

	// General searches across everything.
	all, err := ix.VectorSearch(context.Background(), []float64{1, 0}, 10, types.DomainGeneral)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestKeywordSearchBM25(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	require.NoError(t, ix.Add(context.Background(), []types.DocumentChunk{
		chunk("a", types.DomainDental, "The waiting period for dental surgery is 90 days.", []float64{1}),
		chunk("b", types.DomainDental, "Routine cleaning is covered twice per year.", []float64{1}),
		chunk("c", types.DomainDental, "The waiting period mentioned once.", []float64{1}),
	}))

	hits, err := ix.KeywordSearch(context.Background(), "waiting period dental surgery", 10, types.DomainDental)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a", hits[0].Chunk.ID, "the chunk matching more query terms ranks first")
	for _, h := range hits {
		assert.NotEqual(t, "b", h.Chunk.ID, "zero-score chunks are omitted")
	}
}

func TestKeywordSearchHebrew(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	require.NoError(t, ix.Add(context.Background(), []types.DocumentChunk{
		chunk("he", types.DomainDental, "תקופת המתנה של 90 יום לטיפולי שיניים.", []float64{1}),
		chunk("en", types.DomainDental, "Unrelated English clause.", []float64{1}),
	}))

	hits, err := ix.KeywordSearch(context.Background(), "תקופת המתנה", 10, types.DomainGeneral)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "he", hits[0].Chunk.ID)
}

func TestKeywordSearchEmptyIndex(t *testing.T) {
	ix := NewInMemoryIndex(nil)
	hits, err := ix.KeywordSearch(context.Background(), "anything", 10, types.DomainGeneral)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestCosineSimilarity(t *testing.T) {
	assert.InDelta(t, 1.0, cosineSimilarity([]float64{1, 2}, []float64{2, 4}), 1e-9)
	assert.InDelta(t, 0.0, cosineSimilarity([]float64{1, 0}, []float64{0, 1}), 1e-9)
	assert.Equal(t, 0.0, cosineSimilarity([]float64{1}, []float64{1, 2}), "mismatched dimensions score zero")
	assert.Equal(t, 0.0, cosineSimilarity(nil, nil))
}

func TestTokenizeTerms(t *testing.T) {
	terms := tokenizeTerms("Is the co-payment 30% for ניתוחים?")
	assert.Contains(t, terms, "co")
	assert.Contains(t, terms, "payment")
	assert.Contains(t, terms, "30")
	assert.Contains(t, terms, "ניתוחים")
}
