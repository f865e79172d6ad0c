package index

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbot/policyqa/types"
)

func TestSQLiteIndexPersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	ctx := context.Background()

	ix, err := OpenSQLiteIndex(path, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Add(ctx, []types.DocumentChunk{
		{
			ID:         "c1",
			Domain:     types.DomainDental,
			Source:     types.SourceRef{DocumentID: "dental-policy", Section: "3.1", Page: 12},
			Text:       "The waiting period for dental surgery is 90 days.",
			Embedding:  []float64{0.1, 0.2, 0.3},
			TokenCount: 11,
		},
	}))
	require.NoError(t, ix.Health(ctx))

	// A fresh handle must rebuild the mirror from the stored rows.
	reopened, err := OpenSQLiteIndex(path, nil)
	require.NoError(t, err)

	hits, err := reopened.KeywordSearch(ctx, "waiting period dental", 10, types.DomainDental)
	require.NoError(t, err)
	require.Len(t, hits, 1)

	got := hits[0].Chunk
	assert.Equal(t, "c1", got.ID)
	assert.Equal(t, types.DomainDental, got.Domain)
	assert.Equal(t, "dental-policy", got.Source.DocumentID)
	assert.Equal(t, 12, got.Source.Page)
	assert.Equal(t, []float64{0.1, 0.2, 0.3}, got.Embedding)
	assert.Equal(t, 11, got.TokenCount)
}

func TestSQLiteIndexVectorSearch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunks.db")
	ctx := context.Background()

	ix, err := OpenSQLiteIndex(path, nil)
	require.NoError(t, err)
	require.NoError(t, ix.Add(ctx, []types.DocumentChunk{
		{ID: "a", Domain: types.DomainCar, Text: "x", Embedding: []float64{1, 0}},
		{ID: "b", Domain: types.DomainCar, Text: "y", Embedding: []float64{0, 1}},
	}))

	hits, err := ix.VectorSearch(ctx, []float64{1, 0}, 1, types.DomainCar)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "a", hits[0].Chunk.ID)
}

func TestSQLiteIndexRejectsMissingEmbedding(t *testing.T) {
	ix, err := OpenSQLiteIndex(filepath.Join(t.TempDir(), "chunks.db"), nil)
	require.NoError(t, err)

	err = ix.Add(context.Background(), []types.DocumentChunk{{ID: "c1", Text: "no vector"}})
	require.Error(t, err)
	assert.Equal(t, types.ErrInvalidInput, types.GetErrorCode(err))
}
