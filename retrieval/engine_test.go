package retrieval

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbot/policyqa/index"
	"github.com/coverbot/policyqa/testutil"
	"github.com/coverbot/policyqa/types"
)

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.UseLLMExpansion = false
	cfg.MaxExpansions = 0
	return cfg
}

func seedIndex(t *testing.T, embedder *testutil.HashEmbedder, chunks ...types.DocumentChunk) *index.InMemoryIndex {
	t.Helper()
	idx := index.NewInMemoryIndex(nil)
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vecs, err := embedder.EmbedDocuments(context.Background(), texts)
	require.NoError(t, err)
	for i := range chunks {
		chunks[i].Embedding = vecs[i]
	}
	require.NoError(t, idx.Add(context.Background(), chunks))
	return idx
}

func subQuery(text string, domain types.Domain) types.SubQuery {
	return types.SubQuery{ID: "sq-1", QueryID: "q-1", Text: text, Domains: []types.Domain{domain}}
}

func TestRetrieveHybridFusion(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	idx := seedIndex(t, embedder,
		testutil.Chunk("c1", types.DomainDental, "dental-policy", "3.1",
			"The waiting period for dental surgery is 90 days from policy start."),
		testutil.Chunk("c2", types.DomainDental, "dental-policy", "3.2",
			"Routine teeth cleaning is covered twice per year."),
	)
	e := NewEngine(testConfig(), idx, embedder, nil, nil)

	results, err := e.Retrieve(context.Background(), []types.SubQuery{
		subQuery("waiting period for dental surgery", types.DomainDental),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)

	byID := map[string]types.RetrievalResult{}
	for _, r := range results {
		assert.Equal(t, "sq-1", r.SubQueryID)
		assert.False(t, r.CrossDomain)
		assert.GreaterOrEqual(t, r.Score, 0.0)
		assert.LessOrEqual(t, r.Score, 1.0)
		byID[r.Chunk.ID] = r
	}

	// The chunk matching the query both lexically and semantically wins.
	require.Contains(t, byID, "c1")
	assert.Equal(t, types.MethodHybrid, byID["c1"].Method)
	if other, ok := byID["c2"]; ok {
		assert.Greater(t, byID["c1"].Score, other.Score)
	}
}

func TestRetrieveAlphaWeighting(t *testing.T) {
	// With alpha=1 only dense scores matter; with alpha=0 only sparse.
	acc := newAccumulator()
	acc.add([]index.Hit{{Chunk: types.DocumentChunk{ID: "a"}, Score: 0.9}}, true, false)
	acc.add([]index.Hit{{Chunk: types.DocumentChunk{ID: "b"}, Score: 0.8}}, false, false)

	dense := NewEngine(Config{Alpha: 1.0, TopK: 10}, nil, nil, nil, nil)
	for _, r := range dense.fuse(acc, subQuery("q", types.DomainGeneral)) {
		switch r.Chunk.ID {
		case "a":
			assert.InDelta(t, 1.0, r.Score, 1e-9)
		case "b":
			assert.InDelta(t, 0.0, r.Score, 1e-9)
		}
	}

	sparse := NewEngine(Config{Alpha: 0.0001, TopK: 10}, nil, nil, nil, nil)
	for _, r := range sparse.fuse(acc, subQuery("q", types.DomainGeneral)) {
		switch r.Chunk.ID {
		case "a":
			assert.InDelta(t, 0.0, r.Score, 1e-3)
		case "b":
			assert.InDelta(t, 1.0, r.Score, 1e-3)
		}
	}
}

func TestRetrieveDomainWidening(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	idx := seedIndex(t, embedder,
		testutil.Chunk("t1", types.DomainTravel, "travel-policy", "2.4",
			"Emergency dental treatment abroad is covered up to 400 dollars."),
	)
	cfg := testConfig()
	cfg.MinResults = 1
	e := NewEngine(cfg, idx, embedder, nil, nil)

	results, err := e.Retrieve(context.Background(), []types.SubQuery{
		subQuery("emergency dental treatment abroad", types.DomainDental),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.True(t, r.CrossDomain, "widened results must be tagged")
	}
}

func TestRetrieveNoWideningWhenEnough(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	idx := seedIndex(t, embedder,
		testutil.Chunk("d1", types.DomainDental, "dental-policy", "1.1",
			"Dental implants are covered at 50 percent."),
		testutil.Chunk("t1", types.DomainTravel, "travel-policy", "2.4",
			"Dental treatment abroad is covered."),
	)
	cfg := testConfig()
	cfg.MinResults = 1
	e := NewEngine(cfg, idx, embedder, nil, nil)

	results, err := e.Retrieve(context.Background(), []types.SubQuery{
		subQuery("dental implants covered", types.DomainDental),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "d1", r.Chunk.ID)
		assert.False(t, r.CrossDomain)
	}
}

// failingIndex simulates a backend outage.
type failingIndex struct{}

func (failingIndex) VectorSearch(context.Context, []float64, int, types.Domain) ([]index.Hit, error) {
	return nil, types.NewError(types.ErrIndexUnavailable, "backend down")
}
func (failingIndex) KeywordSearch(context.Context, string, int, types.Domain) ([]index.Hit, error) {
	return nil, types.NewError(types.ErrIndexUnavailable, "backend down")
}
func (failingIndex) Health(context.Context) error { return errors.New("down") }

func TestRetrieveIsolatesBackendFailure(t *testing.T) {
	e := NewEngine(testConfig(), failingIndex{}, &testutil.HashEmbedder{}, nil, nil)

	results, err := e.Retrieve(context.Background(), []types.SubQuery{
		subQuery("anything", types.DomainGeneral),
	})
	require.NoError(t, err, "a backend failure must not fail the retrieval call")
	assert.Empty(t, results)
}

func TestRetrieveSlowEmbedderDegradesToSparse(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	idx := seedIndex(t, embedder,
		testutil.Chunk("c1", types.DomainHealth, "health-policy", "5.2",
			"Surgery hospitalization is covered in full."),
	)

	slow := &testutil.HashEmbedder{Delay: 200 * time.Millisecond}
	cfg := testConfig()
	cfg.CallTimeout = 20 * time.Millisecond
	e := NewEngine(cfg, idx, slow, nil, nil)

	results, err := e.Retrieve(context.Background(), []types.SubQuery{
		subQuery("surgery hospitalization covered", types.DomainHealth),
	})
	require.NoError(t, err)
	require.NotEmpty(t, results, "sparse search must survive a dense-path timeout")
	for _, r := range results {
		assert.Equal(t, types.MethodSparse, r.Method)
	}
}

func TestRetrieveCancellation(t *testing.T) {
	embedder := &testutil.HashEmbedder{}
	idx := seedIndex(t, embedder,
		testutil.Chunk("c1", types.DomainCar, "car-policy", "1.1", "Collision damage is covered."),
	)
	e := NewEngine(testConfig(), idx, embedder, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := e.Retrieve(ctx, []types.SubQuery{subQuery("collision", types.DomainCar)})
	require.ErrorIs(t, err, context.Canceled)
}

func TestExpandWithRules(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExpansions = 3
	e := NewEngine(cfg, nil, nil, nil, nil)

	out := e.expand(context.Background(), subQuery("what is the deductible for a claim", types.DomainCar))
	require.NotEmpty(t, out)
	assert.Equal(t, "what is the deductible for a claim", out[0], "original query comes first")
	assert.LessOrEqual(t, len(out), cfg.MaxExpansions+1)
	assert.Greater(t, len(out), 1, "synonym rules should produce at least one variant")
}

func TestExpandWithRulesDeterministic(t *testing.T) {
	cfg := testConfig()
	cfg.MaxExpansions = 2
	e := NewEngine(cfg, nil, nil, nil, nil)

	// Two mapped terms compete for a truncated expansion list; the chosen
	// variants must not depend on map iteration order.
	sq := subQuery("how do I claim the deductible after an accident", types.DomainCar)
	first := e.expand(context.Background(), sq)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, e.expand(context.Background(), sq))
	}
}

func TestExpandWithModel(t *testing.T) {
	provider := testutil.NewScriptedProvider("1. rental vehicle coverage\n2) hire car protection")
	cfg := testConfig()
	cfg.MaxExpansions = 3
	cfg.UseLLMExpansion = true
	e := NewEngine(cfg, nil, nil, provider, nil)

	out := e.expand(context.Background(), subQuery("is a rental car covered", types.DomainCar))
	require.Len(t, out, 3)
	assert.Equal(t, "is a rental car covered", out[0])
	assert.Equal(t, "rental vehicle coverage", out[1])
	assert.Equal(t, "hire car protection", out[2])
}

func TestMinMaxNormalize(t *testing.T) {
	out := minMaxNormalize(map[string]float64{"a": 2, "b": 4, "c": 6})
	assert.InDelta(t, 0.0, out["a"], 1e-9)
	assert.InDelta(t, 0.5, out["b"], 1e-9)
	assert.InDelta(t, 1.0, out["c"], 1e-9)

	// Degenerate set: everything equal maps to 1.
	same := minMaxNormalize(map[string]float64{"a": 3, "b": 3})
	assert.InDelta(t, 1.0, same["a"], 1e-9)
	assert.InDelta(t, 1.0, same["b"], 1e-9)
}
