package generator

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/coverbot/policyqa/llm"
	"github.com/coverbot/policyqa/testutil"
	"github.com/coverbot/policyqa/types"
)

func entry(marker int, id string, domain types.Domain, text string) types.ContextEntry {
	return types.ContextEntry{
		Marker: marker,
		Chunk: types.DocumentChunk{
			ID:     id,
			Domain: domain,
			Source: types.SourceRef{DocumentID: "doc-" + id, Section: "s-" + id},
			Text:   text,
		},
		Relevance: 0.9,
	}
}

func analysisFor(text string, synthesis bool, domains ...types.Domain) types.Analysis {
	query := types.NewQuery(text, "")
	a := types.Analysis{Query: query, RequiresSynthesis: synthesis}
	for i, d := range domains {
		a.SubQueries = append(a.SubQueries, types.SubQuery{
			ID: string(rune('a' + i)), QueryID: query.ID,
			Text: text, Domains: []types.Domain{d},
		})
	}
	return a
}

func TestGenerateEmptyContextSkipsModel(t *testing.T) {
	provider := testutil.NewScriptedProvider("should never be used")
	g := NewGenerator(DefaultConfig(), provider, nil)

	ans, err := g.Generate(context.Background(), analysisFor("q", false, types.DomainGeneral), types.RankedContext{})
	require.NoError(t, err)
	assert.True(t, ans.InsufficientContext)
	assert.Equal(t, types.MsgInsufficientInformation, ans.Text)
	assert.Zero(t, ans.Confidence)
	assert.Empty(t, ans.Citations)
	assert.Equal(t, 0, provider.Calls(), "the model must not be invoked without context")
}

func TestGenerateParsesCitationsAndConfidence(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		"Yes, the waiting period is 90 days [1]. Cleanings are covered twice a year [2].\nConfidence: 0.9")
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainDental, "The waiting period for dental surgery is 90 days."),
		entry(2, "c2", types.DomainDental, "Routine cleanings are covered twice per year."),
		entry(3, "c3", types.DomainDental, "Orthodontics are excluded."),
	}}

	ans, err := g.Generate(context.Background(), analysisFor("q", false, types.DomainDental), rctx)
	require.NoError(t, err)

	assert.NotContains(t, ans.Text, "Confidence:", "the confidence line is stripped from user text")
	require.Len(t, ans.Citations, 2)
	assert.Equal(t, 1, ans.Citations[0].Marker)
	assert.Equal(t, "c1", ans.Citations[0].ChunkID)
	assert.Equal(t, "doc-c1", ans.Citations[0].Source.DocumentID)
	// 3 chunks >= MinChunks, no conflicts: calibrated == reported.
	assert.InDelta(t, 0.9, ans.Confidence, 1e-9)
}

func TestGenerateIgnoresUnresolvableMarkers(t *testing.T) {
	provider := testutil.NewScriptedProvider("The limit is 500 dollars [7].\nConfidence: 0.8")
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainHome, "The limit for jewelry is 500 dollars."),
	}}
	ans, err := g.Generate(context.Background(), analysisFor("q", false, types.DomainHome), rctx)
	require.NoError(t, err)
	assert.Empty(t, ans.Citations, "marker [7] has no matching context entry")
	assert.Contains(t, ans.Text, "[7]", "bad markers stay in the text for verification")
}

func TestGenerateMissingConfidenceDefaults(t *testing.T) {
	provider := testutil.NewScriptedProvider("Yes, towing is covered [1].")
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainCar, "Towing after a breakdown is covered."),
	}}
	ans, err := g.Generate(context.Background(), analysisFor("q", false, types.DomainCar), rctx)
	require.NoError(t, err)
	// Reported defaults to 0.5, scaled by 1/3 context strength.
	assert.InDelta(t, 0.5*(1.0/3.0), ans.Confidence, 1e-9)
}

func TestGenerateSynthesisMergesDomains(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		"Collision damage is covered [1].\nConfidence: 0.8",
		"Emergency treatment abroad is covered [2].\nConfidence: 0.8",
		"Collision damage is covered [1], and emergency treatment abroad is covered [2].\nConfidence: 0.85",
	)
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainCar, "Collision damage is covered under the car policy."),
		entry(2, "c2", types.DomainTravel, "Emergency treatment abroad is covered for 90 days."),
	}}

	ans, err := g.Generate(context.Background(),
		analysisFor("q", true, types.DomainCar, types.DomainTravel), rctx)
	require.NoError(t, err)

	assert.True(t, ans.Synthesized)
	assert.Equal(t, 3, provider.Calls(), "one call per domain plus the merge")
	require.Len(t, ans.Citations, 2)

	reqs := provider.Requests()
	assert.Contains(t, reqs[0].Prompt, "[1]")
	assert.NotContains(t, reqs[0].Prompt, "[2]", "each sub-answer sees only its domain's context")
	assert.Contains(t, reqs[1].Prompt, "[2]")
	assert.Contains(t, reqs[2].Prompt, "Sub-answer (car insurance):")
}

func TestGenerateSynthesisFlagsConflicts(t *testing.T) {
	provider := testutil.NewScriptedProvider(
		"The waiting period is 90 days [1].\nConfidence: 1.0",
		"The waiting period is 30 days [2].\nConfidence: 1.0",
		"The dental policy states 90 days [1], while the travel policy states 30 days [2].\nConfidence: 1.0",
	)
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainDental, "Dental: the waiting period is 90 days."),
		entry(2, "c2", types.DomainTravel, "Travel: the waiting period is 30 days."),
	}}

	ans, err := g.Generate(context.Background(),
		analysisFor("waiting period?", true, types.DomainDental, types.DomainTravel), rctx)
	require.NoError(t, err)

	require.Len(t, ans.Conflicts, 1)
	assert.Contains(t, ans.Conflicts[0].Description, "90")
	assert.Contains(t, ans.Conflicts[0].Description, "30")
	// Conflicts discount confidence: 1.0 * min(1, 2/3) * (1 - 0.15).
	assert.InDelta(t, (2.0/3.0)*0.85, ans.Confidence, 1e-9)
}

func TestGenerateStreamDeliversDeltas(t *testing.T) {
	provider := testutil.NewScriptedProvider("Yes, towing is covered [1].\nConfidence: 0.7")
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainCar, "Towing after a breakdown is covered."),
	}}

	var sb strings.Builder
	ans, err := g.GenerateStream(context.Background(),
		analysisFor("q", false, types.DomainCar), rctx,
		func(delta string) error { sb.WriteString(delta); return nil })
	require.NoError(t, err)
	assert.Contains(t, sb.String(), "towing is covered")
	assert.NotContains(t, ans.Text, "Confidence:")
}

func TestGenerateStreamEmptyContextEmitsSafeText(t *testing.T) {
	g := NewGenerator(DefaultConfig(), testutil.NewScriptedProvider(), nil)

	var sb strings.Builder
	ans, err := g.GenerateStream(context.Background(),
		analysisFor("q", false, types.DomainGeneral), types.RankedContext{},
		func(delta string) error { sb.WriteString(delta); return nil })
	require.NoError(t, err)
	assert.Equal(t, types.MsgInsufficientInformation, sb.String())
	assert.True(t, ans.InsufficientContext)
}

func TestGenerateProviderErrorPropagates(t *testing.T) {
	provider := testutil.NewScriptedProvider()
	provider.Err = types.NewError(types.ErrProviderUnavailable, "down").WithRetryable(true)
	g := NewGenerator(DefaultConfig(), provider, nil)

	rctx := types.RankedContext{Entries: []types.ContextEntry{
		entry(1, "c1", types.DomainCar, "Some clause."),
	}}
	_, err := g.Generate(context.Background(), analysisFor("q", false, types.DomainCar), rctx)
	require.Error(t, err)
	assert.Equal(t, types.ErrProviderUnavailable, types.GetErrorCode(err))
}

func TestCalibrate(t *testing.T) {
	tests := []struct {
		name      string
		reported  float64
		chunks    int
		conflicts int
		want      float64
	}{
		{"full strength", 0.8, 3, 0, 0.8},
		{"more than enough chunks", 0.8, 10, 0, 0.8},
		{"one chunk", 0.9, 1, 0, 0.3},
		{"one conflict", 1.0, 3, 0 + 1, 0.85},
		{"clamped at zero", 0.1, 3, 10, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := calibrate(tt.reported, tt.chunks, 3, tt.conflicts)
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}
}

func TestRawConfidence(t *testing.T) {
	assert.InDelta(t, 0.75, rawConfidence("Answer text.\nConfidence: 0.75"), 1e-9)
	assert.InDelta(t, 0.5, rawConfidence("Answer with no trailer."), 1e-9)
	assert.InDelta(t, 0.5, rawConfidence("Answer.\nConfidence: 7.5"), 1e-9, "out-of-range reports are discarded")
}

var _ llm.Provider = (*testutil.ScriptedProvider)(nil)
