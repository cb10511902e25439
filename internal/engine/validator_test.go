package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/embedding"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/llm"
	"github.com/harshitk-cp/mnemex/internal/store"
)

func seedActiveSemantic(t *testing.T, st *store.Store, vec []float32) *domain.Semantic {
	t.Helper()
	sem := &domain.Semantic{
		ID:                  ids.New(),
		Content:             "deploy pipeline retries three times",
		Embedding:           vec,
		State:               domain.StateActive,
		EvidenceEpisodeIDs:  []string{},
		SupportingCount:     1,
		SourceTypeDiversity: 1,
		CreatedAt:           ids.Now(),
	}
	require.NoError(t, st.Semantics.Create(context.Background(), sem))
	require.NoError(t, st.SemanticVectors.Upsert(context.Background(), sem.ID, vec, domain.KNNFilter{"state": string(domain.StateActive)}))
	return sem
}

func TestValidatorNoCloseMatchIsNone(t *testing.T) {
	st := newTestStore(t, 16)
	v := NewValidator(st, nil, zap.NewNop())

	ep := &domain.Episode{ID: ids.New(), Content: "unrelated", Source: domain.SourceDirectObservation, Embedding: make([]float32, 16)}
	ep.Embedding[0] = 1

	result, err := v.Validate(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, result.Outcome)
}

func TestValidatorReinforcesOnHighSimilarity(t *testing.T) {
	st := newTestStore(t, 16)
	mockEmbed := embedding.NewMockClient(16)
	vec, err := mockEmbed.Embed(context.Background(), "deploy pipeline retries three times before paging")
	require.NoError(t, err)

	sem := seedActiveSemantic(t, st, vec)
	v := NewValidator(st, nil, zap.NewNop())

	ep := &domain.Episode{ID: ids.New(), Content: "deploy pipeline retried three times", Source: domain.SourceToolResult, Embedding: vec}
	result, err := v.Validate(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, OutcomeReinforced, result.Outcome)
	assert.Equal(t, sem.ID, result.SemanticID)

	reloaded, err := st.Semantics.GetByID(context.Background(), sem.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reloaded.SupportingCount)
	assert.Contains(t, reloaded.EvidenceEpisodeIDs, ep.ID)
}

func TestValidatorResolvesContradictionWithLLM(t *testing.T) {
	st := newTestStore(t, 16)

	// Two vectors close enough to land in the contradiction band but not
	// identical, so the cosine similarity sits in [0.60, 0.85).
	base := make([]float32, 16)
	base[0] = 1
	near := make([]float32, 16)
	near[0] = 0.72
	near[1] = 0.69

	sem := seedActiveSemantic(t, st, embedding.Normalize(base))

	mockLLM := llm.NewMockClient()
	mockLLM.JSONResponses = []any{map[string]any{
		"contradicts": true,
		"resolution":  "new_wins",
		"explanation": "newer observation supersedes the old budget",
	}}

	v := NewValidator(st, mockLLM, zap.NewNop())
	ep := &domain.Episode{ID: ids.New(), Content: "retry budget is five now", Source: domain.SourceToldByUser, Embedding: embedding.Normalize(near)}

	result, err := v.Validate(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, OutcomeContradiction, result.Outcome)
	assert.NotEmpty(t, result.ContradictionID)

	reloadedSem, err := st.Semantics.GetByID(context.Background(), sem.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDisputed, reloadedSem.State)

	contradiction, err := st.Contradictions.GetByID(context.Background(), result.ContradictionID)
	require.NoError(t, err)
	assert.Equal(t, domain.ContradictionResolved, contradiction.State)
	require.NotNil(t, contradiction.Resolution)
	// claim A is the existing semantic, claim B the new episode; a
	// new_wins verdict means claim B wins.
	assert.Equal(t, domain.ResolutionBWins, contradiction.Resolution.Type)
}

func TestValidatorNoLLMSkipsContradictionBand(t *testing.T) {
	st := newTestStore(t, 16)
	base := make([]float32, 16)
	base[0] = 1
	near := make([]float32, 16)
	near[0] = 0.72
	near[1] = 0.69

	seedActiveSemantic(t, st, embedding.Normalize(base))

	v := NewValidator(st, nil, zap.NewNop())
	ep := &domain.Episode{ID: ids.New(), Content: "x", Source: domain.SourceToldByUser, Embedding: embedding.Normalize(near)}

	result, err := v.Validate(context.Background(), ep)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNone, result.Outcome)
}
