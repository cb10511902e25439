package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

// TestDecayTransitionsStaleContradictedSemanticToDormant is spec.md §8
// scenario S4: a semantic with no support, three contradictions, no
// retrieval, and created 120 days ago falls below a 0.3 threshold and is
// transitioned to dormant.
func TestDecayTransitionsStaleContradictedSemanticToDormant(t *testing.T) {
	st := newTestStore(t, 16)

	sem := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "rate limit is 25 req/s",
		Embedding:          make([]float32, 16),
		State:              domain.StateActive,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    0,
		ContradictingCount: 3,
		CreatedAt:          ids.Now().Add(-120 * 24 * time.Hour),
	}
	require.NoError(t, st.Semantics.Create(context.Background(), sem))
	require.NoError(t, st.SemanticVectors.Upsert(context.Background(), sem.ID, sem.Embedding, domain.KNNFilter{"state": string(domain.StateActive)}))

	d := NewDecay(st, zap.NewNop())
	result, err := d.Run(context.Background(), 0.3)
	require.NoError(t, err)

	assert.GreaterOrEqual(t, result.TransitionedToDormant, 1)
	assert.Equal(t, 1, result.TotalEvaluated)

	reloaded, err := st.Semantics.GetByID(context.Background(), sem.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateDormant, reloaded.State)
}

// TestDecaySkipsAlreadyDormantRows is spec.md §8's boundary case: "a memory
// already dormant is skipped by decay".
func TestDecaySkipsAlreadyDormantRows(t *testing.T) {
	st := newTestStore(t, 16)

	sem := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "already dormant",
		Embedding:          make([]float32, 16),
		State:              domain.StateDormant,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    0,
		ContradictingCount: 3,
		CreatedAt:          ids.Now().Add(-120 * 24 * time.Hour),
	}
	require.NoError(t, st.Semantics.Create(context.Background(), sem))

	d := NewDecay(st, zap.NewNop())
	result, err := d.Run(context.Background(), 0.3)
	require.NoError(t, err)

	assert.Equal(t, 0, result.TotalEvaluated)
	assert.Equal(t, 0, result.TransitionedToDormant)
}

// TestDecayLeavesHighConfidenceSemanticActive verifies a well-supported,
// freshly retrieved semantic stays active.
func TestDecayLeavesHighConfidenceSemanticActive(t *testing.T) {
	st := newTestStore(t, 16)

	now := ids.Now()
	sem := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "deploy pipeline retries three times",
		Embedding:          make([]float32, 16),
		State:              domain.StateActive,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    5,
		ContradictingCount: 0,
		CreatedAt:          now,
		LastReinforcedAt:   &now,
		RetrievalCount:     10,
	}
	require.NoError(t, st.Semantics.Create(context.Background(), sem))

	d := NewDecay(st, zap.NewNop())
	result, err := d.Run(context.Background(), DefaultDormantThreshold)
	require.NoError(t, err)
	assert.Equal(t, 0, result.TransitionedToDormant)

	reloaded, err := st.Semantics.GetByID(context.Background(), sem.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, reloaded.State)
}
