package engine

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/embedding"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

// TestRecallOrdersByConfidenceAtEqualSimilarity is spec.md §8 scenario S5:
// two semantics equidistant from the query rank by confidence, highest
// first.
func TestRecallOrdersByConfidenceAtEqualSimilarity(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	ctx := context.Background()

	vec, err := mock.Embed(ctx, "the deploy pipeline retries failed jobs")
	require.NoError(t, err)

	strong := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "the deploy pipeline retries failed jobs three times",
		Embedding:          vec,
		State:              domain.StateActive,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    5,
		ContradictingCount: 0,
		CreatedAt:          ids.Now(),
	}
	weak := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "the deploy pipeline retries failed jobs, maybe twice",
		Embedding:          vec,
		State:              domain.StateActive,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    1,
		ContradictingCount: 2,
		CreatedAt:          ids.Now().Add(-60 * 24 * time.Hour),
	}
	require.NoError(t, st.Semantics.Create(ctx, strong))
	require.NoError(t, st.Semantics.Create(ctx, weak))
	require.NoError(t, st.SemanticVectors.Upsert(ctx, strong.ID, strong.Embedding, domain.KNNFilter{"state": string(domain.StateActive)}))
	require.NoError(t, st.SemanticVectors.Upsert(ctx, weak.ID, weak.Embedding, domain.KNNFilter{"state": string(domain.StateActive)}))

	r := NewRecall(st, mock, zap.NewNop())
	hits, err := r.Recall(ctx, RecallRequest{
		Query: "the deploy pipeline retries failed jobs",
		Limit: 10,
		Types: []domain.MemoryKind{domain.MemoryKindSemantic},
	})
	require.NoError(t, err)
	require.Len(t, hits, 2)

	assert.Equal(t, strong.ID, hits[0].ID)
	assert.Equal(t, weak.ID, hits[1].ID)
	assert.Greater(t, hits[0].Confidence, hits[1].Confidence)
}

// TestRecallFiltersByMinConfidence verifies rows below min_confidence are
// excluded from the result.
func TestRecallFiltersByMinConfidence(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	ctx := context.Background()

	vec, err := mock.Embed(ctx, "stale and contradicted fact")
	require.NoError(t, err)

	sem := &domain.Semantic{
		ID:                 ids.New(),
		Content:            "stale and contradicted fact",
		Embedding:          vec,
		State:              domain.StateActive,
		EvidenceEpisodeIDs: []string{},
		SupportingCount:    0,
		ContradictingCount: 5,
		CreatedAt:          ids.Now().Add(-365 * 24 * time.Hour),
	}
	require.NoError(t, st.Semantics.Create(ctx, sem))
	require.NoError(t, st.SemanticVectors.Upsert(ctx, sem.ID, sem.Embedding, domain.KNNFilter{"state": string(domain.StateActive)}))

	r := NewRecall(st, mock, zap.NewNop())
	hits, err := r.Recall(ctx, RecallRequest{
		Query:         "stale and contradicted fact",
		Limit:         10,
		Types:         []domain.MemoryKind{domain.MemoryKindSemantic},
		MinConfidence: 0.9,
	})
	require.NoError(t, err)
	assert.Empty(t, hits)
}

// TestRecallOnEmptyStoreReturnsNoResults is the trivial boundary case: no
// memories of any kind exist yet.
func TestRecallOnEmptyStoreReturnsNoResults(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)

	r := NewRecall(st, mock, zap.NewNop())
	hits, err := r.Recall(context.Background(), RecallRequest{Query: "anything", Limit: 5})
	require.NoError(t, err)
	assert.Empty(t, hits)
}
