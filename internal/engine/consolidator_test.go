package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/embedding"
)

func TestConsolidatorPromotesClusterWithFallbackPrinciple(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	enc := NewEncoder(st, mock, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := enc.Encode(context.Background(), EncodeInput{
			Content: "deploy pipeline retries failed jobs three times before paging",
			Source:  domain.SourceDirectObservation,
		})
		require.NoError(t, err)
	}

	c := NewConsolidator(st, mock, nil, zap.NewNop())
	result, err := c.Consolidate(context.Background(), ConsolidateOptions{MinClusterSize: 3, SimilarityThreshold: 0.80})
	require.NoError(t, err)

	assert.Equal(t, 3, result.EpisodesEvaluated)
	assert.Equal(t, 1, result.ClustersFound)
	assert.Equal(t, 1, result.PrinciplesExtracted)
	assert.Equal(t, domain.RunCompleted, result.Status)

	run, err := st.Runs.GetByID(context.Background(), result.RunID)
	require.NoError(t, err)
	require.Len(t, run.InputEpisodeIDs, 3)
	require.Len(t, run.OutputMemoryIDs, 1)

	sem, err := st.Semantics.GetByID(context.Background(), run.OutputMemoryIDs[0])
	require.NoError(t, err)
	assert.Equal(t, domain.StateActive, sem.State)
	assert.Equal(t, 3, sem.SupportingCount)
	assert.Contains(t, sem.Content, "Recurring pattern:")

	unconsolidated, err := st.Episodes.ListUnconsolidated(context.Background())
	require.NoError(t, err)
	assert.Empty(t, unconsolidated)
}

func TestConsolidatorDiscardsUndersizedCluster(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	enc := NewEncoder(st, mock, zap.NewNop())

	_, err := enc.Encode(context.Background(), EncodeInput{Content: "one-off event with no cluster", Source: domain.SourceDirectObservation})
	require.NoError(t, err)

	c := NewConsolidator(st, mock, nil, zap.NewNop())
	result, err := c.Consolidate(context.Background(), ConsolidateOptions{MinClusterSize: 3, SimilarityThreshold: 0.80})
	require.NoError(t, err)
	assert.Equal(t, 1, result.EpisodesEvaluated)
	assert.Equal(t, 0, result.ClustersFound)
	assert.Equal(t, 0, result.PrinciplesExtracted)
	assert.Equal(t, domain.RunCompleted, result.Status)
}

func TestConsolidatorIdempotentOnSecondRun(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	enc := NewEncoder(st, mock, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := enc.Encode(context.Background(), EncodeInput{Content: "recurring signal", Source: domain.SourceDirectObservation})
		require.NoError(t, err)
	}

	c := NewConsolidator(st, mock, nil, zap.NewNop())
	_, err := c.Consolidate(context.Background(), ConsolidateOptions{})
	require.NoError(t, err)

	second, err := c.Consolidate(context.Background(), ConsolidateOptions{})
	require.NoError(t, err)
	assert.Equal(t, 0, second.EpisodesEvaluated)
	assert.Equal(t, 0, second.ClustersFound)
	assert.Equal(t, 0, second.PrinciplesExtracted)
}
