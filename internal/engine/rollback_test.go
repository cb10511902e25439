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

// TestRollbackUndoesCompletedRun is spec.md §8 scenario S2: rolling back a
// completed consolidation run is the involution of consolidating — the
// promoted semantic goes to rolled_back, its input episodes are restored to
// unconsolidated, and the run itself flips to rolled_back.
func TestRollbackUndoesCompletedRun(t *testing.T) {
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
	consolidateResult, err := c.Consolidate(context.Background(), ConsolidateOptions{MinClusterSize: 3, SimilarityThreshold: 0.80})
	require.NoError(t, err)
	require.Equal(t, 1, consolidateResult.PrinciplesExtracted)

	run, err := st.Runs.GetByID(context.Background(), consolidateResult.RunID)
	require.NoError(t, err)
	require.Len(t, run.InputEpisodeIDs, 3)
	require.Len(t, run.OutputMemoryIDs, 1)
	memoryID := run.OutputMemoryIDs[0]

	rb := NewRollback(st, zap.NewNop())
	result, err := rb.Run(context.Background(), consolidateResult.RunID)
	require.NoError(t, err)

	assert.Equal(t, 1, result.RolledBackMemories)
	assert.Equal(t, 3, result.RestoredEpisodes)

	sem, err := st.Semantics.GetByID(context.Background(), memoryID)
	require.NoError(t, err)
	assert.Equal(t, domain.StateRolledBack, sem.State)

	reloadedRun, err := st.Runs.GetByID(context.Background(), consolidateResult.RunID)
	require.NoError(t, err)
	assert.Equal(t, domain.RunRolledBack, reloadedRun.Status)

	unconsolidated, err := st.Episodes.ListUnconsolidated(context.Background())
	require.NoError(t, err)
	assert.Len(t, unconsolidated, 3)

	active, err := st.Semantics.ListByState(context.Background(), domain.StateActive)
	require.NoError(t, err)
	assert.Empty(t, active)
}

// TestRollbackRejectsAlreadyRolledBackRun verifies rollback is not
// idempotent: a second rollback of the same run is rejected rather than
// silently re-applied.
func TestRollbackRejectsAlreadyRolledBackRun(t *testing.T) {
	st := newTestStore(t, 16)
	mock := embedding.NewMockClient(16)
	enc := NewEncoder(st, mock, zap.NewNop())

	for i := 0; i < 3; i++ {
		_, err := enc.Encode(context.Background(), EncodeInput{Content: "recurring signal", Source: domain.SourceDirectObservation})
		require.NoError(t, err)
	}

	c := NewConsolidator(st, mock, nil, zap.NewNop())
	consolidateResult, err := c.Consolidate(context.Background(), ConsolidateOptions{MinClusterSize: 3, SimilarityThreshold: 0.80})
	require.NoError(t, err)

	rb := NewRollback(st, zap.NewNop())
	_, err = rb.Run(context.Background(), consolidateResult.RunID)
	require.NoError(t, err)

	_, err = rb.Run(context.Background(), consolidateResult.RunID)
	require.Error(t, err)
	assert.Equal(t, domain.KindStateViolation, domain.ErrorKind(err))
}
