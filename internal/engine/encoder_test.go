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

func TestEncoderEncodeAssignsIDAndEmbedding(t *testing.T) {
	st := newTestStore(t, 16)
	enc := NewEncoder(st, embedding.NewMockClient(16), zap.NewNop())

	ep, err := enc.Encode(context.Background(), EncodeInput{
		Content: "oncall paged after the third retry",
		Source:  domain.SourceDirectObservation,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, ep.ID)
	assert.Len(t, ep.Embedding, 16)

	stored, err := st.Episodes.GetByID(context.Background(), ep.ID)
	require.NoError(t, err)
	assert.Equal(t, ep.Content, stored.Content)

	hits, err := st.EpisodeVectors.Query(context.Background(), ep.Embedding, 1, domain.KNNFilter{"superseded_by": ""})
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, ep.ID, hits[0].ID)
}

func TestEncoderRejectsInvalidInput(t *testing.T) {
	st := newTestStore(t, 16)
	enc := NewEncoder(st, embedding.NewMockClient(16), zap.NewNop())

	_, err := enc.Encode(context.Background(), EncodeInput{Content: "", Source: domain.SourceDirectObservation})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.ErrorKind(err))

	_, err = enc.Encode(context.Background(), EncodeInput{Content: "x", Source: domain.Source("bogus")})
	require.Error(t, err)
	assert.Equal(t, domain.KindInvalidInput, domain.ErrorKind(err))
}

func TestEncoderEncodeBatchPreservesOrder(t *testing.T) {
	st := newTestStore(t, 16)
	enc := NewEncoder(st, embedding.NewMockClient(16), zap.NewNop())

	ins := []EncodeInput{
		{Content: "first", Source: domain.SourceDirectObservation},
		{Content: "second", Source: domain.SourceToldByUser},
		{Content: "third", Source: domain.SourceToolResult},
	}
	episodes, err := enc.EncodeBatch(context.Background(), ins)
	require.NoError(t, err)
	require.Len(t, episodes, 3)
	for i, in := range ins {
		assert.Equal(t, in.Content, episodes[i].Content)
	}
}

func TestEncoderSupersedeFlipsMirrorPointer(t *testing.T) {
	st := newTestStore(t, 16)
	enc := NewEncoder(st, embedding.NewMockClient(16), zap.NewNop())

	old, err := enc.Encode(context.Background(), EncodeInput{Content: "retry budget is three", Source: domain.SourceDirectObservation})
	require.NoError(t, err)

	newer, err := enc.Encode(context.Background(), EncodeInput{
		Content:    "retry budget is five",
		Source:     domain.SourceToldByUser,
		Supersedes: old.ID,
	})
	require.NoError(t, err)

	reloaded, err := st.Episodes.GetByID(context.Background(), old.ID)
	require.NoError(t, err)
	assert.Equal(t, newer.ID, reloaded.SupersededBy)

	hits, err := st.EpisodeVectors.Query(context.Background(), newer.Embedding, 10, domain.KNNFilter{"superseded_by": ""})
	require.NoError(t, err)
	var ids []string
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	assert.Contains(t, ids, newer.ID)
	assert.NotContains(t, ids, old.ID)
}
