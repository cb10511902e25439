package engine

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/embedding"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// newTestStore opens a fresh SQLite store in a per-test temp directory, the
// dimensionality pinned to the mock embedder's default.
func newTestStore(t *testing.T, dims int) *store.Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "mnemex.db")
	st, err := store.Open(context.Background(), path, dims, embedding.Codec{}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	return st
}
