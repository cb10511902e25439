package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/harshitk-cp/mnemex/internal/domain"
)

// dbtx is satisfied by both *sql.DB and *sql.Tx, letting every entity
// store be constructed against either a pooled connection or a single
// transaction (internal/engine builds tx-scoped stores via Store.Tx for
// the atomic multi-row writes spec.md requires of Encoder and
// Consolidator).
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// nullableTime renders an optional timestamp as a driver value: nil when
// absent, the RFC3339Nano string otherwise.
func nullableTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func scanNullTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// requireRowsAffected turns a zero-rows-affected update into a NotFound
// domain error, the shape every SetX/Update method on a keyed row needs.
func requireRowsAffected(res sql.Result, notFound error, op string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewError(domain.KindStorage, op, err)
	}
	if n == 0 {
		return domain.NewError(domain.KindNotFound, op, notFound)
	}
	return nil
}

// TxStores bundles every entity store and vector index scoped to a single
// *sql.Tx, for callers that need atomic multi-table writes (spec.md
// §4.1: "the vector index and the row table are updated in the same
// transaction; a crash between them is impossible").
type TxStores struct {
	Episodes       *EpisodeStore
	Semantics      *SemanticStore
	Procedures     *ProcedureStore
	Contradictions *ContradictionStore
	Runs           *RunStore
	CausalLinks    *CausalLinkStore

	EpisodeVectors   *VectorIndex
	SemanticVectors  *VectorIndex
	ProcedureVectors *VectorIndex
}

// Tx builds a TxStores scoped to tx, sharing the store's vector codec.
func (s *Store) Tx(tx *sql.Tx) *TxStores {
	return &TxStores{
		Episodes:       &EpisodeStore{db: tx, codec: s.codec},
		Semantics:      &SemanticStore{db: tx, codec: s.codec},
		Procedures:     &ProcedureStore{db: tx, codec: s.codec},
		Contradictions: &ContradictionStore{db: tx},
		Runs:           &RunStore{db: tx},
		CausalLinks:    &CausalLinkStore{db: tx},

		EpisodeVectors:   &VectorIndex{db: tx, table: "episode_vectors", codec: s.codec},
		SemanticVectors:  &VectorIndex{db: tx, table: "semantic_vectors", codec: s.codec},
		ProcedureVectors: &VectorIndex{db: tx, table: "procedure_vectors", codec: s.codec},
	}
}
