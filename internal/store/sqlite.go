// Package store is the SQLite-backed implementation of the domain store
// interfaces: a single-file, single-process embedded store with a
// brute-force cosine vector index alongside the relational tables.
package store

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"go.uber.org/zap"

	_ "modernc.org/sqlite"
)

//go:embed schema.sql
var schemaSQL string

// Store owns the single *sql.DB connection and exposes one store per
// domain entity plus one VectorIndex per kNN-indexed entity.
type Store struct {
	db    *sql.DB
	log   *zap.Logger
	codec domain.VectorCodec

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

// Open opens (creating if absent) a single-file SQLite store at path,
// applies the WAL pragma sequence, and enforces the dimension pin: the
// first Open sets it, every subsequent Open must match it exactly.
//
// Matches the ambient sqlite-open pattern of a single shared connection
// (SetMaxOpenConns(1)) rather than a pool, since modernc.org/sqlite
// serializes writers anyway and WAL mode only needs one writer handle.
func Open(ctx context.Context, path string, dimensions int, codec domain.VectorCodec, log *zap.Logger) (*Store, error) {
	if dimensions <= 0 {
		return nil, domain.NewError(domain.KindInvalidInput, "store.open", domain.ErrNonPositiveDim)
	}
	if log == nil {
		log = zap.NewNop()
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "store.open", err)
	}
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, domain.NewError(domain.KindStorage, "store.open", fmt.Errorf("%s: %w", pragma, err))
		}
	}

	if _, err := db.ExecContext(ctx, schemaSQL); err != nil {
		_ = db.Close()
		return nil, domain.NewError(domain.KindStorage, "store.open", fmt.Errorf("apply schema: %w", err))
	}

	if err := enforceDimensionPin(ctx, db, dimensions); err != nil {
		_ = db.Close()
		return nil, err
	}

	s := &Store{
		db:             db,
		log:            log,
		codec:          codec,
		Episodes:       &EpisodeStore{db: db, codec: codec},
		Semantics:      &SemanticStore{db: db, codec: codec},
		Procedures:     &ProcedureStore{db: db, codec: codec},
		Contradictions: &ContradictionStore{db: db},
		Runs:           &RunStore{db: db},
		CausalLinks:    &CausalLinkStore{db: db},

		EpisodeVectors:   &VectorIndex{db: db, table: "episode_vectors", codec: codec},
		SemanticVectors:  &VectorIndex{db: db, table: "semantic_vectors", codec: codec},
		ProcedureVectors: &VectorIndex{db: db, table: "procedure_vectors", codec: codec},
	}

	if err := s.migrateLegacyVectors(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrateLegacyVectors implements spec.md §4.1's legacy migration: if the
// relational tables already carry embedding blobs but a vector table is
// still empty, populate that vector table from the relational rows in one
// transaction. Guarded by "vector table empty", so it is idempotent and a
// no-op on every Open after the first successful migration.
func (s *Store) migrateLegacyVectors(ctx context.Context) error {
	migrations := []struct {
		table     string
		vectors   *VectorIndex
		selectSQL string
	}{
		{
			table:   "episodes",
			vectors: s.EpisodeVectors,
			selectSQL: `SELECT id, embedding, source, consolidated, superseded_by FROM episodes
				WHERE embedding IS NOT NULL`,
		},
		{
			table:     "semantics",
			vectors:   s.SemanticVectors,
			selectSQL: `SELECT id, embedding, state, 0, '' FROM semantics WHERE embedding IS NOT NULL`,
		},
		{
			table:     "procedures",
			vectors:   s.ProcedureVectors,
			selectSQL: `SELECT id, embedding, state, 0, '' FROM procedures WHERE embedding IS NOT NULL`,
		},
	}

	for _, m := range migrations {
		count, err := m.vectors.Count(ctx)
		if err != nil {
			return domain.NewError(domain.KindStorage, "store.migrateLegacyVectors", err)
		}
		if count > 0 {
			continue
		}
		if err := s.migrateOneTable(ctx, m.table, m.vectors, m.selectSQL); err != nil {
			return err
		}
	}
	return nil
}

func (s *Store) migrateOneTable(ctx context.Context, table string, vectors *VectorIndex, selectSQL string) error {
	rows, err := s.db.QueryContext(ctx, selectSQL)
	if err != nil {
		return domain.NewError(domain.KindStorage, "store.migrateOneTable", err)
	}
	defer rows.Close()

	type legacyRow struct {
		id           string
		embedding    []byte
		stateOrSrc   string
		flag         int
		supersededBy string
	}
	var pending []legacyRow
	for rows.Next() {
		var r legacyRow
		if err := rows.Scan(&r.id, &r.embedding, &r.stateOrSrc, &r.flag, &r.supersededBy); err != nil {
			return domain.NewError(domain.KindStorage, "store.migrateOneTable", err)
		}
		pending = append(pending, r)
	}
	if err := rows.Err(); err != nil {
		return domain.NewError(domain.KindStorage, "store.migrateOneTable", err)
	}
	if len(pending) == 0 {
		return nil
	}

	return s.WithTx(ctx, func(tx *sql.Tx) error {
		txVectors := &VectorIndex{db: tx, table: vectors.table, codec: s.codec}
		for _, r := range pending {
			vec, err := s.codec.BytesToVector(r.embedding)
			if err != nil {
				return domain.NewError(domain.KindStorage, "store.migrateOneTable", err)
			}
			var filters domain.KNNFilter
			switch table {
			case "episodes":
				filters = domain.KNNFilter{"source": r.stateOrSrc, "consolidated": fmt.Sprint(r.flag), "superseded_by": r.supersededBy}
			default:
				filters = domain.KNNFilter{"state": r.stateOrSrc}
			}
			if err := txVectors.Upsert(ctx, r.id, vec, filters); err != nil {
				return err
			}
		}
		return nil
	})
}

// enforceDimensionPin reads the single dimension_pin row if present and
// requires it match dimensions exactly (spec.md §3: the pin is immutable
// once set). An absent row is populated from dimensions, pinning the
// store for every subsequent Open.
func enforceDimensionPin(ctx context.Context, db *sql.DB, dimensions int) error {
	var pinned int
	err := db.QueryRowContext(ctx, `SELECT dimensions FROM dimension_pin WHERE id = 1`).Scan(&pinned)
	switch {
	case err == sql.ErrNoRows:
		_, err := db.ExecContext(ctx, `INSERT INTO dimension_pin (id, dimensions) VALUES (1, ?)`, dimensions)
		if err != nil {
			return domain.NewError(domain.KindStorage, "store.enforceDimensionPin", err)
		}
		return nil
	case err != nil:
		return domain.NewError(domain.KindStorage, "store.enforceDimensionPin", err)
	case pinned != dimensions:
		return domain.NewError(domain.KindDimensionMismatch, "store.enforceDimensionPin", domain.ErrDimensionMismatch)
	default:
		return nil
	}
}

// Dimensions returns the store's pinned vector dimensionality.
func (s *Store) Dimensions(ctx context.Context) (int, error) {
	var d int
	err := s.db.QueryRowContext(ctx, `SELECT dimensions FROM dimension_pin WHERE id = 1`).Scan(&d)
	if err != nil {
		return 0, domain.NewError(domain.KindStorage, "store.Dimensions", err)
	}
	return d, nil
}

// WithTx runs fn inside a transaction, committing on a nil return and
// rolling back otherwise. Callers that need per-entity stores scoped to
// the same transaction build them directly against tx (see encoder /
// consolidator in internal/engine, which take *sql.Tx-backed stores for
// the duration of one atomic operation).
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.NewError(domain.KindStorage, "store.WithTx", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return domain.NewError(domain.KindStorage, "store.WithTx", err)
	}
	return nil
}

// DB exposes the underlying handle for callers (internal/engine) that
// need to compose several store operations into one transaction.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) Close() error {
	if err := s.db.Close(); err != nil {
		return domain.NewError(domain.KindStorage, "store.Close", err)
	}
	return nil
}
