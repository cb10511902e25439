package store

import (
	"context"
	"encoding/json"
	"math"
	"sort"

	"github.com/harshitk-cp/mnemex/internal/domain"
)

// VectorIndex is the brute-force cosine kNN implementation of
// domain.VectorIndex: no sqlite-vec extension is available in a
// pure-Go/no-cgo build, so every Query scans the table's rows, decodes
// each embedding, and ranks by cosine distance in Go. table is one of
// episode_vectors / semantic_vectors / procedure_vectors; all three
// share this same implementation, parameterized only by table name.
type VectorIndex struct {
	db    dbtx
	table string
	codec domain.VectorCodec
}

func (v *VectorIndex) Upsert(ctx context.Context, id string, embedding []float32, filters domain.KNNFilter) error {
	encodedFilters, err := json.Marshal(filters)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "vectorIndex.Upsert", err)
	}
	query := `INSERT INTO ` + v.table + ` (id, embedding, filters) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET embedding = excluded.embedding, filters = excluded.filters`
	if _, err := v.db.ExecContext(ctx, query, id, v.codec.VectorToBytes(embedding), string(encodedFilters)); err != nil {
		return domain.NewError(domain.KindStorage, "vectorIndex.Upsert", err)
	}
	return nil
}

// UpdateFilters overwrites the stored filter set for id without touching
// its embedding — used when a row's filterable state changes out from
// under an existing vector (e.g. an episode gaining a superseded_by
// pointer after a later episode supersedes it).
func (v *VectorIndex) UpdateFilters(ctx context.Context, id string, filters domain.KNNFilter) error {
	encoded, err := json.Marshal(filters)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "vectorIndex.UpdateFilters", err)
	}
	if _, err := v.db.ExecContext(ctx, `UPDATE `+v.table+` SET filters = ? WHERE id = ?`, string(encoded), id); err != nil {
		return domain.NewError(domain.KindStorage, "vectorIndex.UpdateFilters", err)
	}
	return nil
}

func (v *VectorIndex) Delete(ctx context.Context, id string) error {
	if _, err := v.db.ExecContext(ctx, `DELETE FROM `+v.table+` WHERE id = ?`, id); err != nil {
		return domain.NewError(domain.KindStorage, "vectorIndex.Delete", err)
	}
	return nil
}

func (v *VectorIndex) Count(ctx context.Context) (int, error) {
	var n int
	if err := v.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+v.table).Scan(&n); err != nil {
		return 0, domain.NewError(domain.KindStorage, "vectorIndex.Count", err)
	}
	return n, nil
}

type candidateHit struct {
	id       string
	distance float32
}

// Query scans every row of the table, applies filters as an equality
// match against each row's stored filter JSON, computes cosine distance
// against target for the rows that pass, and returns the k closest
// sorted ascending by distance. Filtering happens in Go rather than SQL
// since filters is an arbitrary set of key/value pairs, not a fixed
// column set, and the table is small enough (bounded by episode/memory
// counts, not a web-scale corpus) that a full scan is the pragmatic
// choice — the same tradeoff the teacher's reference brute-force path
// makes when no vector extension is loaded.
func (v *VectorIndex) Query(ctx context.Context, target []float32, k int, filters domain.KNNFilter) ([]domain.KNNHit, error) {
	if k <= 0 {
		return nil, nil
	}

	rows, err := v.db.QueryContext(ctx, `SELECT id, embedding, filters FROM `+v.table)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "vectorIndex.Query", err)
	}
	defer rows.Close()

	var candidates []candidateHit
	for rows.Next() {
		var id string
		var embeddingBytes []byte
		var filtersJSON string
		if err := rows.Scan(&id, &embeddingBytes, &filtersJSON); err != nil {
			return nil, domain.NewError(domain.KindStorage, "vectorIndex.Query", err)
		}

		if len(filters) > 0 {
			var rowFilters domain.KNNFilter
			if err := json.Unmarshal([]byte(filtersJSON), &rowFilters); err != nil {
				return nil, domain.NewError(domain.KindStorage, "vectorIndex.Query", err)
			}
			if !matchesFilters(rowFilters, filters) {
				continue
			}
		}

		vec, err := v.codec.BytesToVector(embeddingBytes)
		if err != nil {
			return nil, domain.NewError(domain.KindStorage, "vectorIndex.Query", err)
		}
		dist, err := cosineDistance(target, vec)
		if err != nil {
			return nil, domain.NewError(domain.KindDimensionMismatch, "vectorIndex.Query", err)
		}
		candidates = append(candidates, candidateHit{id: id, distance: dist})
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "vectorIndex.Query", err)
	}

	sort.Slice(candidates, func(i, j int) bool { return candidates[i].distance < candidates[j].distance })
	if len(candidates) > k {
		candidates = candidates[:k]
	}

	hits := make([]domain.KNNHit, len(candidates))
	for i, c := range candidates {
		hits[i] = domain.KNNHit{ID: c.id, Distance: c.distance}
	}
	return hits, nil
}

func matchesFilters(row, want domain.KNNFilter) bool {
	for k, v := range want {
		if row[k] != v {
			return false
		}
	}
	return true
}

func cosineDistance(a, b []float32) (float32, error) {
	if len(a) != len(b) {
		return 0, domain.ErrDimensionMismatch
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 1, nil
	}
	cosine := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	return float32(1 - cosine), nil
}
