package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

var _ domain.ContradictionStore = (*ContradictionStore)(nil)

// ContradictionStore persists Contradiction mediation rows (spec.md §3).
type ContradictionStore struct {
	db dbtx
}

func (s *ContradictionStore) Create(ctx context.Context, c *domain.Contradiction) error {
	resolution, err := json.Marshal(c.Resolution)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "contradictionStore.Create", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO contradictions (
			id, claim_a_id, claim_a_type, claim_b_id, claim_b_type, state, resolution,
			resolved_at, reopened_at, reopen_evidence_id, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.ClaimAID, string(c.ClaimAType), c.ClaimBID, string(c.ClaimBType),
		string(c.State), nullableResolution(c.Resolution, resolution),
		nullableTime(c.ResolvedAt), nullableTime(c.ReopenedAt), c.ReopenEvidenceID,
		ids.FormatRFC3339(c.CreatedAt),
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "contradictionStore.Create", err)
	}
	return nil
}

func (s *ContradictionStore) GetByID(ctx context.Context, id string) (*domain.Contradiction, error) {
	row := s.db.QueryRowContext(ctx, contradictionSelectColumns+` FROM contradictions WHERE id = ?`, id)
	c, err := scanContradiction(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "contradictionStore.GetByID", domain.ErrContradictionNotFound)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "contradictionStore.GetByID", err)
	}
	return c, nil
}

func (s *ContradictionStore) Update(ctx context.Context, c *domain.Contradiction) error {
	resolution, err := json.Marshal(c.Resolution)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "contradictionStore.Update", err)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE contradictions SET
			state = ?, resolution = ?, resolved_at = ?, reopened_at = ?, reopen_evidence_id = ?
		WHERE id = ?`,
		string(c.State), nullableResolution(c.Resolution, resolution),
		nullableTime(c.ResolvedAt), nullableTime(c.ReopenedAt), c.ReopenEvidenceID,
		c.ID,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "contradictionStore.Update", err)
	}
	return requireRowsAffected(res, domain.ErrContradictionNotFound, "contradictionStore.Update")
}

// CountOpen returns the number of contradictions still in the open state
// (spec.md §6.1 introspect: "open contradictions").
func (s *ContradictionStore) CountOpen(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM contradictions WHERE state = ?`, string(domain.ContradictionOpen)).Scan(&n)
	if err != nil {
		return 0, domain.NewError(domain.KindStorage, "contradictionStore.CountOpen", err)
	}
	return n, nil
}

func nullableResolution(r *domain.Resolution, marshaled []byte) any {
	if r == nil {
		return nil
	}
	return string(marshaled)
}

const contradictionSelectColumns = `SELECT
	id, claim_a_id, claim_a_type, claim_b_id, claim_b_type, state, resolution,
	resolved_at, reopened_at, reopen_evidence_id, created_at`

func scanContradiction(r rowScanner) (*domain.Contradiction, error) {
	var c domain.Contradiction
	var claimAType, claimBType, state, createdAt string
	var resolutionJSON, resolvedAt, reopenedAt sql.NullString
	if err := r.Scan(
		&c.ID, &c.ClaimAID, &claimAType, &c.ClaimBID, &claimBType, &state, &resolutionJSON,
		&resolvedAt, &reopenedAt, &c.ReopenEvidenceID, &createdAt,
	); err != nil {
		return nil, err
	}
	c.ClaimAType = domain.MemoryKind(claimAType)
	c.ClaimBType = domain.MemoryKind(claimBType)
	c.State = domain.ContradictionState(state)

	if resolutionJSON.Valid && resolutionJSON.String != "" && resolutionJSON.String != "null" {
		var res domain.Resolution
		if err := json.Unmarshal([]byte(resolutionJSON.String), &res); err != nil {
			return nil, err
		}
		c.Resolution = &res
	}

	t, err := ids.ParseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	c.CreatedAt = t

	if rt, err := scanNullTime(resolvedAt); err != nil {
		return nil, err
	} else {
		c.ResolvedAt = rt
	}
	if rt, err := scanNullTime(reopenedAt); err != nil {
		return nil, err
	} else {
		c.ReopenedAt = rt
	}
	return &c, nil
}
