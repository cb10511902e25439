package store

import (
	"context"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

var _ domain.CausalLinkStore = (*CausalLinkStore)(nil)

// CausalLinkStore persists CausalLink edges (spec.md §3, §4.9). Endpoints
// are lookup-only ids; there is no cascading delete.
type CausalLinkStore struct {
	db dbtx
}

func (s *CausalLinkStore) Create(ctx context.Context, l *domain.CausalLink) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO causal_links (
			id, cause_id, effect_id, link_type, mechanism, confidence, evidence_count, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID, l.CauseID, l.EffectID, string(l.LinkType), l.Mechanism, l.Confidence,
		l.EvidenceCount, ids.FormatRFC3339(l.CreatedAt),
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "causalLinkStore.Create", err)
	}
	return nil
}

func (s *CausalLinkStore) OutgoingFrom(ctx context.Context, id string) ([]domain.CausalLink, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT
		id, cause_id, effect_id, link_type, mechanism, confidence, evidence_count, created_at
		FROM causal_links WHERE cause_id = ? ORDER BY created_at ASC`, id)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "causalLinkStore.OutgoingFrom", err)
	}
	defer rows.Close()

	var out []domain.CausalLink
	for rows.Next() {
		var l domain.CausalLink
		var linkType, createdAt string
		if err := rows.Scan(&l.ID, &l.CauseID, &l.EffectID, &linkType, &l.Mechanism, &l.Confidence, &l.EvidenceCount, &createdAt); err != nil {
			return nil, domain.NewError(domain.KindStorage, "causalLinkStore.OutgoingFrom", err)
		}
		l.LinkType = domain.LinkType(linkType)
		t, err := ids.ParseRFC3339(createdAt)
		if err != nil {
			return nil, domain.NewError(domain.KindStorage, "causalLinkStore.OutgoingFrom", err)
		}
		l.CreatedAt = t
		out = append(out, l)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "causalLinkStore.OutgoingFrom", err)
	}
	return out, nil
}
