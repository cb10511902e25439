package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// resolutionVerdict is the JSON shape the Truth Resolver prompts the LLM
// for (spec.md §4.6).
type resolutionVerdict struct {
	Resolution  string         `json:"resolution"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
}

// TruthResolver arbitrates an open Contradiction via an LLM adapter
// (spec.md §4.6). It requires an LLM — with none configured, Resolve
// fails with MissingCapability.
type TruthResolver struct {
	store  *store.Store
	llm    domain.LLMClient
	logger *zap.Logger
}

func NewTruthResolver(st *store.Store, llm domain.LLMClient, logger *zap.Logger) *TruthResolver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TruthResolver{store: st, llm: llm, logger: logger}
}

func (t *TruthResolver) Resolve(ctx context.Context, contradictionID string) (*domain.Contradiction, error) {
	if t.llm == nil {
		return nil, domain.NewError(domain.KindMissingCapability, "truthResolver.resolve", domain.ErrMissingLLM)
	}

	c, err := t.store.Contradictions.GetByID(ctx, contradictionID)
	if err != nil {
		return nil, err
	}

	claimA, err := t.claimContent(ctx, c.ClaimAID, c.ClaimAType)
	if err != nil {
		return nil, err
	}
	claimB, err := t.claimContent(ctx, c.ClaimBID, c.ClaimBType)
	if err != nil {
		return nil, err
	}

	var verdict resolutionVerdict
	if err := t.llm.JSON(ctx, resolutionPrompt(claimA, claimB), &verdict); err != nil {
		return nil, domain.NewError(domain.KindAdapter, "truthResolver.resolve", err)
	}

	now := ids.Now()
	c.Resolution = &domain.Resolution{
		Type:        domain.ResolutionType(verdict.Resolution),
		Conditions:  verdict.Conditions,
		Explanation: verdict.Explanation,
	}
	c.ResolvedAt = &now
	if verdict.Resolution == string(domain.ResolutionContextDependent) {
		c.State = domain.ContradictionContextDependent
	} else {
		c.State = domain.ContradictionResolved
	}

	if err := t.applySideEffects(ctx, c, verdict); err != nil {
		return nil, err
	}
	if err := t.store.Contradictions.Update(ctx, c); err != nil {
		return nil, err
	}

	t.logger.Debug("contradiction resolved",
		zap.String("contradiction_id", c.ID),
		zap.String("resolution", verdict.Resolution))
	return c, nil
}

// applySideEffects implements spec.md §4.6's claim-side transitions. Only
// semantic claims carry a state machine; episodic or procedural claims on
// either side are left untouched.
func (t *TruthResolver) applySideEffects(ctx context.Context, c *domain.Contradiction, verdict resolutionVerdict) error {
	switch domain.ResolutionType(verdict.Resolution) {
	case domain.ResolutionAWins:
		if c.ClaimAType == domain.MemoryKindSemantic {
			return t.store.Semantics.SetState(ctx, c.ClaimAID, domain.StateActive)
		}
	case domain.ResolutionBWins:
		if c.ClaimBType == domain.MemoryKindSemantic {
			return t.store.Semantics.SetState(ctx, c.ClaimBID, domain.StateActive)
		}
	case domain.ResolutionContextDependent:
		if c.ClaimAType == domain.MemoryKindSemantic {
			sem, err := t.store.Semantics.GetByID(ctx, c.ClaimAID)
			if err != nil {
				return err
			}
			sem.State = domain.StateContextDependent
			sem.Conditions = verdict.Conditions
			return t.store.Semantics.Update(ctx, sem)
		}
	}
	return nil
}

// claimContent loads the textual content of a contradiction's claim,
// regardless of which memory kind it points to.
func (t *TruthResolver) claimContent(ctx context.Context, id string, kind domain.MemoryKind) (string, error) {
	switch kind {
	case domain.MemoryKindEpisodic:
		ep, err := t.store.Episodes.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return ep.Content, nil
	case domain.MemoryKindProcedural:
		proc, err := t.store.Procedures.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return proc.Content, nil
	default:
		sem, err := t.store.Semantics.GetByID(ctx, id)
		if err != nil {
			return "", err
		}
		return sem.Content, nil
	}
}

func resolutionPrompt(claimA, claimB string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "You resolve a standing contradiction between two memory claims. Respond with JSON {resolution: one of a_wins|b_wins|context_dependent, conditions, explanation}."},
		{Role: domain.RoleUser, Content: "Claim A: " + claimA + "\nClaim B: " + claimB},
	}
}
