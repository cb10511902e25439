package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// Reinforcement/contradiction similarity bands, spec.md §4.3.
const (
	ReinforcementThreshold = 0.85
	ContradictionFloor     = 0.60
)

// ValidationOutcome is one of {reinforced, contradiction, none}.
type ValidationOutcome string

const (
	OutcomeReinforced    ValidationOutcome = "reinforced"
	OutcomeContradiction ValidationOutcome = "contradiction"
	OutcomeNone          ValidationOutcome = "none"
)

// ValidationResult carries the outcome plus whichever diagnostic fields
// apply to it.
type ValidationResult struct {
	Outcome         ValidationOutcome
	SemanticID      string
	Similarity      float32
	ContradictionID string
}

// Validator runs the similarity-gated reinforcement/contradiction branch
// against a freshly encoded episode (spec.md §4.3).
type Validator struct {
	store  *store.Store
	llm    domain.LLMClient
	logger *zap.Logger
}

func NewValidator(st *store.Store, llm domain.LLMClient, logger *zap.Logger) *Validator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Validator{store: st, llm: llm, logger: logger}
}

// contradictionVerdict is the JSON shape the LLM adapter is prompted for
// (spec.md §8 S3: {contradicts, resolution, conditions, explanation}).
type contradictionVerdict struct {
	Contradicts bool           `json:"contradicts"`
	Resolution  string         `json:"resolution"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
}

const (
	verdictNewWins          = "new_wins"
	verdictExistingWins     = "existing_wins"
	verdictContextDependent = "context_dependent"
)

// Validate runs the algorithm of spec.md §4.3 against ep, which must
// already carry its embedding (Encode always persists one).
func (v *Validator) Validate(ctx context.Context, ep *domain.Episode) (*ValidationResult, error) {
	hit, found, err := v.closestActiveSemantic(ctx, ep.Embedding)
	if err != nil {
		return nil, err
	}
	if !found {
		return &ValidationResult{Outcome: OutcomeNone}, nil
	}
	sim := hit.Similarity()

	switch {
	case sim >= ReinforcementThreshold:
		return v.reinforce(ctx, hit.ID, ep, sim)
	case sim >= ContradictionFloor && v.llm != nil:
		return v.resolveContradiction(ctx, hit.ID, ep, sim)
	default:
		return &ValidationResult{Outcome: OutcomeNone, SemanticID: hit.ID, Similarity: sim}, nil
	}
}

// closestActiveSemantic finds the single closest semantic whose state is
// active or context_dependent. KNNFilter only supports one equality value
// per column, so this issues one k=1 query per allowed state and keeps
// whichever hit has the smaller distance.
func (v *Validator) closestActiveSemantic(ctx context.Context, target []float32) (domain.KNNHit, bool, error) {
	var best domain.KNNHit
	found := false

	for _, state := range []domain.State{domain.StateActive, domain.StateContextDependent} {
		hits, err := v.store.SemanticVectors.Query(ctx, target, 1, domain.KNNFilter{"state": string(state)})
		if err != nil {
			return domain.KNNHit{}, false, err
		}
		if len(hits) == 0 {
			continue
		}
		if !found || hits[0].Distance < best.Distance {
			best = hits[0]
			found = true
		}
	}
	return best, found, nil
}

func (v *Validator) reinforce(ctx context.Context, semanticID string, ep *domain.Episode, sim float32) (*ValidationResult, error) {
	sem, err := v.store.Semantics.GetByID(ctx, semanticID)
	if err != nil {
		return nil, err
	}

	sem.EvidenceEpisodeIDs = appendUnique(sem.EvidenceEpisodeIDs, ep.ID)
	sem.SupportingCount++

	diversity, err := v.sourceTypeDiversity(ctx, ep, sem.EvidenceEpisodeIDs)
	if err != nil {
		return nil, err
	}
	sem.SourceTypeDiversity = diversity

	now := ids.Now()
	sem.LastReinforcedAt = &now

	if err := sem.Validate(); err != nil {
		return nil, err
	}
	if err := v.store.Semantics.Update(ctx, sem); err != nil {
		return nil, err
	}

	v.logger.Debug("semantic reinforced",
		zap.String("semantic_id", sem.ID),
		zap.String("episode_id", ep.ID),
		zap.Float32("similarity", sim))

	return &ValidationResult{Outcome: OutcomeReinforced, SemanticID: sem.ID, Similarity: sim}, nil
}

// sourceTypeDiversity counts distinct source values across ep and every
// evidence episode id that still exists in the store (spec.md §4.3 step 3).
func (v *Validator) sourceTypeDiversity(ctx context.Context, ep *domain.Episode, evidenceIDs []string) (int, error) {
	existing, err := v.store.Episodes.GetMany(ctx, evidenceIDs)
	if err != nil {
		return 0, err
	}
	seen := map[domain.Source]struct{}{ep.Source: {}}
	for _, e := range existing {
		seen[e.Source] = struct{}{}
	}
	return len(seen), nil
}

func (v *Validator) resolveContradiction(ctx context.Context, semanticID string, ep *domain.Episode, sim float32) (*ValidationResult, error) {
	sem, err := v.store.Semantics.GetByID(ctx, semanticID)
	if err != nil {
		return nil, err
	}

	var verdict contradictionVerdict
	if err := v.llm.JSON(ctx, contradictionPrompt(sem.Content, ep.Content), &verdict); err != nil {
		return nil, domain.NewError(domain.KindAdapter, "validator.resolveContradiction", err)
	}
	if !verdict.Contradicts {
		return &ValidationResult{Outcome: OutcomeNone, SemanticID: sem.ID, Similarity: sim}, nil
	}

	contradiction := &domain.Contradiction{
		ID:         ids.New(),
		ClaimAID:   sem.ID,
		ClaimAType: domain.MemoryKindSemantic,
		ClaimBID:   ep.ID,
		ClaimBType: domain.MemoryKindEpisodic,
		CreatedAt:  ids.Now(),
	}
	if verdict.Resolution != "" {
		contradiction.State = domain.ContradictionResolved
		contradiction.Resolution = &domain.Resolution{
			// Claim A is always the existing semantic and claim B the new
			// episode here, so the validator's own new/existing vocabulary
			// translates onto the shared a_wins/b_wins schema (spec.md §3).
			Type:        resolutionClaimType(verdict.Resolution),
			Conditions:  verdict.Conditions,
			Explanation: verdict.Explanation,
		}
		now := ids.Now()
		contradiction.ResolvedAt = &now
	} else {
		contradiction.State = domain.ContradictionOpen
	}

	if err := v.store.Contradictions.Create(ctx, contradiction); err != nil {
		return nil, err
	}

	switch verdict.Resolution {
	case verdictNewWins:
		if err := v.store.Semantics.SetState(ctx, sem.ID, domain.StateDisputed); err != nil {
			return nil, err
		}
	case verdictContextDependent:
		sem.State = domain.StateContextDependent
		sem.Conditions = verdict.Conditions
		if err := v.store.Semantics.Update(ctx, sem); err != nil {
			return nil, err
		}
	case verdictExistingWins:
		// existing semantic keeps its current state; nothing to change.
	}

	v.logger.Debug("contradiction detected",
		zap.String("semantic_id", sem.ID),
		zap.String("episode_id", ep.ID),
		zap.String("contradiction_id", contradiction.ID),
		zap.Float32("similarity", sim))

	return &ValidationResult{
		Outcome:         OutcomeContradiction,
		SemanticID:      sem.ID,
		Similarity:      sim,
		ContradictionID: contradiction.ID,
	}, nil
}

// resolutionClaimType maps the validator's new/existing verdict vocabulary
// onto the contradiction schema's claim-letter vocabulary: claim A is the
// existing semantic, claim B is the new episode (see resolveContradiction).
func resolutionClaimType(verdict string) domain.ResolutionType {
	switch verdict {
	case verdictNewWins:
		return domain.ResolutionBWins
	case verdictExistingWins:
		return domain.ResolutionAWins
	default:
		return domain.ResolutionContextDependent
	}
}

func contradictionPrompt(existing, incoming string) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "You mediate contradictions between memory claims. Respond with JSON {contradicts, resolution, conditions, explanation}."},
		{Role: domain.RoleUser, Content: "Existing claim: " + existing + "\nNew claim: " + incoming},
	}
}

// appendUnique appends id to list if not already present, preserving order.
func appendUnique(list []string, id string) []string {
	for _, existing := range list {
		if existing == id {
			return list
		}
	}
	return append(list, id)
}
