package domain

import "time"

// ContradictionState is the lifecycle of a Contradiction row.
type ContradictionState string

const (
	ContradictionOpen             ContradictionState = "open"
	ContradictionResolved         ContradictionState = "resolved"
	ContradictionContextDependent ContradictionState = "context_dependent"
	ContradictionReopened         ContradictionState = "reopened"
)

// ResolutionType is the verdict the Truth Resolver expects back from the
// LLM adapter.
type ResolutionType string

const (
	ResolutionAWins            ResolutionType = "a_wins"
	ResolutionBWins            ResolutionType = "b_wins"
	ResolutionContextDependent ResolutionType = "context_dependent"
)

// Resolution is the structured verdict attached to a resolved or
// context-dependent Contradiction.
type Resolution struct {
	Type        ResolutionType `json:"type"`
	Conditions  map[string]any `json:"conditions,omitempty"`
	Explanation string         `json:"explanation,omitempty"`
}

// Contradiction mediates between two claims that cannot both hold.
type Contradiction struct {
	ID string `json:"id"`

	ClaimAID   string     `json:"claim_a_id"`
	ClaimAType MemoryKind `json:"claim_a_type"`
	ClaimBID   string     `json:"claim_b_id"`
	ClaimBType MemoryKind `json:"claim_b_type"`

	State      ContradictionState `json:"state"`
	Resolution *Resolution        `json:"resolution,omitempty"`

	ResolvedAt       *time.Time `json:"resolved_at,omitempty"`
	ReopenedAt       *time.Time `json:"reopened_at,omitempty"`
	ReopenEvidenceID string     `json:"reopen_evidence_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}
