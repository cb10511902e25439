package domain

import "time"

// LinkType classifies a CausalLink edge.
type LinkType string

const (
	LinkCausal        LinkType = "causal"
	LinkCorrelational LinkType = "correlational"
	LinkTemporal      LinkType = "temporal"
)

func ValidLinkType(s string) bool {
	switch LinkType(s) {
	case LinkCausal, LinkCorrelational, LinkTemporal:
		return true
	}
	return false
}

// CausalLink is a directed edge between two memory nodes (an episode,
// semantic, or procedure, referenced by id only — lookup-only, no
// cascading delete per spec.md §3).
type CausalLink struct {
	ID            string    `json:"id"`
	CauseID       string    `json:"cause_id"`
	EffectID      string    `json:"effect_id"`
	LinkType      LinkType  `json:"link_type"`
	Mechanism     string    `json:"mechanism,omitempty"`
	Confidence    float32   `json:"confidence"`
	EvidenceCount int       `json:"evidence_count"`
	CreatedAt     time.Time `json:"created_at"`
}

// TraversalOptions bounds a BFS walk over cause -> effect edges (spec.md
// §4.9): a maximum depth and an optional filter on edge types.
type TraversalOptions struct {
	MaxDepth   int
	LinkFilter []LinkType
}

// DefaultTraversalOptions matches the spec's default max depth of 10.
func DefaultTraversalOptions() TraversalOptions {
	return TraversalOptions{MaxDepth: 10}
}

// TraversedEdge is one hop of a causal BFS, annotated with the depth at
// which it was reached.
type TraversedEdge struct {
	Edge  CausalLink
	Depth int
}
