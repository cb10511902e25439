package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// mechanismVerdict is the JSON shape the optional LLM articulation step is
// prompted for (spec.md §4.9: the mechanism may be classified as spurious,
// in which case nothing is inserted).
type mechanismVerdict struct {
	Spurious  bool   `json:"spurious"`
	Mechanism string `json:"mechanism"`
}

// LinkInput is the validated request shape for inserting a CausalLink.
type LinkInput struct {
	CauseID    string
	EffectID   string
	LinkType   domain.LinkType
	Mechanism  string
	Confidence float32
}

// Causal inserts causal_links edges and traverses them (spec.md §4.9).
type Causal struct {
	store  *store.Store
	llm    domain.LLMClient
	logger *zap.Logger
}

func NewCausal(st *store.Store, llm domain.LLMClient, logger *zap.Logger) *Causal {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Causal{store: st, llm: llm, logger: logger}
}

// Link appends a causal_links row. When an LLM adapter is configured and
// the input carries no explicit mechanism, the mechanism is articulated by
// the LLM first; a spurious verdict skips the insert entirely and Link
// returns (nil, nil).
func (c *Causal) Link(ctx context.Context, in LinkInput) (*domain.CausalLink, error) {
	if !domain.ValidLinkType(string(in.LinkType)) {
		return nil, domain.NewError(domain.KindInvalidInput, "causal.link", domain.ErrUnknownLinkType)
	}

	mechanism := in.Mechanism
	if c.llm != nil && mechanism == "" {
		var verdict mechanismVerdict
		if err := c.llm.JSON(ctx, mechanismPrompt(in), &verdict); err != nil {
			return nil, domain.NewError(domain.KindAdapter, "causal.link", err)
		}
		if verdict.Spurious {
			c.logger.Debug("causal link discarded as spurious",
				zap.String("cause_id", in.CauseID), zap.String("effect_id", in.EffectID))
			return nil, nil
		}
		mechanism = verdict.Mechanism
	}

	link := &domain.CausalLink{
		ID:         ids.New(),
		CauseID:    in.CauseID,
		EffectID:   in.EffectID,
		LinkType:   in.LinkType,
		Mechanism:  mechanism,
		Confidence: in.Confidence,
		CreatedAt:  ids.Now(),
	}
	if err := c.store.CausalLinks.Create(ctx, link); err != nil {
		return nil, err
	}

	c.logger.Debug("causal link created",
		zap.String("id", link.ID),
		zap.String("cause_id", link.CauseID),
		zap.String("effect_id", link.EffectID),
		zap.String("link_type", string(link.LinkType)))
	return link, nil
}

// Traverse runs a bounded breadth-first walk from id over cause -> effect
// edges, cycle-guarded by a visited-set, returning the ordered list of
// traversed edges annotated with the depth at which each was reached.
func (c *Causal) Traverse(ctx context.Context, id string, opts domain.TraversalOptions) ([]domain.TraversedEdge, error) {
	if opts.MaxDepth <= 0 {
		opts.MaxDepth = domain.DefaultTraversalOptions().MaxDepth
	}

	visited := map[string]struct{}{id: {}}
	queue := []string{id}
	depths := map[string]int{id: 0}

	var out []domain.TraversedEdge
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		depth := depths[current]
		if depth >= opts.MaxDepth {
			continue
		}

		edges, err := c.store.CausalLinks.OutgoingFrom(ctx, current)
		if err != nil {
			return nil, err
		}
		for _, edge := range edges {
			if !linkTypeAllowed(edge.LinkType, opts.LinkFilter) {
				continue
			}
			out = append(out, domain.TraversedEdge{Edge: edge, Depth: depth + 1})
			if _, seen := visited[edge.EffectID]; seen {
				continue
			}
			visited[edge.EffectID] = struct{}{}
			depths[edge.EffectID] = depth + 1
			queue = append(queue, edge.EffectID)
		}
	}
	return out, nil
}

func linkTypeAllowed(t domain.LinkType, filter []domain.LinkType) bool {
	if len(filter) == 0 {
		return true
	}
	for _, f := range filter {
		if f == t {
			return true
		}
	}
	return false
}

func mechanismPrompt(in LinkInput) []domain.Message {
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "You articulate the causal mechanism between two memory events. Respond with JSON {spurious, mechanism}. Set spurious true if the link does not reflect a real cause-effect relationship."},
		{Role: domain.RoleUser, Content: "Cause id: " + in.CauseID + "\nEffect id: " + in.EffectID + "\nProposed link type: " + string(in.LinkType)},
	}
}
