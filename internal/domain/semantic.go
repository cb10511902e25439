package domain

import "time"

// State is the lifecycle of a Semantic or Procedure row. Transitions are
// written only through the Validator, Truth-Resolver, Consolidator, Decay,
// and Rollback (spec.md §4.3):
//
//	active -> disputed            (Validator)
//	active -> context_dependent   (Validator)
//	active -> dormant             (Decay)
//	active -> rolled_back         (Rollback)
//	disputed -> active            (Truth-Resolver)
//	context_dependent -> active   (Truth-Resolver)
//	dormant            (read-only, includable)
//	rolled_back        (terminal)
type State string

const (
	StateActive           State = "active"
	StateDisputed         State = "disputed"
	StateSuperseded       State = "superseded"
	StateContextDependent State = "context_dependent"
	StateDormant          State = "dormant"
	StateRolledBack       State = "rolled_back"
)

// Recallable reports whether rows in this state are eligible for normal
// recall (dormant rows require an explicit opt-in; rolled_back rows never
// surface).
func (s State) Recallable(includeDormant bool) bool {
	switch s {
	case StateActive, StateContextDependent:
		return true
	case StateDormant:
		return includeDormant
	default:
		return false
	}
}

// MaxSourceTypeDiversity bounds Semantic.SourceTypeDiversity and
// Procedure.SourceTypeDiversity: there are only five source names.
const MaxSourceTypeDiversity = 5

// Semantic is a generalized principle promoted from a cluster of episodes.
type Semantic struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	EmbeddingVer   string    `json:"embedding_version,omitempty"`

	State      State          `json:"state"`
	Conditions map[string]any `json:"conditions,omitempty"`

	EvidenceEpisodeIDs  []string `json:"evidence_episode_ids"`
	EvidenceCount       int      `json:"evidence_count"`
	SupportingCount     int      `json:"supporting_count"`
	ContradictingCount  int      `json:"contradicting_count"`
	SourceTypeDiversity int      `json:"source_type_diversity"`

	ConsolidationCheckpoint string `json:"consolidation_checkpoint,omitempty"`
	ConsolidationModel      string `json:"consolidation_model,omitempty"`
	ConsolidationPromptHash string `json:"consolidation_prompt_hash,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`

	RetrievalCount int `json:"retrieval_count"`
	ChallengeCount int `json:"challenge_count"`
}

// Validate enforces the invariants spec.md §3/§8 require of a Semantic:
// supporting_count >= |evidence_episode_ids| and source_type_diversity <= 5.
func (s *Semantic) Validate() error {
	if s.SupportingCount < len(s.EvidenceEpisodeIDs) {
		return NewError(KindStateViolation, "semantic.validate", errSupportingCountInvariant)
	}
	if s.SourceTypeDiversity > MaxSourceTypeDiversity {
		return NewError(KindStateViolation, "semantic.validate", errSourceDiversityInvariant)
	}
	return nil
}

// Procedure has the same shape as Semantic, with SuccessCount/FailureCount
// replacing supporting/contradicting and TriggerConditions optional in
// place of Conditions. The state machine is identical to Semantic's.
type Procedure struct {
	ID      string `json:"id"`
	Content string `json:"content"`

	Embedding      []float32 `json:"-"`
	EmbeddingModel string    `json:"embedding_model,omitempty"`
	EmbeddingVer   string    `json:"embedding_version,omitempty"`

	State             State          `json:"state"`
	TriggerConditions map[string]any `json:"trigger_conditions,omitempty"`

	EvidenceEpisodeIDs  []string `json:"evidence_episode_ids"`
	EvidenceCount       int      `json:"evidence_count"`
	SuccessCount        int      `json:"success_count"`
	FailureCount        int      `json:"failure_count"`
	SourceTypeDiversity int      `json:"source_type_diversity"`

	ConsolidationCheckpoint string `json:"consolidation_checkpoint,omitempty"`
	ConsolidationModel      string `json:"consolidation_model,omitempty"`
	ConsolidationPromptHash string `json:"consolidation_prompt_hash,omitempty"`

	CreatedAt        time.Time  `json:"created_at"`
	LastReinforcedAt *time.Time `json:"last_reinforced_at,omitempty"`

	RetrievalCount int `json:"retrieval_count"`
	ChallengeCount int `json:"challenge_count"`
}

func (p *Procedure) Validate() error {
	if p.SuccessCount+p.FailureCount < len(p.EvidenceEpisodeIDs) {
		return NewError(KindStateViolation, "procedure.validate", errSupportingCountInvariant)
	}
	if p.SourceTypeDiversity > MaxSourceTypeDiversity {
		return NewError(KindStateViolation, "procedure.validate", errSourceDiversityInvariant)
	}
	return nil
}

// MemoryKind names which table a promoted principle lives in.
type MemoryKind string

const (
	MemoryKindEpisodic   MemoryKind = "episodic"
	MemoryKindSemantic   MemoryKind = "semantic"
	MemoryKindProcedural MemoryKind = "procedural"
)

var (
	errSupportingCountInvariant = stateErr("supporting_count must be >= len(evidence_episode_ids)")
	errSourceDiversityInvariant = stateErr("source_type_diversity must be <= 5")
)

type stateErr string

func (e stateErr) Error() string { return string(e) }
