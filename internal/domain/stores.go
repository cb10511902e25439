package domain

import (
	"context"
	"time"
)

// Message is one turn in a conversation handed to the LLM adapter.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// EmbeddingClient is the collaborator contract of spec.md §6.3: a
// deterministic capability mapping text to a unit-norm fixed-dimension
// vector, pluggable by provider.
type EmbeddingClient interface {
	Dimensions() int
	ModelName() string
	ModelVersion() string
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// VectorCodec converts between the in-memory vector representation and
// the byte layout persisted by the store.
type VectorCodec interface {
	VectorToBytes(vec []float32) []byte
	BytesToVector(b []byte) ([]float32, error)
}

// LLMClient is the collaborator contract of spec.md §6.3: a deterministic
// capability mapping a list of (role, content) messages to a completion
// or a parsed JSON object, pluggable by provider. Optional everywhere it
// is used.
type LLMClient interface {
	ModelName() string
	ModelVersion() string
	Complete(ctx context.Context, messages []Message) (string, error)
	JSON(ctx context.Context, messages []Message, target any) error
}

// KNNFilter is an equality filter on one of a vector index's filterable
// columns (spec.md §4.1: source/consolidated for episodes, state for
// semantics and procedures).
type KNNFilter map[string]string

// KNNHit is one row returned by a vector-index query: an id and the
// cosine distance to the query vector, in [0,2].
type KNNHit struct {
	ID       string
	Distance float32
}

// Similarity converts a KNN distance into the [−1,1]-ish similarity
// spec.md §4.1 defines as 1 - distance.
func (h KNNHit) Similarity() float32 { return 1 - h.Distance }

// VectorIndex is the parallel kNN index spec.md §4.1 requires for each of
// episodes, semantics, and procedures.
type VectorIndex interface {
	Upsert(ctx context.Context, id string, embedding []float32, filters KNNFilter) error
	Delete(ctx context.Context, id string) error
	Query(ctx context.Context, target []float32, k int, filters KNNFilter) ([]KNNHit, error)
	Count(ctx context.Context) (int, error)
}

// EpisodeStore persists episodes (spec.md §3 Episode).
type EpisodeStore interface {
	Create(ctx context.Context, e *Episode) error
	GetByID(ctx context.Context, id string) (*Episode, error)
	GetMany(ctx context.Context, ids []string) ([]Episode, error)
	ListUnconsolidated(ctx context.Context) ([]Episode, error)
	MarkConsolidated(ctx context.Context, ids []string, consolidated bool) error
	SetSupersededBy(ctx context.Context, id, supersededByID string) error
	Count(ctx context.Context) (int, error)
}

// SemanticStore persists Semantic rows.
type SemanticStore interface {
	Create(ctx context.Context, s *Semantic) error
	GetByID(ctx context.Context, id string) (*Semantic, error)
	Update(ctx context.Context, s *Semantic) error
	SetState(ctx context.Context, id string, state State) error
	ListByState(ctx context.Context, states ...State) ([]Semantic, error)
	IncrementRetrieval(ctx context.Context, id string, at time.Time) error
	CountByState(ctx context.Context) (map[State]int, error)
}

// ProcedureStore persists Procedure rows. Same shape as SemanticStore.
type ProcedureStore interface {
	Create(ctx context.Context, p *Procedure) error
	GetByID(ctx context.Context, id string) (*Procedure, error)
	Update(ctx context.Context, p *Procedure) error
	SetState(ctx context.Context, id string, state State) error
	ListByState(ctx context.Context, states ...State) ([]Procedure, error)
	IncrementRetrieval(ctx context.Context, id string, at time.Time) error
	CountByState(ctx context.Context) (map[State]int, error)
}

// ContradictionStore persists Contradiction rows.
type ContradictionStore interface {
	Create(ctx context.Context, c *Contradiction) error
	GetByID(ctx context.Context, id string) (*Contradiction, error)
	Update(ctx context.Context, c *Contradiction) error
}

// RunStore persists ConsolidationRun audit rows.
type RunStore interface {
	Create(ctx context.Context, r *ConsolidationRun) error
	GetByID(ctx context.Context, id string) (*ConsolidationRun, error)
	Update(ctx context.Context, r *ConsolidationRun) error
	ListNewestFirst(ctx context.Context, limit int) ([]ConsolidationRun, error)
}

// CausalLinkStore persists CausalLink edges.
type CausalLinkStore interface {
	Create(ctx context.Context, l *CausalLink) error
	OutgoingFrom(ctx context.Context, id string) ([]CausalLink, error)
}

// IntrospectionCounters is the aggregate snapshot introspect() returns
// (spec.md §6.1, extended per SPEC_FULL.md §C).
type IntrospectionCounters struct {
	TotalEpisodes          int
	UnconsolidatedEpisodes int
	TotalSemantics         int
	TotalProcedures        int
	SemanticsByState       map[State]int
	ProceduresByState      map[State]int
	OpenContradictions     int
	TotalConsolidationRuns int
}
