package engine

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/confidence"
	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/store"
)

const (
	DefaultRecallLimit = 10
	// knnOverFetch is the multiplier spec.md §4.5 applies to limit when
	// running each type's kNN query, leaving room for confidence-based
	// drops before the final truncation.
	knnOverFetch = 3
)

// RecallRequest is the validated request shape of spec.md §6.1's `recall`.
type RecallRequest struct {
	Query             string
	Limit             int
	Types             []domain.MemoryKind
	MinConfidence     float64
	IncludeProvenance bool
	IncludeDormant    bool
}

func (r RecallRequest) withDefaults() RecallRequest {
	if r.Limit <= 0 {
		r.Limit = DefaultRecallLimit
	}
	if len(r.Types) == 0 {
		r.Types = []domain.MemoryKind{domain.MemoryKindEpisodic, domain.MemoryKindSemantic, domain.MemoryKindProcedural}
	}
	return r
}

// RecallHit is one ranked entry of a recall result (spec.md §4.5 step 6).
type RecallHit struct {
	ID         string
	Content    string
	Type       domain.MemoryKind
	Confidence float64
	Score      float64
	Source     domain.Source
	CreatedAt  time.Time
	State      string
	Provenance []string
}

// Recall runs multi-type kNN search, per-hit confidence scoring, and
// retrieval reinforcement (spec.md §4.5).
type Recall struct {
	store    *store.Store
	embedder domain.EmbeddingClient
	logger   *zap.Logger
}

func NewRecall(st *store.Store, embedder domain.EmbeddingClient, logger *zap.Logger) *Recall {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Recall{store: st, embedder: embedder, logger: logger}
}

func (r *Recall) Recall(ctx context.Context, req RecallRequest) ([]RecallHit, error) {
	req = req.withDefaults()

	target, err := r.embedder.Embed(ctx, req.Query)
	if err != nil {
		return nil, domain.NewError(domain.KindAdapter, "recall.recall", err)
	}

	var all []RecallHit
	for _, kind := range req.Types {
		hits, err := r.recallType(ctx, kind, target, req)
		if err != nil {
			return nil, err
		}
		all = append(all, hits...)
	}

	sort.SliceStable(all, func(i, j int) bool { return all[i].Score > all[j].Score })
	if len(all) > req.Limit {
		all = all[:req.Limit]
	}

	r.logger.Debug("recall completed",
		zap.String("query", req.Query),
		zap.Int("results", len(all)))
	return all, nil
}

// RecallStream yields the same ordered prefix Recall would, lazily over a
// channel. To stop early the caller cancels ctx, and the goroutine then
// exits; a caller that stops draining without cancelling ctx leaves the
// goroutine blocked on its next send.
func (r *Recall) RecallStream(ctx context.Context, req RecallRequest) (<-chan RecallHit, <-chan error) {
	out := make(chan RecallHit)
	errc := make(chan error, 1)

	go func() {
		defer close(out)
		defer close(errc)

		hits, err := r.Recall(ctx, req)
		if err != nil {
			errc <- err
			return
		}
		for _, h := range hits {
			select {
			case out <- h:
			case <-ctx.Done():
				return
			}
		}
	}()

	return out, errc
}

func (r *Recall) recallType(ctx context.Context, kind domain.MemoryKind, target []float32, req RecallRequest) ([]RecallHit, error) {
	switch kind {
	case domain.MemoryKindEpisodic:
		return r.recallEpisodic(ctx, target, req)
	case domain.MemoryKindProcedural:
		return r.recallConsolidated(ctx, domain.MemoryKindProcedural, target, req)
	default:
		return r.recallConsolidated(ctx, domain.MemoryKindSemantic, target, req)
	}
}

func (r *Recall) recallEpisodic(ctx context.Context, target []float32, req RecallRequest) ([]RecallHit, error) {
	hits, err := r.store.EpisodeVectors.Query(ctx, target, req.Limit*knnOverFetch, domain.KNNFilter{"superseded_by": ""})
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, nil
	}

	ids := make([]string, len(hits))
	for i, h := range hits {
		ids[i] = h.ID
	}
	episodes, err := r.store.Episodes.GetMany(ctx, ids)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]domain.Episode, len(episodes))
	for _, e := range episodes {
		byID[e.ID] = e
	}

	now := time.Now()
	var out []RecallHit
	for _, h := range hits {
		ep, ok := byID[h.ID]
		if !ok {
			continue
		}
		sim := float64(h.Similarity())
		ageDays := now.Sub(ep.CreatedAt).Hours() / 24

		c, err := confidence.Score(confidence.Input{
			Source:       ep.Source,
			AgeDays:      ageDays,
			HalfLifeDays: confidence.HalfLifeFor(domain.MemoryKindEpisodic),
		})
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidInput, "recall.recallEpisodic", err)
		}
		if c < req.MinConfidence {
			continue
		}

		out = append(out, RecallHit{
			ID:         ep.ID,
			Content:    ep.Content,
			Type:       domain.MemoryKindEpisodic,
			Confidence: c,
			Score:      sim * c,
			Source:     ep.Source,
			CreatedAt:  ep.CreatedAt,
		})
	}
	return out, nil
}

func (r *Recall) recallConsolidated(ctx context.Context, kind domain.MemoryKind, target []float32, req RecallRequest) ([]RecallHit, error) {
	states := []domain.State{domain.StateActive, domain.StateContextDependent}
	if req.IncludeDormant {
		states = append(states, domain.StateDormant)
	}

	var merged []domain.KNNHit
	vectors := r.store.SemanticVectors
	if kind == domain.MemoryKindProcedural {
		vectors = r.store.ProcedureVectors
	}
	for _, state := range states {
		hits, err := vectors.Query(ctx, target, req.Limit*knnOverFetch, domain.KNNFilter{"state": string(state)})
		if err != nil {
			return nil, err
		}
		merged = append(merged, hits...)
	}
	if len(merged) == 0 {
		return nil, nil
	}

	now := time.Now()
	var out []RecallHit
	var reinforcedIDs []string

	if kind == domain.MemoryKindProcedural {
		hits, reinforced, err := r.scoreProcedures(ctx, merged, req, now)
		if err != nil {
			return nil, err
		}
		out, reinforcedIDs = hits, reinforced
	} else {
		hits, reinforced, err := r.scoreSemantics(ctx, merged, req, now)
		if err != nil {
			return nil, err
		}
		out, reinforcedIDs = hits, reinforced
	}

	// Every row that passed min_confidence here is reinforced, before the
	// final cross-type merge in Recall truncates to limit (spec.md §4.5
	// step 5 runs per-type, ahead of step 6's truncation). So "increments
	// == rows returned" (spec.md §8) only holds when the matched count for
	// this type is already <= limit; a type that over-matches reinforces
	// some rows the caller never sees in the final page.
	for _, id := range reinforcedIDs {
		if err := r.reinforceRetrieval(ctx, kind, id, now); err != nil {
			r.logger.Warn("retrieval reinforcement failed", zap.String("id", id), zap.Error(err))
		}
	}
	return out, nil
}

func (r *Recall) scoreSemantics(ctx context.Context, hits []domain.KNNHit, req RecallRequest, now time.Time) ([]RecallHit, []string, error) {
	var out []RecallHit
	var reinforced []string
	for _, h := range hits {
		sem, err := r.store.Semantics.GetByID(ctx, h.ID)
		if err != nil {
			return nil, nil, err
		}
		ageDays := now.Sub(sem.CreatedAt).Hours() / 24
		daysSinceRetrieval := daysSince(sem.LastReinforcedAt, sem.CreatedAt, now)

		c, err := confidence.Score(confidence.Input{
			Source:             domain.SourceToolResult,
			Support:            sem.SupportingCount,
			Contradict:         sem.ContradictingCount,
			AgeDays:            ageDays,
			RetrievalCount:     sem.RetrievalCount,
			DaysSinceRetrieval: daysSinceRetrieval,
			HalfLifeDays:       confidence.HalfLifeFor(domain.MemoryKindSemantic),
		})
		if err != nil {
			return nil, nil, domain.NewError(domain.KindInvalidInput, "recall.scoreSemantics", err)
		}
		if c < req.MinConfidence {
			continue
		}

		hit := RecallHit{
			ID:         sem.ID,
			Content:    sem.Content,
			Type:       domain.MemoryKindSemantic,
			Confidence: c,
			Score:      float64(h.Similarity()) * c,
			Source:     domain.SourceToolResult,
			CreatedAt:  sem.CreatedAt,
			State:      string(sem.State),
		}
		if req.IncludeProvenance {
			hit.Provenance = sem.EvidenceEpisodeIDs
		}
		out = append(out, hit)
		reinforced = append(reinforced, sem.ID)
	}
	return out, reinforced, nil
}

func (r *Recall) scoreProcedures(ctx context.Context, hits []domain.KNNHit, req RecallRequest, now time.Time) ([]RecallHit, []string, error) {
	var out []RecallHit
	var reinforced []string
	for _, h := range hits {
		proc, err := r.store.Procedures.GetByID(ctx, h.ID)
		if err != nil {
			return nil, nil, err
		}
		ageDays := now.Sub(proc.CreatedAt).Hours() / 24
		daysSinceRetrieval := daysSince(proc.LastReinforcedAt, proc.CreatedAt, now)

		c, err := confidence.Score(confidence.Input{
			Source:             domain.SourceToolResult,
			Support:            proc.SuccessCount,
			Contradict:         proc.FailureCount,
			AgeDays:            ageDays,
			RetrievalCount:     proc.RetrievalCount,
			DaysSinceRetrieval: daysSinceRetrieval,
			HalfLifeDays:       confidence.HalfLifeFor(domain.MemoryKindProcedural),
		})
		if err != nil {
			return nil, nil, domain.NewError(domain.KindInvalidInput, "recall.scoreProcedures", err)
		}
		if c < req.MinConfidence {
			continue
		}

		hit := RecallHit{
			ID:         proc.ID,
			Content:    proc.Content,
			Type:       domain.MemoryKindProcedural,
			Confidence: c,
			Score:      float64(h.Similarity()) * c,
			Source:     domain.SourceToolResult,
			CreatedAt:  proc.CreatedAt,
			State:      string(proc.State),
		}
		if req.IncludeProvenance {
			hit.Provenance = proc.EvidenceEpisodeIDs
		}
		out = append(out, hit)
		reinforced = append(reinforced, proc.ID)
	}
	return out, reinforced, nil
}

func (r *Recall) reinforceRetrieval(ctx context.Context, kind domain.MemoryKind, id string, at time.Time) error {
	if kind == domain.MemoryKindProcedural {
		return r.store.Procedures.IncrementRetrieval(ctx, id, at)
	}
	return r.store.Semantics.IncrementRetrieval(ctx, id, at)
}

func daysSince(last *time.Time, fallback time.Time, now time.Time) float64 {
	base := fallback
	if last != nil {
		base = *last
	}
	return now.Sub(base).Hours() / 24
}
