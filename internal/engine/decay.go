package engine

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/confidence"
	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// DefaultDormantThreshold is the confidence floor below which an active
// semantic or procedure transitions to dormant (spec.md §4.7).
const DefaultDormantThreshold = 0.10

// DecayResult is the counters spec.md §6.1 requires of `decay`.
type DecayResult struct {
	TotalEvaluated        int
	TransitionedToDormant int
	Timestamp             time.Time
}

// Decay periodically scans active semantics and procedures, transitioning
// below-threshold rows to dormant (spec.md §4.7).
type Decay struct {
	store  *store.Store
	logger *zap.Logger
}

func NewDecay(st *store.Store, logger *zap.Logger) *Decay {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Decay{store: st, logger: logger}
}

func (d *Decay) Run(ctx context.Context, dormantThreshold float64) (*DecayResult, error) {
	if dormantThreshold <= 0 {
		dormantThreshold = DefaultDormantThreshold
	}
	now := time.Now()
	result := &DecayResult{Timestamp: now}

	semantics, err := d.store.Semantics.ListByState(ctx, domain.StateActive)
	if err != nil {
		return nil, err
	}
	for _, s := range semantics {
		result.TotalEvaluated++
		c, err := confidence.Score(confidence.Input{
			Source:             domain.SourceDirectObservation,
			Support:            s.SupportingCount,
			Contradict:         s.ContradictingCount,
			AgeDays:            now.Sub(s.CreatedAt).Hours() / 24,
			RetrievalCount:     s.RetrievalCount,
			DaysSinceRetrieval: daysSince(s.LastReinforcedAt, s.CreatedAt, now),
			HalfLifeDays:       confidence.HalfLifeFor(domain.MemoryKindSemantic),
		})
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidInput, "decay.run", err)
		}
		if c < dormantThreshold {
			if err := d.store.Semantics.SetState(ctx, s.ID, domain.StateDormant); err != nil {
				return nil, err
			}
			result.TransitionedToDormant++
		}
	}

	procedures, err := d.store.Procedures.ListByState(ctx, domain.StateActive)
	if err != nil {
		return nil, err
	}
	for _, p := range procedures {
		result.TotalEvaluated++
		c, err := confidence.Score(confidence.Input{
			Source:             domain.SourceDirectObservation,
			Support:            p.SuccessCount,
			Contradict:         p.FailureCount,
			AgeDays:            now.Sub(p.CreatedAt).Hours() / 24,
			RetrievalCount:     p.RetrievalCount,
			DaysSinceRetrieval: daysSince(p.LastReinforcedAt, p.CreatedAt, now),
			HalfLifeDays:       confidence.HalfLifeFor(domain.MemoryKindProcedural),
		})
		if err != nil {
			return nil, domain.NewError(domain.KindInvalidInput, "decay.run", err)
		}
		if c < dormantThreshold {
			if err := d.store.Procedures.SetState(ctx, p.ID, domain.StateDormant); err != nil {
				return nil, err
			}
			result.TransitionedToDormant++
		}
	}

	d.logger.Debug("decay scan completed",
		zap.Int("total_evaluated", result.TotalEvaluated),
		zap.Int("transitioned_to_dormant", result.TransitionedToDormant))
	return result, nil
}
