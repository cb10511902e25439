package engine

import (
	"context"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// Introspect aggregates single-pass counters across every store (spec.md
// §6.1 `introspect`, extended with per-state breakdowns per SPEC_FULL.md §C).
type Introspect struct {
	store  *store.Store
	logger *zap.Logger
}

func NewIntrospect(st *store.Store, logger *zap.Logger) *Introspect {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Introspect{store: st, logger: logger}
}

func (i *Introspect) Run(ctx context.Context) (*domain.IntrospectionCounters, error) {
	totalEpisodes, err := i.store.Episodes.Count(ctx)
	if err != nil {
		return nil, err
	}
	unconsolidated, err := i.store.Episodes.ListUnconsolidated(ctx)
	if err != nil {
		return nil, err
	}

	semanticsByState, err := i.store.Semantics.CountByState(ctx)
	if err != nil {
		return nil, err
	}
	proceduresByState, err := i.store.Procedures.CountByState(ctx)
	if err != nil {
		return nil, err
	}

	openContradictions, err := i.store.Contradictions.CountOpen(ctx)
	if err != nil {
		return nil, err
	}
	totalRuns, err := i.store.Runs.Count(ctx)
	if err != nil {
		return nil, err
	}

	counters := &domain.IntrospectionCounters{
		TotalEpisodes:          totalEpisodes,
		UnconsolidatedEpisodes: len(unconsolidated),
		TotalSemantics:         sumCounts(semanticsByState),
		TotalProcedures:        sumCounts(proceduresByState),
		SemanticsByState:       semanticsByState,
		ProceduresByState:      proceduresByState,
		OpenContradictions:     openContradictions,
		TotalConsolidationRuns: totalRuns,
	}

	i.logger.Debug("introspection snapshot taken",
		zap.Int("total_episodes", counters.TotalEpisodes),
		zap.Int("total_semantics", counters.TotalSemantics),
		zap.Int("total_procedures", counters.TotalProcedures))
	return counters, nil
}

func sumCounts(m map[domain.State]int) int {
	total := 0
	for _, n := range m {
		total += n
	}
	return total
}
