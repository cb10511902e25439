package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// RollbackResult is the counters spec.md §6.1 requires of `rollback`.
type RollbackResult struct {
	RolledBackMemories int
	RestoredEpisodes   int
}

// Rollback undoes a consolidation run atomically: every output memory goes
// to rolled_back, every input episode's consolidated flag clears, and the
// run itself is marked rolled_back (spec.md §4.8).
type Rollback struct {
	store  *store.Store
	logger *zap.Logger
}

func NewRollback(st *store.Store, logger *zap.Logger) *Rollback {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Rollback{store: st, logger: logger}
}

func (r *Rollback) Run(ctx context.Context, runID string) (*RollbackResult, error) {
	run, err := r.store.Runs.GetByID(ctx, runID)
	if err != nil {
		return nil, err
	}
	if run.Status == domain.RunRolledBack {
		return nil, domain.NewError(domain.KindStateViolation, "rollback.run", domain.ErrAlreadyRolledBack)
	}

	result := &RollbackResult{}
	if err := r.store.WithTx(ctx, func(tx *sql.Tx) error {
		txStores := r.store.Tx(tx)

		for _, memoryID := range run.OutputMemoryIDs {
			if err := r.rollbackMemory(ctx, txStores, memoryID); err != nil {
				return err
			}
			result.RolledBackMemories++
		}

		if len(run.InputEpisodeIDs) > 0 {
			if err := txStores.Episodes.MarkConsolidated(ctx, run.InputEpisodeIDs, false); err != nil {
				return err
			}
			result.RestoredEpisodes = len(run.InputEpisodeIDs)
		}

		run.Status = domain.RunRolledBack
		return txStores.Runs.Update(ctx, run)
	}); err != nil {
		return nil, err
	}

	r.logger.Debug("consolidation run rolled back",
		zap.String("run_id", runID),
		zap.Int("rolled_back_memories", result.RolledBackMemories),
		zap.Int("restored_episodes", result.RestoredEpisodes))
	return result, nil
}

// rollbackMemory flips the semantic or procedure identified by id to
// rolled_back. Ids minted by either store never collide (both are ULIDs
// from the shared entropy source in internal/ids), so the operation is
// typed-blind per spec.md §4.8: it tries semantics, then procedures.
func (r *Rollback) rollbackMemory(ctx context.Context, tx *store.TxStores, id string) error {
	if err := tx.Semantics.SetState(ctx, id, domain.StateRolledBack); err == nil {
		return nil
	} else if domain.ErrorKind(err) != domain.KindNotFound {
		return err
	}
	return tx.Procedures.SetState(ctx, id, domain.StateRolledBack)
}
