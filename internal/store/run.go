package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

var _ domain.RunStore = (*RunStore)(nil)

// RunStore persists ConsolidationRun audit rows (spec.md §3, §4.4).
type RunStore struct {
	db dbtx
}

func (s *RunStore) Create(ctx context.Context, r *domain.ConsolidationRun) error {
	inputIDs, err := json.Marshal(r.InputEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Create", err)
	}
	outputIDs, err := json.Marshal(r.OutputMemoryIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Create", err)
	}
	deltas, err := json.Marshal(r.ConfidenceDeltas)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO consolidation_runs (
			id, checkpoint_cursor, input_episode_ids, output_memory_ids, confidence_deltas,
			consolidation_model, consolidation_prompt_hash, started_at, completed_at, status
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.CheckpointCursor, string(inputIDs), string(outputIDs), string(deltas),
		r.ConsolidationModel, r.ConsolidationPromptHash, ids.FormatRFC3339(r.StartedAt),
		nullableTime(r.CompletedAt), string(r.Status),
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "runStore.Create", err)
	}
	return nil
}

func (s *RunStore) GetByID(ctx context.Context, id string) (*domain.ConsolidationRun, error) {
	row := s.db.QueryRowContext(ctx, runSelectColumns+` FROM consolidation_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "runStore.GetByID", domain.ErrRunNotFound)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "runStore.GetByID", err)
	}
	return r, nil
}

func (s *RunStore) Update(ctx context.Context, r *domain.ConsolidationRun) error {
	inputIDs, err := json.Marshal(r.InputEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Update", err)
	}
	outputIDs, err := json.Marshal(r.OutputMemoryIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Update", err)
	}
	deltas, err := json.Marshal(r.ConfidenceDeltas)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "runStore.Update", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE consolidation_runs SET
			checkpoint_cursor = ?, input_episode_ids = ?, output_memory_ids = ?, confidence_deltas = ?,
			consolidation_model = ?, consolidation_prompt_hash = ?, completed_at = ?, status = ?
		WHERE id = ?`,
		r.CheckpointCursor, string(inputIDs), string(outputIDs), string(deltas),
		r.ConsolidationModel, r.ConsolidationPromptHash, nullableTime(r.CompletedAt), string(r.Status),
		r.ID,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "runStore.Update", err)
	}
	return requireRowsAffected(res, domain.ErrRunNotFound, "runStore.Update")
}

func (s *RunStore) ListNewestFirst(ctx context.Context, limit int) ([]domain.ConsolidationRun, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, runSelectColumns+` FROM consolidation_runs ORDER BY started_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "runStore.ListNewestFirst", err)
	}
	defer rows.Close()

	var out []domain.ConsolidationRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, domain.NewError(domain.KindStorage, "runStore.ListNewestFirst", err)
		}
		out = append(out, *r)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "runStore.ListNewestFirst", err)
	}
	return out, nil
}

// Count returns the total number of consolidation run rows ever recorded
// (spec.md §6.1 introspect: "total consolidation runs").
func (s *RunStore) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM consolidation_runs`).Scan(&n)
	if err != nil {
		return 0, domain.NewError(domain.KindStorage, "runStore.Count", err)
	}
	return n, nil
}

const runSelectColumns = `SELECT
	id, checkpoint_cursor, input_episode_ids, output_memory_ids, confidence_deltas,
	consolidation_model, consolidation_prompt_hash, started_at, completed_at, status`

func scanRun(r rowScanner) (*domain.ConsolidationRun, error) {
	var run domain.ConsolidationRun
	var inputIDs, outputIDs, deltas, startedAt, status string
	var completedAt sql.NullString
	if err := r.Scan(
		&run.ID, &run.CheckpointCursor, &inputIDs, &outputIDs, &deltas,
		&run.ConsolidationModel, &run.ConsolidationPromptHash, &startedAt, &completedAt, &status,
	); err != nil {
		return nil, err
	}
	run.Status = domain.RunStatus(status)
	if err := json.Unmarshal([]byte(inputIDs), &run.InputEpisodeIDs); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(outputIDs), &run.OutputMemoryIDs); err != nil {
		return nil, err
	}
	if deltas != "" && deltas != "null" {
		if err := json.Unmarshal([]byte(deltas), &run.ConfidenceDeltas); err != nil {
			return nil, err
		}
	}
	t, err := ids.ParseRFC3339(startedAt)
	if err != nil {
		return nil, err
	}
	run.StartedAt = t
	if ct, err := scanNullTime(completedAt); err != nil {
		return nil, err
	} else {
		run.CompletedAt = ct
	}
	return &run, nil
}
