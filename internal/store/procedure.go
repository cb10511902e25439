package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

var _ domain.ProcedureStore = (*ProcedureStore)(nil)

// ProcedureStore persists Procedure rows. Same column shape as
// SemanticStore with success/failure counts replacing supporting/
// contradicting (spec.md §3).
type ProcedureStore struct {
	db    dbtx
	codec domain.VectorCodec
}

func (s *ProcedureStore) encodeVector(vec []float32) any {
	if len(vec) == 0 || s.codec == nil {
		return nil
	}
	return s.codec.VectorToBytes(vec)
}

func (s *ProcedureStore) Create(ctx context.Context, p *domain.Procedure) error {
	conditions, err := json.Marshal(p.TriggerConditions)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "procedureStore.Create", err)
	}
	evidence, err := json.Marshal(p.EvidenceEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "procedureStore.Create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO procedures (
			id, content, embedding, embedding_model, embedding_version, state, trigger_conditions,
			evidence_episode_ids, evidence_count, success_count, failure_count,
			source_type_diversity, consolidation_checkpoint, consolidation_model,
			consolidation_prompt_hash, created_at, last_reinforced_at,
			retrieval_count, challenge_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		p.ID, p.Content, s.encodeVector(p.Embedding), p.EmbeddingModel, p.EmbeddingVer, string(p.State), string(conditions),
		string(evidence), p.EvidenceCount, p.SuccessCount, p.FailureCount,
		p.SourceTypeDiversity, p.ConsolidationCheckpoint, p.ConsolidationModel,
		p.ConsolidationPromptHash, ids.FormatRFC3339(p.CreatedAt), nullableTime(p.LastReinforcedAt),
		p.RetrievalCount, p.ChallengeCount,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "procedureStore.Create", err)
	}
	return nil
}

func (s *ProcedureStore) GetByID(ctx context.Context, id string) (*domain.Procedure, error) {
	row := s.db.QueryRowContext(ctx, procedureSelectColumns+` FROM procedures WHERE id = ?`, id)
	p, err := s.scanProcedure(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "procedureStore.GetByID", domain.ErrProcedureNotFound)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "procedureStore.GetByID", err)
	}
	return p, nil
}

func (s *ProcedureStore) Update(ctx context.Context, p *domain.Procedure) error {
	conditions, err := json.Marshal(p.TriggerConditions)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "procedureStore.Update", err)
	}
	evidence, err := json.Marshal(p.EvidenceEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "procedureStore.Update", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE procedures SET
			content = ?, embedding_model = ?, embedding_version = ?, state = ?, trigger_conditions = ?,
			evidence_episode_ids = ?, evidence_count = ?, success_count = ?, failure_count = ?,
			source_type_diversity = ?, consolidation_checkpoint = ?, consolidation_model = ?,
			consolidation_prompt_hash = ?, last_reinforced_at = ?, retrieval_count = ?, challenge_count = ?
		WHERE id = ?`,
		p.Content, p.EmbeddingModel, p.EmbeddingVer, string(p.State), string(conditions),
		string(evidence), p.EvidenceCount, p.SuccessCount, p.FailureCount,
		p.SourceTypeDiversity, p.ConsolidationCheckpoint, p.ConsolidationModel,
		p.ConsolidationPromptHash, nullableTime(p.LastReinforcedAt), p.RetrievalCount, p.ChallengeCount,
		p.ID,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "procedureStore.Update", err)
	}
	return requireRowsAffected(res, domain.ErrProcedureNotFound, "procedureStore.Update")
}

func (s *ProcedureStore) SetState(ctx context.Context, id string, state domain.State) error {
	res, err := s.db.ExecContext(ctx, `UPDATE procedures SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return domain.NewError(domain.KindStorage, "procedureStore.SetState", err)
	}
	if err := requireRowsAffected(res, domain.ErrProcedureNotFound, "procedureStore.SetState"); err != nil {
		return err
	}
	// Keep the vector index's state filter in step with the row, so kNN
	// queries filtered on state see the transition.
	if _, err := s.db.ExecContext(ctx, `UPDATE procedure_vectors SET filters = json_set(filters, '$.state', ?) WHERE id = ?`, string(state), id); err != nil {
		return domain.NewError(domain.KindStorage, "procedureStore.SetState", err)
	}
	return nil
}

func (s *ProcedureStore) ListByState(ctx context.Context, states ...domain.State) ([]domain.Procedure, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, procedureSelectColumns+` FROM procedures WHERE state IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "procedureStore.ListByState", err)
	}
	defer rows.Close()
	return s.scanProcedures(rows)
}

func (s *ProcedureStore) IncrementRetrieval(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE procedures SET retrieval_count = retrieval_count + 1, last_reinforced_at = ? WHERE id = ?`,
		ids.FormatRFC3339(at), id)
	if err != nil {
		return domain.NewError(domain.KindStorage, "procedureStore.IncrementRetrieval", err)
	}
	return requireRowsAffected(res, domain.ErrProcedureNotFound, "procedureStore.IncrementRetrieval")
}

func (s *ProcedureStore) CountByState(ctx context.Context) (map[domain.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM procedures GROUP BY state`)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "procedureStore.CountByState", err)
	}
	defer rows.Close()
	out := make(map[domain.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, domain.NewError(domain.KindStorage, "procedureStore.CountByState", err)
		}
		out[domain.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "procedureStore.CountByState", err)
	}
	return out, nil
}

const procedureSelectColumns = `SELECT
	id, content, embedding, embedding_model, embedding_version, state, trigger_conditions,
	evidence_episode_ids, evidence_count, success_count, failure_count,
	source_type_diversity, consolidation_checkpoint, consolidation_model,
	consolidation_prompt_hash, created_at, last_reinforced_at,
	retrieval_count, challenge_count`

func (s *ProcedureStore) scanProcedure(r rowScanner) (*domain.Procedure, error) {
	var p domain.Procedure
	var state, conditionsJSON, evidenceJSON, createdAt string
	var lastReinforced sql.NullString
	var embeddingBytes []byte
	if err := r.Scan(
		&p.ID, &p.Content, &embeddingBytes, &p.EmbeddingModel, &p.EmbeddingVer, &state, &conditionsJSON,
		&evidenceJSON, &p.EvidenceCount, &p.SuccessCount, &p.FailureCount,
		&p.SourceTypeDiversity, &p.ConsolidationCheckpoint, &p.ConsolidationModel,
		&p.ConsolidationPromptHash, &createdAt, &lastReinforced,
		&p.RetrievalCount, &p.ChallengeCount,
	); err != nil {
		return nil, err
	}
	p.State = domain.State(state)
	if err := json.Unmarshal([]byte(conditionsJSON), &p.TriggerConditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &p.EvidenceEpisodeIDs); err != nil {
		return nil, err
	}
	t, err := ids.ParseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	p.CreatedAt = t
	if lastReinforced.Valid {
		lr, err := ids.ParseRFC3339(lastReinforced.String)
		if err != nil {
			return nil, err
		}
		p.LastReinforcedAt = &lr
	}
	if len(embeddingBytes) > 0 && s.codec != nil {
		vec, err := s.codec.BytesToVector(embeddingBytes)
		if err != nil {
			return nil, err
		}
		p.Embedding = vec
	}
	return &p, nil
}

func (s *ProcedureStore) scanProcedures(rows *sql.Rows) ([]domain.Procedure, error) {
	var out []domain.Procedure
	for rows.Next() {
		p, err := s.scanProcedure(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
