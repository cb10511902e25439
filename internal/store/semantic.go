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

var _ domain.SemanticStore = (*SemanticStore)(nil)

// SemanticStore persists Semantic rows, one per promoted principle.
type SemanticStore struct {
	db    dbtx
	codec domain.VectorCodec
}

func (s *SemanticStore) encodeVector(vec []float32) any {
	if len(vec) == 0 || s.codec == nil {
		return nil
	}
	return s.codec.VectorToBytes(vec)
}

func (s *SemanticStore) Create(ctx context.Context, m *domain.Semantic) error {
	conditions, err := json.Marshal(m.Conditions)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "semanticStore.Create", err)
	}
	evidence, err := json.Marshal(m.EvidenceEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "semanticStore.Create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO semantics (
			id, content, embedding, embedding_model, embedding_version, state, conditions,
			evidence_episode_ids, evidence_count, supporting_count, contradicting_count,
			source_type_diversity, consolidation_checkpoint, consolidation_model,
			consolidation_prompt_hash, created_at, last_reinforced_at,
			retrieval_count, challenge_count
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		m.ID, m.Content, s.encodeVector(m.Embedding), m.EmbeddingModel, m.EmbeddingVer, string(m.State), string(conditions),
		string(evidence), m.EvidenceCount, m.SupportingCount, m.ContradictingCount,
		m.SourceTypeDiversity, m.ConsolidationCheckpoint, m.ConsolidationModel,
		m.ConsolidationPromptHash, ids.FormatRFC3339(m.CreatedAt), nullableTime(m.LastReinforcedAt),
		m.RetrievalCount, m.ChallengeCount,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.Create", err)
	}
	return nil
}

func (s *SemanticStore) GetByID(ctx context.Context, id string) (*domain.Semantic, error) {
	row := s.db.QueryRowContext(ctx, semanticSelectColumns+` FROM semantics WHERE id = ?`, id)
	m, err := s.scanSemantic(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "semanticStore.GetByID", domain.ErrSemanticNotFound)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "semanticStore.GetByID", err)
	}
	return m, nil
}

func (s *SemanticStore) Update(ctx context.Context, m *domain.Semantic) error {
	conditions, err := json.Marshal(m.Conditions)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "semanticStore.Update", err)
	}
	evidence, err := json.Marshal(m.EvidenceEpisodeIDs)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "semanticStore.Update", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE semantics SET
			content = ?, embedding_model = ?, embedding_version = ?, state = ?, conditions = ?,
			evidence_episode_ids = ?, evidence_count = ?, supporting_count = ?, contradicting_count = ?,
			source_type_diversity = ?, consolidation_checkpoint = ?, consolidation_model = ?,
			consolidation_prompt_hash = ?, last_reinforced_at = ?, retrieval_count = ?, challenge_count = ?
		WHERE id = ?`,
		m.Content, m.EmbeddingModel, m.EmbeddingVer, string(m.State), string(conditions),
		string(evidence), m.EvidenceCount, m.SupportingCount, m.ContradictingCount,
		m.SourceTypeDiversity, m.ConsolidationCheckpoint, m.ConsolidationModel,
		m.ConsolidationPromptHash, nullableTime(m.LastReinforcedAt), m.RetrievalCount, m.ChallengeCount,
		m.ID,
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.Update", err)
	}
	if err := requireRowsAffected(res, domain.ErrSemanticNotFound, "semanticStore.Update"); err != nil {
		return err
	}
	if _, err := s.db.ExecContext(ctx, `UPDATE semantic_vectors SET filters = json_set(filters, '$.state', ?) WHERE id = ?`, string(m.State), m.ID); err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.Update", err)
	}
	return nil
}

func (s *SemanticStore) SetState(ctx context.Context, id string, state domain.State) error {
	res, err := s.db.ExecContext(ctx, `UPDATE semantics SET state = ? WHERE id = ?`, string(state), id)
	if err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.SetState", err)
	}
	if err := requireRowsAffected(res, domain.ErrSemanticNotFound, "semanticStore.SetState"); err != nil {
		return err
	}
	// Keep the vector index's state filter in step with the row, so kNN
	// queries filtered on state see the transition.
	if _, err := s.db.ExecContext(ctx, `UPDATE semantic_vectors SET filters = json_set(filters, '$.state', ?) WHERE id = ?`, string(state), id); err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.SetState", err)
	}
	return nil
}

func (s *SemanticStore) ListByState(ctx context.Context, states ...domain.State) ([]domain.Semantic, error) {
	if len(states) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(states))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(states))
	for i, st := range states {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx, semanticSelectColumns+` FROM semantics WHERE state IN (`+placeholders+`) ORDER BY created_at ASC`, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "semanticStore.ListByState", err)
	}
	defer rows.Close()
	return s.scanSemantics(rows)
}

func (s *SemanticStore) IncrementRetrieval(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `UPDATE semantics SET retrieval_count = retrieval_count + 1, last_reinforced_at = ? WHERE id = ?`,
		ids.FormatRFC3339(at), id)
	if err != nil {
		return domain.NewError(domain.KindStorage, "semanticStore.IncrementRetrieval", err)
	}
	return requireRowsAffected(res, domain.ErrSemanticNotFound, "semanticStore.IncrementRetrieval")
}

func (s *SemanticStore) CountByState(ctx context.Context) (map[domain.State]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT state, COUNT(*) FROM semantics GROUP BY state`)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "semanticStore.CountByState", err)
	}
	defer rows.Close()
	out := make(map[domain.State]int)
	for rows.Next() {
		var state string
		var n int
		if err := rows.Scan(&state, &n); err != nil {
			return nil, domain.NewError(domain.KindStorage, "semanticStore.CountByState", err)
		}
		out[domain.State(state)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, domain.NewError(domain.KindStorage, "semanticStore.CountByState", err)
	}
	return out, nil
}

const semanticSelectColumns = `SELECT
	id, content, embedding, embedding_model, embedding_version, state, conditions,
	evidence_episode_ids, evidence_count, supporting_count, contradicting_count,
	source_type_diversity, consolidation_checkpoint, consolidation_model,
	consolidation_prompt_hash, created_at, last_reinforced_at,
	retrieval_count, challenge_count`

func (s *SemanticStore) scanSemantic(r rowScanner) (*domain.Semantic, error) {
	var m domain.Semantic
	var state, conditionsJSON, evidenceJSON, createdAt string
	var lastReinforced sql.NullString
	var embeddingBytes []byte
	if err := r.Scan(
		&m.ID, &m.Content, &embeddingBytes, &m.EmbeddingModel, &m.EmbeddingVer, &state, &conditionsJSON,
		&evidenceJSON, &m.EvidenceCount, &m.SupportingCount, &m.ContradictingCount,
		&m.SourceTypeDiversity, &m.ConsolidationCheckpoint, &m.ConsolidationModel,
		&m.ConsolidationPromptHash, &createdAt, &lastReinforced,
		&m.RetrievalCount, &m.ChallengeCount,
	); err != nil {
		return nil, err
	}
	m.State = domain.State(state)
	if err := json.Unmarshal([]byte(conditionsJSON), &m.Conditions); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(evidenceJSON), &m.EvidenceEpisodeIDs); err != nil {
		return nil, err
	}
	t, err := ids.ParseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	m.CreatedAt = t
	if lastReinforced.Valid {
		lr, err := ids.ParseRFC3339(lastReinforced.String)
		if err != nil {
			return nil, err
		}
		m.LastReinforcedAt = &lr
	}
	if len(embeddingBytes) > 0 && s.codec != nil {
		vec, err := s.codec.BytesToVector(embeddingBytes)
		if err != nil {
			return nil, err
		}
		m.Embedding = vec
	}
	return &m, nil
}

func (s *SemanticStore) scanSemantics(rows *sql.Rows) ([]domain.Semantic, error) {
	var out []domain.Semantic
	for rows.Next() {
		m, err := s.scanSemantic(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *m)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}
