package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
)

var _ domain.EpisodeStore = (*EpisodeStore)(nil)

// EpisodeStore persists episodes, one row per Episode, append-only except
// for the SupersededBy and Consolidated columns (spec.md §3).
type EpisodeStore struct {
	db    dbtx
	codec domain.VectorCodec
}

func (s *EpisodeStore) Create(ctx context.Context, e *domain.Episode) error {
	tags, err := json.Marshal(e.Tags)
	if err != nil {
		return domain.NewError(domain.KindInvalidInput, "episodeStore.Create", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO episodes (
			id, content, embedding, embedding_model, embedding_version, source, salience,
			tags, causal_trigger, causal_consequence, supersedes, superseded_by,
			consolidated, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.Content, s.encodeVector(e.Embedding), e.EmbeddingModel, e.EmbeddingVer, string(e.Source), e.Salience,
		string(tags), e.CausalTrigger, e.CausalConsequence, e.Supersedes, e.SupersededBy,
		boolToInt(e.Consolidated), ids.FormatRFC3339(e.CreatedAt),
	)
	if err != nil {
		return domain.NewError(domain.KindStorage, "episodeStore.Create", err)
	}
	return nil
}

func (s *EpisodeStore) encodeVector(vec []float32) any {
	if len(vec) == 0 || s.codec == nil {
		return nil
	}
	return s.codec.VectorToBytes(vec)
}

func (s *EpisodeStore) GetByID(ctx context.Context, id string) (*domain.Episode, error) {
	row := s.db.QueryRowContext(ctx, episodeSelectColumns+` FROM episodes WHERE id = ?`, id)
	e, err := s.scanEpisode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NewError(domain.KindNotFound, "episodeStore.GetByID", domain.ErrEpisodeNotFound)
	}
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "episodeStore.GetByID", err)
	}
	return e, nil
}

func (s *EpisodeStore) GetMany(ctx context.Context, idList []string) ([]domain.Episode, error) {
	if len(idList) == 0 {
		return nil, nil
	}
	placeholders := strings.Repeat("?,", len(idList))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(idList))
	for i, id := range idList {
		args[i] = id
	}

	rows, err := s.db.QueryContext(ctx, episodeSelectColumns+` FROM episodes WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "episodeStore.GetMany", err)
	}
	defer rows.Close()
	return s.scanEpisodes(rows)
}

func (s *EpisodeStore) ListUnconsolidated(ctx context.Context) ([]domain.Episode, error) {
	rows, err := s.db.QueryContext(ctx, episodeSelectColumns+` FROM episodes WHERE consolidated = 0 ORDER BY created_at ASC`)
	if err != nil {
		return nil, domain.NewError(domain.KindStorage, "episodeStore.ListUnconsolidated", err)
	}
	defer rows.Close()
	return s.scanEpisodes(rows)
}

func (s *EpisodeStore) MarkConsolidated(ctx context.Context, idList []string, consolidated bool) error {
	if len(idList) == 0 {
		return nil
	}
	placeholders := strings.Repeat("?,", len(idList))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, 0, len(idList)+1)
	args = append(args, boolToInt(consolidated))
	for _, id := range idList {
		args = append(args, id)
	}
	_, err := s.db.ExecContext(ctx, `UPDATE episodes SET consolidated = ? WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return domain.NewError(domain.KindStorage, "episodeStore.MarkConsolidated", err)
	}
	return nil
}

func (s *EpisodeStore) SetSupersededBy(ctx context.Context, id, supersededByID string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE episodes SET superseded_by = ? WHERE id = ?`, supersededByID, id)
	if err != nil {
		return domain.NewError(domain.KindStorage, "episodeStore.SetSupersededBy", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.NewError(domain.KindStorage, "episodeStore.SetSupersededBy", err)
	}
	if n == 0 {
		return domain.NewError(domain.KindNotFound, "episodeStore.SetSupersededBy", domain.ErrSupersedeNotFound)
	}
	return nil
}

func (s *EpisodeStore) Count(ctx context.Context) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM episodes`).Scan(&n); err != nil {
		return 0, domain.NewError(domain.KindStorage, "episodeStore.Count", err)
	}
	return n, nil
}

const episodeSelectColumns = `SELECT
	id, content, embedding, embedding_model, embedding_version, source, salience,
	tags, causal_trigger, causal_consequence, supersedes, superseded_by,
	consolidated, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *EpisodeStore) scanEpisode(r rowScanner) (*domain.Episode, error) {
	var e domain.Episode
	var source, tagsJSON, createdAt string
	var consolidated int
	var embeddingBytes []byte
	if err := r.Scan(
		&e.ID, &e.Content, &embeddingBytes, &e.EmbeddingModel, &e.EmbeddingVer, &source, &e.Salience,
		&tagsJSON, &e.CausalTrigger, &e.CausalConsequence, &e.Supersedes, &e.SupersededBy,
		&consolidated, &createdAt,
	); err != nil {
		return nil, err
	}
	e.Source = domain.Source(source)
	e.Consolidated = consolidated != 0
	if err := json.Unmarshal([]byte(tagsJSON), &e.Tags); err != nil {
		return nil, err
	}
	t, err := ids.ParseRFC3339(createdAt)
	if err != nil {
		return nil, err
	}
	e.CreatedAt = t
	if len(embeddingBytes) > 0 && s.codec != nil {
		vec, err := s.codec.BytesToVector(embeddingBytes)
		if err != nil {
			return nil, err
		}
		e.Embedding = vec
	}
	return &e, nil
}

func (s *EpisodeStore) scanEpisodes(rows *sql.Rows) ([]domain.Episode, error) {
	var out []domain.Episode
	for rows.Next() {
		e, err := s.scanEpisode(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
