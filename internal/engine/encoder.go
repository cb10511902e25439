// Package engine implements the component pipeline that sits between the
// Store and the public façade: encoding, validation, consolidation, recall,
// decay, rollback, causal-link traversal and truth resolution (spec.md §4).
package engine

import (
	"context"
	"database/sql"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// Encoder performs episodic insertion plus vector-index linkage atomically
// (spec.md §4.1/§5: "the vector index and the row table are updated in the
// same transaction").
type Encoder struct {
	store    *store.Store
	embedder domain.EmbeddingClient
	logger   *zap.Logger
}

func NewEncoder(st *store.Store, embedder domain.EmbeddingClient, logger *zap.Logger) *Encoder {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Encoder{store: st, embedder: embedder, logger: logger}
}

// EncodeInput is the validated request shape of spec.md §6.1's `encode`.
type EncodeInput struct {
	Content           string
	Source            domain.Source
	Salience          float32
	Tags              []string
	CausalTrigger     string
	CausalConsequence string
	Supersedes        string
}

// toEpisode builds the Episode row this input describes, without an id,
// embedding, or timestamp — those are filled in by Encode/EncodeBatch.
func (in EncodeInput) toEpisode() domain.Episode {
	return domain.Episode{
		Content:           in.Content,
		Source:            in.Source,
		Salience:          in.Salience,
		Tags:              in.Tags,
		CausalTrigger:     in.CausalTrigger,
		CausalConsequence: in.CausalConsequence,
		Supersedes:        in.Supersedes,
	}
}

// Encode embeds and atomically persists one episode, returning the stored
// episode (its ID field holds the new id).
// Validation of the rest of the pipeline (reinforcement/contradiction) is
// the caller's responsibility to fire asynchronously — the Encoder itself
// only owns the write.
func (e *Encoder) Encode(ctx context.Context, in EncodeInput) (*domain.Episode, error) {
	ep := in.toEpisode()
	if err := ep.Validate(); err != nil {
		return nil, err
	}

	vec, err := e.embedder.Embed(ctx, ep.Content)
	if err != nil {
		return nil, domain.NewError(domain.KindAdapter, "encoder.encode", err)
	}

	ep.ID = ids.New()
	ep.Embedding = vec
	ep.EmbeddingModel = e.embedder.ModelName()
	ep.EmbeddingVer = e.embedder.ModelVersion()
	ep.CreatedAt = ids.Now()

	if err := e.persist(ctx, &ep); err != nil {
		return nil, err
	}

	e.logger.Debug("episode encoded",
		zap.String("episode_id", ep.ID),
		zap.String("source", string(ep.Source)),
		zap.Float32("salience", ep.Salience))
	return &ep, nil
}

// EncodeBatch embeds and persists every input, preserving input order in
// the returned slice (spec.md §6.1: "same ordering as input"). It embeds
// every input with a single EmbedBatch call (SPEC_FULL.md §C); there is no
// per-episode Embed fallback, since EmbedBatch is part of the
// EmbeddingClient interface every adapter implements.
func (e *Encoder) EncodeBatch(ctx context.Context, ins []EncodeInput) ([]domain.Episode, error) {
	if len(ins) == 0 {
		return nil, nil
	}

	episodes := make([]domain.Episode, len(ins))
	for i, in := range ins {
		ep := in.toEpisode()
		if err := ep.Validate(); err != nil {
			return nil, err
		}
		episodes[i] = ep
	}

	texts := make([]string, len(episodes))
	for i, ep := range episodes {
		texts[i] = ep.Content
	}
	vecs, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, domain.NewError(domain.KindAdapter, "encoder.encodeBatch", err)
	}

	now := ids.Now()
	for i := range episodes {
		episodes[i].ID = ids.New()
		episodes[i].Embedding = vecs[i]
		episodes[i].EmbeddingModel = e.embedder.ModelName()
		episodes[i].EmbeddingVer = e.embedder.ModelVersion()
		episodes[i].CreatedAt = now
	}

	if err := e.store.WithTx(ctx, func(tx *sql.Tx) error {
		txStores := e.store.Tx(tx)
		for i := range episodes {
			if err := e.writeEpisode(ctx, txStores, &episodes[i]); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return nil, err
	}

	e.logger.Debug("episode batch encoded", zap.Int("count", len(episodes)))
	return episodes, nil
}

func (e *Encoder) persist(ctx context.Context, ep *domain.Episode) error {
	return e.store.WithTx(ctx, func(tx *sql.Tx) error {
		return e.writeEpisode(ctx, e.store.Tx(tx), ep)
	})
}

// writeEpisode inserts the episode row, the matching vector-index row, and
// (if Supersedes is set) flips the mirror superseded_by pointer on the
// superseded episode, all within the caller's transaction.
func (e *Encoder) writeEpisode(ctx context.Context, tx *store.TxStores, ep *domain.Episode) error {
	if err := tx.Episodes.Create(ctx, ep); err != nil {
		return err
	}

	filters := domain.KNNFilter{
		"source":        string(ep.Source),
		"consolidated":  boolFilterValue(ep.Consolidated),
		"superseded_by": ep.SupersededBy,
	}
	if err := tx.EpisodeVectors.Upsert(ctx, ep.ID, ep.Embedding, filters); err != nil {
		return err
	}

	if ep.Supersedes != "" {
		old, err := tx.Episodes.GetByID(ctx, ep.Supersedes)
		if err != nil {
			if domain.ErrorKind(err) == domain.KindNotFound {
				return domain.NewError(domain.KindStateViolation, "encoder.writeEpisode", domain.ErrSupersedeNotFound)
			}
			return err
		}
		if err := tx.Episodes.SetSupersededBy(ctx, ep.Supersedes, ep.ID); err != nil {
			return err
		}
		oldFilters := domain.KNNFilter{
			"source":        string(old.Source),
			"consolidated":  boolFilterValue(old.Consolidated),
			"superseded_by": ep.ID,
		}
		if err := tx.EpisodeVectors.UpdateFilters(ctx, old.ID, oldFilters); err != nil {
			return err
		}
	}
	return nil
}

func boolFilterValue(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
