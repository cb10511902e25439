// Package mnemex is an embedded cognitive memory engine: episodic capture,
// similarity-gated reinforcement and contradiction handling, consolidation
// into semantic/procedural memory, confidence-weighted recall, time decay,
// and reversible rollback, all backed by a single SQLite file (spec.md §1).
package mnemex

import (
	"context"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/embedding"
	"github.com/harshitk-cp/mnemex/internal/engine"
	"github.com/harshitk-cp/mnemex/internal/llm"
	"github.com/harshitk-cp/mnemex/internal/store"
)

// EventKind is one of the seven lifecycle events the façade emits
// (spec.md §6.2, typed per the §9 design note).
type EventKind string

const (
	EventEncode        EventKind = "encode"
	EventReinforcement EventKind = "reinforcement"
	EventContradiction EventKind = "contradiction"
	EventConsolidation EventKind = "consolidation"
	EventDecay         EventKind = "decay"
	EventRollback      EventKind = "rollback"
	EventError         EventKind = "error"
)

// Event is one entry on the façade's event stream. Payload carries
// whatever the emitting operation produced (an episode id, a
// ValidationResult, a ConsolidateResult, ...); callers type-assert it.
type Event struct {
	Kind    EventKind
	Payload any
}

// EmbeddingConfig configures the embedding collaborator (spec.md §6.5).
type EmbeddingConfig struct {
	Provider   string
	Dimensions int
	APIKey     string
	Model      string
}

// LLMConfig configures the optional LLM collaborator (spec.md §6.5).
type LLMConfig struct {
	Provider  string
	APIKey    string
	Model     string
	MaxTokens int
}

// Config is everything open() needs (spec.md §6.1/§6.5).
type Config struct {
	DataDir   string
	Agent     string
	Embedding EmbeddingConfig
	LLM       LLMConfig

	ConsolidationMinEpisodes int
	DecayDormantThreshold    float64
}

// Brain is the façade: the single entry point spec.md §6.1 describes as
// `open`/`encode`/`recall`/`consolidate`/`decay`/`rollback`/
// `resolve_truth`/`introspect`/`consolidation_history`/`close`.
type Brain struct {
	cfg    Config
	store  *store.Store
	logger *zap.Logger

	embedder domain.EmbeddingClient
	llmc     domain.LLMClient

	encoder      *engine.Encoder
	validator    *engine.Validator
	consolidator *engine.Consolidator
	recaller     *engine.Recall
	decayer      *engine.Decay
	rollbacker   *engine.Rollback
	causal       *engine.Causal
	truth        *engine.TruthResolver
	introspector *engine.Introspect

	events     chan Event
	validation chan error

	wg        sync.WaitGroup
	closeOnce sync.Once
}

// Open bootstraps the Store plus every engine component, wiring the
// embedding/LLM collaborators per Config (spec.md §6.1 `open`).
func Open(ctx context.Context, cfg Config, logger *zap.Logger) (*Brain, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	embedder, err := embedding.NewClient(cfg.Embedding.Provider, cfg.Embedding.APIKey, cfg.Embedding.Dimensions)
	if err != nil {
		return nil, domain.NewError(domain.KindAdapter, "mnemex.open", err)
	}

	var llmClient domain.LLMClient
	if cfg.LLM.Provider != "" {
		llmClient, err = llm.NewClient(cfg.LLM.Provider, cfg.LLM.APIKey)
		if err != nil {
			return nil, domain.NewError(domain.KindAdapter, "mnemex.open", err)
		}
	}

	dbPath := filepath.Join(cfg.DataDir, "mnemex.db")
	st, err := store.Open(ctx, dbPath, embedder.Dimensions(), embedding.Codec{}, logger)
	if err != nil {
		return nil, err
	}

	b := &Brain{
		cfg:      cfg,
		store:    st,
		logger:   logger.With(zap.String("agent", cfg.Agent)),
		embedder: embedder,
		llmc:     llmClient,

		encoder:      engine.NewEncoder(st, embedder, logger),
		validator:    engine.NewValidator(st, llmClient, logger),
		consolidator: engine.NewConsolidator(st, embedder, llmClient, logger),
		recaller:     engine.NewRecall(st, embedder, logger),
		decayer:      engine.NewDecay(st, logger),
		rollbacker:   engine.NewRollback(st, logger),
		causal:       engine.NewCausal(st, llmClient, logger),
		truth:        engine.NewTruthResolver(st, llmClient, logger),
		introspector: engine.NewIntrospect(st, logger),

		events:     make(chan Event, 64),
		validation: make(chan error, 64),
	}
	return b, nil
}

// Events returns the channel the façade publishes lifecycle events on.
// Callers that never drain it will simply stop receiving new events once
// the buffer (64) fills — emission never blocks the operation that
// triggered it.
func (b *Brain) Events() <-chan Event { return b.events }

// ValidationErrors returns the channel errors from the async post-encode
// validator surface on (spec.md §9: "never let a validator error fail an
// encode").
func (b *Brain) ValidationErrors() <-chan error { return b.validation }

func (b *Brain) emit(kind EventKind, payload any) {
	select {
	case b.events <- Event{Kind: kind, Payload: payload}:
	default:
	}
}

// Encode persists one episode and fires validation (reinforcement or
// contradiction detection) as a detached goroutine (spec.md §6.1/§5).
func (b *Brain) Encode(ctx context.Context, in engine.EncodeInput) (*domain.Episode, error) {
	ep, err := b.encoder.Encode(ctx, in)
	if err != nil {
		return nil, err
	}
	b.emit(EventEncode, ep.ID)
	b.fireValidation(ep)
	return ep, nil
}

// EncodeBatch persists every input in one transaction, preserving input
// order, then fires one detached validation per episode in that same
// order (spec.md §9 open question 2: this core chooses in-order
// validation rather than interleaved).
func (b *Brain) EncodeBatch(ctx context.Context, ins []engine.EncodeInput) ([]domain.Episode, error) {
	episodes, err := b.encoder.EncodeBatch(ctx, ins)
	if err != nil {
		return nil, err
	}
	for i := range episodes {
		b.emit(EventEncode, episodes[i].ID)
		b.fireValidation(&episodes[i])
	}
	return episodes, nil
}

// fireValidation runs the Validator in a detached goroutine. Failures are
// best-effort: they surface on the ValidationErrors channel and never
// propagate back to the Encode call that triggered them.
func (b *Brain) fireValidation(ep *domain.Episode) {
	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		result, err := b.validator.Validate(context.Background(), ep)
		if err != nil {
			b.emit(EventError, err)
			select {
			case b.validation <- err:
			default:
			}
			return
		}
		switch result.Outcome {
		case engine.OutcomeReinforced:
			b.emit(EventReinforcement, result)
		case engine.OutcomeContradiction:
			b.emit(EventContradiction, result)
		}
	}()
}

func (b *Brain) Recall(ctx context.Context, req engine.RecallRequest) ([]engine.RecallHit, error) {
	return b.recaller.Recall(ctx, req)
}

func (b *Brain) RecallStream(ctx context.Context, req engine.RecallRequest) (<-chan engine.RecallHit, <-chan error) {
	return b.recaller.RecallStream(ctx, req)
}

func (b *Brain) Consolidate(ctx context.Context, opts engine.ConsolidateOptions) (*engine.ConsolidateResult, error) {
	if opts.MinClusterSize == 0 && b.cfg.ConsolidationMinEpisodes > 0 {
		opts.MinClusterSize = b.cfg.ConsolidationMinEpisodes
	}
	result, err := b.consolidator.Consolidate(ctx, opts)
	if err != nil {
		b.emit(EventError, err)
		return nil, err
	}
	b.emit(EventConsolidation, result)
	return result, nil
}

func (b *Brain) Decay(ctx context.Context, dormantThreshold float64) (*engine.DecayResult, error) {
	if dormantThreshold <= 0 {
		dormantThreshold = b.cfg.DecayDormantThreshold
	}
	result, err := b.decayer.Run(ctx, dormantThreshold)
	if err != nil {
		b.emit(EventError, err)
		return nil, err
	}
	b.emit(EventDecay, result)
	return result, nil
}

func (b *Brain) Rollback(ctx context.Context, runID string) (*engine.RollbackResult, error) {
	result, err := b.rollbacker.Run(ctx, runID)
	if err != nil {
		b.emit(EventError, err)
		return nil, err
	}
	b.emit(EventRollback, result)
	return result, nil
}

func (b *Brain) ResolveTruth(ctx context.Context, contradictionID string) (*domain.Contradiction, error) {
	return b.truth.Resolve(ctx, contradictionID)
}

func (b *Brain) Link(ctx context.Context, in engine.LinkInput) (*domain.CausalLink, error) {
	return b.causal.Link(ctx, in)
}

func (b *Brain) Traverse(ctx context.Context, id string, opts domain.TraversalOptions) ([]domain.TraversedEdge, error) {
	return b.causal.Traverse(ctx, id, opts)
}

func (b *Brain) Introspect(ctx context.Context) (*domain.IntrospectionCounters, error) {
	return b.introspector.Run(ctx)
}

func (b *Brain) ConsolidationHistory(ctx context.Context, limit int) ([]domain.ConsolidationRun, error) {
	return b.store.Runs.ListNewestFirst(ctx, limit)
}

// Close waits for every in-flight async validation to finish, then closes
// the underlying Store and the event channels. Safe to call once.
func (b *Brain) Close() error {
	var err error
	b.closeOnce.Do(func() {
		b.wg.Wait()
		err = b.store.Close()
		close(b.events)
		close(b.validation)
	})
	return err
}
