// Command mnemex is a demo driver over the embedded memory engine: it
// encodes a few episodes, recalls against them, and prints the resulting
// introspection snapshot. There is no network server (spec.md Non-goals
// exclude network-exposed operation); this binary exists to exercise the
// library the way a host application would.
package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex"
	"github.com/harshitk-cp/mnemex/internal/config"
	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/engine"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run() error {
	if err := config.Load(); err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logLevel := zap.InfoLevel
	if config.LogLevel() == "debug" {
		logLevel = zap.DebugLevel
	}
	zapCfg := zap.NewProductionConfig()
	zapCfg.Level = zap.NewAtomicLevelAt(logLevel)
	logger, err := zapCfg.Build()
	if err != nil {
		return fmt.Errorf("build logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx := context.Background()

	brain, err := mnemex.Open(ctx, mnemex.Config{
		DataDir: config.DataDir(),
		Agent:   config.Agent(),
		Embedding: mnemex.EmbeddingConfig{
			Provider:   config.EmbeddingProvider(),
			Dimensions: config.EmbeddingDimensions(),
			APIKey:     config.OpenAIAPIKey(),
		},
		LLM: mnemex.LLMConfig{
			Provider: config.LLMProvider(),
			APIKey:   config.LLMAPIKey(),
		},
		ConsolidationMinEpisodes: config.ConsolidationMinEpisodes(),
		DecayDormantThreshold:    config.DecayDormantThreshold(),
	}, logger)
	if err != nil {
		return fmt.Errorf("open brain: %w", err)
	}
	defer func() {
		if err := brain.Close(); err != nil {
			logger.Warn("close failed", zap.Error(err))
		}
	}()

	seed := []engine.EncodeInput{
		{Content: "The deploy pipeline retries failed jobs three times before paging.", Source: domain.SourceDirectObservation, Salience: 0.7},
		{Content: "User said the retry budget should be five, not three.", Source: domain.SourceToldByUser, Salience: 0.6},
		{Content: "Deploy pipeline retried a failed job three times before paging oncall.", Source: domain.SourceToolResult, Salience: 0.5},
	}
	episodes, err := brain.EncodeBatch(ctx, seed)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	logger.Info("seeded episodes", zap.Int("count", len(episodes)))

	hits, err := brain.Recall(ctx, engine.RecallRequest{Query: "how many times does deploy retry before paging?", Limit: 5})
	if err != nil {
		return fmt.Errorf("recall: %w", err)
	}
	for _, h := range hits {
		logger.Info("recall hit",
			zap.String("id", h.ID),
			zap.String("type", string(h.Type)),
			zap.Float64("score", h.Score),
			zap.Float64("confidence", h.Confidence))
	}

	counters, err := brain.Introspect(ctx)
	if err != nil {
		return fmt.Errorf("introspect: %w", err)
	}
	logger.Info("introspection snapshot",
		zap.Int("total_episodes", counters.TotalEpisodes),
		zap.Int("unconsolidated_episodes", counters.UnconsolidatedEpisodes),
		zap.Int("total_semantics", counters.TotalSemantics),
		zap.Int("total_procedures", counters.TotalProcedures),
		zap.Int("open_contradictions", counters.OpenContradictions))

	return nil
}
