package engine

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/harshitk-cp/mnemex/internal/domain"
	"github.com/harshitk-cp/mnemex/internal/ids"
	"github.com/harshitk-cp/mnemex/internal/store"
)

const (
	DefaultMinClusterSize      = 3
	DefaultSimilarityThreshold = 0.80
)

// Principle is the {content, type, conditions} triple extracted from a
// cluster of episodes (spec.md §4.4 step 3).
type Principle struct {
	Content    string
	Type       domain.MemoryKind
	Conditions map[string]any
}

// ExtractPrincipleFunc lets a caller supply cluster -> principle mapping
// directly, bypassing the LLM (spec.md §4.4: "If an extract_principle
// callback is supplied, it wins").
type ExtractPrincipleFunc func(cluster []domain.Episode) (Principle, error)

// ConsolidateOptions configures one Consolidate call.
type ConsolidateOptions struct {
	MinClusterSize      int
	SimilarityThreshold float64
	ExtractPrinciple    ExtractPrincipleFunc
}

func (o ConsolidateOptions) withDefaults() ConsolidateOptions {
	if o.MinClusterSize <= 0 {
		o.MinClusterSize = DefaultMinClusterSize
	}
	if o.SimilarityThreshold <= 0 {
		o.SimilarityThreshold = DefaultSimilarityThreshold
	}
	return o
}

// ConsolidateResult is the shape spec.md §6.1 requires of `consolidate`.
type ConsolidateResult struct {
	RunID               string
	EpisodesEvaluated   int
	ClustersFound       int
	PrinciplesExtracted int
	Status              domain.RunStatus
}

// Consolidator clusters unconsolidated episodes, extracts a principle per
// cluster, and atomically promotes each cluster to a Semantic or Procedure
// (spec.md §4.4).
type Consolidator struct {
	store    *store.Store
	embedder domain.EmbeddingClient
	llm      domain.LLMClient
	logger   *zap.Logger
}

func NewConsolidator(st *store.Store, embedder domain.EmbeddingClient, llm domain.LLMClient, logger *zap.Logger) *Consolidator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Consolidator{store: st, embedder: embedder, llm: llm, logger: logger}
}

func (c *Consolidator) Consolidate(ctx context.Context, opts ConsolidateOptions) (*ConsolidateResult, error) {
	opts = opts.withDefaults()

	run := &domain.ConsolidationRun{
		ID:        ids.New(),
		StartedAt: ids.Now(),
		Status:    domain.RunRunning,
	}
	if err := c.store.Runs.Create(ctx, run); err != nil {
		return nil, err
	}

	result, err := c.runPipeline(ctx, run, opts)
	if err != nil {
		c.failRun(ctx, run)
		return nil, err
	}
	return result, nil
}

func (c *Consolidator) failRun(ctx context.Context, run *domain.ConsolidationRun) {
	now := ids.Now()
	run.Status = domain.RunFailed
	run.CompletedAt = &now
	if uerr := c.store.Runs.Update(ctx, run); uerr != nil {
		c.logger.Warn("failed to persist failed consolidation run",
			zap.String("run_id", run.ID), zap.Error(uerr))
	}
}

func (c *Consolidator) runPipeline(ctx context.Context, run *domain.ConsolidationRun, opts ConsolidateOptions) (*ConsolidateResult, error) {
	episodes, err := c.snapshot(ctx)
	if err != nil {
		return nil, err
	}

	clusters := cluster(episodes, opts.SimilarityThreshold, opts.MinClusterSize)

	// inputIDs/outputIDs accumulate locally so a mid-loop failure never
	// leaves phantom ids on run: WithTx rolls back every row it touched,
	// but a *Go* slice append is not part of that rollback, so run itself
	// must only absorb them once every cluster in this pass has committed.
	var inputIDs, outputIDs []string
	principlesExtracted := 0
	if err := c.store.WithTx(ctx, func(tx *sql.Tx) error {
		txStores := c.store.Tx(tx)
		for _, members := range clusters {
			episodeIDs, memoryID, err := c.promoteCluster(ctx, txStores, run, members, opts)
			if err != nil {
				return err
			}
			inputIDs = append(inputIDs, episodeIDs...)
			outputIDs = append(outputIDs, memoryID)
			principlesExtracted++
		}
		return nil
	}); err != nil {
		return nil, err
	}

	run.InputEpisodeIDs = append(run.InputEpisodeIDs, inputIDs...)
	run.OutputMemoryIDs = append(run.OutputMemoryIDs, outputIDs...)

	now := ids.Now()
	run.Status = domain.RunCompleted
	run.CompletedAt = &now
	if err := c.store.Runs.Update(ctx, run); err != nil {
		return nil, err
	}

	c.logger.Debug("consolidation run completed",
		zap.String("run_id", run.ID),
		zap.Int("episodes_evaluated", len(episodes)),
		zap.Int("clusters_found", len(clusters)),
		zap.Int("principles_extracted", principlesExtracted))

	return &ConsolidateResult{
		RunID:               run.ID,
		EpisodesEvaluated:   len(episodes),
		ClustersFound:       len(clusters),
		PrinciplesExtracted: principlesExtracted,
		Status:              run.Status,
	}, nil
}

// snapshot returns every unconsolidated, non-superseded episode that
// carries an embedding (spec.md §4.4 step 1).
func (c *Consolidator) snapshot(ctx context.Context) ([]domain.Episode, error) {
	all, err := c.store.Episodes.ListUnconsolidated(ctx)
	if err != nil {
		return nil, err
	}
	out := all[:0]
	for _, e := range all {
		if e.SupersededBy == "" && len(e.Embedding) > 0 {
			out = append(out, e)
		}
	}
	return out, nil
}

// unionFind is a minimal disjoint-set structure indexed by episode slice
// position.
type unionFind struct{ parent []int }

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (u *unionFind) find(x int) int {
	for u.parent[x] != x {
		u.parent[x] = u.parent[u.parent[x]]
		x = u.parent[x]
	}
	return x
}

func (u *unionFind) union(a, b int) {
	ra, rb := u.find(a), u.find(b)
	if ra != rb {
		u.parent[ra] = rb
	}
}

// cluster runs single-linkage union-find over pairwise cosine similarity:
// any pair at or above threshold unions their components (spec.md §4.4
// step 2). O(N²), documented and bounded by minSize as the spec requires.
func cluster(episodes []domain.Episode, threshold float64, minSize int) [][]domain.Episode {
	n := len(episodes)
	if n == 0 {
		return nil
	}
	uf := newUnionFind(n)
	for i := 0; i < n; i++ {
		for j := i + 1; j < n; j++ {
			if cosineSimilarity(episodes[i].Embedding, episodes[j].Embedding) >= threshold {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]domain.Episode)
	for i, e := range episodes {
		root := uf.find(i)
		groups[root] = append(groups[root], e)
	}

	var clusters [][]domain.Episode
	for _, members := range groups {
		if len(members) >= minSize {
			clusters = append(clusters, members)
		}
	}
	// Deterministic ordering: oldest cluster (by first member's CreatedAt) first.
	sort.Slice(clusters, func(i, j int) bool {
		return clusters[i][0].CreatedAt.Before(clusters[j][0].CreatedAt)
	})
	return clusters
}

func cosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}

// promoteCluster promotes one cluster within the caller's transaction and
// returns the episode ids it consumed and the memory id it produced. The
// caller (runPipeline) only folds these onto run once the whole pass
// commits, so a failure partway through never leaves run carrying ids for
// rows the transaction rolled back.
func (c *Consolidator) promoteCluster(ctx context.Context, tx *store.TxStores, run *domain.ConsolidationRun, members []domain.Episode, opts ConsolidateOptions) ([]string, string, error) {
	principle, promptHash, err := c.extractPrinciple(ctx, members, opts)
	if err != nil {
		return nil, "", err
	}

	vec, err := c.embedder.Embed(ctx, principle.Content)
	if err != nil {
		return nil, "", domain.NewError(domain.KindAdapter, "consolidator.promoteCluster", err)
	}

	episodeIDs := make([]string, len(members))
	sources := map[domain.Source]struct{}{}
	for i, e := range members {
		episodeIDs[i] = e.ID
		sources[e.Source] = struct{}{}
	}

	now := ids.Now()
	var memoryID string

	switch principle.Type {
	case domain.MemoryKindProcedural:
		p := &domain.Procedure{
			ID:                      ids.New(),
			Content:                 principle.Content,
			Embedding:               vec,
			EmbeddingModel:          c.embedder.ModelName(),
			EmbeddingVer:            c.embedder.ModelVersion(),
			State:                   domain.StateActive,
			TriggerConditions:       principle.Conditions,
			EvidenceEpisodeIDs:      episodeIDs,
			EvidenceCount:           len(members),
			SuccessCount:            len(members),
			SourceTypeDiversity:     len(sources),
			ConsolidationCheckpoint: run.ID,
			ConsolidationModel:      c.modelName(),
			ConsolidationPromptHash: promptHash,
			CreatedAt:               now,
		}
		if err := p.Validate(); err != nil {
			return nil, "", err
		}
		if err := tx.Procedures.Create(ctx, p); err != nil {
			return nil, "", err
		}
		if err := tx.ProcedureVectors.Upsert(ctx, p.ID, vec, domain.KNNFilter{"state": string(domain.StateActive)}); err != nil {
			return nil, "", err
		}
		memoryID = p.ID

	default:
		s := &domain.Semantic{
			ID:                      ids.New(),
			Content:                 principle.Content,
			Embedding:               vec,
			EmbeddingModel:          c.embedder.ModelName(),
			EmbeddingVer:            c.embedder.ModelVersion(),
			State:                   domain.StateActive,
			Conditions:              principle.Conditions,
			EvidenceEpisodeIDs:      episodeIDs,
			EvidenceCount:           len(members),
			SupportingCount:         len(members),
			SourceTypeDiversity:     len(sources),
			ConsolidationCheckpoint: run.ID,
			ConsolidationModel:      c.modelName(),
			ConsolidationPromptHash: promptHash,
			CreatedAt:               now,
		}
		if err := s.Validate(); err != nil {
			return nil, "", err
		}
		if err := tx.Semantics.Create(ctx, s); err != nil {
			return nil, "", err
		}
		if err := tx.SemanticVectors.Upsert(ctx, s.ID, vec, domain.KNNFilter{"state": string(domain.StateActive)}); err != nil {
			return nil, "", err
		}
		memoryID = s.ID
	}

	if err := tx.Episodes.MarkConsolidated(ctx, episodeIDs, true); err != nil {
		return nil, "", err
	}

	return episodeIDs, memoryID, nil
}

func (c *Consolidator) modelName() string {
	if c.llm != nil {
		return c.llm.ModelName()
	}
	return ""
}

// extractPrinciple resolves a principle for one cluster: the caller's
// callback wins, then the LLM, then a deterministic fallback (spec.md §4.4
// step 3).
func (c *Consolidator) extractPrinciple(ctx context.Context, members []domain.Episode, opts ConsolidateOptions) (Principle, string, error) {
	if opts.ExtractPrinciple != nil {
		p, err := opts.ExtractPrinciple(members)
		return p, "", err
	}

	if c.llm != nil {
		prompt := principlePrompt(members)
		var extracted struct {
			Content    string         `json:"content"`
			Type       string         `json:"type"`
			Conditions map[string]any `json:"conditions,omitempty"`
		}
		if err := c.llm.JSON(ctx, prompt, &extracted); err != nil {
			return Principle{}, "", domain.NewError(domain.KindAdapter, "consolidator.extractPrinciple", err)
		}
		kind := domain.MemoryKindSemantic
		if extracted.Type == string(domain.MemoryKindProcedural) {
			kind = domain.MemoryKindProcedural
		}
		return Principle{Content: extracted.Content, Type: kind, Conditions: extracted.Conditions}, promptHash(prompt), nil
	}

	return Principle{Content: fallbackPrinciple(members), Type: domain.MemoryKindSemantic}, "", nil
}

// fallbackPrinciple deterministically concatenates the distinct contents
// of the cluster, prefixed "Recurring pattern:" (spec.md §4.4 step 3).
func fallbackPrinciple(members []domain.Episode) string {
	seen := map[string]struct{}{}
	var distinct []string
	for _, e := range members {
		if _, ok := seen[e.Content]; ok {
			continue
		}
		seen[e.Content] = struct{}{}
		distinct = append(distinct, e.Content)
	}
	return "Recurring pattern: " + strings.Join(distinct, "; ")
}

func principlePrompt(members []domain.Episode) []domain.Message {
	var sb strings.Builder
	for _, e := range members {
		fmt.Fprintf(&sb, "- (%s) %s\n", e.Source, e.Content)
	}
	return []domain.Message{
		{Role: domain.RoleSystem, Content: "Extract a generalized principle from a cluster of observations. Respond with JSON {content, type: semantic|procedural, conditions?}."},
		{Role: domain.RoleUser, Content: sb.String()},
	}
}

func promptHash(messages []domain.Message) string {
	raw, err := json.Marshal(messages)
	if err != nil {
		return ""
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}
