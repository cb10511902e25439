package domain

import "time"

// RunStatus is the lifecycle of a ConsolidationRun audit row.
type RunStatus string

const (
	RunRunning    RunStatus = "running"
	RunCompleted  RunStatus = "completed"
	RunFailed     RunStatus = "failed"
	RunRolledBack RunStatus = "rolled_back"
)

// ConsolidationRun is the audit record for one call to Consolidate.
// Invariant: once Status leaves "running", StartedAt <= CompletedAt; once
// rolled_back, every id in OutputMemoryIDs is in state rolled_back and
// every id in InputEpisodeIDs has Consolidated = false.
type ConsolidationRun struct {
	ID               string `json:"id"`
	CheckpointCursor string `json:"checkpoint_cursor,omitempty"`

	InputEpisodeIDs []string `json:"input_episode_ids"`
	OutputMemoryIDs []string `json:"output_memory_ids"`

	ConfidenceDeltas map[string]float64 `json:"confidence_deltas,omitempty"`

	ConsolidationModel      string `json:"consolidation_model,omitempty"`
	ConsolidationPromptHash string `json:"consolidation_prompt_hash,omitempty"`

	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Status      RunStatus  `json:"status"`
}
