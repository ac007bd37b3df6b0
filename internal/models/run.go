package models

import (
	"time"
)

// RunStage is the current phase of a pipeline run.
type RunStage string

const (
	StageIdle       RunStage = "idle"
	StageCollecting RunStage = "collecting"
	StageCrawling   RunStage = "crawling"
	StageEnriching  RunStage = "enriching"
	StagePersisting RunStage = "persisting"
	StageCompleted  RunStage = "completed"
	StageFailed     RunStage = "failed"
)

// RunStatus is the terminal outcome of a run.
type RunStatus string

const (
	RunStatusSuccess RunStatus = "success"
	RunStatusPartial RunStatus = "partial"
	RunStatusFailed  RunStatus = "failed"
)

// RunKind distinguishes the independent pipelines.
type RunKind string

const (
	RunKindNews       RunKind = "news"
	RunKindIndicators RunKind = "indicators"
)

// RunState is a point-in-time snapshot of one orchestrator invocation.
// Snapshots are append-only: every stage transition records a new row so a
// crashed run can be diagnosed from its last persisted state.
type RunState struct {
	RunID          string     `json:"run_id"`
	Kind           RunKind    `json:"kind"`
	Stage          RunStage   `json:"stage"`
	StartedAt      time.Time  `json:"started_at"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	ItemsSucceeded int        `json:"items_succeeded"`
	ItemsFailed    int        `json:"items_failed"`
	LastError      string     `json:"last_error,omitempty"`
}
