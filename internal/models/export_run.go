package models

import "time"

// ExportOutcome describes how an export run ended
type ExportOutcome string

const (
	OutcomeRunning   ExportOutcome = "running"
	OutcomeCompleted ExportOutcome = "completed"
	OutcomeCancelled ExportOutcome = "cancelled"
	OutcomeDegraded  ExportOutcome = "degraded"
	OutcomeEmpty     ExportOutcome = "empty"
)

// ExportRun is the persisted summary of one export session
type ExportRun struct {
	ID         string        `json:"id" badgerhold:"key"`
	StartedAt  time.Time     `json:"started_at" badgerhold:"index"`
	FinishedAt *time.Time    `json:"finished_at,omitempty"`
	Outcome    ExportOutcome `json:"outcome"`
	Pages      int           `json:"pages"`
	Records    int           `json:"records"`
	OutputPath string        `json:"output_path,omitempty"`
	Error      string        `json:"error,omitempty"`
}

// Checkpoint holds the partial aggregate of a run as of its last completed page
type Checkpoint struct {
	RunID     string    `json:"run_id" badgerhold:"key"`
	Page      int       `json:"page"`
	Records   []Record  `json:"records"`
	UpdatedAt time.Time `json:"updated_at"`
}
