package models

import "time"

// ExportPhase identifies what the export session is currently doing
type ExportPhase string

const (
	PhaseStarting  ExportPhase = "starting"
	PhaseSettling  ExportPhase = "settling"
	PhaseParsing   ExportPhase = "parsing"
	PhaseDetails   ExportPhase = "details"
	PhasePaused    ExportPhase = "batch_pause"
	PhaseAdvancing ExportPhase = "advancing"
	PhaseWriting   ExportPhase = "writing"
	PhaseStopping  ExportPhase = "stopping"
	PhaseFinished  ExportPhase = "finished"
)

// Progress is a one-way notification about a running export
type Progress struct {
	RunID     string      `json:"run_id"`
	Phase     ExportPhase `json:"phase"`
	Page      int         `json:"page"`
	Records   int         `json:"records"`
	Message   string      `json:"message"`
	Percent   *int        `json:"percent,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// WithPercent returns a copy of the progress carrying a completion percentage
func (p Progress) WithPercent(percent int) Progress {
	p.Percent = &percent
	return p
}
