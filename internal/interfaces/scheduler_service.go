package interfaces

import "time"

// ScheduleStatus describes the scheduled export trigger
type ScheduleStatus struct {
	Schedule  string     `json:"schedule"`
	Enabled   bool       `json:"enabled"`
	LastRun   *time.Time `json:"last_run,omitempty"`
	NextRun   *time.Time `json:"next_run,omitempty"`
	LastError string     `json:"last_error,omitempty"`
}

// SchedulerService starts export sessions on a cron schedule
type SchedulerService interface {
	// Start registers the cron expression and begins scheduling
	Start(cronExpr string) error

	// Stop halts scheduling; a running export is left to finish
	Stop() error

	// IsRunning returns true if the scheduler is active
	IsRunning() bool

	// Status returns the trigger's last/next run times
	Status() ScheduleStatus
}
