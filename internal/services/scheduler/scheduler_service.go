package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/services/export"
)

// ExportStarter starts an export session; *export.Session satisfies it
type ExportStarter interface {
	Start(ctx context.Context) error
}

// Service implements SchedulerService by starting an export on each cron tick.
// A tick that finds a session already running is skipped.
type Service struct {
	ctx     context.Context
	starter ExportStarter
	cron    *cron.Cron
	logger  arbor.ILogger

	mu        sync.Mutex
	running   bool
	schedule  string
	entryID   cron.EntryID
	lastRun   *time.Time
	lastError string
}

// NewService creates a scheduler. ctx bounds every export the scheduler starts.
func NewService(ctx context.Context, starter ExportStarter, logger arbor.ILogger) interfaces.SchedulerService {
	return &Service{
		ctx:     ctx,
		starter: starter,
		cron:    cron.New(),
		logger:  logger,
	}
}

// Start begins the scheduler with the given cron expression
func (s *Service) Start(cronExpr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return fmt.Errorf("scheduler already running")
	}
	if cronExpr == "" {
		return fmt.Errorf("cron expression is required")
	}

	entryID, err := s.cron.AddFunc(cronExpr, s.runScheduledExport)
	if err != nil {
		return fmt.Errorf("failed to add cron job: %w", err)
	}

	s.entryID = entryID
	s.schedule = cronExpr
	s.cron.Start()
	s.running = true

	s.logger.Info().
		Str("cron_expr", cronExpr).
		Msg("Scheduler started")

	return nil
}

// Stop halts the scheduler; an export already running is left to finish
func (s *Service) Stop() error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.cron.Remove(s.entryID)
	s.mu.Unlock()

	ctx := s.cron.Stop()
	select {
	case <-ctx.Done():
	case <-time.After(5 * time.Second):
		s.logger.Warn().Msg("Timed out waiting for scheduled trigger to return")
	}

	s.logger.Info().Msg("Scheduler stopped")
	return nil
}

// IsRunning returns true if the scheduler is active
func (s *Service) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Status returns the trigger's schedule and last/next run times
func (s *Service) Status() interfaces.ScheduleStatus {
	s.mu.Lock()
	defer s.mu.Unlock()

	status := interfaces.ScheduleStatus{
		Schedule:  s.schedule,
		Enabled:   s.running,
		LastRun:   s.lastRun,
		LastError: s.lastError,
	}
	if s.running {
		if next := s.cron.Entry(s.entryID).Next; !next.IsZero() {
			status.NextRun = &next
		}
	}
	return status
}

func (s *Service) runScheduledExport() {
	now := time.Now()
	err := s.starter.Start(s.ctx)

	s.mu.Lock()
	s.lastRun = &now
	s.lastError = ""
	if err != nil && !errors.Is(err, export.ErrAlreadyRunning) {
		s.lastError = err.Error()
	}
	s.mu.Unlock()

	switch {
	case errors.Is(err, export.ErrAlreadyRunning):
		s.logger.Info().Msg("Scheduled export skipped: export already running")
	case err != nil:
		s.logger.Error().Err(err).Msg("Scheduled export failed to start")
	default:
		s.logger.Info().Msg("Scheduled export started")
	}
}
