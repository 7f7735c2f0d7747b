package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/models"
	"github.com/timshannon/badgerhold/v4"
)

// RunStorage implements the RunStorage interface for Badger
type RunStorage struct {
	db     *BadgerDB
	logger arbor.ILogger
}

// NewRunStorage creates a new RunStorage instance
func NewRunStorage(db *BadgerDB, logger arbor.ILogger) interfaces.RunStorage {
	return &RunStorage{
		db:     db,
		logger: logger,
	}
}

// SaveRun inserts or replaces a run summary
func (s *RunStorage) SaveRun(ctx context.Context, run *models.ExportRun) error {
	if run.ID == "" {
		return fmt.Errorf("run ID is required")
	}
	if err := s.db.Store().Upsert(run.ID, run); err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	return nil
}

// GetRun returns a run summary by ID
func (s *RunStorage) GetRun(ctx context.Context, id string) (*models.ExportRun, error) {
	var run models.ExportRun
	if err := s.db.Store().Get(id, &run); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// ListRuns returns the most recent runs first; limit <= 0 returns all
func (s *RunStorage) ListRuns(ctx context.Context, limit int) ([]*models.ExportRun, error) {
	var runs []models.ExportRun
	query := badgerhold.Where("ID").Ne("").SortBy("StartedAt").Reverse()
	if limit > 0 {
		query = query.Limit(limit)
	}
	if err := s.db.Store().Find(&runs, query); err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}

	result := make([]*models.ExportRun, len(runs))
	for i := range runs {
		result[i] = &runs[i]
	}
	return result, nil
}

// SaveCheckpoint replaces the run's checkpoint
func (s *RunStorage) SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error {
	if checkpoint.RunID == "" {
		return fmt.Errorf("checkpoint run ID is required")
	}
	if checkpoint.UpdatedAt.IsZero() {
		checkpoint.UpdatedAt = time.Now()
	}
	if err := s.db.Store().Upsert(checkpoint.RunID, checkpoint); err != nil {
		return fmt.Errorf("failed to save checkpoint: %w", err)
	}
	return nil
}

// LoadCheckpoint returns the run's last checkpoint
func (s *RunStorage) LoadCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error) {
	var checkpoint models.Checkpoint
	if err := s.db.Store().Get(runID, &checkpoint); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return nil, interfaces.ErrRunNotFound
		}
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	return &checkpoint, nil
}

// DeleteCheckpoint removes the run's checkpoint
func (s *RunStorage) DeleteCheckpoint(ctx context.Context, runID string) error {
	if err := s.db.Store().Delete(runID, &models.Checkpoint{}); err != nil {
		if errors.Is(err, badgerhold.ErrNotFound) {
			return interfaces.ErrRunNotFound
		}
		return fmt.Errorf("failed to delete checkpoint: %w", err)
	}
	return nil
}
