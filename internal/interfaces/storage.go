package interfaces

import (
	"context"
	"errors"

	"github.com/ternarybob/orderflow/internal/models"
)

// ErrRunNotFound is returned when an export run or checkpoint does not exist
var ErrRunNotFound = errors.New("export run not found")

// RunStorage persists export run summaries and partial aggregates
type RunStorage interface {
	SaveRun(ctx context.Context, run *models.ExportRun) error
	GetRun(ctx context.Context, id string) (*models.ExportRun, error)
	ListRuns(ctx context.Context, limit int) ([]*models.ExportRun, error)

	SaveCheckpoint(ctx context.Context, checkpoint *models.Checkpoint) error
	LoadCheckpoint(ctx context.Context, runID string) (*models.Checkpoint, error)
	DeleteCheckpoint(ctx context.Context, runID string) error
}

// StorageManager owns the database and the storages built on it
type StorageManager interface {
	RunStorage() RunStorage
	Close() error
}
