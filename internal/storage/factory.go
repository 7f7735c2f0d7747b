package storage

import (
	"fmt"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/orderflow/internal/common"
	"github.com/ternarybob/orderflow/internal/interfaces"
	"github.com/ternarybob/orderflow/internal/storage/badger"
)

// NewStorageManager creates the storage manager, or returns nil when run history is disabled
func NewStorageManager(logger arbor.ILogger, config *common.Config) (interfaces.StorageManager, error) {
	if !config.Storage.Badger.Enabled {
		logger.Debug().Msg("Run history storage disabled")
		return nil, nil
	}

	manager, err := badger.NewManager(logger, &config.Storage.Badger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	return manager, nil
}
