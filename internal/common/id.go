package common

import (
	"github.com/google/uuid"
)

// NewRunID generates a unique export run ID with the "run_" prefix
func NewRunID() string {
	return "run_" + uuid.New().String()
}
