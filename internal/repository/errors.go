// Package repository provides the Durable Record Store access layer.
package repository

import (
	"errors"

	"momentum/internal/database"
	"momentum/internal/models"

	"gorm.io/gorm"
)

// dbError converts a driver error into the application taxonomy. Transient
// failures keep their cause so workers can decide to retry.
func dbError(err error, resource string, id interface{}) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		return models.NewNotFoundError(resource, id)
	case database.IsTransient(err):
		return models.NewTransientStoreError("database", err)
	default:
		return models.NewInternalError(err)
	}
}

// defaultBatchSize bounds the rows loaded per step when walking a table.
const defaultBatchSize = 500

func batchSize(n int) int {
	if n <= 0 || n > 5000 {
		return defaultBatchSize
	}
	return n
}
