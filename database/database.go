// Package database holds the PostgreSQL implementations of the ledger
// store and the daily close store.
package database

import (
	"fmt"
	"reflect"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/models"
)

// AutoMigrate creates or updates the tables for every persisted model.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(
		&models.Lot{},
		&models.Sale{},
		&models.Assignment{},
		&models.StockPrice{},
	); err != nil {
		return fmt.Errorf("failed to migrate models: %w", err)
	}
	return nil
}

var (
	ErrInvalidBatchSize = fmt.Errorf("invalid batch size")
	ErrInvalidData      = fmt.Errorf("invalid data, expected slice")
)

// CreateInBatches inserts the slice data in chunks of batchSize inside one
// transaction, or a savepoint when db is already in one. clauses are
// applied to every chunk.
func CreateInBatches(db *gorm.DB, data interface{}, batchSize int, clauses ...clause.Expression) error {
	if batchSize <= 0 {
		return ErrInvalidBatchSize
	}
	slice := reflect.ValueOf(data)
	if slice.Kind() != reflect.Slice {
		return ErrInvalidData
	}
	total := slice.Len()
	if total == 0 {
		return nil
	}

	return db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < total; i += batchSize {
			end := i + batchSize
			if end > total {
				end = total
			}

			chunk := slice.Slice(i, end).Interface()
			if err := tx.Clauses(clauses...).Create(chunk).Error; err != nil {
				return fmt.Errorf("batch insert failed: %w", err)
			}
		}
		return nil
	})
}
