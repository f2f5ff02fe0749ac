package ledger

import (
	"context"

	"portfolio-tracker/models"
)

// Store persists lots, sales and assignments. All access goes through
// Atomic: fn either commits as a whole or, when it returns an error, leaves
// no trace.
type Store interface {
	Atomic(ctx context.Context, fn func(tx Tx) error) error
}

// Tx is the view of a Store inside one transaction. Lots are always
// returned with SharesSold derived from their assignments, ordered by
// purchase date and then id.
type Tx interface {
	// LockLots returns the owner's lots for ticker and holds them against
	// other sellers of the same owner and ticker until the transaction
	// ends.
	LockLots(owner uint, ticker string) ([]models.Lot, error)
	// TickerLots is LockLots without the lock.
	TickerLots(owner uint, ticker string) ([]models.Lot, error)
	Lots(owner uint) ([]models.Lot, error)
	Lot(owner, id uint) (*models.Lot, error)

	// Sales are returned with their assignments, ordered by sale date and
	// then id.
	Sales(owner uint) ([]models.Sale, error)
	Sale(owner, id uint) (*models.Sale, error)

	// CreateLots inserts lots and sets their ids.
	CreateLots(lots []*models.Lot) error
	// CreateSale inserts a sale with its assignments and sets their ids.
	CreateSale(sale *models.Sale) error
	// SaveReinvestment writes the reinvestment linkage columns of sale.
	SaveReinvestment(sale *models.Sale) error

	CountAssignments(lotID uint) (int64, error)
	// DeleteLot removes a lot, its assignments and any reinvestment
	// linkage pointing at it.
	DeleteLot(id uint) error
	// DeleteSale removes a sale and its assignments.
	DeleteSale(id uint) error
}
