package database

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

const lotBatchSize = 100

// Store is the PostgreSQL ledger store. Sellers of the same owner and
// ticker are serialized by row locks on that ticker's lots.
type Store struct {
	db *gorm.DB
}

var _ ledger.Store = (*Store)(nil)

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Atomic(ctx context.Context, fn func(tx ledger.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormTx{db: tx})
	})
}

type gormTx struct {
	db *gorm.DB
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.ErrNotFound
	}
	return err
}

func lotOrder(db *gorm.DB) *gorm.DB {
	return db.Order("purchase_date ASC").Order("id ASC")
}

func (tx *gormTx) LockLots(owner uint, ticker string) ([]models.Lot, error) {
	var lots []models.Lot
	err := lotOrder(tx.db.Clauses(clause.Locking{Strength: "UPDATE"})).
		Where("owner_id = ? AND ticker = ?", owner, ticker).
		Find(&lots).Error
	if err != nil {
		return nil, fmt.Errorf("failed to lock lots: %w", err)
	}
	return lots, tx.withSold(lots)
}

func (tx *gormTx) TickerLots(owner uint, ticker string) ([]models.Lot, error) {
	var lots []models.Lot
	if err := lotOrder(tx.db).Where("owner_id = ? AND ticker = ?", owner, ticker).Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}
	return lots, tx.withSold(lots)
}

func (tx *gormTx) Lots(owner uint) ([]models.Lot, error) {
	var lots []models.Lot
	if err := lotOrder(tx.db).Where("owner_id = ?", owner).Find(&lots).Error; err != nil {
		return nil, fmt.Errorf("failed to load lots: %w", err)
	}
	return lots, tx.withSold(lots)
}

func (tx *gormTx) Lot(owner, id uint) (*models.Lot, error) {
	var lot models.Lot
	if err := tx.db.Where("id = ? AND owner_id = ?", id, owner).First(&lot).Error; err != nil {
		return nil, notFound(err)
	}
	lots := []models.Lot{lot}
	if err := tx.withSold(lots); err != nil {
		return nil, err
	}
	return &lots[0], nil
}

// withSold fills SharesSold from the assignment totals of each lot.
func (tx *gormTx) withSold(lots []models.Lot) error {
	if len(lots) == 0 {
		return nil
	}
	ids := make([]uint, len(lots))
	for i, l := range lots {
		ids[i] = l.ID
	}

	var rows []struct {
		LotID uint
		Sold  float64
	}
	err := tx.db.Model(&models.Assignment{}).
		Select("lot_id, SUM(shares_assigned) AS sold").
		Where("lot_id IN ?", ids).
		Group("lot_id").
		Scan(&rows).Error
	if err != nil {
		return fmt.Errorf("failed to sum assignments: %w", err)
	}

	sold := make(map[uint]float64, len(rows))
	for _, r := range rows {
		sold[r.LotID] = r.Sold
	}
	for i := range lots {
		lots[i].SharesSold = sold[lots[i].ID]
	}
	return nil
}

func preloadAssignments(db *gorm.DB) *gorm.DB {
	return db.Preload("Assignments", func(db *gorm.DB) *gorm.DB { return db.Order("id ASC") })
}

func (tx *gormTx) Sales(owner uint) ([]models.Sale, error) {
	var sales []models.Sale
	err := preloadAssignments(tx.db).
		Where("owner_id = ?", owner).
		Order("sale_date ASC").Order("id ASC").
		Find(&sales).Error
	if err != nil {
		return nil, fmt.Errorf("failed to load sales: %w", err)
	}
	return sales, nil
}

func (tx *gormTx) Sale(owner, id uint) (*models.Sale, error) {
	var sale models.Sale
	if err := preloadAssignments(tx.db).Where("id = ? AND owner_id = ?", id, owner).First(&sale).Error; err != nil {
		return nil, notFound(err)
	}
	return &sale, nil
}

func (tx *gormTx) CreateLots(lots []*models.Lot) error {
	return CreateInBatches(tx.db, lots, lotBatchSize)
}

// CreateSale inserts the sale; gorm inserts its assignments with it.
func (tx *gormTx) CreateSale(sale *models.Sale) error {
	if err := tx.db.Create(sale).Error; err != nil {
		return fmt.Errorf("failed to create sale: %w", err)
	}
	return nil
}

func (tx *gormTx) SaveReinvestment(sale *models.Sale) error {
	res := tx.db.Model(&models.Sale{}).Where("id = ?", sale.ID).Updates(map[string]interface{}{
		"reinvestment_lot_id": sale.ReinvestmentLotID,
		"reinvested_amount":   sale.ReinvestedAmount,
		"cash_retained":       sale.CashRetained,
	})
	if res.Error != nil {
		return fmt.Errorf("failed to save reinvestment: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (tx *gormTx) CountAssignments(lotID uint) (int64, error) {
	var n int64
	if err := tx.db.Model(&models.Assignment{}).Where("lot_id = ?", lotID).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("failed to count assignments: %w", err)
	}
	return n, nil
}

func (tx *gormTx) DeleteLot(id uint) error {
	if err := tx.db.Where("lot_id = ?", id).Delete(&models.Assignment{}).Error; err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	err := tx.db.Model(&models.Sale{}).Where("reinvestment_lot_id = ?", id).Updates(map[string]interface{}{
		"reinvestment_lot_id": gorm.Expr("NULL"),
		"reinvested_amount":   gorm.Expr("NULL"),
		"cash_retained":       gorm.Expr("NULL"),
	}).Error
	if err != nil {
		return fmt.Errorf("failed to clear reinvestment linkage: %w", err)
	}
	res := tx.db.Delete(&models.Lot{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete lot: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}

func (tx *gormTx) DeleteSale(id uint) error {
	if err := tx.db.Where("sale_id = ?", id).Delete(&models.Assignment{}).Error; err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	res := tx.db.Delete(&models.Sale{}, id)
	if res.Error != nil {
		return fmt.Errorf("failed to delete sale: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ledger.ErrNotFound
	}
	return nil
}
