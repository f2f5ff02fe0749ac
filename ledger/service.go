// Package ledger tracks purchase lots and matches sales against them
// first-in-first-out.
package ledger

import (
	"context"
	"math"
	"strings"
	"time"

	"portfolio-tracker/config"
	"portfolio-tracker/models"
)

// Epsilon is the tolerance for share quantities. Anything at or below it
// counts as zero.
const Epsilon = 1e-4

const maxTickerLen = 10

// PriceSource looks up a closing price. ok is false when no price is known.
type PriceSource interface {
	PriceOnDate(ctx context.Context, ticker string, date time.Time) (price float64, ok bool)
}

// Invalidator drops cached prices for tickers after a ledger write.
type Invalidator interface {
	Invalidate(ctx context.Context, tickers ...string)
}

// Service is the entry point for ledger writes and reads.
type Service struct {
	store       Store
	prices      PriceSource
	invalidator Invalidator
	logger      *config.Logger
}

type Option func(*Service)

// WithPriceSource enables amount-only lot entry and sales with reinvestment.
func WithPriceSource(p PriceSource) Option {
	return func(s *Service) { s.prices = p }
}

// WithInvalidator registers the cache to invalidate after each commit.
func WithInvalidator(i Invalidator) Option {
	return func(s *Service) { s.invalidator = i }
}

// NewService creates a ledger service on top of store.
func NewService(store Store, logger *config.Logger, opts ...Option) *Service {
	if logger == nil {
		logger = config.NewSilentLogger()
	}
	s := &Service{store: store, logger: logger}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Snapshot is every lot and sale of one owner, read in one transaction.
type Snapshot struct {
	Lots  []models.Lot
	Sales []models.Sale
}

// Snapshot reads the owner's whole ledger.
func (s *Service) Snapshot(ctx context.Context, owner uint) (*Snapshot, error) {
	var snap Snapshot
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		if snap.Lots, err = tx.Lots(owner); err != nil {
			return err
		}
		snap.Sales, err = tx.Sales(owner)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &snap, nil
}

// ListLots returns the owner's lots in FIFO order.
func (s *Service) ListLots(ctx context.Context, owner uint) ([]models.Lot, error) {
	var lots []models.Lot
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		lots, err = tx.Lots(owner)
		return err
	})
	return lots, err
}

// ListSales returns the owner's sales with their assignments.
func (s *Service) ListSales(ctx context.Context, owner uint) ([]models.Sale, error) {
	var sales []models.Sale
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		sales, err = tx.Sales(owner)
		return err
	})
	return sales, err
}

// GetLot returns one lot of the owner.
func (s *Service) GetLot(ctx context.Context, owner, id uint) (*models.Lot, error) {
	var lot *models.Lot
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		lot, err = tx.Lot(owner, id)
		return err
	})
	return lot, err
}

func (s *Service) invalidate(ctx context.Context, tickers ...string) {
	if s.invalidator != nil {
		s.invalidator.Invalidate(ctx, tickers...)
	}
}

func normalizeTicker(t string) string {
	return strings.ToUpper(strings.TrimSpace(t))
}

func validateTicker(field, ticker string) error {
	if ticker == "" {
		return invalid(field, "is required")
	}
	if len(ticker) > maxTickerLen {
		return invalid(field, "must be at most %d characters", maxTickerLen)
	}
	return nil
}

func validPositive(f float64) bool {
	return f > 0 && !math.IsInf(f, 0) && !math.IsNaN(f)
}
