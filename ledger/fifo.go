package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-tracker/models"
)

// moneyPlaces matches the scale of the numeric money columns.
const moneyPlaces = 6

// SaleRequest describes a sell of Shares of Ticker at Price on SaleDate.
type SaleRequest struct {
	Ticker   string
	SaleDate time.Time
	Shares   float64
	Price    decimal.Decimal
}

func (r *SaleRequest) normalize() error {
	r.Ticker = normalizeTicker(r.Ticker)
	if err := validateTicker("ticker", r.Ticker); err != nil {
		return err
	}
	if r.SaleDate.IsZero() {
		return invalid("sale_date", "is required")
	}
	r.SaleDate = models.Day(r.SaleDate)
	if !validPositive(r.Shares) {
		return invalid("shares", "must be greater than zero")
	}
	if !r.Price.IsPositive() {
		return invalid("price", "must be greater than zero")
	}
	return nil
}

// CreateSale sells shares oldest lot first. The lots of the ticker are
// locked for the duration, so concurrent sales of the same ticker by the
// same owner are serialized. Nothing is written unless every share is
// assigned.
func (s *Service) CreateSale(ctx context.Context, owner uint, req SaleRequest) (*models.Sale, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}

	var sale *models.Sale
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		sale, err = s.sell(tx, owner, req)
		return err
	})
	if err != nil {
		s.logSaleFailure(owner, req, err)
		return nil, err
	}

	s.logger.Info().
		Uint("owner", owner).
		Uint("sale_id", sale.ID).
		Str("ticker", sale.Ticker).
		Float64("shares", sale.SharesSold).
		Int("assignments", len(sale.Assignments)).
		Msg("sale recorded")
	s.invalidate(ctx, sale.Ticker)
	return sale, nil
}

func (s *Service) sell(tx Tx, owner uint, req SaleRequest) (*models.Sale, error) {
	lots, err := tx.LockLots(owner, req.Ticker)
	if err != nil {
		return nil, fmt.Errorf("failed to lock lots: %w", err)
	}

	plan := planFIFO(lots, req.Shares)
	if !plan.sufficient(req.Shares) {
		return nil, &InsufficientSharesError{
			Ticker:    req.Ticker,
			Available: plan.available,
			Requested: req.Shares,
		}
	}
	if !(plan.unmet <= Epsilon) {
		return nil, fmt.Errorf("%w: %.6f of %.6f shares of %s left unassigned",
			ErrInternalConsistency, plan.unmet, req.Shares, req.Ticker)
	}

	sale := &models.Sale{
		OwnerID:       owner,
		Ticker:        req.Ticker,
		SaleDate:      req.SaleDate,
		SharesSold:    req.Shares,
		PriceAtSale:   req.Price,
		TotalProceeds: req.Price.Mul(decimal.NewFromFloat(req.Shares)).Round(moneyPlaces),
	}
	for _, slice := range plan.slices {
		shares := decimal.NewFromFloat(slice.shares)
		cost := slice.lot.PriceAtPurchase.Mul(shares).Round(moneyPlaces)
		proceeds := req.Price.Mul(shares).Round(moneyPlaces)
		sale.Assignments = append(sale.Assignments, models.Assignment{
			LotID:            slice.lot.ID,
			SharesAssigned:   slice.shares,
			CostBasis:        cost,
			Proceeds:         proceeds,
			RealizedGainLoss: proceeds.Sub(cost),
		})
	}

	if err := tx.CreateSale(sale); err != nil {
		return nil, fmt.Errorf("failed to create sale: %w", err)
	}
	return sale, nil
}

func (s *Service) logSaleFailure(owner uint, req SaleRequest, err error) {
	var insufficient *InsufficientSharesError
	switch {
	case errors.Is(err, ErrInternalConsistency):
		s.logger.Error().Err(err).
			Uint("owner", owner).
			Str("ticker", req.Ticker).
			Float64("shares", req.Shares).
			Msg("FIFO walk failed after availability check passed; sale rolled back")
	case errors.As(err, &insufficient), IsValidation(err):
		s.logger.Debug().Err(err).Uint("owner", owner).Str("ticker", req.Ticker).Msg("sale rejected")
	default:
		s.logger.Error().Err(err).Uint("owner", owner).Str("ticker", req.Ticker).Msg("sale failed")
	}
}

// PreviewAssignment is one would-be assignment of a preview.
type PreviewAssignment struct {
	LotID           uint            `json:"lot_id"`
	PurchaseDate    time.Time       `json:"purchase_date"`
	PriceAtPurchase decimal.Decimal `json:"price_at_purchase"`
	SharesAvailable float64         `json:"shares_available"`
	SharesToAssign  float64         `json:"shares_to_assign"`
	CostBasis       decimal.Decimal `json:"cost_basis"`
}

// Preview is the outcome a sale would have against the current ledger.
type Preview struct {
	Ticker         string              `json:"ticker"`
	SharesToSell   float64             `json:"shares_to_sell"`
	Assignments    []PreviewAssignment `json:"assignments"`
	TotalCostBasis decimal.Decimal     `json:"total_cost_basis"`
	TotalAvailable float64             `json:"total_available"`
	IsSufficient   bool                `json:"is_sufficient"`
	// Shortfall is how many requested shares are not covered; zero when
	// sufficient.
	Shortfall float64 `json:"shortfall"`
	// SharesRemainingAfter is nil when the sale would be rejected.
	SharesRemainingAfter *float64 `json:"shares_remaining_after"`
}

// PreviewFIFO runs the FIFO walk without writing anything. An insufficient
// position is reported in the result, not as an error.
func (s *Service) PreviewFIFO(ctx context.Context, owner uint, ticker string, shares float64) (*Preview, error) {
	ticker = normalizeTicker(ticker)
	if err := validateTicker("ticker", ticker); err != nil {
		return nil, err
	}
	if !validPositive(shares) {
		return nil, invalid("shares", "must be greater than zero")
	}

	var lots []models.Lot
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		lots, err = tx.TickerLots(owner, ticker)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read lots: %w", err)
	}

	plan := planFIFO(lots, shares)
	preview := &Preview{
		Ticker:         ticker,
		SharesToSell:   shares,
		Assignments:    make([]PreviewAssignment, 0, len(plan.slices)),
		TotalCostBasis: decimal.Zero,
		TotalAvailable: plan.available,
		IsSufficient:   plan.sufficient(shares),
	}
	for _, slice := range plan.slices {
		cost := slice.lot.PriceAtPurchase.Mul(decimal.NewFromFloat(slice.shares)).Round(moneyPlaces)
		preview.TotalCostBasis = preview.TotalCostBasis.Add(cost)
		preview.Assignments = append(preview.Assignments, PreviewAssignment{
			LotID:           slice.lot.ID,
			PurchaseDate:    slice.lot.PurchaseDate,
			PriceAtPurchase: slice.lot.PriceAtPurchase,
			SharesAvailable: slice.lot.SharesRemaining(),
			SharesToAssign:  slice.shares,
			CostBasis:       cost,
		})
	}
	switch {
	case !preview.IsSufficient:
		preview.Shortfall = shares - plan.available
	case plan.unmet > Epsilon:
		// Only dust lots are left; CreateSale would refuse this.
		preview.IsSufficient = false
		preview.Shortfall = plan.unmet
	default:
		after := math.Max(plan.available-shares, 0)
		preview.SharesRemainingAfter = &after
	}
	return preview, nil
}

type fifoSlice struct {
	lot    models.Lot
	shares float64
}

type fifoPlan struct {
	slices    []fifoSlice
	available float64
	unmet     float64
}

func (p fifoPlan) sufficient(shares float64) bool {
	return p.available >= shares-Epsilon
}

// planFIFO walks lots in the order given, taking from each until shares
// are covered. Lots with no more than Epsilon left are skipped.
func planFIFO(lots []models.Lot, shares float64) fifoPlan {
	plan := fifoPlan{unmet: shares}
	for _, lot := range lots {
		if rem := lot.SharesRemaining(); rem > 0 {
			plan.available += rem
		}
	}
	for _, lot := range lots {
		if plan.unmet <= Epsilon {
			break
		}
		rem := lot.SharesRemaining()
		if rem <= Epsilon {
			continue
		}
		take := math.Min(plan.unmet, rem)
		plan.slices = append(plan.slices, fifoSlice{lot: lot, shares: take})
		plan.unmet -= take
	}
	return plan
}
