package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"portfolio-tracker/models"
)

// LinkReinvestment records that amount of the sale's proceeds went into
// lot. Calling it again overwrites the previous linkage.
func (s *Service) LinkReinvestment(ctx context.Context, owner, saleID, lotID uint, amount decimal.Decimal) (*models.Sale, error) {
	var sale *models.Sale
	err := s.store.Atomic(ctx, func(tx Tx) error {
		var err error
		sale, err = link(tx, owner, saleID, lotID, amount)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info().
		Uint("owner", owner).
		Uint("sale_id", saleID).
		Uint("lot_id", lotID).
		Str("amount", amount.String()).
		Msg("reinvestment linked")
	return sale, nil
}

func link(tx Tx, owner, saleID, lotID uint, amount decimal.Decimal) (*models.Sale, error) {
	if !amount.IsPositive() {
		return nil, invalid("reinvested_amount", "must be greater than zero")
	}

	sale, err := tx.Sale(owner, saleID)
	if errors.Is(err, ErrNotFound) {
		return nil, invalid("sale_id", "sale %d not found", saleID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load sale: %w", err)
	}
	if _, err := tx.Lot(owner, lotID); errors.Is(err, ErrNotFound) {
		return nil, invalid("lot_id", "lot %d not found", lotID)
	} else if err != nil {
		return nil, fmt.Errorf("failed to load lot: %w", err)
	}

	if amount.GreaterThan(sale.TotalProceeds) {
		return nil, invalid("reinvested_amount", "%s exceeds total proceeds %s",
			amount.String(), sale.TotalProceeds.String())
	}

	sale.ReinvestmentLotID = &lotID
	sale.ReinvestedAmount = decimal.NewNullDecimal(amount)
	sale.CashRetained = decimal.NewNullDecimal(sale.TotalProceeds.Sub(amount))
	if err := tx.SaveReinvestment(sale); err != nil {
		return nil, fmt.Errorf("failed to save reinvestment: %w", err)
	}
	return sale, nil
}

// ReinvestRequest is the purchase funded by a sale.
type ReinvestRequest struct {
	Ticker string
	Amount decimal.Decimal
}

// Reinvestment is the outcome of SellAndReinvest.
type Reinvestment struct {
	Sale *models.Sale `json:"sale"`
	Lot  *models.Lot  `json:"lot"`
}

// SellAndReinvest sells, buys Ticker for Amount at its close on the sale
// date, and links the two. Either all three are committed or none is.
func (s *Service) SellAndReinvest(ctx context.Context, owner uint, req SaleRequest, reinvest ReinvestRequest) (*Reinvestment, error) {
	if err := req.normalize(); err != nil {
		return nil, err
	}
	reinvest.Ticker = normalizeTicker(reinvest.Ticker)
	if err := validateTicker("reinvest_ticker", reinvest.Ticker); err != nil {
		return nil, err
	}
	if !reinvest.Amount.IsPositive() {
		return nil, invalid("reinvested_amount", "must be greater than zero")
	}
	proceeds := req.Price.Mul(decimal.NewFromFloat(req.Shares)).Round(moneyPlaces)
	if reinvest.Amount.GreaterThan(proceeds) {
		return nil, invalid("reinvested_amount", "%s exceeds total proceeds %s",
			reinvest.Amount.String(), proceeds.String())
	}

	price, err := s.closeOn(ctx, "reinvest_ticker", reinvest.Ticker, req.SaleDate)
	if err != nil {
		return nil, err
	}

	var out Reinvestment
	err = s.store.Atomic(ctx, func(tx Tx) error {
		sale, err := s.sell(tx, owner, req)
		if err != nil {
			return err
		}

		lot := &models.Lot{
			OwnerID:         owner,
			Ticker:          reinvest.Ticker,
			PurchaseDate:    req.SaleDate,
			SharesBought:    reinvest.Amount.InexactFloat64() / price,
			PriceAtPurchase: decimal.NewFromFloat(price),
			Amount:          reinvest.Amount,
			Source:          models.SourceReinvestment,
		}
		if err := tx.CreateLots([]*models.Lot{lot}); err != nil {
			return fmt.Errorf("failed to create reinvestment lot: %w", err)
		}

		linked, err := link(tx, owner, sale.ID, lot.ID, reinvest.Amount)
		if err != nil {
			return err
		}
		out = Reinvestment{Sale: linked, Lot: lot}
		return nil
	})
	if err != nil {
		s.logSaleFailure(owner, req, err)
		return nil, err
	}

	s.logger.Info().
		Uint("owner", owner).
		Uint("sale_id", out.Sale.ID).
		Uint("lot_id", out.Lot.ID).
		Str("ticker", req.Ticker).
		Str("reinvest_ticker", reinvest.Ticker).
		Msg("sale reinvested")
	s.invalidate(ctx, req.Ticker, reinvest.Ticker)
	return &out, nil
}
