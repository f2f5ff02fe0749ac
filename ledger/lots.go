package ledger

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"

	"portfolio-tracker/models"
)

// importBatchSize bounds how many lots go into one insert statement.
const importBatchSize = 100

// LotRequest is a purchase to record. Either Shares and Price are set
// (detailed entry) or only Amount is, in which case the price is the close
// on PurchaseDate and shares are derived from it.
type LotRequest struct {
	Ticker       string          `json:"ticker"`
	PurchaseDate time.Time       `json:"purchase_date"`
	Shares       float64         `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Amount       decimal.Decimal `json:"amount"`

	// OriginalAmount and OriginalCurrency annotate a purchase paid in
	// another currency. They are shown, never used in calculations.
	OriginalAmount   decimal.NullDecimal `json:"original_amount"`
	OriginalCurrency string              `json:"original_currency"`

	// Rejected carries a failure to decode this entry. It is reported like
	// any other validation error.
	Rejected error `json:"-"`
}

// AddLot records one purchase.
func (s *Service) AddLot(ctx context.Context, owner uint, req LotRequest) (*models.Lot, error) {
	lot, err := s.buildLot(ctx, owner, req, models.SourceManual)
	if err != nil {
		return nil, err
	}

	err = s.store.Atomic(ctx, func(tx Tx) error {
		return tx.CreateLots([]*models.Lot{lot})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create lot: %w", err)
	}

	s.logger.Info().
		Uint("owner", owner).
		Uint("lot_id", lot.ID).
		Str("ticker", lot.Ticker).
		Float64("shares", lot.SharesBought).
		Msg("lot recorded")
	s.invalidate(ctx, lot.Ticker)
	return lot, nil
}

// ImportResult reports a bulk import. Errors are "entry N: reason" with N
// counted from 1.
type ImportResult struct {
	Imported int           `json:"imported"`
	Lots     []*models.Lot `json:"lots"`
	Errors   []string      `json:"errors"`
}

// ImportLots validates each entry on its own and inserts the valid ones in
// one transaction. Invalid entries are reported without failing the rest.
func (s *Service) ImportLots(ctx context.Context, owner uint, reqs []LotRequest) (*ImportResult, error) {
	result := &ImportResult{Lots: []*models.Lot{}, Errors: []string{}}
	for i, req := range reqs {
		lot, err := s.buildLot(ctx, owner, req, models.SourceImport)
		if err != nil {
			if !IsValidation(err) {
				return nil, err
			}
			result.Errors = append(result.Errors, fmt.Sprintf("entry %d: %v", i+1, err))
			continue
		}
		result.Lots = append(result.Lots, lot)
	}
	if len(result.Lots) == 0 {
		return result, nil
	}

	err := s.store.Atomic(ctx, func(tx Tx) error {
		for start := 0; start < len(result.Lots); start += importBatchSize {
			end := min(start+importBatchSize, len(result.Lots))
			if err := tx.CreateLots(result.Lots[start:end]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to import lots: %w", err)
	}
	result.Imported = len(result.Lots)

	tickers := make([]string, 0, len(result.Lots))
	for _, lot := range result.Lots {
		tickers = append(tickers, lot.Ticker)
	}
	s.logger.Info().
		Uint("owner", owner).
		Int("imported", result.Imported).
		Int("rejected", len(result.Errors)).
		Msg("lots imported")
	s.invalidate(ctx, tickers...)
	return result, nil
}

// GuestLots validates lots that will be valued without being stored. They
// get ids 1..n in request order.
func (s *Service) GuestLots(ctx context.Context, reqs []LotRequest) ([]models.Lot, error) {
	lots := make([]models.Lot, 0, len(reqs))
	for i, req := range reqs {
		lot, err := s.buildLot(ctx, 0, req, models.SourceManual)
		if err != nil {
			var v *ValidationError
			if errors.As(err, &v) {
				return nil, invalid(fmt.Sprintf("lots[%d].%s", i, v.Field), "%s", v.Reason)
			}
			return nil, err
		}
		lot.ID = uint(i + 1)
		lots = append(lots, *lot)
	}
	return lots, nil
}

func (s *Service) buildLot(ctx context.Context, owner uint, req LotRequest, source string) (*models.Lot, error) {
	if req.Rejected != nil {
		return nil, req.Rejected
	}
	ticker := normalizeTicker(req.Ticker)
	if err := validateTicker("ticker", ticker); err != nil {
		return nil, err
	}
	if req.PurchaseDate.IsZero() {
		return nil, invalid("purchase_date", "is required")
	}
	date := models.Day(req.PurchaseDate)

	lot := &models.Lot{
		OwnerID:      owner,
		Ticker:       ticker,
		PurchaseDate: date,
		Source:       source,
	}

	switch {
	case req.Shares != 0 || !req.Price.IsZero():
		if !validPositive(req.Shares) {
			return nil, invalid("shares", "must be greater than zero")
		}
		if req.Shares <= Epsilon {
			return nil, invalid("shares", "must be greater than %g", Epsilon)
		}
		if !req.Price.IsPositive() {
			return nil, invalid("price", "must be greater than zero")
		}
		lot.SharesBought = req.Shares
		lot.PriceAtPurchase = req.Price
		lot.Amount = req.Price.Mul(decimal.NewFromFloat(req.Shares)).Round(moneyPlaces)
	case req.Amount.IsPositive():
		price, err := s.closeOn(ctx, "ticker", ticker, date)
		if err != nil {
			return nil, err
		}
		lot.SharesBought = req.Amount.InexactFloat64() / price
		if lot.SharesBought <= Epsilon {
			return nil, invalid("amount", "buys no more than %g shares at %.2f", Epsilon, price)
		}
		lot.PriceAtPurchase = decimal.NewFromFloat(price)
		lot.Amount = req.Amount
	default:
		return nil, invalid("amount", "either shares and price or a positive amount is required")
	}

	currency, err := originalCurrency(req)
	if err != nil {
		return nil, err
	}
	if currency != "" {
		lot.OriginalAmount = req.OriginalAmount
		lot.OriginalCurrency = currency
	}
	return lot, nil
}

func originalCurrency(req LotRequest) (string, error) {
	code := strings.ToUpper(strings.TrimSpace(req.OriginalCurrency))
	if code == "" && !req.OriginalAmount.Valid {
		return "", nil
	}
	if code == "" {
		return "", invalid("original_currency", "is required with original_amount")
	}
	if !req.OriginalAmount.Valid || !req.OriginalAmount.Decimal.IsPositive() {
		return "", invalid("original_amount", "must be greater than zero")
	}
	if money.GetCurrency(code) == nil {
		return "", invalid("original_currency", "unknown currency %q", code)
	}
	return code, nil
}

// FormatOriginal renders a lot's original amount in its currency, such as
// "£1,000.00" for GBP. It returns "" for lots without the annotation.
func FormatOriginal(lot models.Lot) string {
	if !lot.OriginalAmount.Valid || lot.OriginalCurrency == "" {
		return ""
	}
	cur := money.GetCurrency(lot.OriginalCurrency)
	if cur == nil {
		return ""
	}
	minor := lot.OriginalAmount.Decimal.Shift(int32(cur.Fraction)).Round(0)
	return money.New(minor.IntPart(), cur.Code).Display()
}

// closeOn asks the price source for ticker's close on date. A gap is a
// validation error: the caller cannot proceed without a price.
func (s *Service) closeOn(ctx context.Context, field, ticker string, date time.Time) (float64, error) {
	if s.prices == nil {
		return 0, invalid(field, "price lookup is not available")
	}
	price, ok := s.prices.PriceOnDate(ctx, ticker, date)
	if !ok || !validPositive(price) {
		return 0, invalid(field, "no price for %s on %s", ticker, models.DateKey(date))
	}
	return price, nil
}

// DeleteLot removes a lot. A lot that sales have drawn from is only
// removed with force, which also drops those assignments and any
// reinvestment linkage to the lot.
func (s *Service) DeleteLot(ctx context.Context, owner, id uint, force bool) error {
	var ticker string
	err := s.store.Atomic(ctx, func(tx Tx) error {
		lot, err := tx.Lot(owner, id)
		if err != nil {
			return err
		}
		ticker = lot.Ticker

		n, err := tx.CountAssignments(id)
		if err != nil {
			return fmt.Errorf("failed to count assignments: %w", err)
		}
		if n > 0 && !force {
			return &LotInUseError{LotID: id, Assignments: n}
		}
		return tx.DeleteLot(id)
	})
	if err != nil {
		var inUse *LotInUseError
		if !errors.Is(err, ErrNotFound) && !errors.As(err, &inUse) {
			s.logger.Error().Err(err).Uint("owner", owner).Uint("lot_id", id).Msg("failed to delete lot")
		}
		return err
	}

	s.logger.Info().Uint("owner", owner).Uint("lot_id", id).Bool("force", force).Msg("lot deleted")
	s.invalidate(ctx, ticker)
	return nil
}

// DeleteSale removes a sale and its assignments, which returns the shares
// to their lots. A reinvestment lot bought from the sale is kept.
func (s *Service) DeleteSale(ctx context.Context, owner, id uint) error {
	var ticker string
	err := s.store.Atomic(ctx, func(tx Tx) error {
		sale, err := tx.Sale(owner, id)
		if err != nil {
			return err
		}
		ticker = sale.Ticker
		return tx.DeleteSale(id)
	})
	if err != nil {
		if !errors.Is(err, ErrNotFound) {
			s.logger.Error().Err(err).Uint("owner", owner).Uint("sale_id", id).Msg("failed to delete sale")
		}
		return err
	}

	s.logger.Info().Uint("owner", owner).Uint("sale_id", id).Msg("sale deleted")
	s.invalidate(ctx, ticker)
	return nil
}
