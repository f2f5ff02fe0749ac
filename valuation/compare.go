package valuation

import (
	"context"

	"portfolio-tracker/models"
)

// LotComparison is one purchase set against the same amount put into each
// benchmark on the same day.
type LotComparison struct {
	Lot          models.Lot       `json:"lot"`
	CurrentPrice *float64         `json:"current_price"`
	CurrentValue *float64         `json:"current_value"`
	GainLoss     *float64         `json:"gain_loss"`
	ReturnPct    *float64         `json:"return_pct"`
	Alternatives []LotAlternative `json:"alternatives"`
	History      History          `json:"history"`
}

type LotAlternative struct {
	Ticker             string   `json:"ticker"`
	Name               string   `json:"name"`
	PriceAtPurchase    *float64 `json:"price_at_purchase"`
	SharesWouldHave    *float64 `json:"shares_would_have"`
	CurrentPrice       *float64 `json:"current_price"`
	CurrentValue       *float64 `json:"current_value"`
	GainLoss           *float64 `json:"gain_loss"`
	ReturnPct          *float64 `json:"return_pct"`
	DifferenceVsActual *float64 `json:"difference_vs_actual"`
}

// CompareLot values lot as if it were still fully held. Comparing the lot
// with its own ticker uses the recorded purchase price, so that
// alternative always matches the actual value.
func (a *Aggregator) CompareLot(ctx context.Context, lot models.Lot, benchmarks []models.Benchmark) *LotComparison {
	tickers := []string{lot.Ticker}
	for _, b := range benchmarks {
		if b.Ticker != lot.Ticker {
			tickers = append(tickers, b.Ticker)
		}
	}
	book := newPriceBook(ctx, a.oracle, models.Day(lot.PurchaseDate), tickers)
	amount := lot.Amount.InexactFloat64()

	cmp := &LotComparison{Lot: lot, Alternatives: []LotAlternative{}}
	var actual *float64
	if price, ok := book.currentPrice(lot.Ticker); ok {
		value := lot.SharesBought * price
		actual = &value
		cmp.CurrentPrice = finite(price)
		cmp.CurrentValue = cents(value)
		cmp.GainLoss = cents(value - amount)
		cmp.ReturnPct = returnPct(value, amount)
	}

	for _, b := range benchmarks {
		alt := LotAlternative{Ticker: b.Ticker, Name: b.Name}
		bought, shares, ok := book.wouldHaveBought(lot, b.Ticker)
		if ok {
			alt.PriceAtPurchase = finite(bought)
			alt.SharesWouldHave = finite(shares)
			if price, ok := book.currentPrice(b.Ticker); ok {
				value := shares * price
				alt.CurrentPrice = finite(price)
				alt.CurrentValue = cents(value)
				alt.GainLoss = cents(value - amount)
				alt.ReturnPct = returnPct(value, amount)
				if actual != nil {
					alt.DifferenceVsActual = cents(value - *actual)
				}
			}
		}
		cmp.Alternatives = append(cmp.Alternatives, alt)
	}

	cmp.History = a.lotHistory(book, lot, benchmarks)
	return cmp
}

// lotHistory follows the lot and its alternatives over the trading days of
// the lot's own ticker.
func (a *Aggregator) lotHistory(book *priceBook, lot models.Lot, benchmarks []models.Benchmark) History {
	h := History{
		Dates:        []string{},
		Invested:     []float64{},
		Actual:       []*float64{},
		Alternatives: make([]Series, len(benchmarks)),
	}
	shares := make([]float64, len(benchmarks))
	for i, b := range benchmarks {
		h.Alternatives[i] = Series{Strategy: StrategyLumpSum, Ticker: b.Ticker, Name: b.Name, Values: []*float64{}}
		if _, n, ok := book.wouldHaveBought(lot, b.Ticker); ok {
			shares[i] = n
		}
	}

	today := models.Day(a.now())
	amount := round2(lot.Amount.InexactFloat64())
	for _, p := range book.history(lot.Ticker).points {
		if p.Date.After(today) {
			break
		}
		h.Dates = append(h.Dates, models.DateKey(p.Date))
		h.Invested = append(h.Invested, amount)
		h.Actual = append(h.Actual, cents(lot.SharesBought*p.Close))
		for i, b := range benchmarks {
			var v *float64
			if shares[i] > 0 {
				v = valueOn(book, b.Ticker, shares[i], p.Date)
			}
			h.Alternatives[i].Values = append(h.Alternatives[i].Values, v)
		}
	}
	return h
}
