package valuation

import (
	"context"
	"time"

	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

// Series is one line of a history chart, aligned with History.Dates. A nil
// value means a price was missing on that date.
type Series struct {
	Strategy string     `json:"strategy"`
	Ticker   string     `json:"ticker"`
	Name     string     `json:"name"`
	Values   []*float64 `json:"values"`
}

// History is a portfolio and its alternatives valued on every trading day
// since the first purchase.
type History struct {
	Dates        []string   `json:"dates"`
	Invested     []float64  `json:"invested"`
	Actual       []*float64 `json:"actual"`
	Alternatives []Series   `json:"alternatives"`
}

// leg is a quantity, shares or cash, that counts from date on.
type leg struct {
	date time.Time
	qty  float64
}

type saleEvent struct {
	date   time.Time
	shares float64
}

// History values snap on each trading day of the reference benchmark from
// the first purchase to today. When the reference has no history the first
// benchmark, then the first lot ticker, with history sets the dates.
func (a *Aggregator) History(ctx context.Context, snap *ledger.Snapshot, benchmarks []models.Benchmark) *History {
	h := &History{
		Dates:        []string{},
		Invested:     []float64{},
		Actual:       []*float64{},
		Alternatives: []Series{},
	}
	start, ok := firstPurchase(snap.Lots)
	if !ok {
		return h
	}
	book := newPriceBook(ctx, a.oracle, start, nil)
	dates := a.timeline(book, snap.Lots, benchmarks)
	if len(dates) == 0 {
		return h
	}

	sold := map[uint][]saleEvent{}
	var cash []leg
	for _, sale := range snap.Sales {
		for _, as := range sale.Assignments {
			sold[as.LotID] = append(sold[as.LotID], saleEvent{date: sale.SaleDate, shares: as.SharesAssigned})
		}
		if sale.CashRetained.Valid {
			cash = append(cash, leg{date: sale.SaleDate, qty: sale.CashRetained.Decimal.InexactFloat64()})
		}
	}

	var totalInvested float64
	legs := make([][]leg, len(benchmarks))
	for _, lot := range snap.Lots {
		totalInvested += lot.Amount.InexactFloat64()
		for i, b := range benchmarks {
			if _, n, ok := book.wouldHaveBought(lot, b.Ticker); ok {
				legs[i] = append(legs[i], leg{date: lot.PurchaseDate, qty: n})
			}
		}
	}
	for _, b := range benchmarks {
		h.Alternatives = append(h.Alternatives, Series{Strategy: StrategyLumpSum, Ticker: b.Ticker, Name: b.Name, Values: []*float64{}})
	}
	dca := a.monthlyDCA(book, totalInvested)
	if dca != nil {
		h.Alternatives = append(h.Alternatives, Series{
			Strategy: StrategyMonthlyDCA,
			Ticker:   a.reference,
			Name:     "Monthly DCA into " + a.reference,
			Values:   []*float64{},
		})
	}

	for _, d := range dates {
		h.Dates = append(h.Dates, models.DateKey(d))

		var invested float64
		for _, lot := range snap.Lots {
			if !lot.PurchaseDate.After(d) {
				invested += lot.Amount.InexactFloat64()
			}
		}
		h.Invested = append(h.Invested, round2(invested))
		h.Actual = append(h.Actual, actualOn(book, snap.Lots, sold, cash, d))

		for i, b := range benchmarks {
			h.Alternatives[i].Values = append(h.Alternatives[i].Values, valueOn(book, b.Ticker, sumUntil(legs[i], d), d))
		}
		if dca != nil {
			last := len(h.Alternatives) - 1
			h.Alternatives[last].Values = append(h.Alternatives[last].Values, valueOn(book, a.reference, dca.sharesOn(d), d))
		}
	}
	return h
}

// actualOn is the value of the shares held at the close of d plus cash
// retained from sales up to d. It is nil when any held ticker has no close
// on d.
func actualOn(book *priceBook, lots []models.Lot, sold map[uint][]saleEvent, cash []leg, d time.Time) *float64 {
	value := sumUntil(cash, d)
	for _, lot := range lots {
		if lot.PurchaseDate.After(d) {
			continue
		}
		shares := lot.SharesBought
		for _, e := range sold[lot.ID] {
			if !e.date.After(d) {
				shares -= e.shares
			}
		}
		if shares <= ledger.Epsilon {
			continue
		}
		price, ok := book.closeOn(lot.Ticker, d)
		if !ok {
			return nil
		}
		value += shares * price
	}
	return cents(value)
}

func valueOn(book *priceBook, ticker string, shares float64, d time.Time) *float64 {
	if shares == 0 {
		return cents(0)
	}
	price, ok := book.closeOn(ticker, d)
	if !ok {
		return nil
	}
	return cents(shares * price)
}

func sumUntil(legs []leg, d time.Time) float64 {
	var total float64
	for _, l := range legs {
		if !l.date.After(d) {
			total += l.qty
		}
	}
	return total
}

func (a *Aggregator) timeline(book *priceBook, lots []models.Lot, benchmarks []models.Benchmark) []time.Time {
	candidates := []string{a.reference}
	for _, b := range benchmarks {
		candidates = append(candidates, b.Ticker)
	}
	for _, lot := range lots {
		candidates = append(candidates, lot.Ticker)
	}

	today := models.Day(a.now())
	for _, t := range candidates {
		points := book.history(t).points
		if len(points) == 0 {
			continue
		}
		dates := make([]time.Time, 0, len(points))
		for _, p := range points {
			if p.Date.After(today) {
				break
			}
			dates = append(dates, p.Date)
		}
		return dates
	}
	return nil
}
