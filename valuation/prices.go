package valuation

import (
	"context"
	"math"
	"sort"
	"time"

	"portfolio-tracker/models"
)

// Oracle is the price source the aggregator reads. A missing price is
// reported as ok == false or an absent map entry, never as an error.
type Oracle interface {
	PriceOnDate(ctx context.Context, ticker string, date time.Time) (float64, bool)
	CurrentPrices(ctx context.Context, tickers []string) map[string]float64
	PriceHistory(ctx context.Context, ticker string, from time.Time) []models.PricePoint
}

// priceBook memoizes oracle lookups for the duration of one valuation.
// Current prices are fetched in a single batch when the book is created.
type priceBook struct {
	ctx     context.Context
	oracle  Oracle
	from    time.Time
	current map[string]float64
	onDate  map[string]lookup
	series  map[string]closeSeries
}

type lookup struct {
	price float64
	ok    bool
}

type closeSeries struct {
	points []models.PricePoint
	byDate map[string]float64
}

func newPriceBook(ctx context.Context, oracle Oracle, from time.Time, tickers []string) *priceBook {
	b := &priceBook{
		ctx:     ctx,
		oracle:  oracle,
		from:    from,
		current: map[string]float64{},
		onDate:  map[string]lookup{},
		series:  map[string]closeSeries{},
	}
	if len(tickers) > 0 {
		if current := oracle.CurrentPrices(ctx, tickers); current != nil {
			b.current = current
		}
	}
	return b
}

func validPrice(p float64) bool {
	return p > 0 && !math.IsInf(p, 0) && !math.IsNaN(p)
}

func (b *priceBook) currentPrice(ticker string) (float64, bool) {
	p, ok := b.current[ticker]
	return p, ok && validPrice(p)
}

func (b *priceBook) priceOn(ticker string, date time.Time) (float64, bool) {
	key := ticker + "|" + models.DateKey(date)
	if l, ok := b.onDate[key]; ok {
		return l.price, l.ok
	}
	p, ok := b.oracle.PriceOnDate(b.ctx, ticker, date)
	ok = ok && validPrice(p)
	b.onDate[key] = lookup{price: p, ok: ok}
	return p, ok
}

// history returns ticker's closes from the book's start date, oldest
// first. Points with unusable closes are dropped.
func (b *priceBook) history(ticker string) closeSeries {
	if s, ok := b.series[ticker]; ok {
		return s
	}
	s := closeSeries{byDate: map[string]float64{}}
	for _, p := range b.oracle.PriceHistory(b.ctx, ticker, b.from) {
		day := models.Day(p.Date)
		if day.Before(b.from) || !validPrice(p.Close) {
			continue
		}
		key := models.DateKey(day)
		if _, dup := s.byDate[key]; dup {
			continue
		}
		s.byDate[key] = p.Close
		s.points = append(s.points, models.PricePoint{Date: day, Close: p.Close})
	}
	sort.Slice(s.points, func(i, j int) bool { return s.points[i].Date.Before(s.points[j].Date) })
	b.series[ticker] = s
	return s
}

func (b *priceBook) closeOn(ticker string, date time.Time) (float64, bool) {
	p, ok := b.history(ticker).byDate[models.DateKey(date)]
	return p, ok
}

// wouldHaveBought is the price and share count lot.Amount would have bought
// of ticker on the lot's purchase date. A lot compared with its own ticker
// keeps its recorded price and shares, whatever the oracle says today.
func (b *priceBook) wouldHaveBought(lot models.Lot, ticker string) (price, shares float64, ok bool) {
	if lot.Ticker == ticker {
		return lot.PriceAtPurchase.InexactFloat64(), lot.SharesBought, true
	}
	price, ok = b.priceOn(ticker, lot.PurchaseDate)
	if !ok {
		return 0, 0, false
	}
	return price, lot.Amount.InexactFloat64() / price, true
}

// finite returns nil for NaN and infinities so they serialize as null.
func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// cents rounds a currency figure to two places.
func cents(v float64) *float64 {
	return finite(math.Round(v*100) / 100)
}

func returnPct(value, invested float64) *float64 {
	if invested == 0 {
		zero := 0.0
		return &zero
	}
	return cents((value - invested) / invested * 100)
}
