// Package valuation values a ledger against current and historical prices
// and compares it with what the same money would have done in benchmarks.
package valuation

import (
	"context"
	"sort"
	"time"

	"github.com/shopspring/decimal"

	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

// Alternative strategies.
const (
	StrategyLumpSum    = "lump_sum"
	StrategyMonthlyDCA = "monthly_dca"
)

// Aggregator turns ledger snapshots into summaries and time series. It
// holds no state between calls.
type Aggregator struct {
	oracle    Oracle
	reference string
	now       func() time.Time
}

type AggregatorOption func(*Aggregator)

// WithReference sets the benchmark used for monthly DCA and, when it has
// history, for the dates of the history series. Defaults to SPY.
func WithReference(ticker string) AggregatorOption {
	return func(a *Aggregator) { a.reference = ticker }
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) AggregatorOption {
	return func(a *Aggregator) { a.now = now }
}

func NewAggregator(oracle Oracle, opts ...AggregatorOption) *Aggregator {
	a := &Aggregator{oracle: oracle, reference: "SPY", now: time.Now}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Summary is the point-in-time valuation of a portfolio.
type Summary struct {
	TotalInvested   float64  `json:"total_invested"`
	CurrentValue    *float64 `json:"current_value"`
	GainLoss        *float64 `json:"gain_loss"`
	ReturnPct       *float64 `json:"return_pct"`
	UnrealizedGains *float64 `json:"unrealized_gains"`
	RealizedGains   float64  `json:"realized_gains"`
	CashPosition    float64  `json:"cash_position"`

	Holdings []Holding `json:"holdings"`
	// MissingPrices lists tickers without a current price. Their value is
	// left out of every total above.
	MissingPrices []string      `json:"missing_prices"`
	Alternatives  []Alternative `json:"alternatives"`
}

// Holding is the open position in one ticker.
type Holding struct {
	Ticker          string   `json:"ticker"`
	SharesRemaining float64  `json:"shares_remaining"`
	CostBasis       float64  `json:"cost_basis"`
	CurrentPrice    *float64 `json:"current_price"`
	MarketValue     *float64 `json:"market_value"`
	UnrealizedGain  *float64 `json:"unrealized_gain"`
}

// Alternative is a hypothetical portfolio that put the same money into a
// benchmark.
type Alternative struct {
	Strategy           string   `json:"strategy"`
	Ticker             string   `json:"ticker"`
	Name               string   `json:"name"`
	TotalInvested      float64  `json:"total_invested"`
	CurrentValue       *float64 `json:"current_value"`
	GainLoss           *float64 `json:"gain_loss"`
	ReturnPct          *float64 `json:"return_pct"`
	DifferenceVsActual *float64 `json:"difference_vs_actual"`
	// SkippedLots counts lots with no benchmark price on their purchase
	// date. Their amounts are excluded from TotalInvested.
	SkippedLots int `json:"skipped_lots"`
}

// Summarize values snap at current prices. Prices are fetched in one batch
// for every ticker involved.
func (a *Aggregator) Summarize(ctx context.Context, snap *ledger.Snapshot, benchmarks []models.Benchmark) *Summary {
	sum := &Summary{
		Holdings:      []Holding{},
		MissingPrices: []string{},
		Alternatives:  []Alternative{},
	}
	start, ok := firstPurchase(snap.Lots)
	if !ok {
		sum.CurrentValue = cents(0)
		sum.GainLoss = cents(0)
		sum.ReturnPct = returnPct(0, 0)
		sum.UnrealizedGains = cents(0)
		return sum
	}

	book := newPriceBook(ctx, a.oracle, start, a.tickers(snap.Lots, benchmarks))
	missing := map[string]bool{}

	invested := decimal.Zero
	for _, lot := range snap.Lots {
		invested = invested.Add(lot.Amount)
	}
	realized, cash := decimal.Zero, decimal.Zero
	for _, sale := range snap.Sales {
		realized = realized.Add(sale.RealizedGainLoss())
		if sale.CashRetained.Valid {
			cash = cash.Add(sale.CashRetained.Decimal)
		}
	}

	var market, unrealized float64
	for _, h := range openPositions(snap.Lots) {
		if price, ok := book.currentPrice(h.Ticker); ok {
			value := h.SharesRemaining * price
			h.CurrentPrice = finite(price)
			h.MarketValue = cents(value)
			h.UnrealizedGain = cents(value - h.CostBasis)
			market += value
			unrealized += value - h.CostBasis
		} else {
			missing[h.Ticker] = true
		}
		h.CostBasis = round2(h.CostBasis)
		sum.Holdings = append(sum.Holdings, h)
	}

	investedF := invested.InexactFloat64()
	current := market + cash.InexactFloat64()
	sum.TotalInvested = round2(investedF)
	sum.CurrentValue = cents(current)
	sum.GainLoss = cents(current - investedF)
	sum.ReturnPct = returnPct(current, investedF)
	sum.UnrealizedGains = cents(unrealized)
	sum.RealizedGains = round2(realized.InexactFloat64())
	sum.CashPosition = round2(cash.InexactFloat64())

	for _, b := range benchmarks {
		alt := lumpSum(book, snap.Lots, b, current)
		if alt.CurrentValue == nil {
			if _, ok := book.currentPrice(b.Ticker); !ok {
				missing[b.Ticker] = true
			}
		}
		sum.Alternatives = append(sum.Alternatives, alt)
	}
	if dca := a.monthlyDCA(book, investedF); dca != nil {
		alt := dca.alternative(book, a.reference, current)
		if alt.CurrentValue == nil {
			missing[a.reference] = true
		}
		sum.Alternatives = append(sum.Alternatives, alt)
	}

	for t := range missing {
		sum.MissingPrices = append(sum.MissingPrices, t)
	}
	sort.Strings(sum.MissingPrices)
	return sum
}

func lumpSum(book *priceBook, lots []models.Lot, b models.Benchmark, actual float64) Alternative {
	alt := Alternative{Strategy: StrategyLumpSum, Ticker: b.Ticker, Name: b.Name}

	invested := decimal.Zero
	var shares float64
	for _, lot := range lots {
		_, n, ok := book.wouldHaveBought(lot, b.Ticker)
		if !ok {
			alt.SkippedLots++
			continue
		}
		shares += n
		invested = invested.Add(lot.Amount)
	}
	alt.TotalInvested = round2(invested.InexactFloat64())

	price, ok := book.currentPrice(b.Ticker)
	if !ok || alt.SkippedLots == len(lots) {
		return alt
	}
	value := shares * price
	alt.CurrentValue = cents(value)
	alt.GainLoss = cents(value - invested.InexactFloat64())
	alt.ReturnPct = returnPct(value, invested.InexactFloat64())
	alt.DifferenceVsActual = cents(value - actual)
	return alt
}

// openPositions groups lots with shares left by ticker, sorted by ticker.
func openPositions(lots []models.Lot) []Holding {
	byTicker := map[string]*Holding{}
	var order []string
	for _, lot := range lots {
		rem := lot.SharesRemaining()
		if rem <= ledger.Epsilon {
			continue
		}
		h, ok := byTicker[lot.Ticker]
		if !ok {
			h = &Holding{Ticker: lot.Ticker}
			byTicker[lot.Ticker] = h
			order = append(order, lot.Ticker)
		}
		h.SharesRemaining += rem
		h.CostBasis += rem * lot.PriceAtPurchase.InexactFloat64()
	}
	sort.Strings(order)
	out := make([]Holding, 0, len(order))
	for _, t := range order {
		out = append(out, *byTicker[t])
	}
	return out
}

func (a *Aggregator) tickers(lots []models.Lot, benchmarks []models.Benchmark) []string {
	seen := map[string]bool{}
	var out []string
	add := func(t string) {
		if t != "" && !seen[t] {
			seen[t] = true
			out = append(out, t)
		}
	}
	for _, lot := range lots {
		add(lot.Ticker)
	}
	for _, b := range benchmarks {
		add(b.Ticker)
	}
	add(a.reference)
	return out
}

func firstPurchase(lots []models.Lot) (time.Time, bool) {
	var first time.Time
	for i, lot := range lots {
		if i == 0 || lot.PurchaseDate.Before(first) {
			first = lot.PurchaseDate
		}
	}
	return models.Day(first), len(lots) > 0
}

func round2(v float64) float64 {
	if p := cents(v); p != nil {
		return *p
	}
	return 0
}
