package valuation

import (
	"time"

	"portfolio-tracker/models"
)

// dcaPlan spreads the invested total evenly over one purchase of the
// reference benchmark on the last trading day of each month.
type dcaPlan struct {
	invested float64
	buys     []dcaBuy
}

type dcaBuy struct {
	date   time.Time
	shares float64
}

// monthlyDCA builds the plan from the reference history starting at the
// book's first purchase date. It returns nil when there is nothing to
// spread or no month with a trading day.
func (a *Aggregator) monthlyDCA(book *priceBook, invested float64) *dcaPlan {
	if !(invested > 0) {
		return nil
	}
	today := models.Day(a.now())

	var monthEnds []models.PricePoint
	for _, p := range book.history(a.reference).points {
		if p.Date.After(today) {
			break
		}
		if n := len(monthEnds); n > 0 && sameMonth(monthEnds[n-1].Date, p.Date) {
			monthEnds[n-1] = p
			continue
		}
		monthEnds = append(monthEnds, p)
	}
	if len(monthEnds) == 0 {
		return nil
	}

	perMonth := invested / float64(len(monthEnds))
	plan := &dcaPlan{invested: invested}
	for _, p := range monthEnds {
		plan.buys = append(plan.buys, dcaBuy{date: p.Date, shares: perMonth / p.Close})
	}
	return plan
}

func sameMonth(a, b time.Time) bool {
	return a.Year() == b.Year() && a.Month() == b.Month()
}

// sharesOn is the position held at the close of date.
func (p *dcaPlan) sharesOn(date time.Time) float64 {
	var shares float64
	for _, b := range p.buys {
		if b.date.After(date) {
			break
		}
		shares += b.shares
	}
	return shares
}

func (p *dcaPlan) alternative(book *priceBook, reference string, actual float64) Alternative {
	alt := Alternative{
		Strategy:      StrategyMonthlyDCA,
		Ticker:        reference,
		Name:          "Monthly DCA into " + reference,
		TotalInvested: round2(p.invested),
	}
	price, ok := book.currentPrice(reference)
	if !ok {
		return alt
	}
	var shares float64
	for _, b := range p.buys {
		shares += b.shares
	}
	value := shares * price
	alt.CurrentValue = cents(value)
	alt.GainLoss = cents(value - p.invested)
	alt.ReturnPct = returnPct(value, p.invested)
	alt.DifferenceVsActual = cents(value - actual)
	return alt
}
