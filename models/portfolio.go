package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Lot sources.
const (
	SourceManual       = "manual"
	SourceImport       = "import"
	SourceReinvestment = "reinvestment"
)

// Lot is a single purchase of shares tracked for cost basis.
type Lot struct {
	ID               uint                `gorm:"primaryKey" json:"id"`
	OwnerID          uint                `gorm:"index:idx_lots_owner_ticker,priority:1;not null" json:"-"`
	Ticker           string              `gorm:"size:10;index:idx_lots_owner_ticker,priority:2;not null" json:"ticker"`
	PurchaseDate     time.Time           `gorm:"type:date;index;not null" json:"purchase_date"`
	SharesBought     float64             `gorm:"not null" json:"shares_bought"`
	PriceAtPurchase  decimal.Decimal     `gorm:"type:numeric(20,6);not null" json:"price_at_purchase"`
	Amount           decimal.Decimal     `gorm:"type:numeric(20,6);not null" json:"amount"`
	OriginalAmount   decimal.NullDecimal `gorm:"type:numeric(20,6)" json:"original_amount"`
	OriginalCurrency string              `gorm:"size:3" json:"original_currency,omitempty"`
	Source           string              `gorm:"size:16;default:manual" json:"source"`
	CreatedAt        time.Time           `json:"created_at"`

	// SharesSold is the sum of assignments drawn from the lot. It is
	// derived on every read and never stored.
	SharesSold float64 `gorm:"-" json:"shares_sold"`
}

// SharesRemaining is the number of shares not yet assigned to a sale.
func (l Lot) SharesRemaining() float64 {
	return l.SharesBought - l.SharesSold
}

// Sale is a sell event. Its Assignments record which lots it drew from.
type Sale struct {
	ID                uint                `gorm:"primaryKey" json:"id"`
	OwnerID           uint                `gorm:"index:idx_sales_owner_ticker,priority:1;not null" json:"-"`
	Ticker            string              `gorm:"size:10;index:idx_sales_owner_ticker,priority:2;not null" json:"ticker"`
	SaleDate          time.Time           `gorm:"type:date;index;not null" json:"sale_date"`
	SharesSold        float64             `gorm:"not null" json:"shares_sold"`
	PriceAtSale       decimal.Decimal     `gorm:"type:numeric(20,6);not null" json:"price_at_sale"`
	TotalProceeds     decimal.Decimal     `gorm:"type:numeric(20,6);not null" json:"total_proceeds"`
	ReinvestmentLotID *uint               `gorm:"index" json:"reinvestment_lot_id"`
	ReinvestedAmount  decimal.NullDecimal `gorm:"type:numeric(20,6)" json:"reinvested_amount"`
	CashRetained      decimal.NullDecimal `gorm:"type:numeric(20,6)" json:"cash_retained"`
	CreatedAt         time.Time           `json:"created_at"`

	Assignments []Assignment `gorm:"foreignKey:SaleID" json:"assignments"`
}

// RealizedGainLoss sums the realized result of every assignment.
func (s Sale) RealizedGainLoss() decimal.Decimal {
	total := decimal.Zero
	for _, a := range s.Assignments {
		total = total.Add(a.RealizedGainLoss)
	}
	return total
}

// SharesAssigned sums the shares drawn from lots for the sale.
func (s Sale) SharesAssigned() float64 {
	var total float64
	for _, a := range s.Assignments {
		total += a.SharesAssigned
	}
	return total
}

// Assignment links a slice of a sale to the lot it was satisfied from.
// Assignments are immutable; they are created with their sale and removed
// with either parent.
type Assignment struct {
	ID               uint            `gorm:"primaryKey" json:"id"`
	LotID            uint            `gorm:"index;not null" json:"lot_id"`
	SaleID           uint            `gorm:"index;not null" json:"sale_id"`
	SharesAssigned   float64         `gorm:"not null" json:"shares_assigned"`
	CostBasis        decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"cost_basis"`
	Proceeds         decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"proceeds"`
	RealizedGainLoss decimal.Decimal `gorm:"type:numeric(20,6);not null" json:"realized_gain_loss"`
}

// Day truncates t to its calendar date in UTC. All lot and sale dates are
// stored this way so that date comparisons ignore time of day.
func Day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

// DateKey formats a date the way price series are keyed.
func DateKey(t time.Time) string {
	return t.Format("2006-01-02")
}
