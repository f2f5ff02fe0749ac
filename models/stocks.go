package models

import (
	"time"
)

// StockPrice is a stored daily close for a symbol.
type StockPrice struct {
	ID        uint      `gorm:"primaryKey"`
	Symbol    string    `gorm:"size:10;uniqueIndex:idx_stock_prices_symbol_date,priority:1;not null"`
	Date      time.Time `gorm:"type:date;uniqueIndex:idx_stock_prices_symbol_date,priority:2;not null"`
	Close     float64   `gorm:"not null"`
	FetchedAt time.Time `gorm:"autoCreateTime"`
}

// PricePoint is one close in a price series.
type PricePoint struct {
	Date  time.Time `json:"date"`
	Close float64   `json:"close"`
}

// Benchmark is a ticker a portfolio is compared against.
type Benchmark struct {
	Ticker string `toml:"ticker" json:"ticker"`
	Name   string `toml:"name" json:"name"`
}

// DefaultBenchmarks are used when no benchmarks are configured.
func DefaultBenchmarks() []Benchmark {
	return []Benchmark{
		{Ticker: "SPY", Name: "S&P 500 ETF"},
		{Ticker: "AAPL", Name: "Apple"},
		{Ticker: "META", Name: "Meta"},
		{Ticker: "GOOGL", Name: "Alphabet/Google"},
		{Ticker: "NVDA", Name: "Nvidia"},
		{Ticker: "AMZN", Name: "Amazon"},
	}
}
