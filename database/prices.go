package database

import (
	"context"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"portfolio-tracker/market"
	"portfolio-tracker/models"
)

const priceBatchSize = 500

// PriceStore keeps daily closes in the stock_prices table.
type PriceStore struct {
	db *gorm.DB
}

var _ market.HistoryStore = (*PriceStore)(nil)

func NewPriceStore(db *gorm.DB) *PriceStore {
	return &PriceStore{db: db}
}

func (s *PriceStore) Closes(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error) {
	q := s.db.WithContext(ctx).Where("symbol = ?", symbol)
	if !from.IsZero() {
		q = q.Where("date >= ?", models.Day(from))
	}
	if !to.IsZero() {
		q = q.Where("date <= ?", models.Day(to))
	}

	var rows []models.StockPrice
	if err := q.Order("date ASC").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load closes: %w", err)
	}
	points := make([]models.PricePoint, len(rows))
	for i, r := range rows {
		points[i] = models.PricePoint{Date: models.Day(r.Date), Close: r.Close}
	}
	return points, nil
}

// SaveCloses upserts closes on (symbol, date).
func (s *PriceStore) SaveCloses(ctx context.Context, symbol string, points []models.PricePoint) error {
	rows := make([]models.StockPrice, len(points))
	for i, p := range points {
		rows[i] = models.StockPrice{Symbol: symbol, Date: models.Day(p.Date), Close: p.Close}
	}
	return CreateInBatches(s.db.WithContext(ctx), rows, priceBatchSize, closeUpsert())
}

func closeUpsert() clause.OnConflict {
	return clause.OnConflict{
		Columns:   []clause.Column{{Name: "symbol"}, {Name: "date"}},
		DoUpdates: clause.AssignmentColumns([]string{"close", "fetched_at"}),
	}
}
