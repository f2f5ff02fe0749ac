package market

import (
	"context"
	"sort"
	"sync"
	"time"

	"portfolio-tracker/models"
)

// HistoryStore keeps daily closes per symbol. Dates are calendar days in
// UTC.
type HistoryStore interface {
	// Closes returns the closes in [from, to], oldest first. A zero to
	// means no upper bound.
	Closes(ctx context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error)
	// SaveCloses inserts closes, replacing any stored for the same date.
	SaveCloses(ctx context.Context, symbol string, points []models.PricePoint) error
}

// MemoryHistory is a HistoryStore for tests and the memory storage
// driver.
type MemoryHistory struct {
	mu     sync.RWMutex
	closes map[string]map[time.Time]float64
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{closes: map[string]map[time.Time]float64{}}
}

func (h *MemoryHistory) Closes(_ context.Context, symbol string, from, to time.Time) ([]models.PricePoint, error) {
	from, to = models.Day(from), models.Day(to)
	h.mu.RLock()
	defer h.mu.RUnlock()

	var points []models.PricePoint
	for d, c := range h.closes[symbol] {
		if d.Before(from) || (!to.IsZero() && d.After(to)) {
			continue
		}
		points = append(points, models.PricePoint{Date: d, Close: c})
	}
	sortPoints(points)
	return points, nil
}

func (h *MemoryHistory) SaveCloses(_ context.Context, symbol string, points []models.PricePoint) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	byDate, ok := h.closes[symbol]
	if !ok {
		byDate = map[time.Time]float64{}
		h.closes[symbol] = byDate
	}
	for _, p := range points {
		byDate[models.Day(p.Date)] = p.Close
	}
	return nil
}

func sortPoints(points []models.PricePoint) {
	sort.Slice(points, func(i, j int) bool { return points[i].Date.Before(points[j].Date) })
}
