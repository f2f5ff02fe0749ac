// Package handlers exposes the ledger, valuation and market services over
// HTTP.
package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/config"
	"portfolio-tracker/ledger"
	"portfolio-tracker/middleware"
	"portfolio-tracker/models"
	"portfolio-tracker/valuation"
)

// Prices is the market data the price endpoints serve.
type Prices interface {
	CurrentPrice(ctx context.Context, symbol string) (float64, error)
	Closes(ctx context.Context, symbol string, from time.Time) ([]models.PricePoint, error)
}

type Handler struct {
	ledger    *ledger.Service
	valuation *valuation.Service
	prices    Prices
	logger    *config.Logger
}

func New(l *ledger.Service, v *valuation.Service, p Prices, logger *config.Logger) *Handler {
	if logger == nil {
		logger = config.NewSilentLogger()
	}
	return &Handler{ledger: l, valuation: v, prices: p, logger: logger}
}

// Register mounts every route on r. auth guards the owner routes.
func (h *Handler) Register(r *gin.Engine, auth gin.HandlerFunc) {
	r.GET("/healthz", h.Health)

	guest := r.Group("/guest/portfolio")
	{
		guest.POST("/summary", h.GuestSummary)
		guest.POST("/history", h.GuestHistory)
	}

	owner := r.Group("/")
	owner.Use(auth)
	{
		owner.POST("/lots", h.AddLot)
		owner.GET("/lots", h.ListLots)
		owner.POST("/lots/import", h.ImportLots)
		owner.DELETE("/lots/:id", h.DeleteLot)
		owner.GET("/lots/:id/comparison", h.CompareLot)

		owner.POST("/sales", h.CreateSale)
		owner.GET("/sales", h.ListSales)
		owner.GET("/sales/preview", h.PreviewSale)
		owner.DELETE("/sales/:id", h.DeleteSale)
		owner.POST("/sales/:id/reinvestment", h.LinkReinvestment)

		owner.GET("/portfolio/summary", h.PortfolioSummary)
		owner.GET("/portfolio/history", h.PortfolioHistory)

		owner.GET("/prices/:symbol", h.GetStockPrice)
		owner.GET("/history/:symbol", h.GetHistoricalData)
	}
}

func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func owner(c *gin.Context) uint {
	id, _ := middleware.OwnerID(c)
	return id
}

// respondError maps ledger errors to status codes. Unknown errors are
// logged and answered with a generic message.
func (h *Handler) respondError(c *gin.Context, err error) {
	var (
		verr  *ledger.ValidationError
		short *ledger.InsufficientSharesError
		inUse *ledger.LotInUseError
	)
	switch {
	case errors.As(err, &verr):
		c.JSON(http.StatusBadRequest, gin.H{"error": verr.Error(), "field": verr.Field})
	case errors.As(err, &short):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":     short.Error(),
			"ticker":    short.Ticker,
			"available": short.Available,
			"requested": short.Requested,
		})
	case errors.As(err, &inUse):
		c.JSON(http.StatusConflict, gin.H{
			"error":       inUse.Error(),
			"lot_id":      inUse.LotID,
			"assignments": inUse.Assignments,
		})
	case errors.Is(err, ledger.ErrNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Not found"})
	default:
		c.Error(err)
		h.logger.Error().Err(err).Str("path", c.FullPath()).Msg("request failed")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, gin.H{"error": msg})
}

func parseID(c *gin.Context) (uint, bool) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil || id == 0 {
		badRequest(c, "Invalid id")
		return 0, false
	}
	return uint(id), true
}

// parseDate reads a YYYY-MM-DD date. An empty string is the zero time.
func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.DateOnly, s)
}

// benchmarksFrom picks benchmarks from a comma separated list of tickers.
// Configured tickers keep their names; others are named after the ticker.
// An empty list means the configured set.
func (h *Handler) benchmarksFrom(raw string) []models.Benchmark {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	names := map[string]string{}
	for _, b := range h.valuation.Benchmarks() {
		names[b.Ticker] = b.Name
	}
	var out []models.Benchmark
	seen := map[string]bool{}
	for _, t := range strings.Split(raw, ",") {
		t = strings.ToUpper(strings.TrimSpace(t))
		if t == "" || seen[t] {
			continue
		}
		seen[t] = true
		name := names[t]
		if name == "" {
			name = t
		}
		out = append(out, models.Benchmark{Ticker: t, Name: name})
	}
	return out
}
