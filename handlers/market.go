package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"portfolio-tracker/models"
)

type historyPoint struct {
	Date  string  `json:"date"`
	Close float64 `json:"close"`
}

func (h *Handler) GetStockPrice(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))

	price, err := h.prices.CurrentPrice(c.Request.Context(), symbol)
	if err != nil {
		h.logger.Warn().Err(err).Str("symbol", symbol).Msg("quote unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch stock data"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "price": price})
}

// GetHistoricalData returns daily closes, optionally from ?from=YYYY-MM-DD.
func (h *Handler) GetHistoricalData(c *gin.Context) {
	symbol := strings.ToUpper(strings.TrimSpace(c.Param("symbol")))
	from, err := parseDate(c.Query("from"))
	if err != nil {
		badRequest(c, "from: invalid date")
		return
	}

	points, err := h.prices.Closes(c.Request.Context(), symbol, from)
	if err != nil {
		h.logger.Warn().Err(err).Str("symbol", symbol).Msg("history unavailable")
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Failed to fetch historical data"})
		return
	}
	if len(points) == 0 {
		c.JSON(http.StatusNotFound, gin.H{"error": "Historical data not found"})
		return
	}

	out := make([]historyPoint, len(points))
	for i, p := range points {
		out[i] = historyPoint{Date: models.DateKey(p.Date), Close: p.Close}
	}
	c.JSON(http.StatusOK, gin.H{"symbol": symbol, "history": out})
}
