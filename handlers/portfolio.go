package handlers

import (
	"fmt"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"

	"portfolio-tracker/ledger"
	"portfolio-tracker/models"
)

type LotInput struct {
	Ticker           string              `json:"ticker" binding:"required"`
	PurchaseDate     string              `json:"purchase_date" binding:"required"`
	Shares           float64             `json:"shares"`
	Price            decimal.Decimal     `json:"price"`
	Amount           decimal.Decimal     `json:"amount"`
	OriginalAmount   decimal.NullDecimal `json:"original_amount"`
	OriginalCurrency string              `json:"original_currency"`
}

func (in LotInput) request() (ledger.LotRequest, error) {
	d, err := parseDate(in.PurchaseDate)
	if err != nil {
		return ledger.LotRequest{}, fmt.Errorf("purchase_date: invalid date %q", in.PurchaseDate)
	}
	return ledger.LotRequest{
		Ticker:           in.Ticker,
		PurchaseDate:     d,
		Shares:           in.Shares,
		Price:            in.Price,
		Amount:           in.Amount,
		OriginalAmount:   in.OriginalAmount,
		OriginalCurrency: in.OriginalCurrency,
	}, nil
}

// LotsInput carries several lots. Each entry is validated by the ledger on
// its own.
type LotsInput struct {
	Lots []LotInput `json:"lots" binding:"required"`
}

func (in LotsInput) requests() []ledger.LotRequest {
	reqs := make([]ledger.LotRequest, len(in.Lots))
	for i, l := range in.Lots {
		req, err := l.request()
		if err != nil {
			req = ledger.LotRequest{Rejected: &ledger.ValidationError{
				Field:  "purchase_date",
				Reason: fmt.Sprintf("invalid date %q", l.PurchaseDate),
			}}
		}
		reqs[i] = req
	}
	return reqs
}

type lotView struct {
	models.Lot
	SharesRemaining float64 `json:"shares_remaining"`
	OriginalDisplay string  `json:"original_display,omitempty"`
}

func viewLot(l models.Lot) lotView {
	return lotView{Lot: l, SharesRemaining: l.SharesRemaining(), OriginalDisplay: ledger.FormatOriginal(l)}
}

type saleView struct {
	models.Sale
	RealizedGainLoss decimal.Decimal `json:"realized_gain_loss"`
}

func viewSale(s models.Sale) saleView {
	if s.Assignments == nil {
		s.Assignments = []models.Assignment{}
	}
	return saleView{Sale: s, RealizedGainLoss: s.RealizedGainLoss()}
}

func (h *Handler) AddLot(c *gin.Context) {
	var input LotInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	req, err := input.request()
	if err != nil {
		badRequest(c, err.Error())
		return
	}

	lot, err := h.ledger.AddLot(c.Request.Context(), owner(c), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, viewLot(*lot))
}

func (h *Handler) ListLots(c *gin.Context) {
	lots, err := h.ledger.ListLots(c.Request.Context(), owner(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]lotView, len(lots))
	for i, l := range lots {
		out[i] = viewLot(l)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) ImportLots(c *gin.Context) {
	var input LotsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	result, err := h.ledger.ImportLots(c.Request.Context(), owner(c), input.requests())
	if err != nil {
		h.respondError(c, err)
		return
	}
	if result.Imported == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "No lots imported", "errors": result.Errors})
		return
	}
	c.JSON(http.StatusCreated, result)
}

func (h *Handler) DeleteLot(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	force := false
	if raw := c.Query("force"); raw != "" {
		var err error
		if force, err = strconv.ParseBool(raw); err != nil {
			badRequest(c, "Invalid force flag")
			return
		}
	}

	if err := h.ledger.DeleteLot(c.Request.Context(), owner(c), id, force); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Lot deleted successfully"})
}

func (h *Handler) CompareLot(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	cmp, err := h.valuation.CompareLot(c.Request.Context(), owner(c), id)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, cmp)
}

type ReinvestInput struct {
	Ticker string          `json:"ticker" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

type SaleInput struct {
	Ticker       string          `json:"ticker" binding:"required"`
	SaleDate     string          `json:"sale_date" binding:"required"`
	Shares       float64         `json:"shares"`
	Price        decimal.Decimal `json:"price"`
	Reinvestment *ReinvestInput  `json:"reinvestment"`
}

// CreateSale sells FIFO. With a reinvestment the sale, the purchase and
// their linkage are recorded together.
func (h *Handler) CreateSale(c *gin.Context) {
	var input SaleInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}
	d, err := parseDate(input.SaleDate)
	if err != nil {
		badRequest(c, fmt.Sprintf("sale_date: invalid date %q", input.SaleDate))
		return
	}
	req := ledger.SaleRequest{Ticker: input.Ticker, SaleDate: d, Shares: input.Shares, Price: input.Price}

	if input.Reinvestment == nil {
		sale, err := h.ledger.CreateSale(c.Request.Context(), owner(c), req)
		if err != nil {
			h.respondError(c, err)
			return
		}
		c.JSON(http.StatusCreated, viewSale(*sale))
		return
	}

	out, err := h.ledger.SellAndReinvest(c.Request.Context(), owner(c), req, ledger.ReinvestRequest{
		Ticker: input.Reinvestment.Ticker,
		Amount: input.Reinvestment.Amount,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"sale": viewSale(*out.Sale), "lot": viewLot(*out.Lot)})
}

func (h *Handler) ListSales(c *gin.Context) {
	sales, err := h.ledger.ListSales(c.Request.Context(), owner(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	out := make([]saleView, len(sales))
	for i, s := range sales {
		out[i] = viewSale(s)
	}
	c.JSON(http.StatusOK, out)
}

func (h *Handler) PreviewSale(c *gin.Context) {
	shares, err := strconv.ParseFloat(c.Query("shares"), 64)
	if err != nil {
		badRequest(c, "shares: must be a number")
		return
	}
	preview, err := h.ledger.PreviewFIFO(c.Request.Context(), owner(c), c.Query("ticker"), shares)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, preview)
}

func (h *Handler) DeleteSale(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	if err := h.ledger.DeleteSale(c.Request.Context(), owner(c), id); err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Sale deleted successfully"})
}

type LinkInput struct {
	LotID  uint            `json:"lot_id" binding:"required"`
	Amount decimal.Decimal `json:"amount"`
}

func (h *Handler) LinkReinvestment(c *gin.Context) {
	id, ok := parseID(c)
	if !ok {
		return
	}
	var input LinkInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return
	}

	sale, err := h.ledger.LinkReinvestment(c.Request.Context(), owner(c), id, input.LotID, input.Amount)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, viewSale(*sale))
}

func (h *Handler) PortfolioSummary(c *gin.Context) {
	sum, err := h.valuation.PortfolioSummary(c.Request.Context(), owner(c), h.benchmarksFrom(c.Query("benchmarks")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, sum)
}

func (h *Handler) PortfolioHistory(c *gin.Context) {
	hist, err := h.valuation.PortfolioHistory(c.Request.Context(), owner(c), h.benchmarksFrom(c.Query("benchmarks")))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, hist)
}

func (h *Handler) guestLots(c *gin.Context) ([]models.Lot, bool) {
	var input LotsInput
	if err := c.ShouldBindJSON(&input); err != nil {
		badRequest(c, err.Error())
		return nil, false
	}
	lots, err := h.ledger.GuestLots(c.Request.Context(), input.requests())
	if err != nil {
		h.respondError(c, err)
		return nil, false
	}
	return lots, true
}

// GuestSummary values lots posted by a visitor without storing them.
func (h *Handler) GuestSummary(c *gin.Context) {
	lots, ok := h.guestLots(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.valuation.GuestSummary(c.Request.Context(), lots))
}

func (h *Handler) GuestHistory(c *gin.Context) {
	lots, ok := h.guestLots(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, h.valuation.GuestHistory(c.Request.Context(), lots))
}
