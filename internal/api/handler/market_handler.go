package handler

import (
	"net/http"
	"strings"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MarketHandler serves market query endpoints.
type MarketHandler struct {
	marketSvc *service.MarketService
	tradeSvc  *service.TradeService
}

// NewMarketHandler creates a MarketHandler.
func NewMarketHandler(marketSvc *service.MarketService, tradeSvc *service.TradeService) *MarketHandler {
	return &MarketHandler{marketSvc: marketSvc, tradeSvc: tradeSvc}
}

// ListMarkets godoc
// GET /api/markets?status=OPEN&page=1&limit=20
func (h *MarketHandler) ListMarkets(c *gin.Context) {
	status := domain.MarketStatus(strings.ToUpper(c.Query("status")))
	page, limit := parsePagination(c)
	offset := (page - 1) * limit

	markets, total, err := h.marketSvc.ListMarkets(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondDomainError(c, err, "could not list markets")
		return
	}
	respondList(c, markets, total, page, limit)
}

// GetByID godoc
// GET /api/markets/:id
func (h *MarketHandler) GetByID(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	view, err := h.marketSvc.View(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch market")
		return
	}
	respondSuccess(c, http.StatusOK, view)
}

// Quote godoc
// GET /api/markets/:id/quote?side=YES&amount=100
func (h *MarketHandler) Quote(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	amount, err := decimal.NewFromString(c.Query("amount"))
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a decimal string")
		return
	}
	side := domain.OutcomeKey(strings.ToUpper(c.Query("side")))

	quote, err := h.tradeSvc.Quote(c.Request.Context(), id, side, amount)
	if err != nil {
		respondDomainError(c, err, "could not quote trade")
		return
	}
	respondSuccess(c, http.StatusOK, quote)
}

// Trades godoc
// GET /api/markets/:id/trades
func (h *MarketHandler) Trades(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	trades, err := h.marketSvc.Trades(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err, "could not fetch trades")
		return
	}
	respondSuccess(c, http.StatusOK, trades)
}
