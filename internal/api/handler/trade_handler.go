package handler

import (
	"net/http"
	"strings"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// TradeHandler serves trade placement.
type TradeHandler struct {
	tradeSvc *service.TradeService
}

// NewTradeHandler creates a TradeHandler.
func NewTradeHandler(tradeSvc *service.TradeService) *TradeHandler {
	return &TradeHandler{tradeSvc: tradeSvc}
}

// PlaceTrade godoc
// POST /api/markets/:id/trades
// Body: {"wallet":"0xabc","side":"YES","amount":"100"}
func (h *TradeHandler) PlaceTrade(c *gin.Context) {
	marketID, ok := marketIDParam(c)
	if !ok {
		return
	}

	var body struct {
		Wallet string `json:"wallet" binding:"required"`
		Side   string `json:"side"   binding:"required"`
		Amount string `json:"amount" binding:"required"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	amount, err := decimal.NewFromString(body.Amount)
	if err != nil {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_AMOUNT", "amount must be a positive decimal string")
		return
	}

	res, err := h.tradeSvc.Execute(c.Request.Context(), service.TradeRequest{
		MarketID:  marketID,
		Wallet:    body.Wallet,
		Side:      domain.OutcomeKey(strings.ToUpper(body.Side)),
		AmountPts: amount,
	})
	if err != nil {
		respondDomainError(c, err, "could not place trade")
		return
	}
	respondSuccess(c, http.StatusCreated, res)
}
