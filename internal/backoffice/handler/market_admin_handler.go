package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// MarketAdminHandler serves /admin/markets endpoints.
type MarketAdminHandler struct {
	marketSvc     *service.MarketService
	lifecycleSvc  *service.LifecycleService
	settlementSvc *service.SettlementService
}

// NewMarketAdminHandler creates a MarketAdminHandler.
func NewMarketAdminHandler(
	marketSvc *service.MarketService,
	lifecycleSvc *service.LifecycleService,
	settlementSvc *service.SettlementService,
) *MarketAdminHandler {
	return &MarketAdminHandler{marketSvc: marketSvc, lifecycleSvc: lifecycleSvc, settlementSvc: settlementSvc}
}

// List godoc
// GET /admin/markets?status=CLOSED&page=1&limit=50
func (h *MarketAdminHandler) List(c *gin.Context) {
	status := domain.MarketStatus(strings.ToUpper(c.Query("status")))
	page, limit := adminPagination(c)
	offset := (page - 1) * limit

	markets, total, err := h.marketSvc.ListMarkets(c.Request.Context(), status, limit, offset)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondList(c, markets, total, page, limit)
}

// Detail godoc
// GET /admin/markets/:id
func (h *MarketAdminHandler) Detail(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}

	ctx := c.Request.Context()
	view, err := h.marketSvc.View(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	trades, err := h.marketSvc.Trades(ctx, id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	claims, err := h.marketSvc.Claims(ctx, repository.ClaimFilter{MarketID: id, Limit: 500})
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"market":    view,
		"positions": domain.FoldPositions(trades),
		"trades":    trades,
		"claims":    claims,
	})
}

// Create godoc
// POST /admin/markets
// Body: {"title":"…","type":"YES_NO","resolution_type":"PRICE_GE",
//
//	"source":{"provider":"DEXSCREENER","ref":{"chain":"base","pair_address":"0x…"},"threshold":"1.5"},
//	"closes_at":"…","resolves_at":"…"}
func (h *MarketAdminHandler) Create(c *gin.Context) {
	var body service.CreateMarketRequest
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}
	body.Type = domain.MarketType(strings.ToUpper(string(body.Type)))
	body.ResolutionType = domain.ResolutionType(strings.ToUpper(string(body.ResolutionType)))

	market, err := h.marketSvc.CreateMarket(c.Request.Context(), body)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusCreated, market)
}

// Resolve godoc
// POST /admin/markets/:id/resolve
// Body: {"winner":"YES","value":"1","reason":"announced on stage"}
func (h *MarketAdminHandler) Resolve(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	var body struct {
		Winner string `json:"winner" binding:"required"`
		Value  string `json:"value"`
		Reason string `json:"reason"`
	}
	if err := c.ShouldBindJSON(&body); err != nil {
		respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
		return
	}

	value := decimal.Zero
	if body.Value != "" {
		v, err := decimal.NewFromString(body.Value)
		if err != nil {
			respondError(c, http.StatusBadRequest, "ERR_INVALID_VALUE", "value must be a decimal string")
			return
		}
		value = v
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "manual resolution"
	}

	res, err := h.lifecycleSvc.Resolve(c.Request.Context(), id, domain.OutcomeKey(strings.ToUpper(body.Winner)), value, reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Cancel godoc
// POST /admin/markets/:id/cancel
// Body (optional): {"reason":"source delisted"}
func (h *MarketAdminHandler) Cancel(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	var body struct {
		Reason string `json:"reason"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&body); err != nil {
			respondError(c, http.StatusBadRequest, "ERR_VALIDATION", err.Error())
			return
		}
	}
	reason := strings.TrimSpace(body.Reason)
	if reason == "" {
		reason = "cancelled by admin"
	}

	res, err := h.lifecycleSvc.Cancel(c.Request.Context(), id, reason)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, res)
}

// Settle godoc
// POST /admin/markets/:id/settle
// Re-runs settlement for a terminal market; a settled market is left as is.
func (h *MarketAdminHandler) Settle(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	report, err := h.settlementSvc.Settle(c.Request.Context(), id)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, report)
}

// Tick godoc
// POST /admin/markets/:id/tick
// Runs one lifecycle step for the market now.
func (h *MarketAdminHandler) Tick(c *gin.Context) {
	id, ok := marketIDParam(c)
	if !ok {
		return
	}
	outcome, err := h.lifecycleSvc.Tick(c.Request.Context(), id, time.Now().UTC())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, gin.H{"market_id": id, "outcome": outcome})
}

// TickAll godoc
// POST /admin/tick
// Runs one lifecycle pass over every due market.
func (h *MarketAdminHandler) TickAll(c *gin.Context) {
	summary, err := h.lifecycleSvc.TickDue(c.Request.Context(), time.Now().UTC())
	if err != nil {
		respondDomainError(c, err)
		return
	}
	respondSuccess(c, http.StatusOK, summary)
}
