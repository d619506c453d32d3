package handler

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/oracle"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
	"github.com/shopspring/decimal"
)

// OracleMonitor is the oracle surface the admin views need. Implemented by
// oracle.Router.
type OracleMonitor interface {
	service.PriceOracle
	ProviderStatus() map[domain.OracleProvider]oracle.ProviderStatus
}

// RiskHandler serves /admin/risk endpoints.
type RiskHandler struct {
	marketSvc *service.MarketService
	oracle    OracleMonitor
}

// NewRiskHandler creates a RiskHandler.
func NewRiskHandler(marketSvc *service.MarketService, oracle OracleMonitor) *RiskHandler {
	return &RiskHandler{marketSvc: marketSvc, oracle: oracle}
}

// marketRisk is one OPEN market's pool balance.
type marketRisk struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	PoolUSD       decimal.Decimal `json:"pool_usd"`
	Chance        domain.Chance   `json:"chance"`
	RiskIndicator string          `json:"risk_indicator"`
}

// Live godoc
// GET /admin/risk/live
// Lists OPEN markets with a pool imbalance indicator.
func (h *RiskHandler) Live(c *gin.Context) {
	open, _, err := h.marketSvc.ListMarkets(c.Request.Context(), domain.StatusOpen, 500, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	out := make([]marketRisk, 0, len(open))
	for _, m := range open {
		out = append(out, marketRisk{
			ID:            m.ID.String(),
			Title:         m.Title,
			PoolUSD:       m.PoolUSD,
			Chance:        m.Chance,
			RiskIndicator: riskIndicator(m.Chance.Percentage),
		})
	}
	respondSuccess(c, http.StatusOK, gin.H{"markets": out})
}

// Alerts godoc
// GET /admin/risk/alerts
// Reports unhealthy oracle providers and CLOSED markets stuck on oracle misses.
func (h *RiskHandler) Alerts(c *gin.Context) {
	type Alert struct {
		Level   string `json:"level"`
		Message string `json:"message"`
	}
	alerts := []Alert{}

	for p, st := range h.oracle.ProviderStatus() {
		if st.LastFailure != nil && !st.Healthy {
			alerts = append(alerts, Alert{"RED", fmt.Sprintf("%s failing: %s", p, st.LastError)})
		}
	}

	closed, _, err := h.marketSvc.ListMarkets(c.Request.Context(), domain.StatusClosed, 500, 0)
	if err != nil {
		respondDomainError(c, err)
		return
	}
	for _, s := range closed {
		m, err := h.marketSvc.GetMarket(c.Request.Context(), s.ID)
		if err != nil || m.OracleFailures == 0 {
			continue
		}
		alerts = append(alerts, Alert{"YELLOW", fmt.Sprintf("%s: %d consecutive oracle misses", m.Title, m.OracleFailures)})
	}
	respondSuccess(c, http.StatusOK, gin.H{"alerts": alerts})
}

// OracleStatus godoc
// GET /admin/risk/oracle-status
func (h *RiskHandler) OracleStatus(c *gin.Context) {
	respondSuccess(c, http.StatusOK, h.oracle.ProviderStatus())
}

// OracleProbe godoc
// GET /admin/risk/oracle-probe?provider=DEXSCREENER&chain=base&pair=0x…
// GET /admin/risk/oracle-probe?provider=COINGECKO&base_id=bitcoin&rank=1
// Performs one live lookup so an admin can check a source before creating a
// market on it.
func (h *RiskHandler) OracleProbe(c *gin.Context) {
	provider := domain.OracleProvider(strings.ToUpper(c.Query("provider")))
	if !provider.IsValid() {
		respondError(c, http.StatusBadRequest, "ERR_INVALID_PROVIDER", "provider must be DEXSCREENER or COINGECKO")
		return
	}
	ref := domain.OracleRef{
		Chain:       c.Query("chain"),
		PairAddress: c.Query("pair"),
		BaseID:      c.Query("base_id"),
	}
	ctx := c.Request.Context()

	if c.Query("rank") != "" {
		q, ok := h.oracle.GetRank(ctx, ref)
		if !ok {
			respondError(c, http.StatusBadGateway, "ERR_ORACLE_UNAVAILABLE", domain.ErrOracleUnavailable.Error())
			return
		}
		respondSuccess(c, http.StatusOK, q)
		return
	}

	q, ok := h.oracle.GetPrice(ctx, provider, ref)
	if !ok {
		respondError(c, http.StatusBadGateway, "ERR_ORACLE_UNAVAILABLE", domain.ErrOracleUnavailable.Error())
		return
	}
	respondSuccess(c, http.StatusOK, q)
}

// riskIndicator returns GREEN/YELLOW/RED based on how lopsided the market is.
func riskIndicator(chancePct decimal.Decimal) string {
	dominant := chancePct
	if other := decimal.NewFromInt(100).Sub(chancePct); other.GreaterThan(dominant) {
		dominant = other
	}
	switch {
	case dominant.GreaterThan(decimal.NewFromInt(85)):
		return "RED"
	case dominant.GreaterThan(decimal.NewFromInt(70)):
		return "YELLOW"
	default:
		return "GREEN"
	}
}
