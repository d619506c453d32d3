package handler

import (
	"net/http"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// DashboardHandler serves the /admin/dashboard endpoint.
type DashboardHandler struct {
	marketSvc *service.MarketService
	oracle    OracleMonitor
	cfg       *config.Config
}

// NewDashboardHandler creates a DashboardHandler.
func NewDashboardHandler(marketSvc *service.MarketService, oracle OracleMonitor, cfg *config.Config) *DashboardHandler {
	return &DashboardHandler{marketSvc: marketSvc, oracle: oracle, cfg: cfg}
}

// Dashboard godoc
// GET /admin/dashboard
func (h *DashboardHandler) Dashboard(c *gin.Context) {
	stats, err := h.marketSvc.Stats(c.Request.Context())
	if err != nil {
		respondDomainError(c, err)
		return
	}

	respondSuccess(c, http.StatusOK, gin.H{
		"timestamp": time.Now().UTC(),
		"ledger":    stats,
		"oracle":    h.oracle.ProviderStatus(),
		"lifecycle": gin.H{
			"tick":                h.cfg.Lifecycle.TickSpec,
			"concurrency":         h.cfg.Lifecycle.Concurrency,
			"max_oracle_failures": h.cfg.Lifecycle.MaxOracleFailures,
		},
	})
}
