// Package backoffice serves the admin API on its own port, guarded by an IP
// allowlist.
package backoffice

import (
	"net/http"
	"strings"

	"github.com/evetabi/pointsmarket/internal/backoffice/handler"
	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/gin-gonic/gin"
)

// BackofficeDeps bundles every dependency needed for the admin router.
type BackofficeDeps struct {
	MarketSvc     *service.MarketService
	LifecycleSvc  *service.LifecycleService
	SettlementSvc *service.SettlementService
	Oracle        handler.OracleMonitor
	Cfg           *config.Config
}

// SetupBackofficeRouter creates the admin Gin engine.
func SetupBackofficeRouter(deps BackofficeDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(ipWhitelistMiddleware(deps.Cfg.Server.BackofficeAllowedIPs))

	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	dashH := handler.NewDashboardHandler(deps.MarketSvc, deps.Oracle, deps.Cfg)
	marketH := handler.NewMarketAdminHandler(deps.MarketSvc, deps.LifecycleSvc, deps.SettlementSvc)
	riskH := handler.NewRiskHandler(deps.MarketSvc, deps.Oracle)

	admin := r.Group("/admin")
	{
		admin.GET("/dashboard", dashH.Dashboard)
		admin.POST("/tick", marketH.TickAll)

		// Markets
		m := admin.Group("/markets")
		{
			m.GET("", marketH.List)
			m.POST("", marketH.Create)
			m.GET("/:id", marketH.Detail)
			m.POST("/:id/resolve", marketH.Resolve)
			m.POST("/:id/cancel", marketH.Cancel)
			m.POST("/:id/settle", marketH.Settle)
			m.POST("/:id/tick", marketH.Tick)
		}

		// Risk
		risk := admin.Group("/risk")
		{
			risk.GET("/live", riskH.Live)
			risk.GET("/alerts", riskH.Alerts)
			risk.GET("/oracle-status", riskH.OracleStatus)
			risk.GET("/oracle-probe", riskH.OracleProbe)
		}
	}

	return r
}

// ── IP whitelist middleware ───────────────────────────────────────────────────

// ipWhitelistMiddleware blocks requests from IPs not in the allowlist.
// allowedIPs is a comma-separated string; empty means allow all.
func ipWhitelistMiddleware(allowedIPs string) gin.HandlerFunc {
	if allowedIPs == "" {
		return func(c *gin.Context) { c.Next() } // dev mode: no restriction
	}

	allowed := make(map[string]bool)
	for _, ip := range strings.Split(allowedIPs, ",") {
		ip = strings.TrimSpace(ip)
		if ip != "" {
			allowed[ip] = true
		}
	}

	return func(c *gin.Context) {
		if !allowed[c.ClientIP()] {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"error":   "access denied: your IP is not whitelisted",
				"code":    "ERR_FORBIDDEN",
			})
			return
		}
		c.Next()
	}
}
