package api

import (
	"context"
	"net/http"

	"github.com/evetabi/pointsmarket/internal/api/handler"
	"github.com/evetabi/pointsmarket/internal/api/middleware"
	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/evetabi/pointsmarket/internal/ws"
	"github.com/gin-gonic/gin"
)

// RouterDeps bundles every dependency needed to build the router.
// Populated once in main() and passed to SetupRouter.
type RouterDeps struct {
	MarketSvc *service.MarketService
	TradeSvc  *service.TradeService
	WalletSvc *service.WalletService
	Hub       *ws.Hub
	Cfg       *config.Config
}

// SetupRouter creates and configures the main Gin engine with all routes,
// middleware, CORS, and rate limiting rules. ctx bounds the rate limiter's
// background eviction.
func SetupRouter(ctx context.Context, deps RouterDeps) *gin.Engine {
	if deps.Cfg.IsProd() {
		gin.SetMode(gin.ReleaseMode)
	}

	r := gin.New()
	r.Use(gin.Logger())
	r.Use(gin.Recovery())

	// ── CORS ─────────────────────────────────────────────────────────────────
	r.Use(corsMiddleware(deps.Cfg))

	// ── Health check ─────────────────────────────────────────────────────────
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── Handlers ─────────────────────────────────────────────────────────────
	marketH := handler.NewMarketHandler(deps.MarketSvc, deps.TradeSvc)
	tradeH := handler.NewTradeHandler(deps.TradeSvc)
	walletH := handler.NewWalletHandler(deps.WalletSvc, deps.MarketSvc)

	// ── Rate limiter (write routes) ───────────────────────────────────────────
	writeRL := middleware.RateLimitMiddleware(ctx, deps.Cfg.Server.RateLimitRPS)

	api := r.Group("/api")
	{
		markets := api.Group("/markets")
		{
			markets.GET("", marketH.ListMarkets)
			markets.GET("/:id", marketH.GetByID)
			markets.GET("/:id/quote", marketH.Quote)
			markets.GET("/:id/trades", marketH.Trades)
			markets.POST("/:id/trades", writeRL, tradeH.PlaceTrade)
		}

		wallets := api.Group("/wallets/:address")
		{
			wallets.GET("", walletH.GetWallet)
			wallets.GET("/positions", walletH.GetPositions)
			wallets.GET("/trades", walletH.GetTrades)
			wallets.GET("/claims", walletH.GetClaims)
			wallets.POST("/faucet", writeRL, walletH.ClaimFaucet)
		}
	}

	// ── WebSocket ─────────────────────────────────────────────────────────────
	if deps.Hub != nil {
		r.GET("/ws", func(c *gin.Context) {
			deps.Hub.ServeWs(c.Writer, c.Request)
		})
	}

	return r
}

// ── CORS helper ───────────────────────────────────────────────────────────────

// corsMiddleware returns a gin middleware that sets appropriate CORS headers.
// Outside production all origins are allowed; in production only the
// configured WS_ALLOWED_ORIGINS.
func corsMiddleware(cfg *config.Config) gin.HandlerFunc {
	allowed := make(map[string]bool, len(cfg.Server.WSAllowedOrigins))
	for _, o := range cfg.Server.WSAllowedOrigins {
		allowed[o] = true
	}

	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")

		if !cfg.IsProd() || allowed["*"] {
			c.Header("Access-Control-Allow-Origin", "*")
		} else if origin != "" && allowed[origin] {
			c.Header("Access-Control-Allow-Origin", origin)
			c.Header("Vary", "Origin")
		}

		c.Header("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Content-Type, X-Request-ID")
		c.Header("Access-Control-Max-Age", "86400")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}
