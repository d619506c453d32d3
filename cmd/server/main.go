// Package main is the entry point for the points prediction market API
// server. It wires together all services and starts the HTTP server
// alongside the WebSocket hub and the lifecycle scheduler.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/pointsmarket/internal/api"
	"github.com/evetabi/pointsmarket/internal/bootstrap"
	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/events"
	"github.com/evetabi/pointsmarket/internal/scheduler"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/evetabi/pointsmarket/internal/ws"
)

func main() {
	// ── 1. Config + logger ────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := bootstrap.NewLogger(cfg)
	logger.Info("starting pointsmarket server", "env", cfg.Server.Env, "port", cfg.Server.Port, "ledger", cfg.DB.Driver)

	// ── 2. Root context + signal handling ─────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── 3. Ledger ─────────────────────────────────────────────────────────────
	ledger, closeLedger, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("ledger init failed", "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	// ── 4. Redis (optional) ───────────────────────────────────────────────────
	rdb, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
		logger.Info("redis connected", "addr", cfg.Redis.Addr)
	}

	// ── 5. Services (order matters for injection) ─────────────────────────────
	priceOracle := bootstrap.NewOracle(cfg, rdb, logger)
	tradeSvc := service.NewTradeService(ledger, cfg, logger)
	settlementSvc := service.NewSettlementService(ledger, logger)
	lifecycleSvc := service.NewLifecycleService(ledger, priceOracle, settlementSvc, cfg, logger)
	marketSvc := service.NewMarketService(ledger, logger)
	walletSvc := service.NewWalletService(ledger, cfg, logger)

	// ── 6. Realtime fan-out ───────────────────────────────────────────────────
	hub := ws.NewHub(cfg.Server.WSAllowedOrigins, logger)
	go hub.Run(ctx)
	logger.Info("websocket hub started")

	var notifier service.Notifier = hub
	if rdb != nil {
		bus := events.NewRedisBus(rdb, cfg.Redis.Channel, logger)
		if err = bus.Subscribe(ctx, hub); err != nil {
			logger.Error("event bus subscribe failed", "err", err)
			os.Exit(1)
		}
		notifier = events.NewFanout(hub, bus)
		logger.Info("event bus subscribed", "channel", cfg.Redis.Channel)
	}
	tradeSvc.SetNotifier(notifier)
	settlementSvc.SetNotifier(notifier)
	lifecycleSvc.SetNotifier(notifier)
	marketSvc.SetNotifier(notifier)

	// ── 7. Scheduler ──────────────────────────────────────────────────────────
	sched := scheduler.NewScheduler(lifecycleSvc, cfg, logger)
	if err = sched.Start(ctx); err != nil {
		logger.Error("scheduler start failed", "err", err)
		os.Exit(1)
	}

	// ── 8. HTTP Router ────────────────────────────────────────────────────────
	router := api.SetupRouter(ctx, api.RouterDeps{
		MarketSvc: marketSvc,
		TradeSvc:  tradeSvc,
		WalletSvc: walletSvc,
		Hub:       hub,
		Cfg:       cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── 9. Start server ───────────────────────────────────────────────────────
	go func() {
		logger.Info("http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
			stop() // trigger graceful shutdown
		}
	}()

	// ── 10. Graceful shutdown ─────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received, draining connections")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown error", "err", err)
	}
	sched.Stop()
	logger.Info("server stopped cleanly")
}
