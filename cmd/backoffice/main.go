// Package main is the entry point for the back-office admin server. It runs
// on its own port behind an IP allowlist and publishes the events it raises
// to the API servers over Redis.
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/evetabi/pointsmarket/internal/backoffice"
	"github.com/evetabi/pointsmarket/internal/bootstrap"
	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/events"
	"github.com/evetabi/pointsmarket/internal/service"
)

func main() {
	// ── Config + logger ───────────────────────────────────────────────────────
	cfg := config.MustLoad()
	logger := bootstrap.NewLogger(cfg)
	logger.Info("starting pointsmarket backoffice server",
		"env", cfg.Server.Env, "port", cfg.Server.BackofficePort, "ledger", cfg.DB.Driver)

	// ── Signal context ────────────────────────────────────────────────────────
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// ── Ledger + Redis ────────────────────────────────────────────────────────
	ledger, closeLedger, err := bootstrap.OpenLedger(ctx, cfg, logger)
	if err != nil {
		logger.Error("ledger init failed", "err", err)
		os.Exit(1)
	}
	defer closeLedger()

	rdb, err := bootstrap.OpenRedis(ctx, cfg)
	if err != nil {
		logger.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	if rdb != nil {
		defer rdb.Close()
	}

	// ── Services ──────────────────────────────────────────────────────────────
	priceOracle := bootstrap.NewOracle(cfg, rdb, logger)
	settlementSvc := service.NewSettlementService(ledger, logger)
	lifecycleSvc := service.NewLifecycleService(ledger, priceOracle, settlementSvc, cfg, logger)
	marketSvc := service.NewMarketService(ledger, logger)

	if rdb != nil {
		bus := events.NewRedisBus(rdb, cfg.Redis.Channel, logger)
		settlementSvc.SetNotifier(bus)
		lifecycleSvc.SetNotifier(bus)
		marketSvc.SetNotifier(bus)
	} else {
		logger.Warn("redis not configured; admin actions will not reach websocket clients")
	}

	// ── Router ────────────────────────────────────────────────────────────────
	router := backoffice.SetupBackofficeRouter(backoffice.BackofficeDeps{
		MarketSvc:     marketSvc,
		LifecycleSvc:  lifecycleSvc,
		SettlementSvc: settlementSvc,
		Oracle:        priceOracle,
		Cfg:           cfg,
	})

	srv := &http.Server{
		Addr:         ":" + cfg.Server.BackofficePort,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// ── Start ─────────────────────────────────────────────────────────────────
	go func() {
		logger.Info("backoffice http server listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("backoffice server error", "err", err)
			stop()
		}
	}()

	// ── Graceful shutdown ─────────────────────────────────────────────────────
	<-ctx.Done()
	logger.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err = srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("backoffice shutdown error", "err", err)
	}
	logger.Info("backoffice server stopped cleanly")
}
