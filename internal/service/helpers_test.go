package service_test

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/evetabi/pointsmarket/internal/service"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ── Fakes ─────────────────────────────────────────────────────────────────────

type fakeOracle struct {
	mu         sync.Mutex
	price      decimal.Decimal
	priceOK    bool
	ranks      map[string]int
	priceCalls int
	rankCalls  int
}

func (f *fakeOracle) GetPrice(_ context.Context, p domain.OracleProvider, ref domain.OracleRef) (domain.PriceQuote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.priceCalls++
	if !f.priceOK {
		return domain.PriceQuote{}, false
	}
	return domain.PriceQuote{Provider: p, Ref: ref, PriceUSD: f.price, Ts: time.Now()}, true
}

func (f *fakeOracle) GetRank(_ context.Context, ref domain.OracleRef) (domain.RankQuote, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rankCalls++
	r, ok := f.ranks[ref.BaseID]
	if !ok {
		return domain.RankQuote{}, false
	}
	return domain.RankQuote{Ref: ref, Rank: r, Ts: time.Now()}, true
}

func (f *fakeOracle) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.priceCalls + f.rankCalls
}

type recorder struct {
	mu     sync.Mutex
	events []domain.MarketEvent
}

func (r *recorder) Notify(_ context.Context, ev domain.MarketEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) types() []domain.EventType {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]domain.EventType, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

// ── Harness ───────────────────────────────────────────────────────────────────

type harness struct {
	ledger     *repository.MemoryLedger
	cfg        *config.Config
	oracle     *fakeOracle
	events     *recorder
	trades     *service.TradeService
	settlement *service.SettlementService
	lifecycle  *service.LifecycleService
	markets    *service.MarketService
	wallets    *service.WalletService
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := config.Defaults()
	cfg.DB.Driver = "memory"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	h := &harness{
		ledger: repository.NewMemoryLedger(),
		cfg:    cfg,
		oracle: &fakeOracle{},
		events: &recorder{},
	}
	h.trades = service.NewTradeService(h.ledger, cfg, logger)
	h.settlement = service.NewSettlementService(h.ledger, logger)
	h.lifecycle = service.NewLifecycleService(h.ledger, h.oracle, h.settlement, cfg, logger)
	h.markets = service.NewMarketService(h.ledger, logger)
	h.wallets = service.NewWalletService(h.ledger, cfg, logger)

	h.trades.SetNotifier(h.events)
	h.settlement.SetNotifier(h.events)
	h.lifecycle.SetNotifier(h.events)
	h.markets.SetNotifier(h.events)
	return h
}

// market stores an OPEN YES_NO MANUAL market closing in an hour, after
// applying mutate.
func (h *harness) market(t *testing.T, mutate func(m *domain.Market)) *domain.Market {
	t.Helper()
	now := time.Now().UTC()
	m := &domain.Market{
		ID:             uuid.New(),
		Title:          "Test market",
		Type:           domain.MarketYesNo,
		Outcomes:       domain.DefaultOutcomes(domain.MarketYesNo, "", ""),
		ResolutionType: domain.ResolveManual,
		Status:         domain.StatusOpen,
		ClosesAt:       now.Add(time.Hour),
		ResolvesAt:     now.Add(2 * time.Hour),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if mutate != nil {
		mutate(m)
	}
	err := h.ledger.InTx(context.Background(), func(tx repository.Tx) error {
		return tx.CreateMarket(context.Background(), m)
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

func (h *harness) wallet(t *testing.T, addr string, points int64) {
	t.Helper()
	err := h.ledger.InTx(context.Background(), func(tx repository.Tx) error {
		_, err := tx.EnsureWallet(context.Background(), addr, decimal.NewFromInt(points), time.Now().UTC())
		return err
	})
	if err != nil {
		t.Fatalf("create wallet: %v", err)
	}
}

func (h *harness) trade(t *testing.T, marketID uuid.UUID, wallet string, side domain.OutcomeKey, amount int64) *service.TradeResult {
	t.Helper()
	res, err := h.trades.Execute(context.Background(), service.TradeRequest{
		MarketID: marketID, Wallet: wallet, Side: side, AmountPts: decimal.NewFromInt(amount),
	})
	if err != nil {
		t.Fatalf("trade %s %s %d: %v", wallet, side, amount, err)
	}
	return res
}

func (h *harness) getMarket(t *testing.T, id uuid.UUID) *domain.Market {
	t.Helper()
	m, err := h.ledger.GetMarket(context.Background(), id)
	if err != nil {
		t.Fatalf("get market: %v", err)
	}
	return m
}

func (h *harness) getWallet(t *testing.T, addr string) *domain.Wallet {
	t.Helper()
	w, err := h.ledger.GetWallet(context.Background(), addr)
	if err != nil {
		t.Fatalf("get wallet %s: %v", addr, err)
	}
	return w
}

func pts(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func assertDecimal(t *testing.T, what string, got, want decimal.Decimal) {
	t.Helper()
	if !got.Equal(want) {
		t.Errorf("%s = %s, want %s", what, got, want)
	}
}
