package service

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// CreateMarketRequest is the admin input for a new market.
type CreateMarketRequest struct {
	Title          string                `json:"title"`
	Type           domain.MarketType     `json:"type"`
	LabelFirst     string                `json:"label_first"`
	LabelSecond    string                `json:"label_second"`
	ResolutionType domain.ResolutionType `json:"resolution_type"`
	Source         domain.Source         `json:"source"`
	ClosesAt       time.Time             `json:"closes_at"`
	ResolvesAt     time.Time             `json:"resolves_at"`
}

// MarketView is a market with its displayed chance and per-side prices.
type MarketView struct {
	*domain.Market
	Chance domain.Chance                        `json:"chance"`
	Prices map[domain.OutcomeKey]decimal.Decimal `json:"prices"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketService
// ──────────────────────────────────────────────────────────────────────────────

// MarketService handles market creation and the read models served by the
// public and admin APIs.
type MarketService struct {
	ledger   repository.Ledger
	logger   *slog.Logger
	notifier Notifier
}

// NewMarketService creates a MarketService.
func NewMarketService(ledger repository.Ledger, logger *slog.Logger) *MarketService {
	return &MarketService{ledger: ledger, logger: loggerOrDefault(logger)}
}

// SetNotifier injects the realtime notifier post-construction.
func (s *MarketService) SetNotifier(n Notifier) { s.notifier = n }

// CreateMarket validates the request and opens a new market with empty pools.
func (s *MarketService) CreateMarket(ctx context.Context, req CreateMarketRequest) (*domain.Market, error) {
	now := time.Now().UTC()
	title := strings.TrimSpace(req.Title)
	if title == "" {
		return nil, fmt.Errorf("%w: title is required", domain.ErrInvalidMarket)
	}
	if !req.ClosesAt.After(now) {
		return nil, fmt.Errorf("%w: closes_at must be in the future", domain.ErrInvalidMarket)
	}

	m := &domain.Market{
		ID:             uuid.New(),
		Title:          title,
		Type:           req.Type,
		Outcomes:       domain.DefaultOutcomes(req.Type, req.LabelFirst, req.LabelSecond),
		ResolutionType: req.ResolutionType,
		Source:         req.Source,
		YesStake:       decimal.Zero,
		NoStake:        decimal.Zero,
		AStake:         decimal.Zero,
		BStake:         decimal.Zero,
		PoolUSD:        decimal.Zero,
		Status:         domain.StatusOpen,
		ClosesAt:       req.ClosesAt.UTC(),
		ResolvesAt:     req.ResolvesAt.UTC(),
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}

	if err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		return tx.CreateMarket(ctx, m)
	}); err != nil {
		return nil, fmt.Errorf("market_service.CreateMarket: %w", err)
	}

	s.logger.Info("market created", "market", m.ID, "type", m.Type, "resolution", m.ResolutionType, "closes_at", m.ClosesAt)
	notify(ctx, s.notifier, domain.NewMarketEvent(domain.EventMarketStatus, m, now))
	return m, nil
}

// GetMarket returns one market.
func (s *MarketService) GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	m, err := s.ledger.GetMarket(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("market_service.GetMarket: %w", err)
	}
	return m, nil
}

// View returns the market with its chance and the price of each side.
func (s *MarketService) View(ctx context.Context, id uuid.UUID) (*MarketView, error) {
	m, err := s.GetMarket(ctx, id)
	if err != nil {
		return nil, err
	}
	return newMarketView(m), nil
}

func newMarketView(m *domain.Market) *MarketView {
	first, second := m.Type.Outcomes()
	return &MarketView{
		Market: m,
		Chance: m.Chance(),
		Prices: map[domain.OutcomeKey]decimal.Decimal{
			first:  domain.ComputePrice(first, m.YesStake, m.NoStake, m.AStake, m.BStake, m.Type),
			second: domain.ComputePrice(second, m.YesStake, m.NoStake, m.AStake, m.BStake, m.Type),
		},
	}
}

// ListMarkets returns a page of summaries and the total matching count.
// status="" returns all statuses.
func (s *MarketService) ListMarkets(ctx context.Context, status domain.MarketStatus, limit, offset int) ([]domain.MarketSummary, int, error) {
	if status != "" && !status.IsValid() {
		return nil, 0, fmt.Errorf("%w: unknown status %q", domain.ErrInvalidMarket, status)
	}
	markets, total, err := s.ledger.ListMarkets(ctx, repository.MarketFilter{Status: status, Limit: limit, Offset: offset})
	if err != nil {
		return nil, 0, fmt.Errorf("market_service.ListMarkets: %w", err)
	}
	out := make([]domain.MarketSummary, 0, len(markets))
	for _, m := range markets {
		out = append(out, m.ToSummary())
	}
	return out, total, nil
}

// Trades returns every trade on the market, oldest first.
func (s *MarketService) Trades(ctx context.Context, marketID uuid.UUID) ([]*domain.Trade, error) {
	if _, err := s.ledger.GetMarket(ctx, marketID); err != nil {
		return nil, fmt.Errorf("market_service.Trades: %w", err)
	}
	trades, err := s.ledger.ListTradesForMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("market_service.Trades: %w", err)
	}
	return trades, nil
}

// Positions returns the wallet's positions, folded from its trades and priced
// against each market's current pools.
func (s *MarketService) Positions(ctx context.Context, wallet string) ([]domain.PositionView, error) {
	wallet = domain.NormalizeAddress(wallet)
	if wallet == "" {
		return nil, domain.ErrInvalidWallet
	}

	const page = 500
	var trades []*domain.Trade
	for offset := 0; ; offset += page {
		batch, err := s.ledger.ListTradesForWallet(ctx, wallet, page, offset)
		if err != nil {
			return nil, fmt.Errorf("market_service.Positions: %w", err)
		}
		trades = append(trades, batch...)
		if len(batch) < page {
			break
		}
	}

	positions := domain.FoldPositions(trades)
	markets := make(map[uuid.UUID]*domain.Market)
	out := make([]domain.PositionView, 0, len(positions))
	for _, p := range positions {
		m, ok := markets[p.MarketID]
		if !ok {
			var err error
			if m, err = s.ledger.GetMarket(ctx, p.MarketID); err != nil {
				return nil, fmt.Errorf("market_service.Positions: %w", err)
			}
			markets[p.MarketID] = m
		}
		out = append(out, domain.ViewPosition(p, m))
	}
	return out, nil
}

// WalletTrades returns a page of the wallet's trades, newest first.
func (s *MarketService) WalletTrades(ctx context.Context, wallet string, limit, offset int) ([]*domain.Trade, error) {
	wallet = domain.NormalizeAddress(wallet)
	if wallet == "" {
		return nil, domain.ErrInvalidWallet
	}
	trades, err := s.ledger.ListTradesForWallet(ctx, wallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("market_service.WalletTrades: %w", err)
	}
	return trades, nil
}

// Claims returns settlement claims matching f.
func (s *MarketService) Claims(ctx context.Context, f repository.ClaimFilter) ([]*domain.ClaimRecord, error) {
	f.Wallet = domain.NormalizeAddress(f.Wallet)
	claims, err := s.ledger.ListClaims(ctx, f)
	if err != nil {
		return nil, fmt.Errorf("market_service.Claims: %w", err)
	}
	return claims, nil
}

// Stats returns the ledger aggregates for the admin dashboard.
func (s *MarketService) Stats(ctx context.Context) (*repository.Stats, error) {
	st, err := s.ledger.Stats(ctx)
	if err != nil {
		return nil, fmt.Errorf("market_service.Stats: %w", err)
	}
	return st, nil
}
