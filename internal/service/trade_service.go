package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/pointsmarket/internal/config"
	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TradeRequest is the input to TradeService.Execute.
type TradeRequest struct {
	MarketID  uuid.UUID         `json:"market_id"`
	Wallet    string            `json:"wallet"`
	Side      domain.OutcomeKey `json:"side"`
	AmountPts decimal.Decimal   `json:"amount_pts"`
}

// TradeResult is returned after a committed trade.
type TradeResult struct {
	Trade   *domain.Trade     `json:"trade"`
	Market  *domain.Market    `json:"market"`
	Chance  domain.Chance     `json:"chance"`
	Quote   domain.TradeQuote `json:"quote"`
	Balance decimal.Decimal   `json:"balance"`
}

// ──────────────────────────────────────────────────────────────────────────────
// TradeService
// ──────────────────────────────────────────────────────────────────────────────

// TradeService executes trades. The stake update, the balance debit and the
// trade record are written in one ledger transaction.
type TradeService struct {
	ledger   repository.Ledger
	cfg      *config.Config
	logger   *slog.Logger
	notifier Notifier
}

// NewTradeService creates a TradeService.
func NewTradeService(ledger repository.Ledger, cfg *config.Config, logger *slog.Logger) *TradeService {
	return &TradeService{ledger: ledger, cfg: cfg, logger: loggerOrDefault(logger)}
}

// SetNotifier injects the realtime notifier post-construction.
func (s *TradeService) SetNotifier(n Notifier) { s.notifier = n }

// Quote prices a hypothetical trade against the market's current pools. It
// performs no writes.
func (s *TradeService) Quote(ctx context.Context, marketID uuid.UUID, side domain.OutcomeKey, amount decimal.Decimal) (domain.TradeQuote, error) {
	if err := s.checkAmount(amount); err != nil {
		return domain.TradeQuote{}, err
	}
	m, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return domain.TradeQuote{}, fmt.Errorf("trade_service.Quote: %w", err)
	}
	if !m.AcceptsTradesAt(time.Now().UTC()) {
		return domain.TradeQuote{}, domain.ErrMarketNotOpen
	}
	return domain.CalculateTrade(m, side, amount)
}

// Execute validates and applies one trade. Validation failures leave the
// ledger untouched. A concurrency conflict is retried with fresh state up to
// Trading.MaxRetries times before it is returned.
func (s *TradeService) Execute(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	req.Wallet = domain.NormalizeAddress(req.Wallet)
	if req.Wallet == "" {
		return nil, domain.ErrInvalidWallet
	}
	if err := s.checkAmount(req.AmountPts); err != nil {
		return nil, err
	}

	attempts := max(s.cfg.Trading.MaxRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		res, err := s.execute(ctx, req)
		if err == nil {
			s.logger.Info("trade executed",
				"market", req.MarketID, "wallet", req.Wallet, "side", req.Side,
				"amount", req.AmountPts.String(), "price", res.Trade.Price.StringFixed(6))
			ev := domain.NewMarketEvent(domain.EventTradeExecuted, res.Market, res.Trade.Timestamp)
			ev.Trade = res.Trade
			notify(ctx, s.notifier, ev)
			return res, nil
		}
		if !errors.Is(err, domain.ErrConcurrencyConflict) {
			return nil, err
		}
		lastErr = err
		s.logger.Warn("trade conflict, retrying", "market", req.MarketID, "attempt", attempt, "err", err)
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("trade_service.Execute: %d attempts: %w", attempts, lastErr)
}

func (s *TradeService) execute(ctx context.Context, req TradeRequest) (*TradeResult, error) {
	var res *TradeResult
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		now := time.Now().UTC()

		// ── 1. Lock market and verify it accepts trades ───────────────────
		m, err := tx.LockMarket(ctx, req.MarketID)
		if err != nil {
			return err
		}
		if !m.AcceptsTradesAt(now) {
			return domain.ErrMarketNotOpen
		}
		if !m.Type.IsValidSide(req.Side) {
			return domain.ErrInvalidSide
		}

		// ── 2. Lock wallet and check balance ──────────────────────────────
		w, err := tx.EnsureWallet(ctx, req.Wallet, decimal.NewFromFloat(s.cfg.Wallet.StartingPoints), now)
		if err != nil {
			return err
		}
		if !w.CanAfford(req.AmountPts) {
			return domain.ErrInsufficientBalance
		}

		// ── 3. Price against pre-trade stakes ─────────────────────────────
		q, err := domain.CalculateTrade(m, req.Side, req.AmountPts)
		if err != nil {
			return err
		}

		// ── 4. Apply ──────────────────────────────────────────────────────
		if err = tx.UpdateMarketStakes(ctx, m.ID, req.Side, req.AmountPts); err != nil {
			return err
		}
		if err = tx.UpdateWalletPoints(ctx, req.Wallet, req.AmountPts.Neg()); err != nil {
			return err
		}
		trade := domain.NewTrade(m.ID, req.Wallet, q, now)
		if err = tx.CreateTrade(ctx, trade); err != nil {
			return err
		}

		m.AddStake(req.Side, req.AmountPts)
		m.UpdatedAt = now
		res = &TradeResult{
			Trade:   trade,
			Market:  m,
			Chance:  m.Chance(),
			Quote:   q,
			Balance: w.Points.Sub(req.AmountPts),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *TradeService) checkAmount(amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return domain.ErrInvalidAmount
	}
	if minAmt := decimal.NewFromFloat(s.cfg.Trading.MinAmountPts); amount.LessThan(minAmt) {
		return fmt.Errorf("%w: minimum trade is %s points", domain.ErrInvalidAmount, minAmt)
	}
	return nil
}
