package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/evetabi/pointsmarket/internal/repository"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// payoutPrecision is the number of decimal places a payout is truncated to.
// Truncation keeps the sum of payouts within the pool.
const payoutPrecision = 18

// SettlementReport summarises one settlement run.
type SettlementReport struct {
	MarketID       uuid.UUID             `json:"market_id"`
	Status         domain.MarketStatus   `json:"status"`
	Claims         []*domain.ClaimRecord `json:"claims"`
	Created        int                   `json:"created"`
	Paid           decimal.Decimal       `json:"paid"`
	AlreadySettled bool                  `json:"already_settled"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Pure planners
// ──────────────────────────────────────────────────────────────────────────────

// Distribute plans the payouts of a RESOLVED market. Every winning share
// redeems for one point; when the pool cannot cover all winning shares each
// payout is scaled by poolUSD / totalWinningShares, so the total paid never
// exceeds the pool.
//
// One claim is returned per wallet with a non-zero payout. CostBasis on a
// claim is everything the wallet paid into the market, on either side.
func Distribute(m *domain.Market, trades []*domain.Trade) ([]*domain.ClaimRecord, error) {
	if m == nil {
		return nil, domain.ErrMarketNotFound
	}
	if m.Status != domain.StatusResolved || m.Resolution == nil {
		return nil, fmt.Errorf("%w: cannot distribute a %s market", domain.ErrInvalidTransition, m.Status)
	}
	winner := m.Resolution.Winner

	positions := domain.FoldPositions(marketTrades(m.ID, trades))
	costs := costBasisByWallet(positions)

	totalWinning := decimal.Zero
	for _, p := range positions {
		if p.Side == winner {
			totalWinning = totalWinning.Add(p.Shares)
		}
	}
	capped := totalWinning.GreaterThan(m.PoolUSD)

	var claims []*domain.ClaimRecord
	for _, p := range positions {
		if p.Side != winner || !p.Shares.IsPositive() {
			continue
		}
		payout := p.Shares
		if capped {
			payout, _ = m.PoolUSD.Mul(p.Shares).QuoRem(totalWinning, payoutPrecision)
		}
		if !payout.IsPositive() {
			continue
		}
		claims = append(claims, &domain.ClaimRecord{
			ID:        uuid.New(),
			Wallet:    p.Wallet,
			MarketID:  m.ID,
			Side:      winner,
			Amount:    payout,
			CostBasis: costs[p.Wallet],
			Kind:      domain.ClaimPayout,
		})
	}
	return claims, nil
}

// Refunds plans the refunds of a CANCELLED market: one claim per wallet
// returning its total cost basis.
func Refunds(m *domain.Market, trades []*domain.Trade) ([]*domain.ClaimRecord, error) {
	if m == nil {
		return nil, domain.ErrMarketNotFound
	}
	if m.Status != domain.StatusCancelled {
		return nil, fmt.Errorf("%w: cannot refund a %s market", domain.ErrInvalidTransition, m.Status)
	}
	positions := domain.FoldPositions(marketTrades(m.ID, trades))
	costs := costBasisByWallet(positions)

	var claims []*domain.ClaimRecord
	seen := make(map[string]bool, len(costs))
	for _, p := range positions {
		if seen[p.Wallet] {
			continue
		}
		seen[p.Wallet] = true
		if !costs[p.Wallet].IsPositive() {
			continue
		}
		claims = append(claims, &domain.ClaimRecord{
			ID:        uuid.New(),
			Wallet:    p.Wallet,
			MarketID:  m.ID,
			Amount:    costs[p.Wallet],
			CostBasis: costs[p.Wallet],
			Kind:      domain.ClaimRefund,
		})
	}
	return claims, nil
}

func marketTrades(id uuid.UUID, trades []*domain.Trade) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(trades))
	for _, t := range trades {
		if t.MarketID == id {
			out = append(out, t)
		}
	}
	return out
}

func costBasisByWallet(positions []*domain.Position) map[string]decimal.Decimal {
	out := make(map[string]decimal.Decimal)
	for _, p := range positions {
		out[p.Wallet] = out[p.Wallet].Add(p.CostBasis)
	}
	return out
}

// ──────────────────────────────────────────────────────────────────────────────
// SettlementService
// ──────────────────────────────────────────────────────────────────────────────

// SettlementService applies payouts and refunds to the ledger. Settlement is
// idempotent: the market's SettledAt stamp and the per-(market, wallet, kind)
// claim uniqueness each prevent a second credit.
type SettlementService struct {
	ledger   repository.Ledger
	logger   *slog.Logger
	notifier Notifier
}

// NewSettlementService creates a SettlementService.
func NewSettlementService(ledger repository.Ledger, logger *slog.Logger) *SettlementService {
	return &SettlementService{ledger: ledger, logger: loggerOrDefault(logger)}
}

// SetNotifier injects the realtime notifier post-construction.
func (s *SettlementService) SetNotifier(n Notifier) { s.notifier = n }

// Settle pays out a RESOLVED market or refunds a CANCELLED one. Running it
// again on a settled market is a no-op.
func (s *SettlementService) Settle(ctx context.Context, marketID uuid.UUID) (*SettlementReport, error) {
	var report *SettlementReport
	err := s.ledger.InTx(ctx, func(tx repository.Tx) error {
		m, err := tx.LockMarket(ctx, marketID)
		if err != nil {
			return err
		}
		report, err = s.settleTx(ctx, tx, m, time.Now().UTC())
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Settle %s: %w", marketID, err)
	}
	s.announce(ctx, report)
	return report, nil
}

// Refund settles a CANCELLED market. It fails for any other status.
func (s *SettlementService) Refund(ctx context.Context, marketID uuid.UUID) (*SettlementReport, error) {
	m, err := s.ledger.GetMarket(ctx, marketID)
	if err != nil {
		return nil, fmt.Errorf("settlement_service.Refund: %w", err)
	}
	if m.Status != domain.StatusCancelled {
		return nil, fmt.Errorf("settlement_service.Refund: %w: market is %s", domain.ErrInvalidTransition, m.Status)
	}
	return s.Settle(ctx, marketID)
}

// settleTx runs inside the caller's transaction with m locked.
func (s *SettlementService) settleTx(ctx context.Context, tx repository.Tx, m *domain.Market, now time.Time) (*SettlementReport, error) {
	report := &SettlementReport{MarketID: m.ID, Status: m.Status, Paid: decimal.Zero}
	if m.SettledAt != nil {
		report.AlreadySettled = true
		return report, nil
	}

	trades, err := tx.ListTradesForMarket(ctx, m.ID)
	if err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}

	var claims []*domain.ClaimRecord
	switch m.Status {
	case domain.StatusResolved:
		claims, err = Distribute(m, trades)
	case domain.StatusCancelled:
		claims, err = Refunds(m, trades)
	default:
		err = fmt.Errorf("%w: market is %s", domain.ErrInvalidTransition, m.Status)
	}
	if err != nil {
		return nil, err
	}

	claimed := make(map[string]bool, len(claims))
	for _, c := range claims {
		c.Ts = now
		claimed[c.Wallet] = true
		created, err := tx.CreateClaim(ctx, c)
		if err != nil {
			return nil, fmt.Errorf("create claim %s: %w", c.Wallet, err)
		}
		if !created {
			continue
		}
		if err = tx.UpdateWalletPoints(ctx, c.Wallet, c.Amount); err != nil {
			return nil, fmt.Errorf("credit %s: %w", c.Wallet, err)
		}
		if profit := c.Profit(); !profit.IsZero() {
			if err = tx.UpdateWalletPnL(ctx, c.Wallet, profit); err != nil {
				return nil, fmt.Errorf("pnl %s: %w", c.Wallet, err)
			}
		}
		report.Claims = append(report.Claims, c)
		report.Created++
		report.Paid = report.Paid.Add(c.Amount)
	}

	// Wallets with nothing to claim realise their whole cost basis as a loss.
	if m.Status == domain.StatusResolved {
		for addr, cost := range costBasisByWallet(domain.FoldPositions(marketTrades(m.ID, trades))) {
			if claimed[addr] || !cost.IsPositive() {
				continue
			}
			if err = tx.UpdateWalletPnL(ctx, addr, cost.Neg()); err != nil {
				return nil, fmt.Errorf("pnl %s: %w", addr, err)
			}
		}
	}

	if err = tx.MarkSettled(ctx, m.ID, now); err != nil {
		return nil, fmt.Errorf("mark settled: %w", err)
	}
	m.SettledAt = &now

	s.logger.Info("market settled",
		"market", m.ID, "status", m.Status, "claims", report.Created, "paid", report.Paid.String())
	return report, nil
}

// announce publishes claims_settled for a settlement that wrote claims.
func (s *SettlementService) announce(ctx context.Context, r *SettlementReport) {
	if r == nil || r.AlreadySettled {
		return
	}
	paid := r.Paid
	notify(ctx, s.notifier, domain.MarketEvent{
		Type:     domain.EventClaimsSettled,
		MarketID: r.MarketID,
		Claims:   r.Created,
		Paid:     &paid,
		Ts:       time.Now().UTC(),
	})
}
