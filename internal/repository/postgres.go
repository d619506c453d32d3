package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/shopspring/decimal"
)

// PostgresLedger is the production Ledger backed by PostgreSQL.
type PostgresLedger struct {
	db      *sqlx.DB
	markets *MarketRepository
	trades  *TradeRepository
	wallets *WalletRepository
	claims  *ClaimRepository
}

// NewPostgresLedger wires the table repositories over one connection pool.
func NewPostgresLedger(db *sqlx.DB) *PostgresLedger {
	return &PostgresLedger{
		db:      db,
		markets: NewMarketRepository(db),
		trades:  NewTradeRepository(db),
		wallets: NewWalletRepository(db),
		claims:  NewClaimRepository(db),
	}
}

// InTx opens a transaction, runs fn and commits. Any error from fn or from
// the commit rolls everything back.
func (l *PostgresLedger) InTx(ctx context.Context, fn func(tx Tx) error) (err error) {
	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("ledger.InTx: begin: %w", classify(err))
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = fn(&pgTx{l: l, tx: tx}); err != nil {
		return classify(err)
	}
	if err = tx.Commit(); err != nil {
		return fmt.Errorf("ledger.InTx: commit: %w", classify(err))
	}
	return nil
}

func (l *PostgresLedger) GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	return l.markets.GetByID(ctx, id)
}

func (l *PostgresLedger) ListMarkets(ctx context.Context, f MarketFilter) ([]*domain.Market, int, error) {
	return l.markets.List(ctx, normalizeLimit(f.Limit), max(f.Offset, 0), string(f.Status))
}

func (l *PostgresLedger) ListDueMarkets(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	return l.markets.GetDue(ctx, now)
}

func (l *PostgresLedger) ListTradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Trade, error) {
	return l.trades.ListByMarket(ctx, l.db, marketID)
}

func (l *PostgresLedger) ListTradesForWallet(ctx context.Context, addr string, limit, offset int) ([]*domain.Trade, error) {
	return l.trades.ListByWallet(ctx, addr, normalizeLimit(limit), max(offset, 0))
}

func (l *PostgresLedger) GetWallet(ctx context.Context, addr string) (*domain.Wallet, error) {
	return l.wallets.GetByAddress(ctx, addr)
}

func (l *PostgresLedger) ListClaims(ctx context.Context, f ClaimFilter) ([]*domain.ClaimRecord, error) {
	return l.claims.List(ctx, f)
}

func (l *PostgresLedger) Stats(ctx context.Context) (*Stats, error) {
	byStatus, err := l.markets.CountByStatus(ctx)
	if err != nil {
		return nil, err
	}
	trades, volume, err := l.trades.Totals(ctx)
	if err != nil {
		return nil, err
	}
	wallets, points, err := l.wallets.Totals(ctx)
	if err != nil {
		return nil, err
	}
	paid, refunded, err := l.claims.Totals(ctx)
	if err != nil {
		return nil, err
	}
	return &Stats{
		MarketsByStatus: byStatus,
		Wallets:         wallets,
		Trades:          trades,
		VolumePts:       volume,
		PaidOutPts:      paid,
		RefundedPts:     refunded,
		PointsInWallets: points,
	}, nil
}

// ── Transaction ───────────────────────────────────────────────────────────────

type pgTx struct {
	l  *PostgresLedger
	tx *sqlx.Tx
}

func (t *pgTx) CreateMarket(ctx context.Context, m *domain.Market) error {
	return t.l.markets.Create(ctx, t.tx, m)
}

func (t *pgTx) LockMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	return t.l.markets.Lock(ctx, t.tx, id)
}

func (t *pgTx) UpdateMarketStakes(ctx context.Context, id uuid.UUID, side domain.OutcomeKey, delta decimal.Decimal) error {
	return t.l.markets.UpdateStakes(ctx, t.tx, id, side, delta)
}

func (t *pgTx) UpdateMarketStatus(ctx context.Context, id uuid.UUID, from, to domain.MarketStatus) error {
	return t.l.markets.UpdateStatus(ctx, t.tx, id, from, to)
}

func (t *pgTx) ResolveMarket(ctx context.Context, id uuid.UUID, res domain.Resolution) error {
	return t.l.markets.Resolve(ctx, t.tx, id, res)
}

func (t *pgTx) RecordOracleFailure(ctx context.Context, id uuid.UUID, failures int, next *time.Time) error {
	return t.l.markets.RecordOracleFailure(ctx, t.tx, id, failures, next)
}

func (t *pgTx) MarkSettled(ctx context.Context, id uuid.UUID, ts time.Time) error {
	return t.l.markets.MarkSettled(ctx, t.tx, id, ts)
}

func (t *pgTx) EnsureWallet(ctx context.Context, addr string, startingPoints decimal.Decimal, now time.Time) (*domain.Wallet, error) {
	return t.l.wallets.Ensure(ctx, t.tx, addr, startingPoints, now)
}

func (t *pgTx) LockWallet(ctx context.Context, addr string) (*domain.Wallet, error) {
	return t.l.wallets.Lock(ctx, t.tx, addr)
}

func (t *pgTx) UpdateWalletPoints(ctx context.Context, addr string, delta decimal.Decimal) error {
	return t.l.wallets.AddPoints(ctx, t.tx, addr, delta)
}

func (t *pgTx) UpdateWalletPnL(ctx context.Context, addr string, delta decimal.Decimal) error {
	return t.l.wallets.AddPnL(ctx, t.tx, addr, delta)
}

func (t *pgTx) SetFaucetClaim(ctx context.Context, addr string, ts time.Time) error {
	return t.l.wallets.SetFaucetClaim(ctx, t.tx, addr, ts)
}

func (t *pgTx) CreateTrade(ctx context.Context, tr *domain.Trade) error {
	return t.l.trades.Create(ctx, t.tx, tr)
}

func (t *pgTx) ListTradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Trade, error) {
	return t.l.trades.ListByMarket(ctx, t.tx, marketID)
}

func (t *pgTx) CreateClaim(ctx context.Context, c *domain.ClaimRecord) (bool, error) {
	return t.l.claims.Create(ctx, t.tx, c)
}

// ── Error classification ──────────────────────────────────────────────────────

// PostgreSQL SQLSTATE codes the ledger reacts to.
const (
	pqSerializationFailure = "40001"
	pqDeadlockDetected     = "40P01"
	pqCheckViolation       = "23514"
)

// classify maps driver errors onto the domain taxonomy. Domain sentinels and
// context errors pass through untouched.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case pqSerializationFailure, pqDeadlockDetected:
			return fmt.Errorf("%w: %s", domain.ErrConcurrencyConflict, pqErr.Message)
		case pqCheckViolation:
			if pqErr.Constraint == "wallets_points_check" {
				return domain.ErrInsufficientBalance
			}
		}
		return fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}
	if errors.Is(err, sql.ErrTxDone) || errors.Is(err, sql.ErrConnDone) {
		return fmt.Errorf("%w: %v", domain.ErrLedgerWrite, err)
	}
	return err
}

var _ Ledger = (*PostgresLedger)(nil)
