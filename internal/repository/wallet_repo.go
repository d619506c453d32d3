package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// WalletRepository handles all database operations for points wallets.
type WalletRepository struct {
	db *sqlx.DB
}

// NewWalletRepository creates a new WalletRepository.
func NewWalletRepository(db *sqlx.DB) *WalletRepository {
	return &WalletRepository{db: db}
}

type walletRow struct {
	Address         string          `db:"address"`
	Points          decimal.Decimal `db:"points"`
	PnLRealized     decimal.Decimal `db:"pnl_realized"`
	LastFaucetClaim sql.NullTime    `db:"last_faucet_claim"`
	CreatedAt       time.Time       `db:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at"`
}

func (r walletRow) toDomain() *domain.Wallet {
	return &domain.Wallet{
		Address:         r.Address,
		Points:          r.Points,
		PnLRealized:     r.PnLRealized,
		LastFaucetClaim: nullTimePtr(r.LastFaucetClaim),
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
	}
}

// GetByAddress fetches a wallet without locking it.
func (r *WalletRepository) GetByAddress(ctx context.Context, addr string) (*domain.Wallet, error) {
	var row walletRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM wallets WHERE address = $1`, addr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.GetByAddress: %w", err)
	}
	return row.toDomain(), nil
}

// Lock fetches a wallet with FOR UPDATE.
func (r *WalletRepository) Lock(ctx context.Context, tx *sqlx.Tx, addr string) (*domain.Wallet, error) {
	var row walletRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM wallets WHERE address = $1 FOR UPDATE`, addr)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrWalletNotFound
		}
		return nil, fmt.Errorf("wallet_repo.Lock: %w", err)
	}
	return row.toDomain(), nil
}

// Ensure inserts the wallet if it does not exist, then locks and returns it.
func (r *WalletRepository) Ensure(ctx context.Context, tx *sqlx.Tx, addr string, startingPoints decimal.Decimal, now time.Time) (*domain.Wallet, error) {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO wallets (address, points, pnl_realized, created_at, updated_at)
		VALUES ($1, $2, 0, $3, $3)
		ON CONFLICT (address) DO NOTHING`,
		addr, startingPoints, now)
	if err != nil {
		return nil, fmt.Errorf("wallet_repo.Ensure insert: %w", err)
	}
	return r.Lock(ctx, tx, addr)
}

// AddPoints applies a signed delta to the balance. The guard in the WHERE
// clause keeps points non-negative even if the caller skipped its own check.
func (r *WalletRepository) AddPoints(ctx context.Context, tx *sqlx.Tx, addr string, delta decimal.Decimal) error {
	res, err := tx.ExecContext(ctx, `
		UPDATE wallets
		SET points = points + $1, updated_at = now()
		WHERE address = $2 AND points + $1 >= 0`,
		delta, addr)
	if err != nil {
		return fmt.Errorf("wallet_repo.AddPoints: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		if _, lockErr := r.Lock(ctx, tx, addr); lockErr != nil {
			return lockErr
		}
		return domain.ErrInsufficientBalance
	}
	return nil
}

// AddPnL applies a signed delta to pnl_realized.
func (r *WalletRepository) AddPnL(ctx context.Context, tx *sqlx.Tx, addr string, delta decimal.Decimal) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET pnl_realized = pnl_realized + $1, updated_at = now() WHERE address = $2`,
		delta, addr)
	if err != nil {
		return fmt.Errorf("wallet_repo.AddPnL: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// SetFaucetClaim records the time of the latest faucet drip.
func (r *WalletRepository) SetFaucetClaim(ctx context.Context, tx *sqlx.Tx, addr string, ts time.Time) error {
	res, err := tx.ExecContext(ctx,
		`UPDATE wallets SET last_faucet_claim = $1, updated_at = now() WHERE address = $2`,
		ts, addr)
	if err != nil {
		return fmt.Errorf("wallet_repo.SetFaucetClaim: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrWalletNotFound
	}
	return nil
}

// Totals returns the number of wallets and the points they hold.
func (r *WalletRepository) Totals(ctx context.Context) (int, decimal.Decimal, error) {
	var out struct {
		Count  int             `db:"count"`
		Points decimal.Decimal `db:"points"`
	}
	err := r.db.GetContext(ctx, &out,
		`SELECT COUNT(*) AS count, COALESCE(SUM(points), 0) AS points FROM wallets`)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("wallet_repo.Totals: %w", err)
	}
	return out.Count, out.Points, nil
}
