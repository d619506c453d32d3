// Package repository implements the Ledger: the persistent store of markets,
// trades, wallets and settlement claims. Two implementations share one
// interface: PostgresLedger for production and MemoryLedger for tests and
// single-process demos.
package repository

import (
	"context"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// Ledger is the read surface plus a unit-of-work entry point. Every write
// happens inside InTx so that a group of effects is applied together or not
// at all.
type Ledger interface {
	// InTx runs fn inside a transaction. If fn returns an error every write
	// it made is discarded and the error is returned unchanged.
	InTx(ctx context.Context, fn func(tx Tx) error) error

	GetMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error)
	ListMarkets(ctx context.Context, f MarketFilter) ([]*domain.Market, int, error)
	// ListDueMarkets returns markets the lifecycle ticker has work for: OPEN
	// past closesAt, non-manual CLOSED past resolvesAt whose backoff has
	// elapsed, and terminal markets not yet settled.
	ListDueMarkets(ctx context.Context, now time.Time) ([]*domain.Market, error)

	ListTradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Trade, error)
	ListTradesForWallet(ctx context.Context, addr string, limit, offset int) ([]*domain.Trade, error)

	GetWallet(ctx context.Context, addr string) (*domain.Wallet, error)
	ListClaims(ctx context.Context, f ClaimFilter) ([]*domain.ClaimRecord, error)

	Stats(ctx context.Context) (*Stats, error)
}

// Tx is the write surface available inside Ledger.InTx. Lock* methods take
// row locks that are held until the transaction ends.
type Tx interface {
	CreateMarket(ctx context.Context, m *domain.Market) error
	LockMarket(ctx context.Context, id uuid.UUID) (*domain.Market, error)
	UpdateMarketStakes(ctx context.Context, id uuid.UUID, side domain.OutcomeKey, delta decimal.Decimal) error
	// UpdateMarketStatus moves the market from one status to another. It fails
	// with ErrInvalidTransition when the stored status is not from.
	UpdateMarketStatus(ctx context.Context, id uuid.UUID, from, to domain.MarketStatus) error
	// ResolveMarket moves a CLOSED market to RESOLVED with the given record.
	ResolveMarket(ctx context.Context, id uuid.UUID, res domain.Resolution) error
	RecordOracleFailure(ctx context.Context, id uuid.UUID, failures int, nextAttemptAt *time.Time) error
	MarkSettled(ctx context.Context, id uuid.UUID, ts time.Time) error

	// EnsureWallet returns the locked wallet, creating it with startingPoints
	// if it does not exist yet.
	EnsureWallet(ctx context.Context, addr string, startingPoints decimal.Decimal, now time.Time) (*domain.Wallet, error)
	LockWallet(ctx context.Context, addr string) (*domain.Wallet, error)
	// UpdateWalletPoints adds delta to the balance. A result below zero fails
	// with ErrInsufficientBalance.
	UpdateWalletPoints(ctx context.Context, addr string, delta decimal.Decimal) error
	UpdateWalletPnL(ctx context.Context, addr string, delta decimal.Decimal) error
	SetFaucetClaim(ctx context.Context, addr string, ts time.Time) error

	CreateTrade(ctx context.Context, t *domain.Trade) error
	ListTradesForMarket(ctx context.Context, marketID uuid.UUID) ([]*domain.Trade, error)

	// CreateClaim inserts the claim unless one already exists for the same
	// (market, wallet, kind). created reports whether a row was written.
	CreateClaim(ctx context.Context, c *domain.ClaimRecord) (created bool, err error)
}

// MarketFilter narrows ListMarkets. A zero Status returns every status.
type MarketFilter struct {
	Status domain.MarketStatus
	Limit  int
	Offset int
}

// ClaimFilter narrows ListClaims. Zero fields are ignored.
type ClaimFilter struct {
	MarketID uuid.UUID
	Wallet   string
	Kind     domain.ClaimKind
	Limit    int
	Offset   int
}

// Stats holds aggregate figures for the admin dashboard.
type Stats struct {
	MarketsByStatus map[domain.MarketStatus]int `json:"markets_by_status"`
	Wallets         int                         `json:"wallets"`
	Trades          int                         `json:"trades"`
	VolumePts       decimal.Decimal             `json:"volume_pts"`
	PaidOutPts      decimal.Decimal             `json:"paid_out_pts"`
	RefundedPts     decimal.Decimal             `json:"refunded_pts"`
	PointsInWallets decimal.Decimal             `json:"points_in_wallets"`
}

const defaultListLimit = 50

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return defaultListLimit
	}
	return limit
}
