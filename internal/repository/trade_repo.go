package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// TradeRepository handles all database operations for the append-only trade log.
type TradeRepository struct {
	db *sqlx.DB
}

// NewTradeRepository creates a new TradeRepository.
func NewTradeRepository(db *sqlx.DB) *TradeRepository {
	return &TradeRepository{db: db}
}

type tradeRow struct {
	ID        uuid.UUID       `db:"id"`
	MarketID  uuid.UUID       `db:"market_id"`
	Wallet    string          `db:"wallet"`
	Side      string          `db:"side"`
	AmountPts decimal.Decimal `db:"amount_pts"`
	Price     decimal.Decimal `db:"price"`
	Shares    decimal.Decimal `db:"shares"`
	Ts        time.Time       `db:"ts"`
}

func (r tradeRow) toDomain() *domain.Trade {
	return &domain.Trade{
		ID:        r.ID,
		MarketID:  r.MarketID,
		Wallet:    r.Wallet,
		Side:      domain.OutcomeKey(r.Side),
		AmountPts: r.AmountPts,
		Price:     r.Price,
		Shares:    r.Shares,
		Timestamp: r.Ts,
	}
}

// Create appends a trade inside an existing transaction.
func (r *TradeRepository) Create(ctx context.Context, tx *sqlx.Tx, t *domain.Trade) error {
	row := tradeRow{
		ID:        t.ID,
		MarketID:  t.MarketID,
		Wallet:    t.Wallet,
		Side:      string(t.Side),
		AmountPts: t.AmountPts,
		Price:     t.Price,
		Shares:    t.Shares,
		Ts:        t.Timestamp,
	}
	query := `
		INSERT INTO trades
			(id, market_id, wallet, side, amount_pts, price, shares, ts)
		VALUES
			(:id, :market_id, :wallet, :side, :amount_pts, :price, :shares, :ts)`
	if _, err := tx.NamedExecContext(ctx, query, row); err != nil {
		return fmt.Errorf("trade_repo.Create: %w", err)
	}
	return nil
}

// ListByMarket returns every trade on a market in execution order. q may be
// the pool or an open transaction.
func (r *TradeRepository) ListByMarket(ctx context.Context, q sqlx.QueryerContext, marketID uuid.UUID) ([]*domain.Trade, error) {
	if q == nil {
		q = r.db
	}
	var rows []tradeRow
	err := sqlx.SelectContext(ctx, q, &rows,
		`SELECT * FROM trades WHERE market_id = $1 ORDER BY ts ASC, id ASC`, marketID)
	if err != nil {
		return nil, fmt.Errorf("trade_repo.ListByMarket: %w", err)
	}
	return tradesFromRows(rows), nil
}

// ListByWallet returns a wallet's trade history, newest first.
func (r *TradeRepository) ListByWallet(ctx context.Context, wallet string, limit, offset int) ([]*domain.Trade, error) {
	var rows []tradeRow
	err := r.db.SelectContext(ctx, &rows,
		`SELECT * FROM trades WHERE wallet = $1 ORDER BY ts DESC LIMIT $2 OFFSET $3`,
		wallet, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("trade_repo.ListByWallet: %w", err)
	}
	return tradesFromRows(rows), nil
}

// Totals returns the trade count and the summed volume.
func (r *TradeRepository) Totals(ctx context.Context) (int, decimal.Decimal, error) {
	var out struct {
		Count  int             `db:"count"`
		Volume decimal.Decimal `db:"volume"`
	}
	err := r.db.GetContext(ctx, &out,
		`SELECT COUNT(*) AS count, COALESCE(SUM(amount_pts), 0) AS volume FROM trades`)
	if err != nil {
		return 0, decimal.Zero, fmt.Errorf("trade_repo.Totals: %w", err)
	}
	return out.Count, out.Volume, nil
}

func tradesFromRows(rows []tradeRow) []*domain.Trade {
	out := make([]*domain.Trade, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}
