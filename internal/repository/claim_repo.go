package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// ClaimRepository handles settlement claim records.
type ClaimRepository struct {
	db *sqlx.DB
}

// NewClaimRepository creates a new ClaimRepository.
func NewClaimRepository(db *sqlx.DB) *ClaimRepository {
	return &ClaimRepository{db: db}
}

type claimRow struct {
	ID        uuid.UUID       `db:"id"`
	MarketID  uuid.UUID       `db:"market_id"`
	Wallet    string          `db:"wallet"`
	Side      string          `db:"side"`
	Amount    decimal.Decimal `db:"amount"`
	CostBasis decimal.Decimal `db:"cost_basis"`
	Kind      string          `db:"kind"`
	Ts        time.Time       `db:"ts"`
}

func (r claimRow) toDomain() *domain.ClaimRecord {
	return &domain.ClaimRecord{
		ID:        r.ID,
		Wallet:    r.Wallet,
		MarketID:  r.MarketID,
		Side:      domain.OutcomeKey(r.Side),
		Amount:    r.Amount,
		CostBasis: r.CostBasis,
		Kind:      domain.ClaimKind(r.Kind),
		Ts:        r.Ts,
	}
}

// Create inserts a claim unless (market, wallet, kind) already exists.
// created is false when the row was already there.
func (r *ClaimRepository) Create(ctx context.Context, tx *sqlx.Tx, c *domain.ClaimRecord) (bool, error) {
	row := claimRow{
		ID:        c.ID,
		MarketID:  c.MarketID,
		Wallet:    c.Wallet,
		Side:      string(c.Side),
		Amount:    c.Amount,
		CostBasis: c.CostBasis,
		Kind:      string(c.Kind),
		Ts:        c.Ts,
	}
	query := `
		INSERT INTO claims
			(id, market_id, wallet, side, amount, cost_basis, kind, ts)
		VALUES
			(:id, :market_id, :wallet, :side, :amount, :cost_basis, :kind, :ts)
		ON CONFLICT ON CONSTRAINT claims_once_per_wallet DO NOTHING`
	res, err := tx.NamedExecContext(ctx, query, row)
	if err != nil {
		return false, fmt.Errorf("claim_repo.Create: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// List returns claims matching f, newest first.
func (r *ClaimRepository) List(ctx context.Context, f ClaimFilter) ([]*domain.ClaimRecord, error) {
	var (
		where []string
		args  []any
	)
	if f.MarketID != uuid.Nil {
		args = append(args, f.MarketID)
		where = append(where, fmt.Sprintf("market_id = $%d", len(args)))
	}
	if f.Wallet != "" {
		args = append(args, f.Wallet)
		where = append(where, fmt.Sprintf("wallet = $%d", len(args)))
	}
	if f.Kind != "" {
		args = append(args, string(f.Kind))
		where = append(where, fmt.Sprintf("kind = $%d", len(args)))
	}

	query := `SELECT * FROM claims`
	if len(where) > 0 {
		query += ` WHERE ` + strings.Join(where, " AND ")
	}
	args = append(args, normalizeLimit(f.Limit), max(f.Offset, 0))
	query += fmt.Sprintf(` ORDER BY ts DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))

	var rows []claimRow
	if err := r.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, fmt.Errorf("claim_repo.List: %w", err)
	}
	out := make([]*domain.ClaimRecord, 0, len(rows))
	for _, row := range rows {
		out = append(out, row.toDomain())
	}
	return out, nil
}

// Totals returns the summed amounts of PAYOUT and REFUND claims.
func (r *ClaimRepository) Totals(ctx context.Context) (paid, refunded decimal.Decimal, err error) {
	var out struct {
		Paid     decimal.Decimal `db:"paid"`
		Refunded decimal.Decimal `db:"refunded"`
	}
	err = r.db.GetContext(ctx, &out, `
		SELECT
			COALESCE(SUM(amount) FILTER (WHERE kind = 'PAYOUT'), 0) AS paid,
			COALESCE(SUM(amount) FILTER (WHERE kind = 'REFUND'), 0) AS refunded
		FROM claims`)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("claim_repo.Totals: %w", err)
	}
	return out.Paid, out.Refunded, nil
}
