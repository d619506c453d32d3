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
	"github.com/shopspring/decimal"
)

// MarketRepository handles all database operations for Markets.
type MarketRepository struct {
	db *sqlx.DB
}

// NewMarketRepository creates a new MarketRepository.
func NewMarketRepository(db *sqlx.DB) *MarketRepository {
	return &MarketRepository{db: db}
}

// marketRow is the flat column layout of the markets table.
type marketRow struct {
	ID                uuid.UUID           `db:"id"`
	Title             string              `db:"title"`
	MarketType        string              `db:"market_type"`
	Outcome1Key       string              `db:"outcome_1_key"`
	Outcome1Label     string              `db:"outcome_1_label"`
	Outcome2Key       string              `db:"outcome_2_key"`
	Outcome2Label     string              `db:"outcome_2_label"`
	ResolutionType    string              `db:"resolution_type"`
	Provider          string              `db:"provider"`
	RefChain          string              `db:"ref_chain"`
	RefPairAddress    string              `db:"ref_pair_address"`
	RefBaseID         string              `db:"ref_base_id"`
	RefBBaseID        string              `db:"ref_b_base_id"`
	Threshold         decimal.Decimal     `db:"threshold"`
	YesStake          decimal.Decimal     `db:"yes_stake"`
	NoStake           decimal.Decimal     `db:"no_stake"`
	AStake            decimal.Decimal     `db:"a_stake"`
	BStake            decimal.Decimal     `db:"b_stake"`
	PoolUSD           decimal.Decimal     `db:"pool_usd"`
	Status            string              `db:"status"`
	ClosesAt          time.Time           `db:"closes_at"`
	ResolvesAt        time.Time           `db:"resolves_at"`
	Winner            sql.NullString      `db:"winner"`
	ValueAtResolution decimal.NullDecimal `db:"value_at_resolution"`
	ResolutionReason  sql.NullString      `db:"resolution_reason"`
	ResolvedAt        sql.NullTime        `db:"resolved_at"`
	OracleFailures    int                 `db:"oracle_failures"`
	NextAttemptAt     sql.NullTime        `db:"next_attempt_at"`
	SettledAt         sql.NullTime        `db:"settled_at"`
	CreatedAt         time.Time           `db:"created_at"`
	UpdatedAt         time.Time           `db:"updated_at"`
}

func toMarketRow(m *domain.Market) marketRow {
	return marketRow{
		ID:             m.ID,
		Title:          m.Title,
		MarketType:     string(m.Type),
		Outcome1Key:    string(m.Outcomes[0].Key),
		Outcome1Label:  m.Outcomes[0].Label,
		Outcome2Key:    string(m.Outcomes[1].Key),
		Outcome2Label:  m.Outcomes[1].Label,
		ResolutionType: string(m.ResolutionType),
		Provider:       string(m.Source.Provider),
		RefChain:       m.Source.Ref.Chain,
		RefPairAddress: m.Source.Ref.PairAddress,
		RefBaseID:      m.Source.Ref.BaseID,
		RefBBaseID:     m.Source.RefB.BaseID,
		Threshold:      m.Source.Threshold,
		YesStake:       m.YesStake,
		NoStake:        m.NoStake,
		AStake:         m.AStake,
		BStake:         m.BStake,
		PoolUSD:        m.PoolUSD,
		Status:         string(m.Status),
		ClosesAt:       m.ClosesAt,
		ResolvesAt:     m.ResolvesAt,
		OracleFailures: m.OracleFailures,
		CreatedAt:      m.CreatedAt,
		UpdatedAt:      m.UpdatedAt,
	}
}

func (r marketRow) toDomain() *domain.Market {
	m := &domain.Market{
		ID:    r.ID,
		Title: r.Title,
		Type:  domain.MarketType(r.MarketType),
		Outcomes: [2]domain.OutcomeOption{
			{Key: domain.OutcomeKey(r.Outcome1Key), Label: r.Outcome1Label},
			{Key: domain.OutcomeKey(r.Outcome2Key), Label: r.Outcome2Label},
		},
		ResolutionType: domain.ResolutionType(r.ResolutionType),
		Source: domain.Source{
			Provider:  domain.OracleProvider(r.Provider),
			Ref:       domain.OracleRef{Chain: r.RefChain, PairAddress: r.RefPairAddress, BaseID: r.RefBaseID},
			RefB:      domain.OracleRef{BaseID: r.RefBBaseID},
			Threshold: r.Threshold,
		},
		YesStake:       r.YesStake,
		NoStake:        r.NoStake,
		AStake:         r.AStake,
		BStake:         r.BStake,
		PoolUSD:        r.PoolUSD,
		Status:         domain.MarketStatus(r.Status),
		ClosesAt:       r.ClosesAt,
		ResolvesAt:     r.ResolvesAt,
		OracleFailures: r.OracleFailures,
		CreatedAt:      r.CreatedAt,
		UpdatedAt:      r.UpdatedAt,
	}
	if r.Winner.Valid {
		m.Resolution = &domain.Resolution{
			Winner:            domain.OutcomeKey(r.Winner.String),
			ValueAtResolution: r.ValueAtResolution.Decimal,
			Reason:            r.ResolutionReason.String,
			ResolvedAt:        r.ResolvedAt.Time,
		}
	}
	m.NextAttemptAt = nullTimePtr(r.NextAttemptAt)
	m.SettledAt = nullTimePtr(r.SettledAt)
	return m
}

// Create inserts a new market row inside an existing transaction.
func (r *MarketRepository) Create(ctx context.Context, tx *sqlx.Tx, m *domain.Market) error {
	query := `
		INSERT INTO markets
			(id, title, market_type, outcome_1_key, outcome_1_label, outcome_2_key, outcome_2_label,
			 resolution_type, provider, ref_chain, ref_pair_address, ref_base_id, ref_b_base_id, threshold,
			 yes_stake, no_stake, a_stake, b_stake, pool_usd, status, closes_at, resolves_at,
			 oracle_failures, created_at, updated_at)
		VALUES
			(:id, :title, :market_type, :outcome_1_key, :outcome_1_label, :outcome_2_key, :outcome_2_label,
			 :resolution_type, :provider, :ref_chain, :ref_pair_address, :ref_base_id, :ref_b_base_id, :threshold,
			 :yes_stake, :no_stake, :a_stake, :b_stake, :pool_usd, :status, :closes_at, :resolves_at,
			 :oracle_failures, :created_at, :updated_at)`
	if _, err := tx.NamedExecContext(ctx, query, toMarketRow(m)); err != nil {
		return fmt.Errorf("market_repo.Create: %w", err)
	}
	return nil
}

// GetByID fetches a market by its primary key.
func (r *MarketRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.Market, error) {
	var row marketRow
	err := r.db.GetContext(ctx, &row, `SELECT * FROM markets WHERE id = $1`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.GetByID: %w", err)
	}
	return row.toDomain(), nil
}

// Lock fetches a market with FOR UPDATE so that concurrent trades and ticks
// on the same market are serialised.
func (r *MarketRepository) Lock(ctx context.Context, tx *sqlx.Tx, id uuid.UUID) (*domain.Market, error) {
	var row marketRow
	err := tx.GetContext(ctx, &row, `SELECT * FROM markets WHERE id = $1 FOR UPDATE`, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrMarketNotFound
		}
		return nil, fmt.Errorf("market_repo.Lock: %w", err)
	}
	return row.toDomain(), nil
}

// GetDue returns every market the lifecycle ticker has work for.
func (r *MarketRepository) GetDue(ctx context.Context, now time.Time) ([]*domain.Market, error) {
	var rows []marketRow
	err := r.db.SelectContext(ctx, &rows, `
		SELECT * FROM markets
		WHERE (status = 'OPEN' AND closes_at <= $1)
		   OR (status = 'CLOSED' AND resolution_type <> 'MANUAL' AND resolves_at <= $1
		       AND (next_attempt_at IS NULL OR next_attempt_at <= $1))
		   OR (status IN ('RESOLVED','CANCELLED') AND settled_at IS NULL)
		ORDER BY closes_at ASC`,
		now)
	if err != nil {
		return nil, fmt.Errorf("market_repo.GetDue: %w", err)
	}
	return marketsFromRows(rows), nil
}

// UpdateStakes increments the side pool and pool_usd by delta.
func (r *MarketRepository) UpdateStakes(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, side domain.OutcomeKey, delta decimal.Decimal) error {
	var column string
	switch side {
	case domain.OutcomeYes:
		column = "yes_stake"
	case domain.OutcomeNo:
		column = "no_stake"
	case domain.OutcomeA:
		column = "a_stake"
	case domain.OutcomeB:
		column = "b_stake"
	default:
		return domain.ErrInvalidSide
	}
	query := `UPDATE markets SET ` + column + ` = ` + column + ` + $1, pool_usd = pool_usd + $1, updated_at = now() WHERE id = $2`
	res, err := tx.ExecContext(ctx, query, delta, id)
	if err != nil {
		return fmt.Errorf("market_repo.UpdateStakes: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return domain.ErrMarketNotFound
	}
	return nil
}

// UpdateStatus moves a market between two statuses. The WHERE clause on the
// current status turns a lost race into ErrInvalidTransition.
func (r *MarketRepository) UpdateStatus(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, from, to domain.MarketStatus) error {
	if err := domain.CheckTransition(from, to); err != nil {
		return err
	}
	res, err := tx.ExecContext(ctx,
		`UPDATE markets SET status = $1, updated_at = now() WHERE id = $2 AND status = $3`,
		string(to), id, string(from))
	if err != nil {
		return fmt.Errorf("market_repo.UpdateStatus: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: market %s is not %s", domain.ErrInvalidTransition, id, from)
	}
	return nil
}

// Resolve sets the winner, the oracle reading and status=RESOLVED.
func (r *MarketRepository) Resolve(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, res domain.Resolution) error {
	query := `
		UPDATE markets
		SET status              = 'RESOLVED',
		    winner              = $1,
		    value_at_resolution = $2,
		    resolution_reason   = $3,
		    resolved_at         = $4,
		    next_attempt_at     = NULL,
		    updated_at          = now()
		WHERE id = $5 AND status = 'CLOSED'`
	out, err := tx.ExecContext(ctx, query, string(res.Winner), res.ValueAtResolution, res.Reason, res.ResolvedAt, id)
	if err != nil {
		return fmt.Errorf("market_repo.Resolve: %w", err)
	}
	if n, _ := out.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: market %s is not CLOSED", domain.ErrInvalidTransition, id)
	}
	return nil
}

// RecordOracleFailure stores the consecutive miss count and the next retry time.
func (r *MarketRepository) RecordOracleFailure(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, failures int, next *time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE markets SET oracle_failures = $1, next_attempt_at = $2, updated_at = now() WHERE id = $3`,
		failures, next, id)
	if err != nil {
		return fmt.Errorf("market_repo.RecordOracleFailure: %w", err)
	}
	return nil
}

// MarkSettled stamps settled_at.
func (r *MarketRepository) MarkSettled(ctx context.Context, tx *sqlx.Tx, id uuid.UUID, ts time.Time) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE markets SET settled_at = $1, updated_at = now() WHERE id = $2`, ts, id)
	if err != nil {
		return fmt.Errorf("market_repo.MarkSettled: %w", err)
	}
	return nil
}

// List returns a paginated slice of markets filtered by optional status.
// status="" returns all statuses.
// Returns (markets, totalCount, error).
func (r *MarketRepository) List(ctx context.Context, limit, offset int, status string) ([]*domain.Market, int, error) {
	var rows []marketRow
	var total int

	if status != "" {
		if err := r.db.GetContext(ctx, &total,
			`SELECT COUNT(*) FROM markets WHERE status = $1`, status); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &rows,
			`SELECT * FROM markets WHERE status = $1 ORDER BY created_at DESC LIMIT $2 OFFSET $3`,
			status, limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	} else {
		if err := r.db.GetContext(ctx, &total, `SELECT COUNT(*) FROM markets`); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List count: %w", err)
		}
		if err := r.db.SelectContext(ctx, &rows,
			`SELECT * FROM markets ORDER BY created_at DESC LIMIT $1 OFFSET $2`,
			limit, offset); err != nil {
			return nil, 0, fmt.Errorf("market_repo.List select: %w", err)
		}
	}
	return marketsFromRows(rows), total, nil
}

// CountByStatus returns the number of markets per status.
func (r *MarketRepository) CountByStatus(ctx context.Context) (map[domain.MarketStatus]int, error) {
	type row struct {
		Status string `db:"status"`
		Count  int    `db:"count"`
	}
	var rows []row
	if err := r.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(*) AS count FROM markets GROUP BY status`); err != nil {
		return nil, fmt.Errorf("market_repo.CountByStatus: %w", err)
	}
	out := make(map[domain.MarketStatus]int, len(rows))
	for _, r := range rows {
		out[domain.MarketStatus(r.Status)] = r.Count
	}
	return out, nil
}

func marketsFromRows(rows []marketRow) []*domain.Market {
	out := make([]*domain.Market, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out
}

func nullTimePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
