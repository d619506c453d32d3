package domain

import (
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Trade
// ──────────────────────────────────────────────────────────────────────────────

// Trade is an immutable record of one purchase of shares. Trades are
// append-only; positions are always derived from them.
type Trade struct {
	ID        uuid.UUID       `json:"id"`
	MarketID  uuid.UUID       `json:"market_id"`
	Wallet    string          `json:"wallet"`
	Side      OutcomeKey      `json:"side"`
	AmountPts decimal.Decimal `json:"amount_pts"`
	Price     decimal.Decimal `json:"price"`
	Shares    decimal.Decimal `json:"shares"`
	Timestamp time.Time       `json:"timestamp"`
}

// NewTrade builds a Trade from a quote.
func NewTrade(marketID uuid.UUID, wallet string, q TradeQuote, now time.Time) *Trade {
	return &Trade{
		ID:        uuid.New(),
		MarketID:  marketID,
		Wallet:    wallet,
		Side:      q.Side,
		AmountPts: q.AmountPts,
		Price:     q.Price,
		Shares:    q.Shares,
		Timestamp: now,
	}
}

// ──────────────────────────────────────────────────────────────────────────────
// Position: derived by folding trades
// ──────────────────────────────────────────────────────────────────────────────

// Position aggregates every trade a wallet made on one side of one market.
type Position struct {
	Wallet    string          `json:"wallet"`
	MarketID  uuid.UUID       `json:"market_id"`
	Side      OutcomeKey      `json:"side"`
	Shares    decimal.Decimal `json:"shares"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// AvgPrice returns costBasis / shares, or zero for an empty position.
func (p *Position) AvgPrice() decimal.Decimal {
	if p.Shares.IsZero() {
		return decimal.Zero
	}
	return p.CostBasis.DivRound(p.Shares, pricePrecision)
}

type positionKey struct {
	wallet   string
	marketID uuid.UUID
	side     OutcomeKey
}

// FoldPositions sums trades per (wallet, market, side). The result is sorted
// by wallet, then market, then side so callers get a stable order.
func FoldPositions(trades []*Trade) []*Position {
	byKey := make(map[positionKey]*Position)
	for _, t := range trades {
		k := positionKey{wallet: t.Wallet, marketID: t.MarketID, side: t.Side}
		p, ok := byKey[k]
		if !ok {
			p = &Position{
				Wallet:    t.Wallet,
				MarketID:  t.MarketID,
				Side:      t.Side,
				Shares:    decimal.Zero,
				CostBasis: decimal.Zero,
			}
			byKey[k] = p
		}
		p.Shares = p.Shares.Add(t.Shares)
		p.CostBasis = p.CostBasis.Add(t.AmountPts)
	}

	out := make([]*Position, 0, len(byKey))
	for _, p := range byKey {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Wallet != out[j].Wallet {
			return out[i].Wallet < out[j].Wallet
		}
		if out[i].MarketID != out[j].MarketID {
			return out[i].MarketID.String() < out[j].MarketID.String()
		}
		return out[i].Side < out[j].Side
	})
	return out
}

// PositionView is a position enriched with the market's current price for the
// wallet's portfolio endpoint.
type PositionView struct {
	Position
	AvgPrice     decimal.Decimal `json:"avg_price"`
	CurrentPrice decimal.Decimal `json:"current_price"`
	MarketValue  decimal.Decimal `json:"market_value"`
	MarketStatus MarketStatus    `json:"market_status"`
}

// ViewPosition prices p against the market it belongs to.
func ViewPosition(p *Position, m *Market) PositionView {
	price := ComputePrice(p.Side, m.YesStake, m.NoStake, m.AStake, m.BStake, m.Type)
	return PositionView{
		Position:     *p,
		AvgPrice:     p.AvgPrice(),
		CurrentPrice: price,
		MarketValue:  p.Shares.Mul(price),
		MarketStatus: m.Status,
	}
}
