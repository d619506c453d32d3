package domain

import (
	"fmt"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Stake-pool AMM
// ──────────────────────────────────────────────────────────────────────────────

// Epsilon is the virtual liquidity added to each side so that an empty market
// prices at exactly 50 % and a one-sided market never reaches 0 or 1.
var Epsilon = decimal.NewFromInt(100)

// pricePrecision is the number of decimal places kept by every division in
// the pricing model.
const pricePrecision = 24

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
	fifty   = decimal.NewFromInt(50)
)

// Chance is the displayed probability of the first outcome of a market, in
// percent, together with the side currently favoured.
type Chance struct {
	Percentage decimal.Decimal `json:"percentage"`
	Side       OutcomeKey      `json:"side"`
}

// GetChance returns the probability of YES (YES_NO) or A (A_VS_B):
//
//	chance = 100 × (ε + first) / (2ε + first + second)
//
// Side is the first outcome when chance >= 50, otherwise the second.
func GetChance(yes, no, a, b decimal.Decimal, t MarketType) Chance {
	firstKey, secondKey := t.Outcomes()
	pct := firstPrice(yes, no, a, b, t).Mul(hundred)

	side := firstKey
	if pct.LessThan(fifty) {
		side = secondKey
	}
	return Chance{Percentage: pct, Side: side}
}

// ComputePrice returns the instantaneous price in (0,1) of one share of side.
// The first outcome is priced from the pools; the second is its complement so
// the two always sum to exactly 1.
func ComputePrice(side OutcomeKey, yes, no, a, b decimal.Decimal, t MarketType) decimal.Decimal {
	p := firstPrice(yes, no, a, b, t)
	if firstKey, _ := t.Outcomes(); side == firstKey {
		return p
	}
	return one.Sub(p)
}

func firstPrice(yes, no, a, b decimal.Decimal, t MarketType) decimal.Decimal {
	first, second := yes, no
	if t == MarketAvsB {
		first, second = a, b
	}
	return Epsilon.Add(first).DivRound(Epsilon.Mul(two).Add(first).Add(second), pricePrecision)
}

// TradeQuote is the result of pricing a trade against a market's pre-trade
// pools.
type TradeQuote struct {
	Side      OutcomeKey      `json:"side"`
	AmountPts decimal.Decimal `json:"amount_pts"`
	Price     decimal.Decimal `json:"price"`
	Shares    decimal.Decimal `json:"shares"`
	AvgPrice  decimal.Decimal `json:"avg_price"`
	MaxPayout decimal.Decimal `json:"max_payout"`
	MaxProfit decimal.Decimal `json:"max_profit"`
}

// CalculateTrade prices amountPts on side using the market's current pools.
// The whole order fills at one price (no slippage). It is pure: the market
// is not modified.
//
//	price     = ComputePrice(side)
//	shares    = amount / price
//	maxPayout = shares           (each share redeems for 1 point)
//	maxProfit = shares − amount
func CalculateTrade(m *Market, side OutcomeKey, amountPts decimal.Decimal) (TradeQuote, error) {
	if m == nil {
		return TradeQuote{}, ErrMarketNotFound
	}
	if !amountPts.IsPositive() {
		return TradeQuote{}, ErrInvalidAmount
	}
	if !m.Type.IsValidSide(side) {
		return TradeQuote{}, fmt.Errorf("%w: %q on %s", ErrInvalidSide, side, m.Type)
	}

	price := ComputePrice(side, m.YesStake, m.NoStake, m.AStake, m.BStake, m.Type)
	shares := amountPts.DivRound(price, pricePrecision)

	return TradeQuote{
		Side:      side,
		AmountPts: amountPts,
		Price:     price,
		Shares:    shares,
		AvgPrice:  price,
		MaxPayout: shares,
		MaxProfit: shares.Sub(amountPts),
	}, nil
}
