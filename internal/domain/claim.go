package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ClaimKind distinguishes winning payouts from cancellation refunds.
type ClaimKind string

const (
	ClaimPayout ClaimKind = "PAYOUT"
	ClaimRefund ClaimKind = "REFUND"
)

// ClaimRecord is one credit paid to a wallet when a market settles. At most
// one record exists per (market, wallet, kind).
type ClaimRecord struct {
	ID        uuid.UUID       `json:"id"`
	Wallet    string          `json:"wallet"`
	MarketID  uuid.UUID       `json:"market_id"`
	Side      OutcomeKey      `json:"side,omitempty"`
	Amount    decimal.Decimal `json:"amount"`
	CostBasis decimal.Decimal `json:"cost_basis"`
	Kind      ClaimKind       `json:"kind"`
	Ts        time.Time       `json:"ts"`
}

// Profit returns amount − costBasis, the realised PnL of the claim.
func (c *ClaimRecord) Profit() decimal.Decimal {
	return c.Amount.Sub(c.CostBasis)
}
