package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Wallet
// ──────────────────────────────────────────────────────────────────────────────

// Wallet holds a participant's points balance. Wallets are keyed by address
// and created on first use.
type Wallet struct {
	Address         string          `json:"address"`
	Points          decimal.Decimal `json:"points"`
	PnLRealized     decimal.Decimal `json:"pnl_realized"`
	LastFaucetClaim *time.Time      `json:"last_faucet_claim,omitempty"`
	CreatedAt       time.Time       `json:"created_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}

// NormalizeAddress trims and lower-cases an address so that the same wallet
// is never stored twice under different casing.
func NormalizeAddress(addr string) string {
	return strings.ToLower(strings.TrimSpace(addr))
}

// CanAfford returns true if the wallet can pay amount.
func (w *Wallet) CanAfford(amount decimal.Decimal) bool {
	return w.Points.GreaterThanOrEqual(amount)
}

// CanClaimFaucet returns true when the last claim is at least cooldown ago.
func (w *Wallet) CanClaimFaucet(now time.Time, cooldown time.Duration) bool {
	if w.LastFaucetClaim == nil {
		return true
	}
	return !now.Before(w.LastFaucetClaim.Add(cooldown))
}

// NextFaucetAt returns when the next faucet claim becomes available.
func (w *Wallet) NextFaucetAt(cooldown time.Duration) time.Time {
	if w.LastFaucetClaim == nil {
		return time.Time{}
	}
	return w.LastFaucetClaim.Add(cooldown)
}
