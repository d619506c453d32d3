// Package domain defines the core business entities, the AMM pricing model
// and the market state machine for the points prediction market.
package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Types & constants
// ──────────────────────────────────────────────────────────────────────────────

// MarketType selects the pair of outcome keys a market trades on.
type MarketType string

const (
	MarketYesNo MarketType = "YES_NO" // canonical YES / NO
	MarketAvsB  MarketType = "A_VS_B" // two arbitrary labels keyed A / B
)

// OutcomeKey identifies one side of a market.
type OutcomeKey string

const (
	OutcomeYes OutcomeKey = "YES"
	OutcomeNo  OutcomeKey = "NO"
	OutcomeA   OutcomeKey = "A"
	OutcomeB   OutcomeKey = "B"
)

// Opposite returns the other side of the same pair, or "" for an unknown key.
func (k OutcomeKey) Opposite() OutcomeKey {
	switch k {
	case OutcomeYes:
		return OutcomeNo
	case OutcomeNo:
		return OutcomeYes
	case OutcomeA:
		return OutcomeB
	case OutcomeB:
		return OutcomeA
	}
	return ""
}

// IsValid returns true if t is a recognised market type.
func (t MarketType) IsValid() bool {
	return t == MarketYesNo || t == MarketAvsB
}

// Outcomes returns the ordered pair of keys for the type. The first key is
// the one GetChance reports on.
func (t MarketType) Outcomes() (OutcomeKey, OutcomeKey) {
	if t == MarketAvsB {
		return OutcomeA, OutcomeB
	}
	return OutcomeYes, OutcomeNo
}

// IsValidSide reports whether key is one of the two outcomes of t.
func (t MarketType) IsValidSide(key OutcomeKey) bool {
	if !t.IsValid() {
		return false
	}
	first, second := t.Outcomes()
	return key == first || key == second
}

// OutcomeOption pairs an outcome key with its display label.
type OutcomeOption struct {
	Key   OutcomeKey `json:"key"`
	Label string     `json:"label"`
}

// ResolutionType decides how the winner of a market is determined.
type ResolutionType string

const (
	ResolvePriceGE  ResolutionType = "PRICE_GE"    // YES iff oracle price >= threshold
	ResolveRankAvsB ResolutionType = "RANK_A_VS_B" // better market-cap rank wins
	ResolveManual   ResolutionType = "MANUAL"      // admin declares the winner
)

// IsValid returns true if r is a recognised resolution type.
func (r ResolutionType) IsValid() bool {
	return r == ResolvePriceGE || r == ResolveRankAvsB || r == ResolveManual
}

// OracleProvider names an external price feed.
type OracleProvider string

const (
	ProviderDexScreener OracleProvider = "DEXSCREENER"
	ProviderCoinGecko   OracleProvider = "COINGECKO"
)

// IsValid returns true if p is a supported provider.
func (p OracleProvider) IsValid() bool {
	return p == ProviderDexScreener || p == ProviderCoinGecko
}

// OracleRef is the provider-specific lookup key. DexScreener uses
// Chain+PairAddress, CoinGecko uses BaseID.
type OracleRef struct {
	Chain       string `json:"chain,omitempty"`
	PairAddress string `json:"pair_address,omitempty"`
	BaseID      string `json:"base_id,omitempty"`
}

// IsZero reports whether no lookup key is set.
func (r OracleRef) IsZero() bool {
	return r.PairAddress == "" && r.BaseID == ""
}

// String renders the reference for logs and audit strings.
func (r OracleRef) String() string {
	if r.PairAddress != "" {
		if r.Chain != "" {
			return r.Chain + "/" + r.PairAddress
		}
		return r.PairAddress
	}
	return r.BaseID
}

// Source describes where a market's resolution data comes from.
type Source struct {
	Provider  OracleProvider  `json:"provider,omitempty"`
	Ref       OracleRef       `json:"ref"`
	RefB      OracleRef       `json:"ref_b"`               // B asset, RANK_A_VS_B only
	Threshold decimal.Decimal `json:"threshold,omitempty"` // PRICE_GE only
}

// MarketStatus represents the lifecycle state of a market.
type MarketStatus string

const (
	StatusOpen      MarketStatus = "OPEN"      // accepting trades
	StatusClosed    MarketStatus = "CLOSED"    // trading window over, awaiting resolution
	StatusResolved  MarketStatus = "RESOLVED"  // winner determined
	StatusCancelled MarketStatus = "CANCELLED" // voided; stakes refunded
)

// IsValid returns true if s is a recognised status.
func (s MarketStatus) IsValid() bool {
	switch s {
	case StatusOpen, StatusClosed, StatusResolved, StatusCancelled:
		return true
	}
	return false
}

// Resolution is the audit record written when a market resolves.
type Resolution struct {
	Winner            OutcomeKey      `json:"winner"`
	ValueAtResolution decimal.Decimal `json:"value_at_resolution"`
	Reason            string          `json:"reason"`
	ResolvedAt        time.Time       `json:"resolved_at"`
}

// ──────────────────────────────────────────────────────────────────────────────
// Market
// ──────────────────────────────────────────────────────────────────────────────

// Market is a two-outcome prediction market priced by the stake-pool AMM.
type Market struct {
	ID             uuid.UUID        `json:"id"`
	Title          string           `json:"title"`
	Type           MarketType       `json:"type"`
	Outcomes       [2]OutcomeOption `json:"outcomes"`
	ResolutionType ResolutionType   `json:"resolution_type"`
	Source         Source           `json:"source"`
	YesStake       decimal.Decimal  `json:"yes_stake"`
	NoStake        decimal.Decimal  `json:"no_stake"`
	AStake         decimal.Decimal  `json:"a_stake"`
	BStake         decimal.Decimal  `json:"b_stake"`
	PoolUSD        decimal.Decimal  `json:"pool_usd"`
	Status         MarketStatus     `json:"status"`
	ClosesAt       time.Time        `json:"closes_at"`
	ResolvesAt     time.Time        `json:"resolves_at"`
	Resolution     *Resolution      `json:"resolution,omitempty"`
	OracleFailures int              `json:"oracle_failures"`
	NextAttemptAt  *time.Time       `json:"next_attempt_at,omitempty"`
	SettledAt      *time.Time       `json:"settled_at,omitempty"`
	CreatedAt      time.Time        `json:"created_at"`
	UpdatedAt      time.Time        `json:"updated_at"`
}

// DefaultOutcomes returns the canonical outcome pair for t with the given
// labels. Empty labels fall back to the key itself.
func DefaultOutcomes(t MarketType, labelFirst, labelSecond string) [2]OutcomeOption {
	first, second := t.Outcomes()
	if labelFirst == "" {
		labelFirst = string(first)
	}
	if labelSecond == "" {
		labelSecond = string(second)
	}
	return [2]OutcomeOption{{Key: first, Label: labelFirst}, {Key: second, Label: labelSecond}}
}

// Validate checks the structural rules of a newly created market.
func (m *Market) Validate() error {
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: unknown market type %q", ErrInvalidMarket, m.Type)
	}
	first, second := m.Type.Outcomes()
	if m.Outcomes[0].Key != first || m.Outcomes[1].Key != second {
		return fmt.Errorf("%w: outcomes must be %s/%s for %s", ErrInvalidMarket, first, second, m.Type)
	}
	if !m.ResolutionType.IsValid() {
		return fmt.Errorf("%w: unknown resolution type %q", ErrInvalidMarket, m.ResolutionType)
	}
	switch m.ResolutionType {
	case ResolvePriceGE:
		if m.Type != MarketYesNo {
			return fmt.Errorf("%w: PRICE_GE requires a YES_NO market", ErrInvalidMarket)
		}
		if !m.Source.Provider.IsValid() || m.Source.Ref.IsZero() {
			return fmt.Errorf("%w: PRICE_GE requires an oracle provider and ref", ErrInvalidMarket)
		}
		if !m.Source.Threshold.IsPositive() {
			return fmt.Errorf("%w: PRICE_GE threshold must be positive", ErrInvalidMarket)
		}
	case ResolveRankAvsB:
		if m.Type != MarketAvsB {
			return fmt.Errorf("%w: RANK_A_VS_B requires an A_VS_B market", ErrInvalidMarket)
		}
		if m.Source.Ref.BaseID == "" || m.Source.RefB.BaseID == "" {
			return fmt.Errorf("%w: RANK_A_VS_B requires coin ids for both assets", ErrInvalidMarket)
		}
	}
	if m.ClosesAt.IsZero() || m.ResolvesAt.IsZero() {
		return fmt.Errorf("%w: closes_at and resolves_at are required", ErrInvalidMarket)
	}
	if m.ClosesAt.After(m.ResolvesAt) {
		return fmt.Errorf("%w: closes_at must not be after resolves_at", ErrInvalidMarket)
	}
	return nil
}

// StakeFor returns the stake pool backing side.
func (m *Market) StakeFor(side OutcomeKey) decimal.Decimal {
	switch side {
	case OutcomeYes:
		return m.YesStake
	case OutcomeNo:
		return m.NoStake
	case OutcomeA:
		return m.AStake
	case OutcomeB:
		return m.BStake
	}
	return decimal.Zero
}

// AddStake increments the pool for side and PoolUSD by the same amount.
func (m *Market) AddStake(side OutcomeKey, amount decimal.Decimal) {
	switch side {
	case OutcomeYes:
		m.YesStake = m.YesStake.Add(amount)
	case OutcomeNo:
		m.NoStake = m.NoStake.Add(amount)
	case OutcomeA:
		m.AStake = m.AStake.Add(amount)
	case OutcomeB:
		m.BStake = m.BStake.Add(amount)
	default:
		return
	}
	m.PoolUSD = m.PoolUSD.Add(amount)
}

// Chance returns the displayed probability for the market's current pools.
func (m *Market) Chance() Chance {
	return GetChance(m.YesStake, m.NoStake, m.AStake, m.BStake, m.Type)
}

// IsOpen returns true while the market is accepting trades.
func (m *Market) IsOpen() bool {
	return m.Status == StatusOpen
}

// IsResolved returns true once a winner has been recorded.
func (m *Market) IsResolved() bool {
	return m.Status == StatusResolved
}

// IsTerminal returns true for RESOLVED and CANCELLED markets.
func (m *Market) IsTerminal() bool {
	return m.Status == StatusResolved || m.Status == StatusCancelled
}

// AcceptsTradesAt returns true when the market is OPEN and now is before
// closesAt. A market past its closing time rejects trades even if the
// lifecycle ticker has not flipped it to CLOSED yet.
func (m *Market) AcceptsTradesAt(now time.Time) bool {
	return m.Status == StatusOpen && now.Before(m.ClosesAt)
}

// TimeLeft returns the duration remaining until the market closes.
// Returns 0 if the market's closing time has already passed.
func (m *Market) TimeLeft() time.Duration {
	remaining := time.Until(m.ClosesAt)
	if remaining < 0 {
		return 0
	}
	return remaining
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketSummary: lightweight read model for WS broadcasts and list endpoints
// ──────────────────────────────────────────────────────────────────────────────

// MarketSummary is a derived, read-only view of a Market with its chance.
type MarketSummary struct {
	ID          uuid.UUID        `json:"id"`
	Title       string           `json:"title"`
	Type        MarketType       `json:"type"`
	Outcomes    [2]OutcomeOption `json:"outcomes"`
	Status      MarketStatus     `json:"status"`
	Chance      Chance           `json:"chance"`
	PoolUSD     decimal.Decimal  `json:"pool_usd"`
	ClosesAt    time.Time        `json:"closes_at"`
	ResolvesAt  time.Time        `json:"resolves_at"`
	TimeLeftSec int64            `json:"time_left_sec"`
	Resolution  *Resolution      `json:"resolution,omitempty"`
}

// ToSummary builds a MarketSummary from the market's current state.
func (m *Market) ToSummary() MarketSummary {
	return MarketSummary{
		ID:          m.ID,
		Title:       m.Title,
		Type:        m.Type,
		Outcomes:    m.Outcomes,
		Status:      m.Status,
		Chance:      m.Chance(),
		PoolUSD:     m.PoolUSD,
		ClosesAt:    m.ClosesAt,
		ResolvesAt:  m.ResolvesAt,
		TimeLeftSec: int64(m.TimeLeft().Seconds()),
		Resolution:  m.Resolution,
	}
}
