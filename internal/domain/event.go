package domain

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// ──────────────────────────────────────────────────────────────────────────────
// Oracle readings
// ──────────────────────────────────────────────────────────────────────────────

// PriceQuote is one USD price reading from an oracle provider.
type PriceQuote struct {
	Provider OracleProvider  `json:"provider"`
	Ref      OracleRef       `json:"ref"`
	PriceUSD decimal.Decimal `json:"price_usd"`
	Ts       time.Time       `json:"ts"`
}

// RankQuote is a market-cap rank reading (1 = largest).
type RankQuote struct {
	Ref  OracleRef `json:"ref"`
	Rank int       `json:"rank"`
	Ts   time.Time `json:"ts"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketEvent: realtime notification payload
// ──────────────────────────────────────────────────────────────────────────────

// EventType names a realtime notification.
type EventType string

const (
	EventTradeExecuted  EventType = "trade_executed"
	EventMarketStatus   EventType = "market_status"
	EventMarketResolved EventType = "market_resolved"
	EventClaimsSettled  EventType = "claims_settled"
)

// MarketEvent is published after a ledger commit so that connected clients
// can refresh a market without polling.
type MarketEvent struct {
	Type     EventType        `json:"type"`
	MarketID uuid.UUID        `json:"market_id"`
	Market   *MarketSummary   `json:"market,omitempty"`
	Trade    *Trade           `json:"trade,omitempty"`
	Claims   int              `json:"claims,omitempty"`
	Paid     *decimal.Decimal `json:"paid,omitempty"`
	Ts       time.Time        `json:"ts"`
}

// NewMarketEvent builds an event carrying the market's current summary.
func NewMarketEvent(t EventType, m *Market, now time.Time) MarketEvent {
	s := m.ToSummary()
	return MarketEvent{Type: t, MarketID: m.ID, Market: &s, Ts: now}
}
