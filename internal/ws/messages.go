// Package ws holds WebSocket message types and the Hub implementation.
// messages.go defines all message structs pushed to connected clients.
package ws

import (
	"time"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// MsgType identifies the kind of WS message so clients can switch on it.
type MsgType string

const (
	MsgTypeTradeExecuted  MsgType = "trade_executed"
	MsgTypeMarketStatus   MsgType = "market_status"
	MsgTypeMarketResolved MsgType = "market_resolved"
	MsgTypeClaimsSettled  MsgType = "claims_settled"
)

// ──────────────────────────────────────────────────────────────────────────────
// TradeExecutedMessage: broadcast after a trade so chances refresh for all.
// ──────────────────────────────────────────────────────────────────────────────

// TradeExecutedMessage carries the trade and the market's post-trade chance.
type TradeExecutedMessage struct {
	Type      MsgType           `json:"type"`
	MarketID  uuid.UUID         `json:"market_id"`
	Side      domain.OutcomeKey `json:"side"`
	AmountPts decimal.Decimal   `json:"amount_pts"`
	Price     decimal.Decimal   `json:"price"`
	Shares    decimal.Decimal   `json:"shares"`
	Chance    domain.Chance     `json:"chance"`
	PoolUSD   decimal.Decimal   `json:"pool_usd"`
	Timestamp time.Time         `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketStatusMessage: broadcast on creation, close and cancellation.
// ──────────────────────────────────────────────────────────────────────────────

// MarketStatusMessage carries the market's new status and summary.
type MarketStatusMessage struct {
	Type      MsgType               `json:"type"`
	MarketID  uuid.UUID             `json:"market_id"`
	Status    domain.MarketStatus   `json:"status"`
	Market    *domain.MarketSummary `json:"market,omitempty"`
	Timestamp time.Time             `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// MarketResolvedMessage: broadcast when a winner is recorded.
// ──────────────────────────────────────────────────────────────────────────────

// MarketResolvedMessage tells clients which side won and why.
type MarketResolvedMessage struct {
	Type              MsgType               `json:"type"`
	MarketID          uuid.UUID             `json:"market_id"`
	Winner            domain.OutcomeKey     `json:"winner"`
	ValueAtResolution decimal.Decimal       `json:"value_at_resolution"`
	Reason            string                `json:"reason"`
	Market            *domain.MarketSummary `json:"market,omitempty"`
	Timestamp         time.Time             `json:"timestamp"`
}

// ──────────────────────────────────────────────────────────────────────────────
// ClaimsSettledMessage: broadcast when payouts or refunds are credited.
// ──────────────────────────────────────────────────────────────────────────────

// ClaimsSettledMessage summarises a settlement run.
type ClaimsSettledMessage struct {
	Type      MsgType         `json:"type"`
	MarketID  uuid.UUID       `json:"market_id"`
	Claims    int             `json:"claims"`
	Paid      decimal.Decimal `json:"paid"`
	Timestamp time.Time       `json:"timestamp"`
}

// MessageFor converts a market event into its wire message. The boolean is
// false for events that carry too little data to render.
func MessageFor(ev domain.MarketEvent) (interface{}, bool) {
	switch ev.Type {
	case domain.EventTradeExecuted:
		if ev.Trade == nil {
			return nil, false
		}
		msg := TradeExecutedMessage{
			Type:      MsgTypeTradeExecuted,
			MarketID:  ev.MarketID,
			Side:      ev.Trade.Side,
			AmountPts: ev.Trade.AmountPts,
			Price:     ev.Trade.Price,
			Shares:    ev.Trade.Shares,
			Timestamp: ev.Ts,
		}
		if ev.Market != nil {
			msg.Chance = ev.Market.Chance
			msg.PoolUSD = ev.Market.PoolUSD
		}
		return msg, true

	case domain.EventMarketStatus:
		if ev.Market == nil {
			return nil, false
		}
		return MarketStatusMessage{
			Type:      MsgTypeMarketStatus,
			MarketID:  ev.MarketID,
			Status:    ev.Market.Status,
			Market:    ev.Market,
			Timestamp: ev.Ts,
		}, true

	case domain.EventMarketResolved:
		if ev.Market == nil || ev.Market.Resolution == nil {
			return nil, false
		}
		r := ev.Market.Resolution
		return MarketResolvedMessage{
			Type:              MsgTypeMarketResolved,
			MarketID:          ev.MarketID,
			Winner:            r.Winner,
			ValueAtResolution: r.ValueAtResolution,
			Reason:            r.Reason,
			Market:            ev.Market,
			Timestamp:         ev.Ts,
		}, true

	case domain.EventClaimsSettled:
		msg := ClaimsSettledMessage{
			Type:      MsgTypeClaimsSettled,
			MarketID:  ev.MarketID,
			Claims:    ev.Claims,
			Paid:      decimal.Zero,
			Timestamp: ev.Ts,
		}
		if ev.Paid != nil {
			msg.Paid = *ev.Paid
		}
		return msg, true
	}
	return nil, false
}
