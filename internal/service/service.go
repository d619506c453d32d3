// Package service holds the engines of the points market: trade execution,
// settlement and the market lifecycle, plus the market and wallet read
// services used by the HTTP layers.
package service

import (
	"context"
	"log/slog"

	"github.com/evetabi/pointsmarket/internal/domain"
)

// ──────────────────────────────────────────────────────────────────────────────
// Interfaces injected into the services
// ──────────────────────────────────────────────────────────────────────────────

// PriceOracle is the narrow view of the oracle the lifecycle needs. A false
// return means no reading could be obtained; it never returns an error.
// Implemented by oracle.Router.
type PriceOracle interface {
	GetPrice(ctx context.Context, provider domain.OracleProvider, ref domain.OracleRef) (domain.PriceQuote, bool)
	GetRank(ctx context.Context, ref domain.OracleRef) (domain.RankQuote, bool)
}

// Notifier receives market events after the ledger has committed them.
// Implemented by ws.Hub, events.RedisBus and events.Fanout.
type Notifier interface {
	Notify(ctx context.Context, ev domain.MarketEvent)
}

// notify sends ev when n is set.
func notify(ctx context.Context, n Notifier, ev domain.MarketEvent) {
	if n != nil {
		n.Notify(ctx, ev)
	}
}

func loggerOrDefault(l *slog.Logger) *slog.Logger {
	if l == nil {
		return slog.Default()
	}
	return l
}
