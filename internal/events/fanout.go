package events

import (
	"context"

	"github.com/evetabi/pointsmarket/internal/domain"
)

// Notifier is satisfied by ws.Hub, RedisBus and Fanout.
type Notifier interface {
	Notify(ctx context.Context, ev domain.MarketEvent)
}

// Fanout delivers each event to every non-nil target in order.
type Fanout []Notifier

// NewFanout drops nil targets.
func NewFanout(targets ...Notifier) Fanout {
	out := make(Fanout, 0, len(targets))
	for _, t := range targets {
		if t != nil {
			out = append(out, t)
		}
	}
	return out
}

// Notify implements service.Notifier.
func (f Fanout) Notify(ctx context.Context, ev domain.MarketEvent) {
	for _, t := range f {
		t.Notify(ctx, ev)
	}
}
