// Package events moves market events between processes. The backoffice and
// every API instance publish to one Redis channel; each API instance
// forwards what it receives to its local WebSocket hub.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/evetabi/pointsmarket/internal/domain"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// wireEvent is the JSON payload on the channel. Origin lets a process skip
// its own events when it is both publisher and subscriber.
type wireEvent struct {
	Origin string             `json:"origin"`
	Event  domain.MarketEvent `json:"event"`
}

// RedisBus publishes market events over Redis Pub/Sub.
type RedisBus struct {
	rdb     *redis.Client
	channel string
	origin  string
	logger  *slog.Logger
}

// NewRedisBus creates a bus on the given channel. Each bus gets a random
// origin id.
func NewRedisBus(rdb *redis.Client, channel string, logger *slog.Logger) *RedisBus {
	if logger == nil {
		logger = slog.Default()
	}
	return &RedisBus{
		rdb:     rdb,
		channel: channel,
		origin:  uuid.NewString(),
		logger:  logger.With("component", "events"),
	}
}

// Publish sends ev to the channel.
func (b *RedisBus) Publish(ctx context.Context, ev domain.MarketEvent) error {
	payload, err := encode(b.origin, ev)
	if err != nil {
		return err
	}
	if err := b.rdb.Publish(ctx, b.channel, payload).Err(); err != nil {
		return fmt.Errorf("events.Publish %s: %w", b.channel, err)
	}
	return nil
}

// Notify implements service.Notifier. Publish errors are logged; a missed
// event only delays a client refresh.
func (b *RedisBus) Notify(ctx context.Context, ev domain.MarketEvent) {
	if err := b.Publish(ctx, ev); err != nil {
		b.logger.Warn("publish failed", "type", ev.Type, "market", ev.MarketID, "err", err)
	}
}

// Subscribe forwards every event published by other processes to target
// until ctx is cancelled. It returns once the subscription is confirmed.
func (b *RedisBus) Subscribe(ctx context.Context, target Notifier) error {
	pubsub := b.rdb.Subscribe(ctx, b.channel)
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return fmt.Errorf("events.Subscribe %s: %w", b.channel, err)
	}

	go func() {
		defer pubsub.Close()
		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				ev, forward, err := decode(b.origin, []byte(msg.Payload))
				if err != nil {
					b.logger.Warn("dropping malformed event", "err", err)
					continue
				}
				if forward {
					target.Notify(ctx, ev)
				}
			}
		}
	}()
	return nil
}

func encode(origin string, ev domain.MarketEvent) ([]byte, error) {
	payload, err := json.Marshal(wireEvent{Origin: origin, Event: ev})
	if err != nil {
		return nil, fmt.Errorf("events.encode: %w", err)
	}
	return payload, nil
}

// decode parses a payload. forward is false for events this process
// published itself.
func decode(self string, payload []byte) (ev domain.MarketEvent, forward bool, err error) {
	var w wireEvent
	if err := json.Unmarshal(payload, &w); err != nil {
		return domain.MarketEvent{}, false, fmt.Errorf("events.decode: %w", err)
	}
	if w.Event.Type == "" {
		return domain.MarketEvent{}, false, fmt.Errorf("events.decode: missing event type")
	}
	return w.Event, w.Origin != self, nil
}
