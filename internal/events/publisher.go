// Package events fans relay happenings out to the rest of the product
// over Redis pub/sub. The CRUD/REST and view layers subscribe to these
// channels; the relay itself never reads them back.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

const (
	ChannelCommandUpdate = "relay:command-update"
	ChannelChatMessage   = "relay:chat-message"
	ChannelWeatherAlert  = "relay:weather-alert"
)

// Publisher publishes relay events. A nil Publisher is valid and
// publishes nothing, so the relay runs unchanged without Redis.
type Publisher struct {
	rdb    *redis.Client
	logger *slog.Logger
}

// NewPublisher connects to Redis at addr. An empty addr yields a nil
// publisher.
func NewPublisher(addr string, logger *slog.Logger) (*Publisher, error) {
	if addr == "" {
		return nil, nil
	}
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", addr, err)
	}
	return &Publisher{rdb: rdb, logger: logger}, nil
}

// Publish marshals payload to JSON and publishes it on channel.
// Failures are logged, never propagated: event fan-out is best effort
// and must not affect the relay's replies.
func (p *Publisher) Publish(ctx context.Context, channel string, payload any) {
	if p == nil {
		return
	}
	data, err := json.Marshal(payload)
	if err != nil {
		p.logger.Warn("failed to marshal event", "channel", channel, "error", err)
		return
	}
	if err := p.rdb.Publish(ctx, channel, data).Err(); err != nil {
		p.logger.Warn("failed to publish event", "channel", channel, "error", err)
	}
}

// Close releases the redis connection.
func (p *Publisher) Close() error {
	if p == nil {
		return nil
	}
	return p.rdb.Close()
}
