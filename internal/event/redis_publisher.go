package event

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"
)

// Publisher is the subset of *redis.Client the publisher uses.
type Publisher interface {
	Publish(ctx context.Context, channel string, message interface{}) *redis.IntCmd
}

// RedisPublisher republishes events on redis pub/sub so companion apps
// (till, delivery, stock) can follow the POS.
type RedisPublisher struct {
	rdb    Publisher
	prefix string
}

func NewRedisPublisher(rdb Publisher, prefix string) *RedisPublisher {
	if prefix == "" {
		prefix = "pos:events:"
	}
	return &RedisPublisher{rdb: rdb, prefix: prefix}
}

type envelope struct {
	EventType Name      `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Event     `json:"data"`
}

// Handle publishes e on "<prefix><name>" and "<prefix>all". Publishing is
// best effort: failures are logged and never veto the event.
func (p *RedisPublisher) Handle(ctx context.Context, e Event) error {
	if e.EventName() == ClientSaleValidation {
		return nil
	}
	if err := p.publish(ctx, e); err != nil {
		log.Warn().Err(err).Str("event", string(e.EventName())).Msg("event: publish failed")
	}
	return nil
}

func (p *RedisPublisher) publish(ctx context.Context, e Event) error {
	payload, err := json.Marshal(envelope{EventType: e.EventName(), Timestamp: time.Now(), Data: e})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.prefix+string(e.EventName()), payload).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}
	if err := p.rdb.Publish(ctx, p.prefix+"all", payload).Err(); err != nil {
		return fmt.Errorf("failed to publish to all channel: %w", err)
	}
	return nil
}
