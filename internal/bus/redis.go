package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"
)

// redisChannel is the single Redis pub/sub channel shared by all gateway
// instances; topics are carried inside the event.
const redisChannel = "goscan:broadcast"

// RedisRelay fans broadcasts out across gateway instances through Redis
// PUBLISH/SUBSCRIBE. Redis pub/sub is itself at-most-once, which matches the
// bus delivery contract.
type RedisRelay struct {
	client  *redis.Client
	channel string
}

// NewRedisRelay wraps an existing client; its lifecycle stays with the caller
// unless Close is called.
func NewRedisRelay(client *redis.Client) *RedisRelay {
	return &RedisRelay{client: client, channel: redisChannel}
}

func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Run subscribes to the shared channel and calls deliver for every event until
// ctx is cancelled.
func (r *RedisRelay) Run(ctx context.Context, deliver func(Event)) error {
	sub := r.client.Subscribe(ctx, r.channel)
	defer sub.Close()

	// Wait for the subscription to be confirmed before reporting ready.
	if _, err := sub.Receive(ctx); err != nil {
		return fmt.Errorf("redis subscribe: %w", err)
	}
	slog.Info("redis relay subscribed", "channel", r.channel)

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-ch:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				slog.Warn("redis relay: bad event", "error", err)
				continue
			}
			deliver(ev)
		}
	}
}

func (r *RedisRelay) Close() error {
	return r.client.Close()
}
