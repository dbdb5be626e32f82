package realtime

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"studio/internal/infra"
)

// DefaultChannel is the Redis channel events travel on.
const DefaultChannel = "studio:job-events"

// RedisRelay carries events between processes. Publish writes to Redis and
// Run forwards every message into the local hub, so a process that changes
// a job reaches subscribers connected to another process.
type RedisRelay struct {
	client  *redis.Client
	channel string
	local   *Hub
	logger  infra.Logger
	ready   chan struct{}
}

// NewRedisRelay wires client to the local hub.
func NewRedisRelay(client *redis.Client, channel string, local *Hub, logger infra.Logger) *RedisRelay {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisRelay{client: client, channel: channel, local: local, logger: logger, ready: make(chan struct{})}
}

// Publish sends ev to every relay listening on the channel.
func (r *RedisRelay) Publish(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	if err := r.client.Publish(ctx, r.channel, data).Err(); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// Ready is closed once Run has an active subscription.
func (r *RedisRelay) Ready() <-chan struct{} { return r.ready }

// Run forwards channel messages to the local hub until ctx is done.
func (r *RedisRelay) Run(ctx context.Context) error {
	pubsub := r.client.Subscribe(ctx, r.channel)
	defer pubsub.Close()
	if _, err := pubsub.Receive(ctx); err != nil {
		return fmt.Errorf("subscribe %s: %w", r.channel, err)
	}
	close(r.ready)
	r.logger.Info().Str("channel", r.channel).Msg("realtime: relay subscribed")

	messages := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			var ev Event
			if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
				r.logger.Warn().Err(err).Msg("realtime: drop malformed event")
				continue
			}
			_ = r.local.Publish(ctx, ev)
		}
	}
}
