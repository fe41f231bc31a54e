package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"clawbounty.market/internal/core/domain"
	"clawbounty.market/internal/core/logger"
)

const (
	EventChannel = "clawbounty:events"

	// subscriberBuffer bounds how far a slow subscriber may fall behind
	// before events are dropped for it.
	subscriberBuffer = 64
)

// RedisAdapter is the lifecycle event bus backed by Redis pub/sub.
type RedisAdapter struct {
	client *redis.Client
}

func NewRedisAdapter(url string) (*RedisAdapter, *redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	return &RedisAdapter{client: client}, client, nil
}

func NewWithClient(client *redis.Client) *RedisAdapter {
	return &RedisAdapter{client: client}
}

func (r *RedisAdapter) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisAdapter) Close() error {
	return r.client.Close()
}

func (r *RedisAdapter) PublishEvent(ctx context.Context, event domain.Event) error {
	data, err := json.Marshal(event)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, EventChannel, data).Err()
}

// SubscribeEvents streams events until ctx is done. The returned channel is
// closed when the subscription ends.
func (r *RedisAdapter) SubscribeEvents(ctx context.Context) (<-chan domain.Event, error) {
	pubsub := r.client.Subscribe(ctx, EventChannel)
	// Wait for the subscription to be confirmed so no event published after
	// this call returns is missed.
	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, fmt.Errorf("subscribe %s: %w", EventChannel, err)
	}

	ch := make(chan domain.Event, subscriberBuffer)
	go func() {
		defer pubsub.Close()
		defer close(ch)

		msgs := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				ev, err := decodeEvent(msg.Payload)
				if err != nil {
					logger.Warn("Dropping malformed event", "error", err)
					continue
				}
				select {
				case ch <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return ch, nil
}

func decodeEvent(payload string) (domain.Event, error) {
	var ev domain.Event
	if err := json.Unmarshal([]byte(payload), &ev); err != nil {
		return domain.Event{}, err
	}
	if ev.Type == "" {
		return domain.Event{}, fmt.Errorf("event without type")
	}
	return ev, nil
}
