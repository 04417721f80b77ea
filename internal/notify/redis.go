package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/redis/go-redis/v9"
)

// DefaultChannel is the pub/sub channel used when none is configured.
const DefaultChannel = "buzzer:changes"

// RedisBus shares changes between server instances through Redis
// PUBLISH/SUBSCRIBE.  Messages are JSON encoded Change values.
type RedisBus struct {
	client  *redis.Client
	channel string
}

// NewRedisBus returns a bus bound to client.  An empty channel selects
// DefaultChannel.
func NewRedisBus(client *redis.Client, channel string) *RedisBus {
	if channel == "" {
		channel = DefaultChannel
	}
	return &RedisBus{client: client, channel: channel}
}

// Publish sends c to every instance subscribed to the channel.
func (b *RedisBus) Publish(ctx context.Context, c Change) error {
	body, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("encode change: %w", err)
	}
	if err := b.client.Publish(ctx, b.channel, body).Err(); err != nil {
		return fmt.Errorf("redis publish: %w", err)
	}
	return nil
}

// Subscribe opens a Redis subscription and forwards decoded changes until
// ctx is cancelled.  Like LocalBus, the returned channel holds at most one
// pending change.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Change, error) {
	ps := b.client.Subscribe(ctx, b.channel)
	// Wait for the subscription confirmation so no publish is missed after
	// Subscribe returns.
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("redis subscribe: %w", err)
	}

	out := make(chan Change, 1)
	go func() {
		defer close(out)
		defer ps.Close()
		msgs := ps.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var c Change
				if err := json.Unmarshal([]byte(msg.Payload), &c); err != nil {
					log.Printf("notify: drop malformed change: %v", err)
					continue
				}
				select {
				case out <- c:
				default:
				}
			}
		}
	}()
	return out, nil
}
