package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/redis/go-redis/v9"

	"collab-service/internal/observability"
)

const roomChannelPrefix = "collab:room:"

// RoomChannel returns the Redis channel name for a room.
func RoomChannel(roomID string) string {
	return roomChannelPrefix + roomID
}

// RedisBus implements Bus with Redis PUBLISH/PSUBSCRIBE.
type RedisBus struct {
	client *redis.Client
	mu     sync.Mutex
	subs   []*redis.PubSub
}

// NewRedisBus wraps an existing client.
func NewRedisBus(client *redis.Client) *RedisBus {
	return &RedisBus{client: client}
}

// Publish sends env on the room's channel.
func (b *RedisBus) Publish(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("failed to marshal envelope: %w", err)
	}
	return b.client.Publish(ctx, RoomChannel(env.RoomID), data).Err()
}

// Subscribe listens on every room channel.
func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Envelope, error) {
	ps := b.client.PSubscribe(ctx, roomChannelPrefix+"*")
	if _, err := ps.Receive(ctx); err != nil {
		_ = ps.Close()
		return nil, fmt.Errorf("failed to subscribe: %w", err)
	}

	b.mu.Lock()
	b.subs = append(b.subs, ps)
	b.mu.Unlock()

	out := make(chan Envelope, 256)
	go b.processMessages(ctx, ps, out)
	return out, nil
}

func (b *RedisBus) processMessages(ctx context.Context, ps *redis.PubSub, out chan<- Envelope) {
	defer close(out)
	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			var env Envelope
			if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
				observability.L().Warn().Err(err).Str("channel", msg.Channel).Msg("dropping malformed room envelope")
				continue
			}
			if env.RoomID == "" {
				env.RoomID = strings.TrimPrefix(msg.Channel, roomChannelPrefix)
			}
			select {
			case out <- env:
			case <-ctx.Done():
				return
			}
		}
	}
}

// Close closes subscriptions. The client is owned by the caller.
func (b *RedisBus) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	var firstErr error
	for _, ps := range b.subs {
		if err := ps.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	b.subs = nil
	return firstErr
}
