package room

import (
	"context"

	"collab-service/internal/models"
)

// Streams are the typed event streams of one room subscription. Every
// channel is closed when the subscription ends.
type Streams struct {
	Changes    <-chan models.ChangeEvent
	Broadcasts <-chan models.BroadcastEvent
	Presence   <-chan models.PresenceSync
	// Done is closed when the subscription is lost or closed.
	Done <-chan struct{}
}

// Channel is a live subscription to a session's room channel.
type Channel interface {
	// Subscribe attaches to sessionID and returns once the server confirmed it.
	Subscribe(ctx context.Context, sessionID string) (Streams, error)
	Track(ctx context.Context, meta models.PresenceMeta) error
	Untrack(ctx context.Context) error
	Broadcast(ctx context.Context, event string, payload any) error
	Close() error
}
