package ws

import (
	"context"
	"time"

	"github.com/google/uuid"

	"collab-service/internal/observability"
)

const wsRoutingKey = "ws_events.sessions"

func newConnID() string {
	return uuid.NewString()
}

// publishWSEvent reports a connection lifecycle event on the event exchange.
func publishWSEvent(ctx context.Context, roomID string, info ConnInfo, event, reason string) {
	observability.IncRoomLifecycle(event)
	_ = observability.PublishEvent(ctx, wsRoutingKey, observability.EventEnvelope{
		EventType: "ws_events",
		EventName: event,
		RequestID: info.RequestID,
		TraceID:   info.TraceID,
		Payload: map[string]interface{}{
			"ws": map[string]interface{}{
				"kind":        "session",
				"resource_id": roomID,
				"event":       event,
				"conn_id":     info.ConnID,
				"duration_ms": time.Since(info.ConnectedAt).Milliseconds(),
				"reason":      reason,
			},
			"identity": map[string]interface{}{
				"user_id":   info.UserID,
				"device_id": info.DeviceID,
				"ip":        info.IP,
			},
		},
	})
}
