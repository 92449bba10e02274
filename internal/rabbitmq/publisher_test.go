package rabbitmq

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"collab-service/internal/observability"
	"collab-service/internal/telemetry"
)

func TestNewPublisherWithoutURLIsNoop(t *testing.T) {
	p := NewPublisher("", "collab.events")

	assert.Equal(t, "noop", PublisherMode(p))
	assert.Equal(t, "empty amqp url", PublisherNoopReason(p))

	ctx := context.Background()
	require.NoError(t, p.Publish(ctx, "audit.collab", telemetry.AuditEnvelope{EventType: "audit_log"}))
	require.NoError(t, p.Publish(ctx, "ws_events.sessions", observability.EventEnvelope{EventType: "ws_events", EventName: "ws_connect"}))
	require.NoError(t, p.Close())
}

func TestPublisherModeUnknown(t *testing.T) {
	assert.Equal(t, "unknown", PublisherMode(nil))
	assert.Equal(t, "", PublisherNoopReason(nil))
}
