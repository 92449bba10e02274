package telemetry

import (
	"context"
	"time"

	"collab-service/internal/observability"
)

type Publisher interface {
	Publish(ctx context.Context, routingKey string, event any) error
	Close() error
}

// Audit levels.
const (
	LevelInfo  = "INFO"
	LevelError = "ERROR"
)

// AuditEmitter publishes audit records for the acting user's mutations.
type AuditEmitter struct {
	publisher   Publisher
	routingKey  string
	service     string
	environment string
	now         func() time.Time
}

type AuditEnvelope struct {
	SchemaVersion int          `json:"schema_version"`
	EventType     string       `json:"event_type"`
	OccurredAt    string       `json:"occurred_at"`
	Service       string       `json:"service"`
	Environment   string       `json:"environment"`
	RequestID     string       `json:"request_id"`
	UserID        *string      `json:"user_id,omitempty"`
	Payload       AuditPayload `json:"payload"`
}

type AuditPayload struct {
	Level     string `json:"level"`
	Action    string `json:"action,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"text"`
}

// AuditRecord is one audited action.
type AuditRecord struct {
	Level     string
	Action    string
	SessionID string
	Text      string
	RequestID string
	UserID    *string
}

func NewAuditEmitter(publisher Publisher, routingKey, service, environment string) *AuditEmitter {
	return &AuditEmitter{
		publisher:   publisher,
		routingKey:  routingKey,
		service:     service,
		environment: environment,
		now:         time.Now,
	}
}

// Emit publishes rec. Publish failures are logged, never returned.
func (e *AuditEmitter) Emit(ctx context.Context, rec AuditRecord) {
	if e == nil || e.publisher == nil {
		return
	}
	if rec.Level == "" {
		rec.Level = LevelInfo
	}

	logger := observability.Ctx(ctx)
	logger.Debug().
		Str("level", rec.Level).
		Str("action", rec.Action).
		Str(observability.FieldRequestID, rec.RequestID).
		Str(observability.FieldSessionID, rec.SessionID).
		Msg("audit emit")

	envelope := AuditEnvelope{
		SchemaVersion: 1,
		EventType:     "audit_log",
		OccurredAt:    e.now().UTC().Format(time.RFC3339Nano),
		Service:       e.service,
		Environment:   e.environment,
		RequestID:     rec.RequestID,
		UserID:        rec.UserID,
		Payload: AuditPayload{
			Level:     rec.Level,
			Action:    rec.Action,
			SessionID: rec.SessionID,
			Text:      rec.Text,
		},
	}

	if err := e.publisher.Publish(ctx, e.routingKey, envelope); err != nil {
		observability.IncAMQPPublishError()
		logger.Warn().Err(err).Str("routing_key", e.routingKey).Msg("audit publish failed")
	}
}
