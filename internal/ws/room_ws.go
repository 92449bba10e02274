package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel"
	"golang.org/x/time/rate"

	"collab-service/internal/config"
	"collab-service/internal/middleware"
	"collab-service/internal/models"
	"collab-service/internal/observability"
	"collab-service/internal/repositories"
)

// Status values sent to a connection once it is attached.
const StatusSubscribed = "SUBSCRIBED"

// RoomWebSocketHandler attaches participants to a session channel.
type RoomWebSocketHandler struct {
	hub          *Hub
	participants repositories.ParticipantRepository
	verifier     middleware.TokenVerifier
	cfg          config.RoomConfig
}

// NewRoomWebSocketHandler constructs a RoomWebSocketHandler.
func NewRoomWebSocketHandler(hub *Hub, participants repositories.ParticipantRepository, verifier middleware.TokenVerifier, cfg config.RoomConfig) *RoomWebSocketHandler {
	return &RoomWebSocketHandler{hub: hub, participants: participants, verifier: verifier, cfg: cfg}
}

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handle upgrades the connection and registers the client on the session channel.
func (h *RoomWebSocketHandler) Handle(c *gin.Context) {
	sessionID := c.Param("session_id")
	if sessionID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session id"})
		return
	}

	ctx, span := otel.Tracer("collab-service/ws").Start(c.Request.Context(), "ws.handshake")
	defer span.End()
	c.Request = c.Request.WithContext(ctx)

	token := observability.BearerToken(c.Request)
	if token == "" {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
		return
	}
	identity, err := h.verifier.Verify(token)
	if err != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}

	member, err := h.participants.IsParticipant(ctx, sessionID, identity.UserID)
	if err != nil || !member {
		c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this session"})
		return
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}

	info := ConnInfo{
		ConnID:      newConnID(),
		UserID:      identity.UserID,
		UserName:    identity.Name,
		DeviceID:    observability.DeviceIDFromRequest(c.Request),
		IP:          observability.IPFromRequest(c.Request),
		RequestID:   observability.RequestIDFromRequest(c.Request, c.Writer),
		TraceID:     observability.TraceIDFromContext(ctx),
		ConnectedAt: time.Now(),
	}
	logger := observability.L().With().
		Str(observability.FieldSessionID, sessionID).
		Str(observability.FieldConnID, info.ConnID).
		Str(observability.FieldUserID, info.UserID).
		Logger()

	// the status frame goes out before the peer joins the room, so it is
	// always the first frame the client sees
	if err := h.writeStatus(conn, StatusSubscribed); err != nil {
		logger.Warn().Err(err).Msg("failed to send subscribed status")
		_ = conn.Close()
		return
	}
	h.hub.AddClient(sessionID, conn, info)
	observability.RoomConnected()
	publishWSEvent(ctx, sessionID, info, "ws_connect", "")
	logger.Debug().Msg("room connection attached")

	go h.readLoop(context.Background(), sessionID, conn, info)
}

func (h *RoomWebSocketHandler) writeStatus(conn *websocket.Conn, status string) error {
	wait := h.cfg.WriteWait
	if wait <= 0 {
		wait = defaultWriteWait
	}
	_ = conn.SetWriteDeadline(time.Now().Add(wait))
	return conn.WriteJSON(models.ServerFrame{Family: models.FamilyStatus, Status: status})
}

func (h *RoomWebSocketHandler) readLoop(ctx context.Context, sessionID string, conn *websocket.Conn, info ConnInfo) {
	ctx, cancel := context.WithCancel(ctx)
	var closeReason string
	defer func() {
		cancel()
		h.hub.RemoveClient(context.Background(), sessionID, info.ConnID)
		observability.RoomDisconnected()
		publishWSEvent(context.Background(), sessionID, info, "ws_disconnect", closeReason)
		_ = conn.Close()
	}()

	if h.cfg.MaxMessageSize > 0 {
		conn.SetReadLimit(h.cfg.MaxMessageSize)
	}
	if h.cfg.PongWait > 0 {
		_ = conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(h.cfg.PongWait))
		})
	}
	if h.cfg.PingInterval > 0 {
		go h.pingLoop(ctx, sessionID, info.ConnID)
	}
	limiter := h.newFrameLimiter()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			closeReason = err.Error()
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				publishWSEvent(ctx, sessionID, info, "ws_error", closeReason)
			}
			return
		}

		var frame models.ClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			observability.L().Debug().Err(err).Str(observability.FieldConnID, info.ConnID).Msg("ignoring malformed client frame")
			observability.IncDroppedFrame("malformed")
			continue
		}
		if frame.Type == models.ClientBroadcast && limiter != nil && !limiter.Allow() {
			observability.IncDroppedFrame("rate_limited")
			continue
		}
		if err := h.handleFrame(ctx, sessionID, info, frame); err != nil {
			observability.L().Warn().Err(err).
				Str(observability.FieldSessionID, sessionID).
				Str(observability.FieldConnID, info.ConnID).
				Str("frame_type", frame.Type).
				Msg("client frame failed")
		}
	}
}

func (h *RoomWebSocketHandler) handleFrame(ctx context.Context, sessionID string, info ConnInfo, frame models.ClientFrame) error {
	switch frame.Type {
	case models.ClientBroadcast:
		if frame.Event == "" {
			return nil
		}
		return h.hub.Broadcast(ctx, sessionID, info.ConnID, models.BroadcastEvent{Event: frame.Event, Payload: frame.Payload})
	case models.ClientTrack:
		var meta models.PresenceMeta
		if len(frame.Payload) > 0 {
			if err := json.Unmarshal(frame.Payload, &meta); err != nil {
				return err
			}
		}
		// presence is keyed by the authenticated identity, never the payload
		meta.UserID = info.UserID
		if meta.Name == "" {
			meta.Name = info.UserName
		}
		if meta.OnlineAt.IsZero() {
			meta.OnlineAt = time.Now().UTC()
		}
		return h.hub.Track(ctx, sessionID, info.ConnID, meta)
	case models.ClientUntrack:
		return h.hub.Untrack(ctx, sessionID, info.ConnID)
	}
	return nil
}

// newFrameLimiter returns nil when broadcast frames are unlimited.
func (h *RoomWebSocketHandler) newFrameLimiter() *rate.Limiter {
	if h.cfg.FrameRate <= 0 {
		return nil
	}
	burst := h.cfg.FrameBurst
	if burst <= 0 {
		burst = int(h.cfg.FrameRate) * 2
	}
	if burst < 1 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(h.cfg.FrameRate), burst)
}

func (h *RoomWebSocketHandler) pingLoop(ctx context.Context, sessionID, connID string) {
	ticker := time.NewTicker(h.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := h.hub.ping(sessionID, connID); err != nil {
				return
			}
		}
	}
}
