package handlers

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"collab-service/internal/models"
	"collab-service/internal/observability"
	"collab-service/internal/repositories"
)

// ChangePublisher mirrors committed row changes onto a session channel.
type ChangePublisher interface {
	PublishChange(ctx context.Context, roomID string, ev models.ChangeEvent) error
}

func respondError(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

func respondOK(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": true, "data": data})
}

// currentUser returns the authenticated user id or writes a 401.
func currentUser(c *gin.Context) (string, bool) {
	userID := c.GetString("userID")
	if userID == "" {
		respondError(c, http.StatusUnauthorized, "Not authenticated")
		return "", false
	}
	return userID, true
}

// requireParticipant writes a 403 unless userID is on the session roster.
func requireParticipant(c *gin.Context, participants repositories.ParticipantRepository, sessionID, userID string) bool {
	member, err := participants.IsParticipant(c.Request.Context(), sessionID, userID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to verify membership")
		return false
	}
	if !member {
		respondError(c, http.StatusForbidden, "not a participant of this session")
		return false
	}
	return true
}

// publishChange logs instead of failing: the row is already committed.
func publishChange(c *gin.Context, publisher ChangePublisher, sessionID, table, op string, row any) {
	if publisher == nil {
		return
	}
	ev, err := models.NewChangeEvent(table, op, row)
	if err == nil {
		err = publisher.PublishChange(c.Request.Context(), sessionID, ev)
	}
	if err != nil {
		observability.Ctx(c.Request.Context()).Error().Err(err).
			Str(observability.FieldSessionID, sessionID).
			Str("table", table).
			Str("op", op).
			Msg("failed to publish change event")
	}
}

func queryInt(c *gin.Context, key string, fallback int) int {
	raw := c.Query(key)
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v <= 0 {
		return fallback
	}
	return v
}
