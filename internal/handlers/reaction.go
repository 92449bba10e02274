package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"collab-service/internal/models"
	"collab-service/internal/repositories"
	"collab-service/internal/telemetry"
)

// ReactionHandler manages emoji reactions on room messages.
type ReactionHandler struct {
	reactions    repositories.ReactionRepository
	messages     repositories.MessageRepository
	participants repositories.ParticipantRepository
	publisher    ChangePublisher
	audit        *telemetry.AuditEmitter
}

// NewReactionHandler builds a ReactionHandler.
func NewReactionHandler(reactions repositories.ReactionRepository, messages repositories.MessageRepository, participants repositories.ParticipantRepository, publisher ChangePublisher, audit *telemetry.AuditEmitter) *ReactionHandler {
	return &ReactionHandler{
		reactions:    reactions,
		messages:     messages,
		participants: participants,
		publisher:    publisher,
		audit:        audit,
	}
}

// ListReactions loads reactions for the message ids given as repeated or comma separated message_id params.
func (h *ReactionHandler) ListReactions(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")
	if !requireParticipant(c, h.participants, sessionID, userID) {
		return
	}

	var ids []string
	for _, raw := range c.QueryArray("message_id") {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				ids = append(ids, id)
			}
		}
	}

	reactions, err := h.reactions.ListReactions(c.Request.Context(), sessionID, ids)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load reactions")
		return
	}
	respondOK(c, http.StatusOK, reactions)
}

// AddReaction records the caller's reaction; a duplicate is a 409 notice.
func (h *ReactionHandler) AddReaction(c *gin.Context) {
	userID, sessionID, messageID, ok := h.authorize(c)
	if !ok {
		return
	}

	var req struct {
		Emoji string `json:"emoji" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}

	reaction, err := h.reactions.AddReaction(c.Request.Context(), messageID, userID, req.Emoji)
	if err != nil {
		if errors.Is(err, repositories.ErrAlreadyReacted) {
			respondError(c, http.StatusConflict, "You already reacted with this emoji")
			return
		}
		emitAudit(c, h.audit, telemetry.LevelError, "reaction.add", sessionID, "reaction add failed")
		respondError(c, http.StatusInternalServerError, "failed to add reaction")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableReactions, models.OpInsert, reaction)
	emitAudit(c, h.audit, telemetry.LevelInfo, "reaction.add", sessionID, "reaction added")
	respondOK(c, http.StatusCreated, reaction)
}

// RemoveReaction deletes the caller's reaction named by the emoji query param.
func (h *ReactionHandler) RemoveReaction(c *gin.Context) {
	userID, sessionID, messageID, ok := h.authorize(c)
	if !ok {
		return
	}

	emoji := c.Query("emoji")
	if emoji == "" {
		respondError(c, http.StatusBadRequest, "emoji is required")
		return
	}

	reaction, err := h.reactions.RemoveReaction(c.Request.Context(), messageID, userID, emoji)
	if err != nil {
		if errors.Is(err, repositories.ErrReactionNotFound) {
			respondError(c, http.StatusNotFound, "reaction not found")
			return
		}
		emitAudit(c, h.audit, telemetry.LevelError, "reaction.remove", sessionID, "reaction remove failed")
		respondError(c, http.StatusInternalServerError, "failed to remove reaction")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableReactions, models.OpDelete, reaction)
	emitAudit(c, h.audit, telemetry.LevelInfo, "reaction.remove", sessionID, "reaction removed")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// authorize checks identity, membership and that the message belongs to the session.
func (h *ReactionHandler) authorize(c *gin.Context) (userID, sessionID, messageID string, ok bool) {
	userID, ok = currentUser(c)
	if !ok {
		return
	}
	sessionID = c.Param("session_id")
	messageID = c.Param("message_id")
	if ok = requireParticipant(c, h.participants, sessionID, userID); !ok {
		return
	}

	msg, err := h.messages.GetMessage(c.Request.Context(), messageID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrMessageNotFound) {
			status = http.StatusNotFound
		}
		respondError(c, status, "message not found")
		return userID, sessionID, messageID, false
	}
	if msg.SessionID != sessionID {
		respondError(c, http.StatusBadRequest, "message does not belong to session")
		return userID, sessionID, messageID, false
	}
	return userID, sessionID, messageID, true
}
