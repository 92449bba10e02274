package handlers

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"collab-service/internal/models"
	"collab-service/internal/observability"
	"collab-service/internal/repositories"
	"collab-service/internal/storage"
	"collab-service/internal/telemetry"
)

const defaultImageContent = "📷 Image"

// MessageHandler manages room messages.
type MessageHandler struct {
	messages     repositories.MessageRepository
	participants repositories.ParticipantRepository
	blobs        storage.BlobStore
	publisher    ChangePublisher
	audit        *telemetry.AuditEmitter
	now          func() time.Time
}

// NewMessageHandler builds a MessageHandler.
func NewMessageHandler(messages repositories.MessageRepository, participants repositories.ParticipantRepository, blobs storage.BlobStore, publisher ChangePublisher, audit *telemetry.AuditEmitter) *MessageHandler {
	return &MessageHandler{
		messages:     messages,
		participants: participants,
		blobs:        blobs,
		publisher:    publisher,
		audit:        audit,
		now:          time.Now,
	}
}

// ListMessages returns the session history in creation order.
func (h *MessageHandler) ListMessages(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")
	if !requireParticipant(c, h.participants, sessionID, userID) {
		return
	}

	msgs, err := h.messages.ListMessages(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load messages")
		return
	}
	respondOK(c, http.StatusOK, msgs)
}

// PostMessage stores a text message and mirrors it on the session channel.
func (h *MessageHandler) PostMessage(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")

	var req struct {
		Content  string `json:"content"`
		ClientID string `json:"client_id"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	content := strings.TrimSpace(req.Content)
	if content == "" {
		respondError(c, http.StatusBadRequest, "Message cannot be empty")
		return
	}
	if !requireParticipant(c, h.participants, sessionID, userID) {
		return
	}

	msg, err := h.messages.CreateMessage(c.Request.Context(), repositories.NewMessage{
		SessionID: sessionID,
		UserID:    userID,
		Content:   content,
		ClientID:  optional(req.ClientID),
	})
	if err != nil {
		emitAudit(c, h.audit, telemetry.LevelError, "message.create", sessionID, "message store failed")
		respondError(c, http.StatusInternalServerError, "failed to store message")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableMessages, models.OpInsert, msg)
	emitAudit(c, h.audit, telemetry.LevelInfo, "message.create", sessionID, "message sent")
	respondOK(c, http.StatusCreated, msg)
}

// PostImageMessage uploads an image and stores a message referencing it.
// The uploaded object is removed again if the message insert fails.
func (h *MessageHandler) PostImageMessage(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")

	header, err := c.FormFile("image")
	if err != nil {
		respondError(c, http.StatusBadRequest, "No image provided")
		return
	}
	contentType := header.Header.Get("Content-Type")
	if err := storage.ValidateImage(header.Size, contentType); err != nil {
		if errors.Is(err, storage.ErrFileTooLarge) {
			respondError(c, http.StatusRequestEntityTooLarge, "Image size exceeds 10MB limit")
			return
		}
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	if !requireParticipant(c, h.participants, sessionID, userID) {
		return
	}
	if h.blobs == nil {
		respondError(c, http.StatusServiceUnavailable, "blob store not configured")
		return
	}

	file, err := header.Open()
	if err != nil {
		respondError(c, http.StatusBadRequest, "could not read image")
		return
	}
	defer file.Close()

	key := storage.ImageKey(userID, sessionID, header.Filename, h.now())
	url, err := h.blobs.Upload(c.Request.Context(), key, file, header.Size, contentType)
	if err != nil {
		emitAudit(c, h.audit, telemetry.LevelError, "message.image", sessionID, "image upload failed")
		respondError(c, http.StatusBadGateway, "failed to upload image")
		return
	}

	content := strings.TrimSpace(c.PostForm("content"))
	if content == "" {
		content = defaultImageContent
	}
	msg, err := h.messages.CreateMessage(c.Request.Context(), repositories.NewMessage{
		SessionID: sessionID,
		UserID:    userID,
		Content:   content,
		ImageURL:  &url,
		ImagePath: &key,
		ClientID:  optional(c.PostForm("client_id")),
	})
	if err != nil {
		if delErr := h.blobs.Delete(c.Request.Context(), key); delErr != nil {
			observability.Ctx(c.Request.Context()).Warn().Err(delErr).Str("key", key).Msg("orphaned image cleanup failed")
		}
		emitAudit(c, h.audit, telemetry.LevelError, "message.image", sessionID, "image message store failed")
		respondError(c, http.StatusInternalServerError, "failed to store message")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableMessages, models.OpInsert, msg)
	emitAudit(c, h.audit, telemetry.LevelInfo, "message.image", sessionID, "image sent")
	respondOK(c, http.StatusCreated, msg)
}

func optional(s string) *string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	return &s
}
