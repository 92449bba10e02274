package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"collab-service/internal/models"
	"collab-service/internal/observability"
	"collab-service/internal/repositories"
	"collab-service/internal/telemetry"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// SessionHandler manages collaboration sessions and their rosters.
type SessionHandler struct {
	sessions     repositories.SessionRepository
	participants repositories.ParticipantRepository
	profiles     repositories.ProfileRepository
	publisher    ChangePublisher
	audit        *telemetry.AuditEmitter
}

// NewSessionHandler builds a SessionHandler.
func NewSessionHandler(sessions repositories.SessionRepository, participants repositories.ParticipantRepository, profiles repositories.ProfileRepository, publisher ChangePublisher, audit *telemetry.AuditEmitter) *SessionHandler {
	return &SessionHandler{
		sessions:     sessions,
		participants: participants,
		profiles:     profiles,
		publisher:    publisher,
		audit:        audit,
	}
}

// ListSessions returns a page of sessions, newest first.
func (h *SessionHandler) ListSessions(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "page_size", defaultPageSize)
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}

	sessions, total, err := h.sessions.ListSessions(c.Request.Context(), pageSize, (page-1)*pageSize)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load sessions")
		return
	}

	respondOK(c, http.StatusOK, gin.H{
		"sessions":  sessions,
		"count":     total,
		"page":      page,
		"page_size": pageSize,
	})
}

// CreateSession stores a session and adds the owner to its roster.
func (h *SessionHandler) CreateSession(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}

	var req struct {
		Title       string  `json:"title" binding:"required"`
		Description *string `json:"description"`
		Visibility  string  `json:"visibility"`
		AccessCode  *string `json:"access_code"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, err.Error())
		return
	}
	req.Title = strings.TrimSpace(req.Title)
	if req.Title == "" {
		respondError(c, http.StatusBadRequest, "title is required")
		return
	}

	session, err := h.sessions.CreateSession(c.Request.Context(), models.Session{
		OwnerID:     userID,
		Title:       req.Title,
		Description: req.Description,
		Visibility:  req.Visibility,
		AccessCode:  req.AccessCode,
	})
	if err != nil {
		emitAudit(c, h.audit, telemetry.LevelError, "session.create", "", "session create failed")
		respondError(c, http.StatusInternalServerError, "could not create session")
		return
	}

	participant, err := h.participants.Join(c.Request.Context(), session.ID, userID)
	if err != nil {
		observability.Ctx(c.Request.Context()).Warn().Err(err).Str(observability.FieldSessionID, session.ID).Msg("owner auto-join failed")
	} else {
		publishChange(c, h.publisher, session.ID, models.TableParticipants, models.OpInsert, participant)
	}

	emitAudit(c, h.audit, telemetry.LevelInfo, "session.create", session.ID, "session created")
	respondOK(c, http.StatusCreated, session)
}

// JoinSession adds the caller to the roster, checking the access code of private sessions.
func (h *SessionHandler) JoinSession(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")

	var req struct {
		AccessCode string `json:"access_code"`
	}
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondError(c, http.StatusBadRequest, err.Error())
			return
		}
	}

	session, err := h.sessions.GetSession(c.Request.Context(), sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		respondError(c, status, "session not found")
		return
	}
	if session.Visibility == models.VisibilityPrivate && session.AccessCode != nil && *session.AccessCode != "" && *session.AccessCode != req.AccessCode {
		respondError(c, http.StatusForbidden, "Invalid access code")
		return
	}

	participant, err := h.participants.Join(c.Request.Context(), sessionID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrAlreadyJoined) {
			respondError(c, http.StatusConflict, "You already joined this session")
			return
		}
		emitAudit(c, h.audit, telemetry.LevelError, "session.join", sessionID, "join failed")
		respondError(c, http.StatusInternalServerError, "could not join session")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableParticipants, models.OpInsert, participant)
	emitAudit(c, h.audit, telemetry.LevelInfo, "session.join", sessionID, "joined session")
	respondOK(c, http.StatusCreated, participant)
}

// LeaveSession removes the caller from the roster.
func (h *SessionHandler) LeaveSession(c *gin.Context) {
	userID, authed := currentUser(c)
	if !authed {
		return
	}
	sessionID := c.Param("session_id")

	participant, err := h.participants.Leave(c.Request.Context(), sessionID, userID)
	if err != nil {
		if errors.Is(err, repositories.ErrParticipantNotFound) {
			respondError(c, http.StatusNotFound, "not a participant of this session")
			return
		}
		respondError(c, http.StatusInternalServerError, "could not leave session")
		return
	}

	publishChange(c, h.publisher, sessionID, models.TableParticipants, models.OpDelete, participant)
	emitAudit(c, h.audit, telemetry.LevelInfo, "session.leave", sessionID, "left session")
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// ListParticipants returns the roster with resolved profiles, in join order.
func (h *SessionHandler) ListParticipants(c *gin.Context) {
	sessionID := c.Param("session_id")

	parts, err := h.participants.ListParticipants(c.Request.Context(), sessionID)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load participants")
		return
	}
	if len(parts) == 0 {
		respondOK(c, http.StatusOK, []models.ParticipantWithProfile{})
		return
	}

	ids := make([]string, 0, len(parts))
	seen := map[string]struct{}{}
	for _, p := range parts {
		if _, dup := seen[p.UserID]; !dup {
			seen[p.UserID] = struct{}{}
			ids = append(ids, p.UserID)
		}
	}

	profiles, err := h.profiles.BulkProfiles(c.Request.Context(), ids)
	if err != nil {
		respondError(c, http.StatusBadGateway, "failed to load profiles")
		return
	}
	byID := make(map[string]models.Profile, len(profiles))
	for _, p := range profiles {
		byID[p.ID] = p
	}

	merged := make([]models.ParticipantWithProfile, 0, len(parts))
	for _, p := range parts {
		entry := models.ParticipantWithProfile{Participant: p}
		if prof, found := byID[p.UserID]; found {
			prof := prof
			entry.Profile = &prof
		}
		merged = append(merged, entry)
	}
	respondOK(c, http.StatusOK, merged)
}
