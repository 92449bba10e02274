package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"collab-service/internal/repositories"
)

// ProfileHandler resolves display profiles.
type ProfileHandler struct {
	profiles repositories.ProfileRepository
}

func NewProfileHandler(profiles repositories.ProfileRepository) *ProfileHandler {
	return &ProfileHandler{profiles: profiles}
}

// BulkProfiles handles GET /profiles?ids=a,b.
func (h *ProfileHandler) BulkProfiles(c *gin.Context) {
	var ids []string
	for _, id := range strings.Split(c.Query("ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		respondError(c, http.StatusBadRequest, "ids is required")
		return
	}

	profiles, err := h.profiles.BulkProfiles(c.Request.Context(), ids)
	if err != nil {
		respondError(c, http.StatusInternalServerError, "failed to load profiles")
		return
	}
	respondOK(c, http.StatusOK, profiles)
}

// GetProfile handles GET /profiles/:user_id.
func (h *ProfileHandler) GetProfile(c *gin.Context) {
	profile, err := h.profiles.GetProfile(c.Request.Context(), c.Param("user_id"))
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, repositories.ErrProfileNotFound) {
			status = http.StatusNotFound
		}
		respondError(c, status, "profile not found")
		return
	}
	respondOK(c, http.StatusOK, profile)
}
