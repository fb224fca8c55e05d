package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gigwork-dev/gigwork/internal/models"
)

// ServerSessionResponse carries a server session identifier
type ServerSessionResponse struct {
	SessionID string `json:"session_id"`
}

// @Summary Create a server session
// @Tags sessions
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Phone and code"
// @Success 201 {object} ServerSessionResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/sessions [post]
func (s *Server) createServerSession(c *gin.Context) {
	var req VerifyRequest
	if !s.bind(c, &req) {
		return
	}

	user, err := s.redeemCode(req.Phone, req.Code)
	if err != nil {
		s.respondRedeemError(c, err)
		return
	}

	session := &models.ServerSession{
		UserID:    user.ID,
		ExpiresAt: s.now().Add(serverSessionTTL),
	}
	if err := s.db.Create(session).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to create server session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Str("session_id", session.ID).Msg("Server session created")
	c.JSON(http.StatusCreated, ServerSessionResponse{SessionID: session.ID})
}

// @Summary Validate a server session
// @Tags sessions
// @Produce json
// @Param id path string true "Session ID"
// @Success 200 {object} models.AuthenticatedProfile
// @Failure 401 {object} map[string]interface{}
// @Router /api/sessions/{id} [get]
func (s *Server) getServerSession(c *gin.Context) {
	sessionID := c.Param("id")

	var session models.ServerSession
	err := models.FindByIDWithPreload(s.db, sessionID, &session, "User")
	if errors.Is(err, gorm.ErrRecordNotFound) || (err == nil && !session.Valid(s.now())) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired session"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Str("session_id", sessionID).Msg("Failed to find server session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	profile, err := s.authenticatedProfile(&session.User)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", session.UserID).Msg("Failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, profile)
}

// @Summary Invalidate a server session
// @Description Invalidating an unknown or already invalid session succeeds
// @Tags sessions
// @Param id path string true "Session ID"
// @Success 204
// @Router /api/sessions/{id} [delete]
func (s *Server) deleteServerSession(c *gin.Context) {
	sessionID := c.Param("id")

	result := s.db.Model(&models.ServerSession{}).
		Where("id = ? AND invalidated_at IS NULL", sessionID).
		Update("invalidated_at", s.now())
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Str("session_id", sessionID).Msg("Failed to invalidate server session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	if result.RowsAffected > 0 {
		s.logger.Info().Str("session_id", sessionID).Msg("Server session invalidated")
	}
	c.Status(http.StatusNoContent)
}
