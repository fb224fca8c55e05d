package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gigwork-dev/gigwork/internal/models"
)

// authenticatedProfile loads the business profile of user
func (s *Server) authenticatedProfile(user *models.User) (*models.AuthenticatedProfile, error) {
	var account models.Account
	err := s.db.Where("user_id = ?", user.ID).First(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return &models.AuthenticatedProfile{User: user, Profile: models.Profile("{}")}, nil
	}
	if err != nil {
		return nil, err
	}

	return &models.AuthenticatedProfile{
		User:    user,
		Profile: models.Profile(account.Profile),
	}, nil
}

// @Summary Get the caller's user and profile
// @Tags profile
// @Produce json
// @Security BearerAuth
// @Success 200 {object} models.AuthenticatedProfile
// @Failure 401 {object} map[string]interface{}
// @Router /api/profile/me [get]
func (s *Server) getProfile(c *gin.Context) {
	sessionData, exists := GetSessionData(c)
	if !exists {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var user models.User
	if err := models.FindByID(s.db, sessionData.UserID, &user); err != nil {
		s.logger.Error().Err(err).Str("user_id", sessionData.UserID).Msg("Failed to find user")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	profile, err := s.authenticatedProfile(&user)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.ID).Msg("Failed to load profile")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, profile)
}
