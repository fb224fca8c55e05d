package server

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/gigwork-dev/gigwork/internal/auth"
	"github.com/gigwork-dev/gigwork/internal/models"
)

// OTPRequest asks for a one-time code
type OTPRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
}

// VerifyRequest redeems a one-time code
type VerifyRequest struct {
	Phone string `json:"phone" validate:"required,e164"`
	Code  string `json:"code" validate:"required,otp"`
}

// RefreshRequest is a refresh-token grant
type RefreshRequest struct {
	RefreshToken string `json:"refresh_token" validate:"required,uuid"`
}

// TokenResponse carries a bearer token
type TokenResponse struct {
	Token string `json:"token"`
}

var errCodeRejected = errors.New("code rejected")

// bind decodes and validates a JSON body, writing 400 on failure
func (s *Server) bind(c *gin.Context, req interface{}) bool {
	if err := c.ShouldBindJSON(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	if err := s.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return false
	}
	return true
}

// @Summary Request a one-time code
// @Tags identity
// @Accept json
// @Param request body OTPRequest true "Phone number"
// @Success 204
// @Failure 400 {object} map[string]interface{}
// @Router /auth/v1/otp [post]
func (s *Server) requestOTP(c *gin.Context) {
	var req OTPRequest
	if !s.bind(c, &req) {
		return
	}

	code := s.devOTPCode
	if code == "" {
		var err error
		if code, err = auth.GenerateOTP(); err != nil {
			s.logger.Error().Err(err).Msg("Failed to generate code")
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
			return
		}
	}

	hash, err := auth.HashOTP(code)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to hash code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	challenge := &models.OTPChallenge{
		Phone:     req.Phone,
		CodeHash:  hash,
		ExpiresAt: s.now().Add(otpTTL),
	}
	if err := s.db.Create(challenge).Error; err != nil {
		s.logger.Error().Err(err).Msg("Failed to store code")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	// There is no SMS gateway in development; the code goes to the log
	s.logger.Info().Str("phone", req.Phone).Str("code", code).Msg("One-time code issued")

	c.Status(http.StatusNoContent)
}

// redeemCode consumes the newest pending code for phone and returns the
// phone's user, creating it on first sign-in
func (s *Server) redeemCode(phone, code string) (*models.User, error) {
	var user models.User

	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		var challenge models.OTPChallenge
		err := tx.Where("phone = ? AND consumed_at IS NULL AND expires_at > ?", phone, now).
			Order("created_at DESC").
			First(&challenge).Error
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return errCodeRejected
		}
		if err != nil {
			return err
		}

		if !auth.VerifyOTP(code, challenge.CodeHash) {
			return errCodeRejected
		}

		if err := tx.Model(&challenge).Update("consumed_at", now).Error; err != nil {
			return err
		}

		err = tx.Where("phone = ?", phone).First(&user).Error
		if err == nil {
			return nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}

		user = models.User{Phone: phone, Role: models.RoleArtist}
		if err := tx.Create(&user).Error; err != nil {
			return err
		}
		account := &models.Account{UserID: user.ID, Profile: "{}"}
		if err := tx.Create(account).Error; err != nil {
			return err
		}

		s.logger.Info().Str("user_id", user.ID).Msg("User created")
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// respondRedeemError maps a redeemCode failure to a response
func (s *Server) respondRedeemError(c *gin.Context, err error) {
	if errors.Is(err, errCodeRejected) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid or expired code"})
		return
	}
	s.logger.Error().Err(err).Msg("Failed to redeem code")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
}

// issueIdentitySession creates an access token and a refresh token for user
func (s *Server) issueIdentitySession(db *gorm.DB, user *models.User) (*models.Session, error) {
	accessToken, expiresAt, err := s.tokens.GenerateToken(user.ID, user.Phone, user.Role)
	if err != nil {
		return nil, err
	}

	refresh := &models.RefreshToken{
		Token:     auth.NewRefreshToken(),
		UserID:    user.ID,
		ExpiresAt: s.now().Add(refreshTokenTTL),
	}
	if err := db.Create(refresh).Error; err != nil {
		return nil, err
	}

	session := &models.Session{
		AccessToken:  accessToken,
		RefreshToken: refresh.Token,
		User:         user,
	}
	if !expiresAt.IsZero() {
		session.ExpiresAt = expiresAt.Unix()
	}
	return session, nil
}

// @Summary Sign in with a one-time code
// @Tags identity
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Phone and code"
// @Success 200 {object} models.Session
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /auth/v1/verify [post]
func (s *Server) verifyOTP(c *gin.Context) {
	var req VerifyRequest
	if !s.bind(c, &req) {
		return
	}

	user, err := s.redeemCode(req.Phone, req.Code)
	if err != nil {
		s.respondRedeemError(c, err)
		return
	}

	session, err := s.issueIdentitySession(s.db, user)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to issue session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("User signed in")
	c.JSON(http.StatusOK, session)
}

// @Summary Refresh an identity session
// @Description Refresh tokens are single use; every refresh rotates it
// @Tags identity
// @Accept json
// @Produce json
// @Param request body RefreshRequest true "Refresh token"
// @Success 200 {object} models.Session
// @Failure 401 {object} map[string]interface{}
// @Router /auth/v1/token [post]
func (s *Server) refreshToken(c *gin.Context) {
	var req RefreshRequest
	if err := c.ShouldBindJSON(&req); err != nil || s.validator.Struct(&req) != nil {
		// Malformed tokens are rejected like unknown ones
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}

	var session *models.Session
	err := s.db.Transaction(func(tx *gorm.DB) error {
		now := s.now()

		var stored models.RefreshToken
		if err := tx.Where("token = ? AND revoked_at IS NULL AND expires_at > ?", req.RefreshToken, now).
			First(&stored).Error; err != nil {
			return err
		}

		if err := tx.Model(&stored).Update("revoked_at", now).Error; err != nil {
			return err
		}

		var user models.User
		if err := models.FindByID(tx, stored.UserID, &user); err != nil {
			return err
		}

		var err error
		session, err = s.issueIdentitySession(tx, &user)
		return err
	})
	if errors.Is(err, gorm.ErrRecordNotFound) {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid refresh token"})
		return
	}
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to refresh session")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	c.JSON(http.StatusOK, session)
}

// @Summary Sign out
// @Description Revokes every refresh token of the caller
// @Tags identity
// @Security BearerAuth
// @Success 204
// @Failure 401 {object} map[string]interface{}
// @Router /auth/v1/logout [post]
func (s *Server) logout(c *gin.Context) {
	sessionData, _ := GetSessionData(c)

	result := s.db.Model(&models.RefreshToken{}).
		Where("user_id = ? AND revoked_at IS NULL", sessionData.UserID).
		Update("revoked_at", s.now())
	if result.Error != nil {
		s.logger.Error().Err(result.Error).Msg("Failed to revoke refresh tokens")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
		return
	}

	s.logger.Info().
		Str("user_id", sessionData.UserID).
		Int64("revoked", result.RowsAffected).
		Msg("User signed out")

	c.Status(http.StatusNoContent)
}

// @Summary Issue a bearer token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body VerifyRequest true "Phone and code"
// @Success 200 {object} TokenResponse
// @Failure 400 {object} map[string]interface{}
// @Failure 401 {object} map[string]interface{}
// @Router /api/auth/token [post]
func (s *Server) issueBearerToken(c *gin.Context) {
	var req VerifyRequest
	if !s.bind(c, &req) {
		return
	}

	user, err := s.redeemCode(req.Phone, req.Code)
	if err != nil {
		s.respondRedeemError(c, err)
		return
	}

	token, _, err := s.tokens.GenerateToken(user.ID, user.Phone, user.Role)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to generate token")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to generate token"})
		return
	}

	s.logger.Info().Str("user_id", user.ID).Msg("Bearer token issued")
	c.JSON(http.StatusOK, TokenResponse{Token: token})
}

