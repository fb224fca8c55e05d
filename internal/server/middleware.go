package server

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/gigwork-dev/gigwork/internal/auth"
	"github.com/gigwork-dev/gigwork/internal/models"
)

const sessionKey = "session"

// authError is a rejected Authorization header with the message returned to the caller
type authError struct {
	message string
}

func (e *authError) Error() string { return e.message }

var (
	errMissingAuthHeader = &authError{"Missing authorization header"}
	errInvalidAuthFormat = &authError{"Invalid authorization header format"}
	errEmptyToken        = &authError{"Empty token"}
	errInvalidToken      = &authError{"Invalid or expired token"}
	errUnknownUser       = &authError{"User not found"}
)

// GetSessionData returns the caller attached by JWTAuthMiddleware
func GetSessionData(c *gin.Context) (*auth.SessionData, bool) {
	value, exists := c.Get(sessionKey)
	if !exists {
		return nil, false
	}
	data, ok := value.(*auth.SessionData)
	return data, ok
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errMissingAuthHeader
	}
	token, found := strings.CutPrefix(header, "Bearer ")
	if !found {
		return "", errInvalidAuthFormat
	}
	if strings.TrimSpace(token) == "" {
		return "", errEmptyToken
	}
	return token, nil
}

// JWTAuthMiddleware accepts access tokens from the identity endpoints and
// bearer tokens from /api/auth/token, both signed by tokens
func JWTAuthMiddleware(db *gorm.DB, tokens *auth.TokenIssuer, log zerolog.Logger) gin.HandlerFunc {
	reject := func(c *gin.Context, err error) {
		var ae *authError
		message := "Unauthorized"
		if errors.As(err, &ae) {
			message = ae.message
		}
		log.Warn().Str("path", c.FullPath()).Msg(message)
		c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": message})
	}

	return func(c *gin.Context) {
		token, err := bearerToken(c.GetHeader("Authorization"))
		if err != nil {
			reject(c, err)
			return
		}

		claims, err := tokens.ValidateToken(token)
		if err != nil {
			reject(c, errInvalidToken)
			return
		}

		var user models.User
		if err := models.FindByID(db, claims.UserID, &user); err != nil {
			reject(c, errUnknownUser)
			return
		}

		c.Set(sessionKey, &auth.SessionData{
			UserID:      user.ID,
			Phone:       user.Phone,
			Role:        user.Role,
			AccessToken: token,
			AuthMethod:  "jwt",
		})
		c.Next()
	}
}
