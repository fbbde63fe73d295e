package middleware

import (
	"crypto/subtle"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/common/auth"
	apperrors "github.com/satheshM/sakkaram-mobile-app/backend/services/common/errors"

	"github.com/satheshM/sakkaram-mobile-app/backend/services/booking-service/models"
)

const (
	// UserIDKey and RoleKey hold the authenticated caller on the gin context.
	UserIDKey = "user_id"
	RoleKey   = "role"

	InternalTokenHeader = "X-Internal-Token"
	accessTokenType     = "access"
)

// AuthMiddleware requires a valid bearer access token and stores the
// caller's id and role on the context.
func AuthMiddleware(validator *auth.TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		header := c.GetHeader("Authorization")
		token := strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
		if header == "" || token == "" || token == header {
			apperrors.Respond(c, apperrors.Unauthorized("Authorization token required"))
			c.Abort()
			return
		}

		claims, err := validator.ParseAndValidateToken(token, accessTokenType)
		if err != nil {
			apperrors.Respond(c, apperrors.Unauthorized("Invalid or expired token"))
			c.Abort()
			return
		}
		userID, err := uuid.Parse(claims.UserID)
		if err != nil {
			apperrors.Respond(c, apperrors.Unauthorized("Invalid or expired token"))
			c.Abort()
			return
		}

		c.Set(UserIDKey, userID.String())
		c.Set(RoleKey, claims.Role)
		c.Next()
	}
}

// RequireRole lets only the listed roles through. It must run after
// AuthMiddleware.
func RequireRole(roles ...models.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := CurrentRole(c)
		for _, r := range roles {
			if r == role {
				c.Next()
				return
			}
		}
		apperrors.Respond(c, apperrors.Forbidden("Access denied for role "+string(role)))
		c.Abort()
	}
}

// InternalOnly guards service-to-service endpoints with a shared token. An
// empty token disables the endpoints.
func InternalOnly(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader(InternalTokenHeader))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			apperrors.Respond(c, apperrors.Forbidden("Internal endpoint"))
			c.Abort()
			return
		}
		c.Next()
	}
}

// CurrentUserID returns the authenticated caller's id.
func CurrentUserID(c *gin.Context) (uuid.UUID, bool) {
	id, err := uuid.Parse(c.GetString(UserIDKey))
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

func CurrentRole(c *gin.Context) models.Role {
	return models.Role(c.GetString(RoleKey))
}
