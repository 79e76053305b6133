package middleware

import (
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"emphealth-backend/internal/domain"
	apperrors "emphealth-backend/pkg/errors"
	"emphealth-backend/pkg/jwt"
	"emphealth-backend/pkg/response"
)

// Gin context keys set by AuthMiddleware
const (
	ContextUserID = "user_id"
	ContextName   = "name"
	ContextRole   = "role"
)

// AuthMiddleware creates a Gin middleware that validates JWT tokens.
// If valid, it sets user_id, name, and role in the Gin context.
func AuthMiddleware(jwtManager *jwt.JWTManager) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			abortWith(c, apperrors.UnauthorizedError("Authorization header required"))
			return
		}

		tokenString, ok := BearerToken(authHeader)
		if !ok {
			abortWith(c, apperrors.UnauthorizedError("Invalid authorization header format"))
			return
		}

		claims, err := jwtManager.ValidateToken(tokenString)
		if err != nil {
			abortWith(c, apperrors.InvalidTokenError("Invalid or expired token"))
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextName, claims.Name)
		c.Set(ContextRole, domain.Role(claims.Role))
		c.Next()
	}
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value
func BearerToken(header string) (string, bool) {
	parts := strings.Split(header, " ")
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// CurrentUser returns the authenticated user set by AuthMiddleware
func CurrentUser(c *gin.Context) (uuid.UUID, domain.Role, bool) {
	raw, exists := c.Get(ContextUserID)
	if !exists {
		return uuid.Nil, "", false
	}
	userID, ok := raw.(uuid.UUID)
	if !ok || userID == uuid.Nil {
		return uuid.Nil, "", false
	}
	role, _ := c.Get(ContextRole)
	r, _ := role.(domain.Role)
	return userID, r, true
}

// RequireRole rejects requests whose authenticated role is not one of roles
func RequireRole(roles ...domain.Role) gin.HandlerFunc {
	return func(c *gin.Context) {
		_, role, ok := CurrentUser(c)
		if !ok {
			abortWith(c, apperrors.UnauthorizedError("Authentication required"))
			return
		}
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abortWith(c, apperrors.ForbiddenError("Insufficient role"))
	}
}

func abortWith(c *gin.Context, err error) {
	response.FromError(c, err)
	c.Abort()
}
