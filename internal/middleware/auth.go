package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/RobSpectre/api.tokenbowl.ai/internal/models"
	"github.com/RobSpectre/api.tokenbowl.ai/internal/repositories"
)

// userKey is the gin context key holding the authenticated user.
const userKey = "currentUser"

// APIKeyAuth resolves the caller from an API key carried in the X-API-Key
// header, a bearer Authorization header, or the api_key query parameter.
func APIKeyAuth(users repositories.UserRepository) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := extractAPIKey(c)
		if apiKey == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing api key"})
			return
		}

		user, err := users.GetByAPIKey(c.Request.Context(), apiKey)
		if errors.Is(err, repositories.ErrUserNotFound) {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		if err != nil {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "storage unavailable"})
			return
		}

		c.Set(userKey, user)
		c.Next()
	}
}

// AdminOnly rejects callers without the admin flag. Must run after
// APIKeyAuth.
func AdminOnly() gin.HandlerFunc {
	return func(c *gin.Context) {
		user, ok := CurrentUser(c)
		if !ok || !user.Admin {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "admin access required"})
			return
		}
		c.Next()
	}
}

// CurrentUser returns the authenticated user set by APIKeyAuth.
func CurrentUser(c *gin.Context) (models.User, bool) {
	value, exists := c.Get(userKey)
	if !exists {
		return models.User{}, false
	}
	user, ok := value.(models.User)
	return user, ok
}

func extractAPIKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	if header := c.GetHeader("Authorization"); header != "" {
		parts := strings.SplitN(header, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return parts[1]
		}
	}
	return c.Query("api_key")
}
