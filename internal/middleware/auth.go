package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"quitline-realtime/internal/domain"
	"quitline-realtime/pkg/jwt"
	"quitline-realtime/pkg/sanitize"
)

// AuthMiddleware creates a Gin middleware that validates the platform access
// token and stores the resulting identity in the Gin context.
func AuthMiddleware(jwtManager *jwt.Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		tokenString := bearerToken(c)
		if tokenString == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Authorization required"})
			c.Abort()
			return
		}

		claims, err := jwtManager.Validate(tokenString)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			c.Abort()
			return
		}

		// Display names travel to counterparts verbatim, so they are
		// normalized once here.
		c.Set("identity", domain.Identity{
			ID:          claims.UserID,
			DisplayName: sanitize.DisplayName(claims.DisplayName),
			AvatarRef:   claims.AvatarRef,
		})
		c.Next()
	}
}

// bearerToken extracts the credential from the Authorization header, or from
// the access_token query parameter for WebSocket upgrades, where browsers
// cannot set headers.
func bearerToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.Split(authHeader, " ")
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
		return ""
	}
	return c.Query("access_token")
}
