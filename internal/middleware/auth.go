package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"collab-service/internal/auth"
	"collab-service/internal/observability"
)

// TokenVerifier validates identity provider tokens.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

// AuthMiddleware resolves the caller identity from the bearer token.
func AuthMiddleware(verifier TokenVerifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := observability.BearerToken(c.Request)
		if token == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		identity, err := verifier.Verify(token)
		if err != nil {
			observability.Ctx(c.Request.Context()).Debug().Err(err).Msg("token rejected")
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Not authenticated"})
			return
		}

		c.Set("userID", identity.UserID)
		c.Set("userName", identity.Name)
		c.Next()
	}
}
