package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/auth"
)

// AuthMiddleware rejects requests without a valid bearer token and stores
// the authenticated user id on the context.
func AuthMiddleware(verifier auth.Verifier) gin.HandlerFunc {
	return func(c *gin.Context) {
		userID, err := verifier.Verify(auth.TokenFromRequest(c.Request))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		c.Set("userID", userID)
		c.Next()
	}
}
