package handler

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// DefaultAuthHeader is the request header that carries the scan token.
const DefaultAuthHeader = "Bearer"

// RequireToken returns a Gin middleware that admits a request only when the
// header named header equals token. When header is "Authorization" the value
// must use the "Bearer <token>" scheme. An empty token rejects everything.
func RequireToken(header, token string) gin.HandlerFunc {
	if header == "" {
		header = DefaultAuthHeader
	}
	bearerScheme := strings.EqualFold(header, "Authorization")

	return func(c *gin.Context) {
		got := c.GetHeader(header)
		if bearerScheme {
			if !strings.HasPrefix(got, "Bearer ") {
				got = ""
			}
			got = strings.TrimPrefix(got, "Bearer ")
		}

		if token == "" || got == "" || subtle.ConstantTimeCompare([]byte(got), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": "Unauthorized"})
			return
		}
		c.Next()
	}
}
