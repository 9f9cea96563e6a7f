package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"notifybridge/internal/common"

	"github.com/gin-gonic/gin"
)

const apiKeyContextKey = "apiKey"

// Auth returns middleware that validates the caller's API key. The key is read
// from X-API-Key or, failing that, an "Authorization: Bearer" header.
func Auth(validKeys []string) gin.HandlerFunc {
	return func(c *gin.Context) {
		apiKey := extractKey(c)
		if apiKey == "" {
			common.Error(c, http.StatusUnauthorized, "missing API key")
			c.Abort()
			return
		}

		if !isValidKey(apiKey, validKeys) {
			common.Error(c, http.StatusUnauthorized, "invalid API key")
			c.Abort()
			return
		}

		c.Set(apiKeyContextKey, apiKey)
		c.Next()
	}
}

func extractKey(c *gin.Context) string {
	if key := c.GetHeader("X-API-Key"); key != "" {
		return key
	}
	auth := c.GetHeader("Authorization")
	if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
		return strings.TrimSpace(token)
	}
	return ""
}

// isValidKey checks the provided key against the list of valid keys using constant-time comparison.
func isValidKey(key string, validKeys []string) bool {
	for _, valid := range validKeys {
		if subtle.ConstantTimeCompare([]byte(key), []byte(valid)) == 1 {
			return true
		}
	}
	return false
}
