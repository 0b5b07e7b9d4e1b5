package httpapi

import (
	"crypto/subtle"
	"net/http"

	"github.com/gin-gonic/gin"
)

const bridgeKeyHeader = "X-Bridge-Key"

// RequireBridgeKey guards the endpoints the media bridge calls. An empty key
// disables the check.
func RequireBridgeKey(key string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if key == "" {
			c.Next()
			return
		}
		got := c.GetHeader(bridgeKeyHeader)
		if subtle.ConstantTimeCompare([]byte(got), []byte(key)) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid bridge key", "kind": "authorization_error"})
			return
		}
		c.Next()
	}
}
