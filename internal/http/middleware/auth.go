// Package middleware contains shared Gin middleware used by the HTTP layer.
//
// This file implements bearer-token authentication for the admin surface
// (download analytics). There is no user model in this service; a single
// operator token from configuration gates the endpoint, and an empty token
// disables it entirely.
package middleware

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
)

// AdminAuth returns a middleware requiring "Authorization: Bearer <token>".
//
// Behavior:
//   - token == "" → every request is refused 404 (the admin surface is off;
//     404 avoids advertising the route's existence).
//   - missing/malformed Authorization header → 401.
//   - wrong token → 403. Comparison is constant-time.
func AdminAuth(token string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if token == "" {
			c.AbortWithStatusJSON(http.StatusNotFound, gin.H{
				"success": false,
				"code":    "not_found",
				"error":   "route not found",
			})
			return
		}

		auth := c.GetHeader("Authorization")
		presented, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || strings.TrimSpace(presented) == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"success": false,
				"code":    "unauthorized",
				"error":   "admin token required",
			})
			return
		}

		if subtle.ConstantTimeCompare([]byte(presented), []byte(token)) != 1 {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"success": false,
				"code":    "forbidden",
				"error":   "invalid admin token",
			})
			return
		}

		c.Next()
	}
}
