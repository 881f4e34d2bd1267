package api

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/SunilSharmaNP/ssm/config"
)

// AuthMiddleware guards the job and settings endpoints with the API key
// from config. Clients send "Authorization: Bearer <key>"; the health
// endpoint sits outside the group and needs none.
func AuthMiddleware(cfg *config.Config) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !cfg.AuthEnable {
			c.Next()
			return
		}

		header := c.GetHeader("Authorization")
		if header == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "missing API key",
				"hint":  "send 'Authorization: Bearer <key>'",
			})
			return
		}

		scheme, token, ok := strings.Cut(header, " ")
		if !ok || !strings.EqualFold(scheme, "bearer") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{
				"error": "malformed Authorization header",
				"hint":  "send 'Authorization: Bearer <key>'",
			})
			return
		}

		if token != cfg.AuthKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "API key not recognized"})
			return
		}

		c.Next()
	}
}
