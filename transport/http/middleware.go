package http

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/layer-3/murmur"
	"github.com/layer-3/murmur/core"
	"github.com/layer-3/murmur/ports"
	"github.com/sirupsen/logrus"
)

const addressKey = "walletAddress"

// AuthMiddleware accepts only requests carrying an API authorization token
// signed by the wallet of the open session.
func AuthMiddleware(authorizer ports.Authorizer, client murmur.Client) gin.HandlerFunc {
	return func(c *gin.Context) {
		auth := c.GetHeader("Authorization")

		if !strings.HasPrefix(auth, "Bearer ") || len(auth) == len("Bearer ") {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid authorization header"})
			return
		}

		address, err := authorizer.Verify(auth[len("Bearer "):], ports.PurposeAPI)
		if err != nil {
			if errors.Is(err, core.ErrTokenExpired) {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Token expired"})
			} else {
				c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Invalid token"})
			}
			return
		}

		status := client.Status()
		if !status.Connected {
			c.AbortWithStatusJSON(http.StatusServiceUnavailable, gin.H{"error": "No session"})
			return
		}
		if !core.SameAddress(status.Address, address) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "Token is not signed by the session wallet"})
			return
		}

		c.Set(addressKey, status.Address)
		c.Next()
	}
}

// RequestLogger logs every request with logrus.
func RequestLogger(log logrus.FieldLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		entry := log.WithFields(logrus.Fields{
			"method":   c.Request.Method,
			"path":     c.FullPath(),
			"status":   c.Writer.Status(),
			"duration": time.Since(start),
		})
		if len(c.Errors) > 0 {
			entry = entry.WithField("errors", c.Errors.String())
		}
		if c.Writer.Status() >= http.StatusInternalServerError {
			entry.Warn("request failed")
			return
		}
		entry.Debug("request served")
	}
}
