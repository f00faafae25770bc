package middlewares

import (
	"net/http"

	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
)

// RequireSession rejects requests AuthMiddleware did not authenticate.
func RequireSession() gin.HandlerFunc {
	return func(c *gin.Context) {
		if CtxValue(c.Request.Context()) == nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "unauthorized"})
			c.Abort()
			return
		}
		c.Next()
	}
}

// CorrelationMiddleware propagates X-Correlation-Id, generating one when the
// caller did not send it.
func CorrelationMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Request.Header.Get("X-Correlation-Id")
		if id == "" {
			id = uuid.NewString()
		}
		c.Header("X-Correlation-Id", id)
		c.Request = c.Request.WithContext(utils.SetCorrelationIdInContext(c.Request.Context(), id))
		c.Next()
	}
}
