package middlewares

import (
	"context"
	"net/http"
	"strings"

	"bitbucket.org/mmdatafocus/pos_sync/apperr"
	"bitbucket.org/mmdatafocus/pos_sync/session"
	"bitbucket.org/mmdatafocus/pos_sync/utils"
	"github.com/gin-gonic/gin"
)

type authString string

// Authenticator resolves a session token.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*session.Session, error)
}

// AuthMiddleware resolves the bearer token (or the legacy "token" header) to
// the current session. Requests without a token pass through unauthenticated.
func AuthMiddleware(auth Authenticator) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := bearerToken(c.Request)
		if token == "" {
			c.Next()
			return
		}

		s, err := auth.Authenticate(c.Request.Context(), token)
		if err != nil {
			reason := apperr.ReasonOf(err)
			if reason == "" {
				reason = "unauthorized"
			}
			c.JSON(http.StatusUnauthorized, gin.H{"error": reason})
			c.Abort()
			return
		}

		ctx := context.WithValue(c.Request.Context(), authString("auth"), s)
		ctx = utils.SetTokenInContext(ctx, token)
		ctx = utils.SetEmailInContext(ctx, s.Email)
		ctx = utils.SetTenantIdInContext(ctx, s.TenantId)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}

// CtxValue returns the session AuthMiddleware attached to ctx, or nil.
func CtxValue(ctx context.Context) *session.Session {
	raw, _ := ctx.Value(authString("auth")).(*session.Session)
	return raw
}

func bearerToken(r *http.Request) string {
	auth := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(auth) > 7 && strings.EqualFold(auth[:7], "Bearer ") {
		return strings.TrimSpace(auth[7:])
	}
	return strings.TrimSpace(r.Header.Get("token"))
}
