package auth

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
)

const authorizationHeader = "Authorization"
const bearerPrefix = "Bearer "

// RequireAccessToken verifies an access token and injects identity into the
// request context. Role checks belong to internal/rbac.
func RequireAccessToken(m *Manager) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := strings.TrimSpace(c.GetHeader(authorizationHeader))
		tok := strings.TrimPrefix(raw, bearerPrefix)
		// Browsers cannot set headers on websocket upgrades.
		if raw == "" && c.IsWebsocket() {
			tok = c.Query("access_token")
		} else if !strings.HasPrefix(raw, bearerPrefix) {
			tok = ""
		}
		if tok == "" {
			abort(c, apperr.Unauthorized("missing bearer token"))
			return
		}

		claims, err := m.Verify(tok, TokenTypeAccess, time.Now())
		if err != nil {
			abort(c, apperr.Unauthorized("invalid token"))
			return
		}

		ctx := WithIdentity(c.Request.Context(), claims.UserID, claims.Role)
		c.Request = c.Request.WithContext(ctx)
		c.Set("user_id", claims.UserID)
		c.Set("role", claims.Role)

		c.Next()
	}
}

func abort(c *gin.Context, e *apperr.Error) {
	c.AbortWithStatusJSON(e.Status, e.Body())
}
