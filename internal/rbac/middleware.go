package rbac

import (
	"github.com/gin-gonic/gin"

	"auralis/internal/apperr"
	"auralis/internal/auth"
)

// RequireAnyRole allows access if the caller has any of the provided roles.
// admin passes every check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			e := apperr.Unauthorized("role required")
			c.AbortWithStatusJSON(e.Status, e.Body())
			return
		}
		if IsAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			e := apperr.Forbidden("forbidden")
			c.AbortWithStatusJSON(e.Status, e.Body())
			return
		}
		c.Next()
	}
}
