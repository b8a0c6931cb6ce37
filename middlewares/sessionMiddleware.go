package middlewares

import (
	"net/http"
	"strconv"

	"github.com/fatoora-app/intake_backend/utils"
	"github.com/gin-gonic/gin"
)

// SessionMiddleware lifts the authenticated session headers into the request
// context. The gateway in front of this service performs authentication and
// forwards the resolved identity; every request must carry an org id because
// all data access is org scoped.
func SessionMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		orgId := c.Request.Header.Get("x-org-id")
		if orgId == "" {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "missing org id"})
			c.Abort()
			return
		}

		ctx := utils.SetOrgIdInContext(c.Request.Context(), orgId)
		if v := c.Request.Header.Get("x-user-id"); v != "" {
			if userId, err := strconv.Atoi(v); err == nil {
				ctx = utils.SetUserIdInContext(ctx, userId)
			}
		}
		if v := c.Request.Header.Get("x-user-name"); v != "" {
			ctx = utils.SetUserNameInContext(ctx, v)
		}
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}
}
