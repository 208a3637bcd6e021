package middleware

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/campushub/campus-api/internal/models"
	"github.com/campushub/campus-api/internal/service"
	appErrors "github.com/campushub/campus-api/pkg/errors"
	"github.com/campushub/campus-api/pkg/middleware/requestid"
	"github.com/campushub/campus-api/pkg/response"
)

// RequireAdmin admits admins and superadmins, judged by live membership
// records rather than the role claim baked into the token.
func RequireAdmin(roleService *service.RoleService, securityService *service.SecurityService) gin.HandlerFunc {
	return requireMembership(roleService.IsAdmin, "admin", securityService)
}

// RequireSuperAdmin admits superadmins only.
func RequireSuperAdmin(roleService *service.RoleService, securityService *service.SecurityService) gin.HandlerFunc {
	return requireMembership(roleService.IsSuperAdmin, "superadmin", securityService)
}

// RequireCounselor admits counselors, with admins and superadmins passing
// as well.
func RequireCounselor(roleService *service.RoleService, securityService *service.SecurityService) gin.HandlerFunc {
	check := func(ctx context.Context, userID string) bool {
		return roleService.IsCounselor(ctx, userID) || roleService.IsAdmin(ctx, userID)
	}
	return requireMembership(check, "counselor", securityService)
}

func requireMembership(check func(ctx context.Context, userID string) bool, required string, securityService *service.SecurityService) gin.HandlerFunc {
	return func(c *gin.Context) {
		claimsValue, exists := c.Get(ContextUserKey)
		if !exists {
			response.Error(c, appErrors.ErrNoToken)
			c.Abort()
			return
		}
		claims := claimsValue.(*models.AccessClaims)

		if !check(c.Request.Context(), claims.UserID) {
			securityService.Record(c.Request.Context(), &models.SecurityEvent{
				Severity:  models.SeverityMedium,
				Kind:      models.EventRoleDenied,
				UserID:    &claims.UserID,
				IP:        c.ClientIP(),
				UserAgent: c.GetHeader("User-Agent"),
				Detail: service.Detail(map[string]interface{}{
					"required":   required,
					"path":       c.FullPath(),
					"request_id": requestid.Value(c),
				}),
			})
			response.Error(c, appErrors.ErrInsufficientRole)
			c.Abort()
			return
		}

		c.Next()
	}
}
