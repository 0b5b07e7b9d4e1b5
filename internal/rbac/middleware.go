package rbac

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"voice-receptionist/internal/auth"
)

// RequireTenant enforces that the caller is scoped to a tenant.
// super_admin tokens pass without one.
func RequireTenant() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		if role, _ := auth.Role(ctx); IsSuperAdmin(role) {
			c.Next()
			return
		}
		if tid, err := auth.TenantID(ctx); err != nil || tid == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "tenant_id required"})
			return
		}
		c.Next()
	}
}

// RequireAnyRole allows access if the caller has any of the provided roles.
// super_admin bypasses the check.
func RequireAnyRole(allowed ...string) gin.HandlerFunc {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, r := range allowed {
		allowedSet[r] = struct{}{}
	}

	return func(c *gin.Context) {
		role, err := auth.Role(c.Request.Context())
		if err != nil || role == "" {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "role required"})
			return
		}
		if IsSuperAdmin(role) {
			c.Next()
			return
		}
		if _, ok := allowedSet[role]; !ok {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "forbidden"})
			return
		}
		c.Next()
	}
}

// CanAccessTenant reports whether the caller may read data owned by tenantID.
func CanAccessTenant(ctx context.Context, tenantID string) bool {
	if role, _ := auth.Role(ctx); IsSuperAdmin(role) {
		return true
	}
	tid, err := auth.TenantID(ctx)
	return err == nil && tid != "" && tid == tenantID
}
