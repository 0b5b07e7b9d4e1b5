package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"

	"voice-receptionist/internal/auth"
)

func serve(t *testing.T, tenantID, role string, chain ...gin.HandlerFunc) int {
	t.Helper()
	gin.SetMode(gin.TestMode)

	r := gin.New()
	handlers := []gin.HandlerFunc{func(c *gin.Context) {
		ctx := auth.WithIdentity(c.Request.Context(), "u", tenantID, role)
		c.Request = c.Request.WithContext(ctx)
		c.Next()
	}}
	handlers = append(handlers, chain...)
	handlers = append(handlers, func(c *gin.Context) { c.Status(http.StatusOK) })
	r.GET("/x", handlers...)

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/x", nil))
	return w.Code
}

func TestRequireAnyRole_SuperAdminBypasses(t *testing.T) {
	if code := serve(t, "", RoleSuperAdmin, RequireTenant(), RequireAnyRole(RoleOwner)); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
}

func TestRequireAnyRole_StaffDeniedOwnerRoute(t *testing.T) {
	if code := serve(t, "t1", RoleStaff, RequireTenant(), RequireAnyRole(RoleOwner)); code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", code)
	}
}

func TestRequireTenant_Required(t *testing.T) {
	if code := serve(t, "", RoleOwner, RequireTenant(), RequireAnyRole(RoleOwner)); code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", code)
	}
}

func TestCanAccessTenant(t *testing.T) {
	ctx := auth.WithIdentity(context.Background(), "u", "t1", RoleStaff)
	if !CanAccessTenant(ctx, "t1") || CanAccessTenant(ctx, "t2") {
		t.Fatalf("staff must only see its own tenant")
	}
	admin := auth.WithIdentity(context.Background(), "u", "", RoleSuperAdmin)
	if !CanAccessTenant(admin, "t2") {
		t.Fatalf("super_admin sees every tenant")
	}
}
