package admin

import (
	"context"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_dashboard/internal/app"
	"github.com/ncecere/usage_dashboard/internal/auth"
	"github.com/ncecere/usage_dashboard/internal/httpserver/httputil"
	auditservice "github.com/ncecere/usage_dashboard/internal/services/audit"
)

// auditLister is the slice of the audit service the admin endpoints need.
type auditLister interface {
	List(ctx context.Context, filter auditservice.Filter) ([]auditservice.Event, error)
}

type adminHandler struct {
	audit auditLister
}

// Register wires up admin-only endpoints.
func Register(fiberApp *fiber.App, container *app.Container) {
	if fiberApp == nil || container == nil {
		return
	}

	handler := &adminHandler{audit: container.AuditService}

	group := fiberApp.Group("/admin", adminAuthMiddleware(container.TokenManager))
	group.Get("/audit", handler.listAudit)
}

// adminAuthMiddleware validates the bearer token and requires the admin role.
func adminAuthMiddleware(tm *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		raw := strings.TrimSpace(c.Get("Authorization"))
		lower := strings.ToLower(raw)
		if !strings.HasPrefix(lower, "bearer ") {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
		}

		identity, err := tm.Authorize(strings.TrimSpace(raw[len("bearer "):]))
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}
		if !identity.IsAdmin() {
			return httputil.WriteError(c, fiber.StatusForbidden, "admin role required")
		}

		c.Locals("identity", identity)
		return c.Next()
	}
}
