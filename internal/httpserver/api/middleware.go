package api

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_dashboard/internal/auth"
	"github.com/ncecere/usage_dashboard/internal/httpserver/httputil"
	"github.com/ncecere/usage_dashboard/internal/rbac"
)

const identityLocal = "identity"

const bearerPrefix = "bearer "

// authMiddleware validates the bearer token and attaches the caller's
// identity to the request.
func authMiddleware(tm *auth.TokenManager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		token := extractBearer(c)
		if token == "" {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "authorization required")
		}

		identity, err := tm.Authorize(token)
		if err != nil {
			return httputil.WriteError(c, fiber.StatusUnauthorized, "invalid or expired token")
		}

		c.Locals(identityLocal, identity)
		return c.Next()
	}
}

func identityFromCtx(c *fiber.Ctx) (rbac.Identity, bool) {
	identity, ok := c.Locals(identityLocal).(rbac.Identity)
	return identity, ok
}

func extractBearer(c *fiber.Ctx) string {
	raw := strings.TrimSpace(c.Get("Authorization"))
	if raw == "" {
		return ""
	}
	if !strings.HasPrefix(strings.ToLower(raw), bearerPrefix) {
		return ""
	}
	return strings.TrimSpace(raw[len(bearerPrefix):])
}
