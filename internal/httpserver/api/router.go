package api

import (
	"context"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_dashboard/internal/app"
	"github.com/ncecere/usage_dashboard/internal/cache"
	"github.com/ncecere/usage_dashboard/internal/config"
	"github.com/ncecere/usage_dashboard/internal/limits"
	"github.com/ncecere/usage_dashboard/internal/observability"
	auditservice "github.com/ncecere/usage_dashboard/internal/services/audit"
	usageservice "github.com/ncecere/usage_dashboard/internal/services/usage"
	"github.com/ncecere/usage_dashboard/internal/store"
)

// auditRecorder is the slice of the audit service the handlers need.
type auditRecorder interface {
	Record(ctx context.Context, event auditservice.Event) error
}

// activityLister lists distinct activity labels for a user scope.
type activityLister interface {
	DistinctActivities(ctx context.Context, userIDs []string) ([]string, error)
}

type apiHandler struct {
	usage      *usageservice.Service
	audit      auditRecorder
	activities activityLister
	limiter    *limits.RateLimiter
	limit      limits.LimitConfig
	cache      *cache.SummaryCache
	obs        *observability.Provider
	query      config.QueryConfig
}

// Register wires up the authenticated dashboard endpoints.
func Register(fiberApp *fiber.App, container *app.Container) {
	if fiberApp == nil || container == nil {
		return
	}

	handler := &apiHandler{
		usage:      container.UsageService,
		audit:      container.AuditService,
		activities: container.Store,
		limiter:    container.RateLimiter,
		limit:      container.RateLimit,
		cache:      container.SummaryCache,
		obs:        container.Observability,
		query:      container.Config.Query,
	}

	group := fiberApp.Group("/api", authMiddleware(container.TokenManager))
	group.Get("/usage", handler.getUsage)
	group.Get("/activities", handler.getActivities)
}

var _ activityLister = (*store.Postgres)(nil)
var _ activityLister = (*store.Memory)(nil)
