package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_dashboard/internal/cache"
	"github.com/ncecere/usage_dashboard/internal/httpserver/httputil"
	"github.com/ncecere/usage_dashboard/internal/limits"
	"github.com/ncecere/usage_dashboard/internal/rbac"
	auditservice "github.com/ncecere/usage_dashboard/internal/services/audit"
	usageservice "github.com/ncecere/usage_dashboard/internal/services/usage"
)

func (h *apiHandler) getUsage(c *fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	userIDs, err := rbac.ResolveUserIDs(identity, splitListParam(c.Query("user_ids")))
	if err != nil {
		h.obs.RecordUsageQuery("forbidden")
		return httputil.WriteError(c, fiber.StatusForbidden, "requested scope unavailable")
	}

	params, err := h.parseQueryParams(c)
	if err != nil {
		h.obs.RecordUsageQuery("invalid")
		return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
	}

	if err := h.allowQuery(c, identity, userIDs); err != nil {
		if errors.Is(err, limits.ErrLimitExceeded) {
			return httputil.WriteError(c, fiber.StatusTooManyRequests, "rate limit exceeded")
		}
		// A broken limiter should not take the dashboard down with it.
		slog.Warn("rate limiter unavailable, allowing request", "error", err)
	}

	scope := usageservice.Scope{
		UserIDs:    userIDs,
		Start:      params.start,
		End:        params.end,
		Activities: params.activities,
	}

	// Identical queries within the cache window are served from redis, but
	// every authorized attempt is still audited.
	cacheKey := cache.Key(summaryCacheKey(scope, params))
	if data, ok := h.cache.Get(c.UserContext(), cacheKey); ok {
		var cached usageservice.Summary
		if err := json.Unmarshal(data, &cached); err == nil {
			h.emitAudit(c, identity, scope, params, &cached)
			h.obs.RecordUsageQuery("ok")
			c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
			return c.Send(data)
		}
	}

	summary, err := h.usage.Summarize(c.UserContext(), scope, params.granularity, params.page)
	h.emitAudit(c, identity, scope, params, summary)
	if err != nil {
		switch {
		case errors.Is(err, usageservice.ErrInvalidRange), errors.Is(err, usageservice.ErrInvalidGranularity):
			h.obs.RecordUsageQuery("invalid")
			return httputil.WriteError(c, fiber.StatusBadRequest, err.Error())
		case errors.Is(err, usageservice.ErrStoreUnavailable):
			h.obs.RecordUsageQuery("unavailable")
			slog.Error("usage store unavailable", "error", err)
			return httputil.WriteError(c, fiber.StatusServiceUnavailable, "usage store unavailable")
		default:
			h.obs.RecordUsageQuery("error")
			return httputil.WriteError(c, fiber.StatusInternalServerError, err.Error())
		}
	}

	payload, err := json.Marshal(summary)
	if err != nil {
		h.obs.RecordUsageQuery("error")
		return httputil.WriteError(c, fiber.StatusInternalServerError, "encode summary")
	}
	h.cache.Set(c.UserContext(), cacheKey, payload)

	h.obs.RecordUsageQuery("ok")
	c.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return c.Send(payload)
}

// summaryCacheKey canonicalizes the resolved scope and parameters so two
// requests for the same data share one cache entry regardless of user_ids
// ordering.
func summaryCacheKey(scope usageservice.Scope, params queryParams) string {
	users := "*"
	if len(scope.UserIDs) > 0 {
		users = strings.Join(sortedCopy(scope.UserIDs), ",")
	}
	return fmt.Sprintf("%s|%d|%d|%s|%s|%d|%d",
		users,
		scope.Start.Unix(), scope.End.Unix(),
		params.granularity.String(),
		strings.Join(sortedCopy(scope.Activities), ","),
		params.page.Limit, params.page.Offset,
	)
}

func sortedCopy(values []string) []string {
	out := append([]string(nil), values...)
	sort.Strings(out)
	return out
}

func (h *apiHandler) getActivities(c *fiber.Ctx) error {
	identity, ok := identityFromCtx(c)
	if !ok {
		return httputil.WriteError(c, fiber.StatusUnauthorized, "authentication required")
	}

	userIDs, err := rbac.ResolveUserIDs(identity, splitListParam(c.Query("user_ids")))
	if err != nil {
		return httputil.WriteError(c, fiber.StatusForbidden, "requested scope unavailable")
	}

	activities, err := h.activities.DistinctActivities(c.UserContext(), userIDs)
	if err != nil {
		slog.Error("list activities", "error", err)
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "usage store unavailable")
	}
	if activities == nil {
		activities = []string{}
	}
	return c.JSON(fiber.Map{"activities": activities})
}

// allowQuery charges the caller's rate budget. An admin scan over all users
// costs more than a scoped lookup.
func (h *apiHandler) allowQuery(c *fiber.Ctx, identity rbac.Identity, userIDs []string) error {
	if len(userIDs) == 0 {
		return h.limiter.AllowScan(c.UserContext(), identity.UserID, h.limit)
	}
	return h.limiter.Allow(c.UserContext(), identity.UserID, h.limit)
}

// emitAudit records who queried what. Audit failures never fail the request;
// they are logged and counted so compliance gaps stay visible.
func (h *apiHandler) emitAudit(c *fiber.Ctx, identity rbac.Identity, scope usageservice.Scope, params queryParams, summary *usageservice.Summary) {
	event := auditservice.Event{
		ActorID: identity.UserID,
		Action:  auditservice.ActionQueryUsage,
		Scope: auditservice.ScopeSnapshot{
			UserIDs:     scope.UserIDs,
			Start:       scope.Start,
			End:         scope.End,
			Activities:  scope.Activities,
			Granularity: params.granularity.String(),
		},
	}
	if summary != nil {
		event.RecordCount = summary.RecordCount
		event.BucketCount = summary.BucketCount
	}
	if err := h.audit.Record(c.UserContext(), event); err != nil {
		slog.Error("audit write failed", "actor", identity.UserID, "error", err)
		h.obs.RecordAuditWriteFailure()
	}
}
