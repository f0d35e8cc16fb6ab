package admin

import (
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/ncecere/usage_dashboard/internal/httpserver/httputil"
	auditservice "github.com/ncecere/usage_dashboard/internal/services/audit"
)

type auditEntryResponse struct {
	ID          string                     `json:"id"`
	ActorID     string                     `json:"actor_id"`
	Action      string                     `json:"action"`
	Scope       auditservice.ScopeSnapshot `json:"scope"`
	OccurredAt  time.Time                  `json:"occurred_at"`
	RecordCount int64                      `json:"record_count"`
	BucketCount int                        `json:"bucket_count"`
}

func (h *adminHandler) listAudit(c *fiber.Ctx) error {
	filter := auditservice.Filter{
		ActorID: strings.TrimSpace(c.Query("actor_id")),
		Action:  strings.TrimSpace(c.Query("action")),
	}
	if raw := strings.TrimSpace(c.Query("limit")); raw != "" {
		limit, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || limit < 1 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid limit")
		}
		filter.Limit = int32(limit)
	}
	if raw := strings.TrimSpace(c.Query("offset")); raw != "" {
		offset, err := strconv.ParseInt(raw, 10, 32)
		if err != nil || offset < 0 {
			return httputil.WriteError(c, fiber.StatusBadRequest, "invalid offset")
		}
		filter.Offset = int32(offset)
	}

	events, err := h.audit.List(c.UserContext(), filter)
	if err != nil {
		slog.Error("list audit events", "error", err)
		return httputil.WriteError(c, fiber.StatusServiceUnavailable, "audit store unavailable")
	}

	entries := make([]auditEntryResponse, 0, len(events))
	for _, event := range events {
		entries = append(entries, auditEntryResponse{
			ID:          event.ID.String(),
			ActorID:     event.ActorID,
			Action:      event.Action,
			Scope:       event.Scope,
			OccurredAt:  event.OccurredAt,
			RecordCount: event.RecordCount,
			BucketCount: event.BucketCount,
		})
	}
	return c.JSON(fiber.Map{"events": entries})
}
