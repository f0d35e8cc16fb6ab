package api

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	usageservice "github.com/ncecere/usage_dashboard/internal/services/usage"
	"github.com/ncecere/usage_dashboard/internal/timeutil"
)

type queryParams struct {
	start       time.Time
	end         time.Time
	granularity timeutil.Granularity
	activities  []string
	page        usageservice.Page
}

// parseQueryParams translates the external filter parameters into engine
// inputs. Validation errors here are reported at the boundary and never
// retried.
func (h *apiHandler) parseQueryParams(c *fiber.Ctx) (queryParams, error) {
	var params queryParams

	start, end, err := parseRangeParams(c.Query("start"), c.Query("end"))
	if err != nil {
		return params, err
	}
	if start.IsZero() {
		// Default to the dashboard's initial view: the trailing N days
		// ending at the next day boundary.
		end = timeutil.TruncateToDay(time.Now().UTC()).AddDate(0, 0, 1)
		start = end.AddDate(0, 0, -h.query.DefaultPeriods)
	}
	if maxRange := time.Duration(h.query.MaxRangeDays) * 24 * time.Hour; end.Sub(start) > maxRange {
		return params, fmt.Errorf("range exceeds maximum of %d days", h.query.MaxRangeDays)
	}
	params.start, params.end = start, end

	width := time.Duration(0)
	if raw := strings.TrimSpace(c.Query("bucket_width")); raw != "" {
		width, err = time.ParseDuration(raw)
		if err != nil {
			return params, fmt.Errorf("invalid bucket_width %q", raw)
		}
	}
	granularity, err := timeutil.ParseGranularity(c.Query("granularity", "day"), width)
	if err != nil {
		return params, err
	}
	params.granularity = granularity

	params.activities = splitListParam(c.Query("activities"))

	params.page, err = parsePageParams(c.Query("limit"), c.Query("offset"))
	if err != nil {
		return params, err
	}
	return params, nil
}

// parseRangeParams accepts RFC 3339 timestamps or bare YYYY-MM-DD dates.
// Both bounds must be given together.
func parseRangeParams(startRaw, endRaw string) (time.Time, time.Time, error) {
	startRaw = strings.TrimSpace(startRaw)
	endRaw = strings.TrimSpace(endRaw)
	if startRaw == "" && endRaw == "" {
		return time.Time{}, time.Time{}, nil
	}
	if startRaw == "" || endRaw == "" {
		return time.Time{}, time.Time{}, errors.New("start and end must be provided together")
	}

	start, err := parseInstant(startRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid start %q", startRaw)
	}
	end, err := parseInstant(endRaw)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid end %q", endRaw)
	}
	return start, end, nil
}

func parseInstant(raw string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		return ts.UTC(), nil
	}
	ts, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, err
	}
	return ts.UTC(), nil
}

func parsePageParams(limitRaw, offsetRaw string) (usageservice.Page, error) {
	var page usageservice.Page
	if raw := strings.TrimSpace(limitRaw); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return page, fmt.Errorf("invalid limit %q", raw)
		}
		page.Limit = limit
	}
	if raw := strings.TrimSpace(offsetRaw); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return page, fmt.Errorf("invalid offset %q", raw)
		}
		page.Offset = offset
	}
	if page.Offset > 0 && page.Limit == 0 {
		return page, errors.New("offset requires limit")
	}
	return page, nil
}

func splitListParam(raw string) []string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	values := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			values = append(values, trimmed)
		}
	}
	return values
}
