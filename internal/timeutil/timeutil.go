package timeutil

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

var ErrInvalidGranularity = errors.New("invalid granularity")

// MinCustomWidth is the smallest bucket width accepted for custom granularity.
const MinCustomWidth = time.Minute

// Unit identifies the bucketing unit for a partition.
type Unit string

const (
	UnitDay    Unit = "day"
	UnitWeek   Unit = "week"
	UnitMonth  Unit = "month"
	UnitCustom Unit = "custom"
)

// Granularity describes how a time range is cut into buckets. Day, week and
// month granularities align to calendar boundaries in UTC (weeks start on
// Monday); custom granularity uses a fixed width.
type Granularity struct {
	unit  Unit
	width time.Duration
}

// ParseGranularity normalizes a granularity name, combining it with the
// bucket width when the name is "custom".
func ParseGranularity(name string, width time.Duration) (Granularity, error) {
	switch Unit(strings.ToLower(strings.TrimSpace(name))) {
	case UnitDay:
		return Granularity{unit: UnitDay}, nil
	case UnitWeek:
		return Granularity{unit: UnitWeek}, nil
	case UnitMonth:
		return Granularity{unit: UnitMonth}, nil
	case UnitCustom:
		if width < MinCustomWidth {
			return Granularity{}, fmt.Errorf("%w: custom width %s below minimum %s", ErrInvalidGranularity, width, MinCustomWidth)
		}
		return Granularity{unit: UnitCustom, width: width}, nil
	default:
		return Granularity{}, fmt.Errorf("%w: %q", ErrInvalidGranularity, name)
	}
}

// Day, Week and Month are the calendar granularities.
func Day() Granularity   { return Granularity{unit: UnitDay} }
func Week() Granularity  { return Granularity{unit: UnitWeek} }
func Month() Granularity { return Granularity{unit: UnitMonth} }

// Custom returns a fixed-width granularity. The width is validated when the
// granularity is used, so out-of-range values surface as ErrInvalidGranularity.
func Custom(width time.Duration) Granularity {
	return Granularity{unit: UnitCustom, width: width}
}

// Unit returns the bucketing unit.
func (g Granularity) Unit() Unit { return g.unit }

// Width returns the fixed bucket width for custom granularity, zero otherwise.
func (g Granularity) Width() time.Duration { return g.width }

func (g Granularity) String() string {
	if g.unit == UnitCustom {
		return fmt.Sprintf("custom(%s)", g.width)
	}
	return string(g.unit)
}

// Validate reports whether the granularity is one of the recognized units
// with an acceptable width.
func (g Granularity) Validate() error {
	switch g.unit {
	case UnitDay, UnitWeek, UnitMonth:
		return nil
	case UnitCustom:
		if g.width < MinCustomWidth {
			return fmt.Errorf("%w: custom width %s below minimum %s", ErrInvalidGranularity, g.width, MinCustomWidth)
		}
		return nil
	default:
		return fmt.Errorf("%w: %q", ErrInvalidGranularity, string(g.unit))
	}
}

// Span is a half-open [Start, End) interval.
type Span struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether ts falls within [Start, End).
func (s Span) Contains(ts time.Time) bool {
	return !ts.Before(s.Start) && ts.Before(s.End)
}

// Partition cuts [start, end) into contiguous half-open spans of the given
// granularity. The first span always begins exactly at start; calendar
// granularities then snap to the next day/week/month boundary, so the leading
// and trailing spans may be shorter than a full unit. The spans cover the
// range completely with no gaps or overlaps.
func Partition(start, end time.Time, g Granularity) ([]Span, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	start = start.UTC()
	end = end.UTC()
	if !start.Before(end) {
		return nil, errors.New("partition: start must precede end")
	}

	var spans []Span
	cursor := start
	for cursor.Before(end) {
		next := nextBoundary(cursor, g)
		if next.After(end) {
			next = end
		}
		spans = append(spans, Span{Start: cursor, End: next})
		cursor = next
	}
	return spans, nil
}

// nextBoundary returns the first boundary strictly after t for the
// granularity. For a timestamp already on a boundary this is one full unit
// ahead; otherwise it is the end of the unit containing t.
func nextBoundary(t time.Time, g Granularity) time.Time {
	switch g.unit {
	case UnitDay:
		return TruncateToDay(t).AddDate(0, 0, 1)
	case UnitWeek:
		return TruncateToWeek(t).AddDate(0, 0, 7)
	case UnitMonth:
		return TruncateToMonth(t).AddDate(0, 1, 0)
	default:
		return t.Add(g.width)
	}
}

// TruncateToDay normalizes the timestamp to midnight UTC.
func TruncateToDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// TruncateToWeek normalizes the timestamp to the preceding Monday midnight UTC.
func TruncateToWeek(t time.Time) time.Time {
	day := TruncateToDay(t)
	delta := (int(day.Weekday()) + 6) % 7 // Monday = 0
	return day.AddDate(0, 0, -delta)
}

// TruncateToMonth normalizes the timestamp to the first of its month, UTC.
func TruncateToMonth(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
}
