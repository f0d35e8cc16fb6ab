package usage

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ncecere/usage_dashboard/internal/store"
	"github.com/ncecere/usage_dashboard/internal/timeutil"
)

var (
	ErrInvalidRange       = errors.New("invalid range")
	ErrInvalidGranularity = timeutil.ErrInvalidGranularity
	ErrStoreUnavailable   = errors.New("usage store unavailable")
)

const defaultRetryDelay = 250 * time.Millisecond

// Scope is the resolved query scope for one request. UserIDs empty means all
// users (admin only, enforced upstream by rbac). The time bounds are
// half-open. Activities empty means no activity restriction.
type Scope struct {
	UserIDs    []string
	Start      time.Time
	End        time.Time
	Activities []string
}

// Bucket is one aggregated interval of the response series.
type Bucket struct {
	Start       time.Time        `json:"bucket_start"`
	End         time.Time        `json:"bucket_end"`
	TotalTokens int64            `json:"total_tokens"`
	ByActivity  map[string]int64 `json:"by_activity"`
}

// Page bounds the slice of buckets returned by Summarize. Zero Limit means
// no pagination.
type Page struct {
	Limit  int
	Offset int
}

// Summary is the envelope the HTTP layer serializes for the dashboard.
type Summary struct {
	Start        time.Time `json:"range_start"`
	End          time.Time `json:"range_end"`
	Granularity  string    `json:"granularity"`
	Buckets      []Bucket  `json:"buckets"`
	BucketCount  int       `json:"bucket_count"`
	RecordCount  int64     `json:"record_count"`
	TotalTokens  int64     `json:"total_tokens"`
	Activities   []string  `json:"activities"`
	Limit        int       `json:"limit,omitempty"`
	Offset       int       `json:"offset,omitempty"`
}

// Service turns raw usage records into bucketed summaries. It holds no
// mutable state: identical arguments against an unchanged store produce
// identical output.
type Service struct {
	source     store.RecordSource
	retryDelay time.Duration
}

func NewService(source store.RecordSource) *Service {
	return &Service{source: source, retryDelay: defaultRetryDelay}
}

// Aggregate computes the chronological bucket series for the scope. Buckets
// partition [scope.Start, scope.End) exactly; empty buckets are kept so the
// chart axis has no gaps. Store failures are retried once, then surfaced as
// ErrStoreUnavailable.
func (s *Service) Aggregate(ctx context.Context, scope Scope, granularity timeutil.Granularity) ([]Bucket, error) {
	buckets, _, err := s.aggregate(ctx, scope, granularity)
	return buckets, err
}

// Summarize aggregates and wraps the series in the response envelope,
// applying bucket pagination when page.Limit is set.
func (s *Service) Summarize(ctx context.Context, scope Scope, granularity timeutil.Granularity, page Page) (*Summary, error) {
	buckets, recordCount, err := s.aggregate(ctx, scope, granularity)
	if err != nil {
		return nil, err
	}

	summary := &Summary{
		Start:       scope.Start.UTC(),
		End:         scope.End.UTC(),
		Granularity: granularity.String(),
		BucketCount: len(buckets),
		RecordCount: recordCount,
		Activities:  collectActivities(buckets),
	}
	for _, b := range buckets {
		summary.TotalTokens += b.TotalTokens
	}

	if page.Limit > 0 {
		summary.Limit = page.Limit
		summary.Offset = page.Offset
		buckets = paginate(buckets, page)
	}
	summary.Buckets = buckets
	return summary, nil
}

func (s *Service) aggregate(ctx context.Context, scope Scope, granularity timeutil.Granularity) ([]Bucket, int64, error) {
	if err := granularity.Validate(); err != nil {
		return nil, 0, err
	}
	start, end := scope.Start.UTC(), scope.End.UTC()
	if !start.Before(end) {
		return nil, 0, fmt.Errorf("%w: start %s must precede end %s", ErrInvalidRange, start, end)
	}

	spans, err := timeutil.Partition(start, end, granularity)
	if err != nil {
		return nil, 0, err
	}

	filter := store.Filter{
		UserIDs:    scope.UserIDs,
		Start:      start,
		End:        end,
		Activities: scope.Activities,
	}

	var (
		buckets     []Bucket
		recordCount int64
	)
	run := func() error {
		buckets = emptyBuckets(spans)
		recordCount = 0
		return s.source.FetchUsage(ctx, filter, func(rec store.Record) error {
			// The store is expected to push the predicate down, but
			// correctness must not depend on it.
			if !filter.Matches(rec) {
				return nil
			}
			idx := bucketIndex(spans, rec.Timestamp.UTC())
			if idx < 0 {
				return nil
			}
			buckets[idx].TotalTokens += rec.Tokens
			buckets[idx].ByActivity[rec.Activity] += rec.Tokens
			recordCount++
			return nil
		})
	}

	if err := run(); err != nil {
		if ctx.Err() != nil {
			return nil, 0, ctx.Err()
		}
		// One bounded retry; masking a systemic outage behind more
		// attempts only converts it into client-perceived latency.
		if waitErr := sleepCtx(ctx, s.retryDelay); waitErr != nil {
			return nil, 0, waitErr
		}
		if err = run(); err != nil {
			if ctx.Err() != nil {
				return nil, 0, ctx.Err()
			}
			return nil, 0, fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
		}
	}
	return buckets, recordCount, nil
}

// bucketIndex locates the span containing ts by binary search over the span
// starts. A timestamp sitting exactly on a boundary lands in the span that
// starts there (half-open convention).
func bucketIndex(spans []timeutil.Span, ts time.Time) int {
	idx := sort.Search(len(spans), func(i int) bool {
		return spans[i].Start.After(ts)
	}) - 1
	if idx < 0 || !spans[idx].Contains(ts) {
		return -1
	}
	return idx
}

func emptyBuckets(spans []timeutil.Span) []Bucket {
	buckets := make([]Bucket, len(spans))
	for i, span := range spans {
		buckets[i] = Bucket{
			Start:      span.Start,
			End:        span.End,
			ByActivity: make(map[string]int64),
		}
	}
	return buckets
}

func collectActivities(buckets []Bucket) []string {
	seen := make(map[string]struct{})
	for _, b := range buckets {
		for activity := range b.ByActivity {
			seen[activity] = struct{}{}
		}
	}
	activities := make([]string, 0, len(seen))
	for activity := range seen {
		activities = append(activities, activity)
	}
	sort.Strings(activities)
	return activities
}

func paginate(buckets []Bucket, page Page) []Bucket {
	if page.Offset >= len(buckets) {
		return []Bucket{}
	}
	end := page.Offset + page.Limit
	if end > len(buckets) {
		end = len(buckets)
	}
	return buckets[page.Offset:end]
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
