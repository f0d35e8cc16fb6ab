package usage

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/ncecere/usage_dashboard/internal/store"
	"github.com/ncecere/usage_dashboard/internal/timeutil"
)

func newTestService(src store.RecordSource) *Service {
	svc := NewService(src)
	svc.retryDelay = time.Millisecond
	return svc
}

func day(d int) time.Time {
	return time.Date(2024, time.June, d, 0, 0, 0, 0, time.UTC)
}

func at(d, h, m int) time.Time {
	return time.Date(2024, time.June, d, h, m, 0, 0, time.UTC)
}

func TestAggregateDailyScenario(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(1, 10, 0), Tokens: 50, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(1, 23, 59), Tokens: 30, Activity: "search"},
		store.Record{UserID: "u1", Timestamp: at(2, 0, 0), Tokens: 20, Activity: "chat"},
	)
	svc := newTestService(src)

	scope := Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(3)}
	buckets, err := svc.Aggregate(context.Background(), scope, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(buckets) != 2 {
		t.Fatalf("expected 2 buckets, got %d", len(buckets))
	}

	first := buckets[0]
	if first.TotalTokens != 80 {
		t.Fatalf("day 1 total: want 80, got %d", first.TotalTokens)
	}
	wantFirst := map[string]int64{"chat": 50, "search": 30}
	if !reflect.DeepEqual(first.ByActivity, wantFirst) {
		t.Fatalf("day 1 breakdown: want %v, got %v", wantFirst, first.ByActivity)
	}

	second := buckets[1]
	if second.TotalTokens != 20 {
		t.Fatalf("day 2 total: want 20, got %d", second.TotalTokens)
	}
	wantSecond := map[string]int64{"chat": 20}
	if !reflect.DeepEqual(second.ByActivity, wantSecond) {
		t.Fatalf("day 2 breakdown: want %v, got %v", wantSecond, second.ByActivity)
	}
}

func TestAggregateEmptyRangeProducesZeroFilledSeries(t *testing.T) {
	svc := newTestService(store.NewMemory())

	scope := Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(8)}
	buckets, err := svc.Aggregate(context.Background(), scope, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if len(buckets) != 7 {
		t.Fatalf("expected 7 buckets, got %d", len(buckets))
	}
	for i, b := range buckets {
		if b.TotalTokens != 0 {
			t.Fatalf("bucket %d: expected zero tokens, got %d", i, b.TotalTokens)
		}
		if len(b.ByActivity) != 0 {
			t.Fatalf("bucket %d: expected empty breakdown, got %v", i, b.ByActivity)
		}
	}
}

func TestAggregateBoundaryRecordGoesToNextBucket(t *testing.T) {
	boundary := day(2)
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: boundary, Tokens: 7, Activity: "chat"},
	)
	svc := newTestService(src)

	buckets, err := svc.Aggregate(context.Background(), Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(3)}, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if buckets[0].TotalTokens != 0 {
		t.Fatalf("bucket ending at the boundary must not contain the record, got %d", buckets[0].TotalTokens)
	}
	if buckets[1].TotalTokens != 7 {
		t.Fatalf("bucket starting at the boundary must contain the record, got %d", buckets[1].TotalTokens)
	}
}

func TestAggregateConservesTokenSum(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(1, 3, 0), Tokens: 11, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(4, 15, 30), Tokens: 23, Activity: "search"},
		store.Record{UserID: "u1", Timestamp: at(9, 23, 59), Tokens: 5, Activity: "chat"},
		store.Record{UserID: "u2", Timestamp: at(5, 8, 0), Tokens: 17, Activity: "embed"},
		// outside the range, must not count
		store.Record{UserID: "u1", Timestamp: at(20, 0, 0), Tokens: 100, Activity: "chat"},
	)
	svc := newTestService(src)

	scope := Scope{Start: day(1), End: day(10)}
	for _, g := range []timeutil.Granularity{timeutil.Day(), timeutil.Week(), timeutil.Month(), timeutil.Custom(90 * time.Minute)} {
		buckets, err := svc.Aggregate(context.Background(), scope, g)
		if err != nil {
			t.Fatalf("%s: aggregate: %v", g, err)
		}
		var total int64
		for _, b := range buckets {
			total += b.TotalTokens
			var perActivity int64
			for _, v := range b.ByActivity {
				perActivity += v
			}
			if perActivity != b.TotalTokens {
				t.Fatalf("%s: breakdown sum %d does not match bucket total %d", g, perActivity, b.TotalTokens)
			}
		}
		if total != 56 {
			t.Fatalf("%s: want conserved total 56, got %d", g, total)
		}
	}
}

func TestAggregateIdempotent(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(2, 9, 0), Tokens: 40, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(3, 9, 0), Tokens: 2, Activity: "search"},
	)
	svc := newTestService(src)
	scope := Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(5)}

	first, err := svc.Aggregate(context.Background(), scope, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	second, err := svc.Aggregate(context.Background(), scope, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("identical calls must return identical series:\n%v\n%v", first, second)
	}
}

func TestAggregateActivityFilter(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(1, 1, 0), Tokens: 10, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(1, 2, 0), Tokens: 20, Activity: "search"},
	)
	svc := newTestService(src)

	scope := Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(2), Activities: []string{"search"}}
	buckets, err := svc.Aggregate(context.Background(), scope, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if buckets[0].TotalTokens != 20 {
		t.Fatalf("activity filter should keep only search tokens, got %d", buckets[0].TotalTokens)
	}
	if _, ok := buckets[0].ByActivity["chat"]; ok {
		t.Fatal("filtered activity must not appear in the breakdown")
	}
}

func TestAggregateValidation(t *testing.T) {
	svc := newTestService(store.NewMemory())

	_, err := svc.Aggregate(context.Background(), Scope{Start: day(3), End: day(1)}, timeutil.Day())
	if !errors.Is(err, ErrInvalidRange) {
		t.Fatalf("expected ErrInvalidRange, got %v", err)
	}

	_, err = svc.Aggregate(context.Background(), Scope{Start: day(1), End: day(2)}, timeutil.Custom(time.Second))
	if !errors.Is(err, ErrInvalidGranularity) {
		t.Fatalf("expected ErrInvalidGranularity, got %v", err)
	}
}

func TestAggregateRetriesOnceThenSucceeds(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(1, 1, 0), Tokens: 9, Activity: "chat"},
	)
	src.FailFetches = 1
	src.FetchErr = errors.New("connection reset")
	svc := newTestService(src)

	buckets, err := svc.Aggregate(context.Background(), Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(2)}, timeutil.Day())
	if err != nil {
		t.Fatalf("single failure should be absorbed by the retry: %v", err)
	}
	if buckets[0].TotalTokens != 9 {
		t.Fatalf("retry must produce a clean aggregation, got %d", buckets[0].TotalTokens)
	}
}

func TestAggregateSurfacesStoreUnavailable(t *testing.T) {
	src := store.NewMemory()
	src.FailFetches = 2
	src.FetchErr = errors.New("connection refused")
	svc := newTestService(src)

	_, err := svc.Aggregate(context.Background(), Scope{Start: day(1), End: day(2)}, timeutil.Day())
	if !errors.Is(err, ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable after the bounded retry, got %v", err)
	}
}

func TestAggregateIgnoresRowsOutsidePredicate(t *testing.T) {
	// A misbehaving source that ignores the filter entirely: the engine
	// must still aggregate correctly.
	src := rawSource{
		store.Record{UserID: "u1", Timestamp: at(1, 5, 0), Tokens: 10, Activity: "chat"},
		store.Record{UserID: "u2", Timestamp: at(1, 6, 0), Tokens: 99, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(9, 0, 0), Tokens: 77, Activity: "chat"},
	}
	svc := newTestService(src)

	buckets, err := svc.Aggregate(context.Background(), Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(2)}, timeutil.Day())
	if err != nil {
		t.Fatalf("aggregate: %v", err)
	}
	if buckets[0].TotalTokens != 10 {
		t.Fatalf("engine must apply the predicate itself, got %d", buckets[0].TotalTokens)
	}
}

func TestSummarizePagination(t *testing.T) {
	src := store.NewMemory(
		store.Record{UserID: "u1", Timestamp: at(2, 1, 0), Tokens: 5, Activity: "chat"},
		store.Record{UserID: "u1", Timestamp: at(6, 1, 0), Tokens: 6, Activity: "chat"},
	)
	svc := newTestService(src)

	scope := Scope{UserIDs: []string{"u1"}, Start: day(1), End: day(8)}
	summary, err := svc.Summarize(context.Background(), scope, timeutil.Day(), Page{Limit: 3, Offset: 5})
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.BucketCount != 7 {
		t.Fatalf("bucket_count reflects the full series, got %d", summary.BucketCount)
	}
	if len(summary.Buckets) != 2 {
		t.Fatalf("expected 2 paginated buckets, got %d", len(summary.Buckets))
	}
	if summary.TotalTokens != 11 {
		t.Fatalf("totals cover the full series, got %d", summary.TotalTokens)
	}
	if summary.RecordCount != 2 {
		t.Fatalf("expected 2 records scanned, got %d", summary.RecordCount)
	}
	if len(summary.Activities) != 1 || summary.Activities[0] != "chat" {
		t.Fatalf("unexpected activities: %v", summary.Activities)
	}
	if !summary.Buckets[0].Start.Equal(day(6)) {
		t.Fatalf("pagination offset wrong, first bucket starts %v", summary.Buckets[0].Start)
	}
}

// rawSource streams everything it holds, ignoring the filter.
type rawSource []store.Record

func (r rawSource) FetchUsage(_ context.Context, _ store.Filter, fn func(store.Record) error) error {
	for _, rec := range r {
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
