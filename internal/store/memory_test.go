package store

import (
	"context"
	"errors"
	"testing"
	"time"
)

func ts(day, hour int) time.Time {
	return time.Date(2024, time.June, day, hour, 0, 0, 0, time.UTC)
}

func TestFilterMatchesHalfOpenBounds(t *testing.T) {
	filter := Filter{Start: ts(1, 0), End: ts(2, 0)}

	if !filter.Matches(Record{UserID: "u1", Timestamp: ts(1, 0), Tokens: 1, Activity: "chat"}) {
		t.Fatal("record at start instant must match")
	}
	if filter.Matches(Record{UserID: "u1", Timestamp: ts(2, 0), Tokens: 1, Activity: "chat"}) {
		t.Fatal("record at end instant must not match")
	}
}

func TestMemoryFetchAppliesPredicate(t *testing.T) {
	src := NewMemory(
		Record{UserID: "u1", Timestamp: ts(1, 10), Tokens: 50, Activity: "chat"},
		Record{UserID: "u2", Timestamp: ts(1, 11), Tokens: 30, Activity: "chat"},
		Record{UserID: "u1", Timestamp: ts(1, 12), Tokens: 20, Activity: "search"},
		Record{UserID: "u1", Timestamp: ts(5, 0), Tokens: 99, Activity: "chat"},
	)

	filter := Filter{
		UserIDs:    []string{"u1"},
		Start:      ts(1, 0),
		End:        ts(2, 0),
		Activities: []string{"chat"},
	}
	var got []Record
	err := src.FetchUsage(context.Background(), filter, func(r Record) error {
		got = append(got, r)
		return nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	if len(got) != 1 || got[0].Tokens != 50 {
		t.Fatalf("expected the single u1 chat record in range, got %v", got)
	}
}

func TestMemoryFetchOrderedByTimestamp(t *testing.T) {
	src := NewMemory(
		Record{UserID: "u1", Timestamp: ts(3, 0), Tokens: 3, Activity: "chat"},
		Record{UserID: "u1", Timestamp: ts(1, 0), Tokens: 1, Activity: "chat"},
		Record{UserID: "u1", Timestamp: ts(2, 0), Tokens: 2, Activity: "chat"},
	)
	var tokens []int64
	err := src.FetchUsage(context.Background(), Filter{Start: ts(1, 0), End: ts(4, 0)}, func(r Record) error {
		tokens = append(tokens, r.Tokens)
		return nil
	})
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	for i := 1; i < len(tokens); i++ {
		if tokens[i-1] > tokens[i] {
			t.Fatalf("records out of order: %v", tokens)
		}
	}
}

func TestMemoryFetchStopsOnCallbackError(t *testing.T) {
	src := NewMemory(
		Record{UserID: "u1", Timestamp: ts(1, 0), Tokens: 1, Activity: "chat"},
		Record{UserID: "u1", Timestamp: ts(1, 1), Tokens: 2, Activity: "chat"},
	)
	sentinel := errors.New("stop")
	calls := 0
	err := src.FetchUsage(context.Background(), Filter{Start: ts(1, 0), End: ts(2, 0)}, func(Record) error {
		calls++
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("callback error must propagate unchanged, got %v", err)
	}
	if calls != 1 {
		t.Fatalf("iteration should stop after the failing callback, got %d calls", calls)
	}
}

func TestMemoryFetchHonorsCancellation(t *testing.T) {
	src := NewMemory(Record{UserID: "u1", Timestamp: ts(1, 0), Tokens: 1, Activity: "chat"})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := src.FetchUsage(ctx, Filter{Start: ts(1, 0), End: ts(2, 0)}, func(Record) error {
		t.Fatal("callback should not run after cancellation")
		return nil
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestMemoryInjectedFailure(t *testing.T) {
	src := NewMemory()
	src.FailFetches = 1
	src.FetchErr = errors.New("connection refused")

	err := src.FetchUsage(context.Background(), Filter{Start: ts(1, 0), End: ts(2, 0)}, func(Record) error { return nil })
	if err == nil {
		t.Fatal("expected injected failure")
	}
	// The failure budget is consumed; the next call succeeds.
	err = src.FetchUsage(context.Background(), Filter{Start: ts(1, 0), End: ts(2, 0)}, func(Record) error { return nil })
	if err != nil {
		t.Fatalf("expected recovery after injected failure, got %v", err)
	}
}
