package store

import (
	"context"
	"time"
)

// Record is a single immutable token-usage fact.
type Record struct {
	UserID    string
	Timestamp time.Time
	Tokens    int64
	Activity  string
}

// Filter selects usage records. UserIDs and Activities are conjunctive
// predicates; an empty slice means "no restriction". The time bounds are
// half-open: Start <= usage_time < End.
type Filter struct {
	UserIDs    []string
	Start      time.Time
	End        time.Time
	Activities []string
}

// Matches reports whether the record satisfies the filter. Implementations
// are expected to push the predicate down to their backing store, but this is
// the authoritative definition of the predicate.
func (f Filter) Matches(r Record) bool {
	if r.Timestamp.Before(f.Start) || !r.Timestamp.Before(f.End) {
		return false
	}
	if len(f.UserIDs) > 0 && !contains(f.UserIDs, r.UserID) {
		return false
	}
	if len(f.Activities) > 0 && !contains(f.Activities, r.Activity) {
		return false
	}
	return true
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}

// RecordSource streams usage records matching a filter. Implementations must
// deliver records one at a time through fn so callers never hold the full
// result set, stop when fn returns an error (propagating it unchanged), and
// honor context cancellation.
type RecordSource interface {
	FetchUsage(ctx context.Context, filter Filter, fn func(Record) error) error
}
