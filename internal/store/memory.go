package store

import (
	"context"
	"sort"
	"sync"
)

// Memory is an in-process RecordSource used by tests and local development.
// It applies the same predicate the Postgres store pushes down.
type Memory struct {
	mu      sync.RWMutex
	records []Record

	// FailFetches makes the next N FetchUsage calls return FetchErr, for
	// exercising retry and unavailability paths.
	FailFetches int
	FetchErr    error
}

// NewMemory seeds an in-memory source with the given records.
func NewMemory(records ...Record) *Memory {
	m := &Memory{}
	m.Add(records...)
	return m
}

// Add appends records, keeping the set ordered by timestamp.
func (m *Memory) Add(records ...Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, records...)
	sort.SliceStable(m.records, func(i, j int) bool {
		return m.records[i].Timestamp.Before(m.records[j].Timestamp)
	})
}

// DistinctActivities mirrors the Postgres store's activity listing.
func (m *Memory) DistinctActivities(ctx context.Context, userIDs []string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	seen := make(map[string]struct{})
	for _, rec := range m.records {
		if len(userIDs) > 0 && !contains(userIDs, rec.UserID) {
			continue
		}
		seen[rec.Activity] = struct{}{}
	}
	activities := make([]string, 0, len(seen))
	for activity := range seen {
		activities = append(activities, activity)
	}
	sort.Strings(activities)
	return activities, nil
}

// FetchUsage streams matching records in timestamp order.
func (m *Memory) FetchUsage(ctx context.Context, filter Filter, fn func(Record) error) error {
	m.mu.Lock()
	if m.FailFetches > 0 {
		m.FailFetches--
		err := m.FetchErr
		m.mu.Unlock()
		return err
	}
	snapshot := make([]Record, len(m.records))
	copy(snapshot, m.records)
	m.mu.Unlock()

	for _, rec := range snapshot {
		if err := ctx.Err(); err != nil {
			return err
		}
		if !filter.Matches(rec) {
			continue
		}
		if err := fn(rec); err != nil {
			return err
		}
	}
	return nil
}
