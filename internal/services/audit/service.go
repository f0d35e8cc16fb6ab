package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ActionQueryUsage is emitted once per completed (or failed-but-authorized)
// usage query.
const ActionQueryUsage = "query_usage"

const defaultWriteTimeout = 5 * time.Second

var ErrServiceUnavailable = errors.New("audit service not initialized")

// ScopeSnapshot captures what the caller asked for, persisted as JSON
// alongside the event.
type ScopeSnapshot struct {
	UserIDs     []string  `json:"user_ids,omitempty"`
	Start       time.Time `json:"range_start"`
	End         time.Time `json:"range_end"`
	Activities  []string  `json:"activities,omitempty"`
	Granularity string    `json:"granularity"`
}

// Event is one append-only audit record.
type Event struct {
	ID          uuid.UUID
	ActorID     string
	Action      string
	Scope       ScopeSnapshot
	OccurredAt  time.Time
	RecordCount int64
	BucketCount int
}

// Filter controls audit event listing.
type Filter struct {
	ActorID string
	Action  string
	Limit   int32
	Offset  int32
}

// DB is the slice of pgxpool.Pool the service needs.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// Service appends to and reads from the audit_events table.
type Service struct {
	db      DB
	timeout time.Duration
}

func NewService(db DB, timeout time.Duration) *Service {
	if timeout <= 0 {
		timeout = defaultWriteTimeout
	}
	return &Service{db: db, timeout: timeout}
}

// Record inserts one event. Callers must treat failures as non-fatal to the
// originating query: log, count, and move on.
func (s *Service) Record(ctx context.Context, event Event) error {
	if s == nil || s.db == nil {
		return ErrServiceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if event.ID == uuid.Nil {
		event.ID = uuid.New()
	}
	if event.OccurredAt.IsZero() {
		event.OccurredAt = time.Now().UTC()
	}
	scopeJSON, err := json.Marshal(event.Scope)
	if err != nil {
		return fmt.Errorf("marshal audit scope: %w", err)
	}

	_, err = s.db.Exec(ctx,
		`INSERT INTO audit_events (id, actor_id, action, scope, occurred_at, record_count, bucket_count)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		event.ID, event.ActorID, event.Action, scopeJSON, event.OccurredAt.UTC(), event.RecordCount, event.BucketCount,
	)
	if err != nil {
		return fmt.Errorf("insert audit event: %w", err)
	}
	return nil
}

// List returns events newest first, filtered and paginated.
func (s *Service) List(ctx context.Context, filter Filter) ([]Event, error) {
	if s == nil || s.db == nil {
		return nil, ErrServiceUnavailable
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var sb strings.Builder
	sb.WriteString(`SELECT id, actor_id, action, scope, occurred_at, record_count, bucket_count FROM audit_events`)
	var args []any
	var conds []string
	if actor := strings.TrimSpace(filter.ActorID); actor != "" {
		args = append(args, actor)
		conds = append(conds, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if action := strings.TrimSpace(filter.Action); action != "" {
		args = append(args, action)
		conds = append(conds, fmt.Sprintf("action = $%d", len(args)))
	}
	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	args = append(args, limit)
	fmt.Fprintf(&sb, " ORDER BY occurred_at DESC LIMIT $%d", len(args))
	args = append(args, filter.Offset)
	fmt.Fprintf(&sb, " OFFSET $%d", len(args))

	rows, err := s.db.Query(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("query audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			scopeJSON []byte
		)
		if err := rows.Scan(&event.ID, &event.ActorID, &event.Action, &scopeJSON, &event.OccurredAt, &event.RecordCount, &event.BucketCount); err != nil {
			return nil, fmt.Errorf("scan audit event: %w", err)
		}
		if len(scopeJSON) > 0 {
			if err := json.Unmarshal(scopeJSON, &event.Scope); err != nil {
				return nil, fmt.Errorf("decode audit scope: %w", err)
			}
		}
		event.OccurredAt = event.OccurredAt.UTC()
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit events: %w", err)
	}
	return events, nil
}
