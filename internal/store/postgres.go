package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

const defaultFetchTimeout = 30 * time.Second

// Postgres reads usage records from the token_usage table through a pgx pool.
type Postgres struct {
	pool         *pgxpool.Pool
	fetchTimeout time.Duration
}

// NewPostgres wraps the pool. fetchTimeout bounds every query issued by the
// store; zero selects the default.
func NewPostgres(pool *pgxpool.Pool, fetchTimeout time.Duration) *Postgres {
	if fetchTimeout <= 0 {
		fetchTimeout = defaultFetchTimeout
	}
	return &Postgres{pool: pool, fetchTimeout: fetchTimeout}
}

// FetchUsage streams matching rows in usage_time order. The filter predicate
// is pushed down to the database; rows are delivered one at a time so the
// caller's memory use stays bounded regardless of the result size.
func (p *Postgres) FetchUsage(ctx context.Context, filter Filter, fn func(Record) error) error {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	var sb strings.Builder
	sb.WriteString(`SELECT user_id, usage_time, tokens, activity FROM token_usage WHERE usage_time >= $1 AND usage_time < $2`)
	args := []any{filter.Start.UTC(), filter.End.UTC()}

	if len(filter.UserIDs) > 0 {
		args = append(args, filter.UserIDs)
		fmt.Fprintf(&sb, " AND user_id = ANY($%d)", len(args))
	}
	if len(filter.Activities) > 0 {
		args = append(args, filter.Activities)
		fmt.Fprintf(&sb, " AND activity = ANY($%d)", len(args))
	}
	sb.WriteString(" ORDER BY usage_time ASC")

	rows, err := p.pool.Query(ctx, sb.String(), args...)
	if err != nil {
		return fmt.Errorf("query token_usage: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.UserID, &rec.Timestamp, &rec.Tokens, &rec.Activity); err != nil {
			return fmt.Errorf("scan token_usage row: %w", err)
		}
		rec.Timestamp = rec.Timestamp.UTC()
		if err := fn(rec); err != nil {
			return err
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("iterate token_usage rows: %w", err)
	}
	return nil
}

// DistinctActivities lists the activity labels present for the given user
// scope, alphabetically. An empty scope means all users.
func (p *Postgres) DistinctActivities(ctx context.Context, userIDs []string) ([]string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	query := `SELECT DISTINCT activity FROM token_usage ORDER BY activity ASC`
	args := []any{}
	if len(userIDs) > 0 {
		query = `SELECT DISTINCT activity FROM token_usage WHERE user_id = ANY($1) ORDER BY activity ASC`
		args = append(args, userIDs)
	}

	rows, err := p.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query activities: %w", err)
	}
	defer rows.Close()

	var activities []string
	for rows.Next() {
		var activity string
		if err := rows.Scan(&activity); err != nil {
			return nil, fmt.Errorf("scan activity: %w", err)
		}
		activities = append(activities, activity)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate activities: %w", err)
	}
	return activities, nil
}

// InsertUsage appends one record. Ingestion normally happens outside this
// service; this path exists for the seed tool and integration tests.
func (p *Postgres) InsertUsage(ctx context.Context, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	if rec.Tokens < 0 {
		return fmt.Errorf("insert token_usage: tokens must be >= 0, got %d", rec.Tokens)
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO token_usage (user_id, usage_time, tokens, activity) VALUES ($1, $2, $3, $4)`,
		rec.UserID, rec.Timestamp.UTC(), rec.Tokens, rec.Activity,
	)
	if err != nil {
		return fmt.Errorf("insert token_usage: %w", err)
	}
	return nil
}

// EnsureUser upserts a row in the users table so usage inserts satisfy the
// foreign key. Used by the seed tool.
func (p *Postgres) EnsureUser(ctx context.Context, userID string) error {
	ctx, cancel := context.WithTimeout(ctx, p.fetchTimeout)
	defer cancel()

	_, err := p.pool.Exec(ctx,
		`INSERT INTO users (id) VALUES ($1) ON CONFLICT (id) DO NOTHING`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("ensure user %s: %w", userID, err)
	}
	return nil
}
