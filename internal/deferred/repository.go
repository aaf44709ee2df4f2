package deferred

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"triage/pkg/models"
)

type Repository interface {
	Create(ctx context.Context, event models.NotificationEvent, scheduledFor time.Time) error
	DuePending(ctx context.Context, now time.Time, limit int) ([]Notification, error)
	MarkStatus(ctx context.Context, id string, status Status) (bool, error)
	Reschedule(ctx context.Context, id string, scheduledFor time.Time) (bool, error)
	CountPending(ctx context.Context) (int64, error)
}

type PostgresRepository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) Repository {
	return &PostgresRepository{db: db}
}

func (r *PostgresRepository) Create(ctx context.Context, event models.NotificationEvent, scheduledFor time.Time) error {
	snapshot, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("failed to marshal event snapshot: %w", err)
	}

	query := `
		INSERT INTO deferred_notifications (id, event, scheduled_for, status, retry_count, created_at, updated_at)
		VALUES ($1, $2, $3, $4, 0, NOW(), NOW())
	`

	if _, err := r.db.ExecContext(ctx, query, uuid.New().String(), snapshot, scheduledFor, StatusPending); err != nil {
		return fmt.Errorf("failed to insert deferred notification: %w", err)
	}
	return nil
}

// DuePending returns PENDING items whose scheduled time has passed, oldest
// first, capped at limit.
func (r *PostgresRepository) DuePending(ctx context.Context, now time.Time, limit int) ([]Notification, error) {
	query := `
		SELECT id, event, scheduled_for, status, retry_count, created_at, updated_at
		FROM deferred_notifications
		WHERE status = $1 AND scheduled_for <= $2
		ORDER BY scheduled_for ASC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, StatusPending, now, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query due deferred notifications: %w", err)
	}
	defer rows.Close()

	var items []Notification
	for rows.Next() {
		var item Notification
		var snapshot []byte
		if err := rows.Scan(
			&item.ID,
			&snapshot,
			&item.ScheduledFor,
			&item.Status,
			&item.RetryCount,
			&item.CreatedAt,
			&item.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deferred notification: %w", err)
		}

		if err := json.Unmarshal(snapshot, &item.Event); err != nil {
			return nil, fmt.Errorf("failed to unmarshal event snapshot for %s: %w", item.ID, err)
		}

		items = append(items, item)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows iteration error: %w", err)
	}

	return items, nil
}

// MarkStatus moves a PENDING item to a terminal status. The guard on the
// current status makes the transition idempotent under concurrent sweeps;
// the returned bool reports whether this call won the transition.
func (r *PostgresRepository) MarkStatus(ctx context.Context, id string, status Status) (bool, error) {
	query := `
		UPDATE deferred_notifications
		SET status = $1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, status, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to update deferred notification %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for %s: %w", id, err)
	}
	return affected > 0, nil
}

// Reschedule pushes a still-PENDING item forward and counts the attempt.
func (r *PostgresRepository) Reschedule(ctx context.Context, id string, scheduledFor time.Time) (bool, error) {
	query := `
		UPDATE deferred_notifications
		SET scheduled_for = $1, retry_count = retry_count + 1, updated_at = NOW()
		WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, scheduledFor, id, StatusPending)
	if err != nil {
		return false, fmt.Errorf("failed to reschedule deferred notification %s: %w", id, err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows for %s: %w", id, err)
	}
	return affected > 0, nil
}

func (r *PostgresRepository) CountPending(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM deferred_notifications WHERE status = $1`, StatusPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count pending deferred notifications: %w", err)
	}
	return count, nil
}
