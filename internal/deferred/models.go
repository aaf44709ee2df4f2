package deferred

import (
	"time"

	"triage/pkg/models"
)

// Status is the lifecycle state of a deferred notification. PENDING is the
// only non-terminal state; the scheduler moves items out of it.
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusDelivered Status = "DELIVERED"
	StatusDropped   Status = "DROPPED"
	StatusExpired   Status = "EXPIRED"
)

// Notification is an event parked for re-evaluation. The event is stored as
// a full snapshot so the re-run sees exactly what the original run saw.
type Notification struct {
	ID           string                   `json:"id"`
	Event        models.NotificationEvent `json:"event"`
	ScheduledFor time.Time                `json:"scheduled_for"`
	Status       Status                   `json:"status"`
	RetryCount   int                      `json:"retry_count"`
	CreatedAt    time.Time                `json:"created_at"`
	UpdatedAt    time.Time                `json:"updated_at"`
}
