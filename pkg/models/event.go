package models

import (
	"fmt"
	"strings"
	"time"
)

type Classification string

const (
	ClassificationNow   Classification = "NOW"
	ClassificationLater Classification = "LATER"
	ClassificationNever Classification = "NEVER"
)

// PriorityCritical is the reserved priority hint that forces immediate
// delivery ahead of rule evaluation. Matched case-insensitively.
const PriorityCritical = "critical"

// NotificationEvent is the unit of work for the decision pipeline.
// Events are immutable once created; the pipeline only reads them.
type NotificationEvent struct {
	ID           string                 `json:"id"`
	UserID       string                 `json:"user_id"`
	EventType    string                 `json:"event_type"`
	Title        string                 `json:"title"`
	Source       string                 `json:"source,omitempty"`
	PriorityHint string                 `json:"priority_hint,omitempty"`
	Timestamp    time.Time              `json:"timestamp"`
	Channel      string                 `json:"channel"`
	Metadata     map[string]interface{} `json:"metadata,omitempty"`
	DedupeKey    string                 `json:"dedupe_key,omitempty"`
	ExpiresAt    *time.Time             `json:"expires_at,omitempty"`
}

func (e *NotificationEvent) IsCritical() bool {
	return strings.EqualFold(e.PriorityHint, PriorityCritical)
}

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s': %s", e.Field, e.Message)
}

// Validate checks the fields the pipeline requires. A validation failure
// rejects the event before any stage runs and produces no audit record.
func (e *NotificationEvent) Validate() error {
	if e == nil {
		return &ValidationError{
			Field:   "event",
			Message: "notification event cannot be nil",
		}
	}

	if e.UserID == "" {
		return &ValidationError{
			Field:   "user_id",
			Message: "user ID is required",
		}
	}

	if e.EventType == "" {
		return &ValidationError{
			Field:   "event_type",
			Message: "event type is required",
		}
	}

	if e.Title == "" {
		return &ValidationError{
			Field:   "title",
			Message: "title is required",
		}
	}

	if e.Channel == "" {
		return &ValidationError{
			Field:   "channel",
			Message: "delivery channel is required",
		}
	}

	if e.Timestamp.IsZero() {
		return &ValidationError{
			Field:   "timestamp",
			Message: "event timestamp is required",
		}
	}

	return nil
}

func (e *NotificationEvent) MetadataField(name string) (interface{}, bool) {
	if e.Metadata == nil {
		return nil, false
	}

	value, ok := e.Metadata[name]
	return value, ok
}
