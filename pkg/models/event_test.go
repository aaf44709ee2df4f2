package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validEvent() NotificationEvent {
	return NotificationEvent{
		ID:        "evt-1",
		UserID:    "user-1",
		EventType: "security",
		Title:     "Login from new device",
		Channel:   "push",
		Timestamp: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestNotificationEvent_Validate(t *testing.T) {
	event := validEvent()
	require.NoError(t, event.Validate())

	tests := []struct {
		field  string
		mutate func(*NotificationEvent)
	}{
		{"user_id", func(e *NotificationEvent) { e.UserID = "" }},
		{"event_type", func(e *NotificationEvent) { e.EventType = "" }},
		{"title", func(e *NotificationEvent) { e.Title = "" }},
		{"channel", func(e *NotificationEvent) { e.Channel = "" }},
		{"timestamp", func(e *NotificationEvent) { e.Timestamp = time.Time{} }},
	}

	for _, tt := range tests {
		t.Run(tt.field, func(t *testing.T) {
			event := validEvent()
			tt.mutate(&event)

			err := event.Validate()
			require.Error(t, err)

			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			assert.Equal(t, tt.field, vErr.Field)
		})
	}
}

func TestNotificationEvent_IsCritical(t *testing.T) {
	event := validEvent()
	assert.False(t, event.IsCritical())

	for _, hint := range []string{"critical", "CRITICAL", "Critical"} {
		event.PriorityHint = hint
		assert.True(t, event.IsCritical(), "hint %q", hint)
	}

	event.PriorityHint = "high"
	assert.False(t, event.IsCritical())
}
