package models

import "time"

type NotificationEventBuilder struct {
	event *NotificationEvent
}

func NewNotificationEventBuilder() *NotificationEventBuilder {
	return &NotificationEventBuilder{
		event: &NotificationEvent{
			Metadata: make(map[string]interface{}),
		},
	}
}

func (b *NotificationEventBuilder) WithID(id string) *NotificationEventBuilder {
	b.event.ID = id
	return b
}

func (b *NotificationEventBuilder) WithUserID(userID string) *NotificationEventBuilder {
	b.event.UserID = userID
	return b
}

func (b *NotificationEventBuilder) WithEventType(eventType string) *NotificationEventBuilder {
	b.event.EventType = eventType
	return b
}

func (b *NotificationEventBuilder) WithTitle(title string) *NotificationEventBuilder {
	b.event.Title = title
	return b
}

func (b *NotificationEventBuilder) WithSource(source string) *NotificationEventBuilder {
	b.event.Source = source
	return b
}

func (b *NotificationEventBuilder) WithPriorityHint(hint string) *NotificationEventBuilder {
	b.event.PriorityHint = hint
	return b
}

func (b *NotificationEventBuilder) WithTimestamp(timestamp time.Time) *NotificationEventBuilder {
	b.event.Timestamp = timestamp
	return b
}

func (b *NotificationEventBuilder) WithChannel(channel string) *NotificationEventBuilder {
	b.event.Channel = channel
	return b
}

func (b *NotificationEventBuilder) WithMetadata(metadata map[string]interface{}) *NotificationEventBuilder {
	b.event.Metadata = metadata
	return b
}

func (b *NotificationEventBuilder) WithDedupeKey(key string) *NotificationEventBuilder {
	b.event.DedupeKey = key
	return b
}

func (b *NotificationEventBuilder) WithExpiresAt(expiresAt time.Time) *NotificationEventBuilder {
	b.event.ExpiresAt = &expiresAt
	return b
}

func (b *NotificationEventBuilder) Build() *NotificationEvent {
	if b.event.Timestamp.IsZero() {
		b.event.Timestamp = time.Now().UTC()
	}
	return b.event
}
