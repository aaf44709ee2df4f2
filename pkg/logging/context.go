package logging

import (
	"context"
)

// Context keys are unexported types so values set here cannot collide
// with keys from other packages.
type contextKey int

const (
	traceIDKey contextKey = iota
	messageIDKey
	eventIDKey
	serviceNameKey
)

func WithTraceID(ctx context.Context, traceID string) context.Context {
	return context.WithValue(ctx, traceIDKey, traceID)
}

func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, messageIDKey, messageID)
}

// WithEventID tags the context with the notification event being decided.
func WithEventID(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, eventIDKey, eventID)
}

func WithServiceName(ctx context.Context, serviceName string) context.Context {
	return context.WithValue(ctx, serviceNameKey, serviceName)
}

func GetTraceID(ctx context.Context) string {
	return stringValue(ctx, traceIDKey)
}

func GetMessageID(ctx context.Context) string {
	return stringValue(ctx, messageIDKey)
}

func GetEventID(ctx context.Context) string {
	return stringValue(ctx, eventIDKey)
}

func GetServiceName(ctx context.Context) string {
	return stringValue(ctx, serviceNameKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// GetLogFields flattens the context tags into zap-style key/value pairs.
func GetLogFields(ctx context.Context) []interface{} {
	fields := make([]interface{}, 0, 8)

	if traceID := GetTraceID(ctx); traceID != "" {
		fields = append(fields, "trace_id", traceID)
	}
	if messageID := GetMessageID(ctx); messageID != "" {
		fields = append(fields, "message_id", messageID)
	}
	if eventID := GetEventID(ctx); eventID != "" {
		fields = append(fields, "event_id", eventID)
	}
	if serviceName := GetServiceName(ctx); serviceName != "" {
		fields = append(fields, "service_name", serviceName)
	}

	return fields
}
