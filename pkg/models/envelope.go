package models

import "time"

// EventEnvelope wraps a NotificationEvent on the wire with pipeline
// metadata. Business fields live in Event; everything the pipeline attaches
// (trace ids, the decision outcome, DLQ annotations) lives in Metadata.
type EventEnvelope struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Timestamp time.Time         `json:"timestamp"`
	Event     NotificationEvent `json:"event"`
	Metadata  Metadata          `json:"metadata"`
}

type Metadata struct {
	TraceID  string                 `json:"trace_id,omitempty"`
	Decision *DecisionInfo          `json:"decision,omitempty"`
	DLQ      map[string]interface{} `json:"dlq,omitempty"`
}

type DecisionInfo struct {
	Classification Classification `json:"classification"`
	Explanation    string         `json:"explanation"`
	DecidedAt      time.Time      `json:"decided_at"`
}
