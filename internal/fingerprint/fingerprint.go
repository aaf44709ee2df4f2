package fingerprint

import (
	"crypto/md5"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"

	"triage/pkg/errors"
	"triage/pkg/models"
)

// Fingerprinter derives a stable identity string for a notification event.
// A caller-supplied dedupe key takes precedence; otherwise the identity is a
// hash over the event's stable fields. Volatile fields (id, timestamp,
// channel) never participate, so retransmissions of the same logical event
// fingerprint identically.
type Fingerprinter struct {
	algorithm string
}

func New(algorithm string) *Fingerprinter {
	return &Fingerprinter{algorithm: algorithm}
}

// canonicalPayload fixes the field order of the hashed serialization.
// encoding/json writes map keys in sorted order, which keeps the metadata
// part deterministic as well.
type canonicalPayload struct {
	UserID    string                 `json:"user_id"`
	EventType string                 `json:"event_type"`
	Title     string                 `json:"title"`
	Source    string                 `json:"source"`
	Metadata  map[string]interface{} `json:"metadata"`
}

func (f *Fingerprinter) Fingerprint(event models.NotificationEvent) (string, error) {
	if event.DedupeKey != "" {
		return event.DedupeKey, nil
	}

	payload := canonicalPayload{
		UserID:    event.UserID,
		EventType: event.EventType,
		Title:     event.Title,
		Source:    event.Source,
		Metadata:  event.Metadata,
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return "", errors.ErrValidation.
			WithCause(err).
			WithDetail("message", "event metadata is not serializable")
	}

	switch f.algorithm {
	case "md5":
		sum := md5.Sum(raw)
		return hex.EncodeToString(sum[:]), nil
	default:
		sum := sha256.Sum256(raw)
		return hex.EncodeToString(sum[:]), nil
	}
}
