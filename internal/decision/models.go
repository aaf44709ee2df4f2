package decision

import (
	"time"

	"triage/pkg/models"
)

// Outcome is the orchestrator's classification of one event.
type Outcome struct {
	Classification models.Classification `json:"classification"`
	Explanation    string                `json:"explanation"`
}

// Record is the append-only audit entry written once per orchestrator
// invocation, re-evaluations of deferred events included.
type Record struct {
	ID              string                `bson:"_id" json:"id"`
	EventID         string                `bson:"event_id" json:"event_id"`
	UserID          string                `bson:"user_id" json:"user_id"`
	Classification  models.Classification `bson:"classification" json:"classification"`
	Explanation     string                `bson:"explanation" json:"explanation"`
	DuplicateKind   string                `bson:"duplicate_kind,omitempty" json:"duplicate_kind,omitempty"`
	FatigueSnapshot map[string]int64      `bson:"fatigue_snapshot,omitempty" json:"fatigue_snapshot,omitempty"`
	Timestamp       time.Time             `bson:"timestamp" json:"timestamp"`
}
