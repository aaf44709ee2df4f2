package dedup

import "time"

type Kind string

const (
	KindNone  Kind = ""
	KindExact Kind = "exact"
	KindNear  Kind = "near"
)

// Result is the outcome of a duplicate check. Degraded is set when the
// recency store was unreachable and the check fell back to allowing the
// event instead of suppressing it.
type Result struct {
	Kind     Kind
	Degraded bool
}

func (r Result) IsDuplicate() bool {
	return r.Kind != KindNone
}

// RecentEntry is one remembered sighting used for near-duplicate
// comparison. Title tokens are retained alongside the fingerprint so
// similarity against the original title stays computable later.
type RecentEntry struct {
	Fingerprint string    `json:"fingerprint"`
	Tokens      []string  `json:"tokens"`
	Timestamp   time.Time `json:"timestamp"`
}
