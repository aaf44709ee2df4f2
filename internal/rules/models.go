package rules

import "time"

// Action is a rule's verdict. ActionNone means the rule set has no opinion
// on the event, which is distinct from suppression.
type Action string

const (
	ActionNone  Action = ""
	ActionNow   Action = "NOW"
	ActionLater Action = "LATER"
	ActionNever Action = "NEVER"
)

type Decision struct {
	Action      Action
	Description string
	RuleKey     string
}

func (d Decision) Matched() bool {
	return d.Action != ActionNone
}

// RuleConfig is a uniquely-keyed named rule with a structured parameter
// mapping. Rules are read-only inputs; mutation happens externally.
type RuleConfig struct {
	Key         string                 `json:"key"`
	Params      map[string]interface{} `json:"params"`
	Description string                 `json:"description"`
	Enabled     bool                   `json:"enabled"`
	CreatedAt   time.Time              `json:"created_at"`
	UpdatedAt   time.Time              `json:"updated_at"`
}
