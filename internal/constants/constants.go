package constants

import "time"

const (
	KafkaBatchTimeout = 10 * time.Millisecond
	KafkaWriteTimeout = 10 * time.Second
)

const (
	DefaultInputTopic    = "notification_events"
	DefaultOutputTopic   = "notification_decisions"
	DefaultMongoDatabase = "triage"
)

const (
	CacheKeyPrefixDedup = "dedup:"
	CacheKeyPrefixNear  = "near:"
	CacheKeyPrefixBurst = "fatigue:burst:"
	CacheKeyPrefixDaily = "fatigue:daily:"
	CacheKeyPrefixCat   = "fatigue:cat:"
)

// Rule keys recognized by the evaluator. Absent keys mean the rule is
// inactive, never an error.
const (
	RuleKeyBypass      = "system_alert_routing"
	RuleKeyQuietHours  = "quiet_hours"
	RuleKeyCategoryCap = "category_daily_cap"
)

const (
	DefaultExactDedupWindow  = 600 * time.Second
	DefaultNearDedupWindow   = 300 * time.Second
	DefaultNearDedupMinScore = 0.85
)

const (
	DefaultBurstWindow = 10 * time.Minute
	DefaultBurstCap    = 3
	DefaultDailyCap    = 30
)

const (
	DefaultDeferInterval   = 5 * time.Minute
	DefaultMaxRetries      = 3
	DefaultSweepSchedule   = "@every 1m"
	DefaultItemTimeout     = 10 * time.Second
	DefaultSweepBatchLimit = 500
)

const (
	ShutdownTimeout = 5 * time.Second
)

const (
	DefaultRecentLimit = 100
	MaxRecentLimit     = 1000
)

const (
	FallbackAllow = "allow"
	FallbackDeny  = "deny"
)
