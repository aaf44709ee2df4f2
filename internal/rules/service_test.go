package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	"triage/pkg/models"
)

type fakeCategoryCounter struct {
	counts map[string]int64
	err    error
}

func (c *fakeCategoryCounter) IncrementCategory(ctx context.Context, userID, category string) (int64, error) {
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	key := userID + ":" + category
	c.counts[key]++
	return c.counts[key], nil
}

type staticRepo struct {
	configs []RuleConfig
	err     error
}

func (r *staticRepo) GetActiveRuleConfigs(ctx context.Context) ([]RuleConfig, error) {
	return r.configs, r.err
}

func ruleEvent(eventType, priority string) models.NotificationEvent {
	return models.NotificationEvent{
		ID:           "evt-1",
		UserID:       "user-1",
		EventType:    eventType,
		Title:        "Something happened",
		PriorityHint: priority,
		Channel:      "push",
		Timestamp:    time.Now().UTC(),
	}
}

func newTestEvaluator(t *testing.T, counter CategoryCounter, configs ...RuleConfig) *Evaluator {
	t.Helper()
	if counter == nil {
		counter = &fakeCategoryCounter{}
	}
	e, err := NewEvaluator(&staticRepo{}, counter, config.RulesConfig{}, logger.NopLogger())
	require.NoError(t, err)
	e.SetRules(configs)
	return e
}

func atClock(hour, minute int) func() time.Time {
	return func() time.Time {
		return time.Date(2025, 6, 1, hour, minute, 0, 0, time.UTC)
	}
}

func quietHoursRule(start, end string) RuleConfig {
	return RuleConfig{
		Key:         constants.RuleKeyQuietHours,
		Enabled:     true,
		Description: "Suppress noise overnight",
		Params:      map[string]interface{}{"start": start, "end": end},
	}
}

func TestEvaluator_NoRulesNoMatch(t *testing.T) {
	e := newTestEvaluator(t, nil)

	decision := e.Evaluate(context.Background(), ruleEvent("security", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_BypassByEventType(t *testing.T) {
	e := newTestEvaluator(t, nil, RuleConfig{
		Key:     constants.RuleKeyBypass,
		Enabled: true,
		Params: map[string]interface{}{
			"always_now":  true,
			"event_types": []interface{}{"system_alert", "incident"},
		},
	})

	decision := e.Evaluate(context.Background(), ruleEvent("incident", ""))
	require.True(t, decision.Matched())
	assert.Equal(t, ActionNow, decision.Action)

	decision = e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_BypassRequiresAlwaysNow(t *testing.T) {
	e := newTestEvaluator(t, nil, RuleConfig{
		Key:     constants.RuleKeyBypass,
		Enabled: true,
		Params: map[string]interface{}{
			"event_types": []interface{}{"system_alert"},
		},
	})

	decision := e.Evaluate(context.Background(), ruleEvent("system_alert", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_BypassByCELExpression(t *testing.T) {
	e := newTestEvaluator(t, nil, RuleConfig{
		Key:     constants.RuleKeyBypass,
		Enabled: true,
		Params: map[string]interface{}{
			"always_now": true,
			"match":      `event_type == "security" && source == "pager"`,
		},
	})

	event := ruleEvent("security", "")
	event.Source = "pager"
	decision := e.Evaluate(context.Background(), event)
	require.True(t, decision.Matched())
	assert.Equal(t, ActionNow, decision.Action)

	event.Source = "crm"
	decision = e.Evaluate(context.Background(), event)
	assert.False(t, decision.Matched())
}

func TestEvaluator_BypassBrokenExpressionFallsBackToStatic(t *testing.T) {
	e := newTestEvaluator(t, nil, RuleConfig{
		Key:     constants.RuleKeyBypass,
		Enabled: true,
		Params: map[string]interface{}{
			"always_now":  true,
			"event_types": []interface{}{"system_alert"},
			"match":       `this is not CEL`,
		},
	})

	decision := e.Evaluate(context.Background(), ruleEvent("system_alert", ""))
	require.True(t, decision.Matched(), "static condition still applies")
	assert.Equal(t, ActionNow, decision.Action)
}

func TestEvaluator_QuietHoursWraparound(t *testing.T) {
	tests := []struct {
		name    string
		hour    int
		minute  int
		matched bool
	}{
		{"before window", 21, 59, false},
		{"late evening", 23, 30, true},
		{"past midnight", 3, 0, true},
		{"window end", 8, 0, true},
		{"after window", 9, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEvaluator(t, nil, quietHoursRule("22:00", "08:00")).
				WithClock(atClock(tt.hour, tt.minute))

			decision := e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
			if tt.matched {
				require.True(t, decision.Matched())
				assert.Equal(t, ActionLater, decision.Action)
			} else {
				assert.False(t, decision.Matched())
			}
		})
	}
}

func TestEvaluator_QuietHoursSameDayWindow(t *testing.T) {
	e := newTestEvaluator(t, nil, quietHoursRule("13:00", "14:00")).
		WithClock(atClock(13, 30))

	decision := e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	require.True(t, decision.Matched())
	assert.Equal(t, ActionLater, decision.Action)

	e = e.WithClock(atClock(15, 0))
	decision = e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_QuietHoursExemptPriority(t *testing.T) {
	e := newTestEvaluator(t, nil, quietHoursRule("22:00", "08:00")).
		WithClock(atClock(23, 30))

	decision := e.Evaluate(context.Background(), ruleEvent("newsletter", "high"))
	assert.False(t, decision.Matched(), "high priority is exempt by default")

	decision = e.Evaluate(context.Background(), ruleEvent("newsletter", "HIGH"))
	assert.False(t, decision.Matched(), "exemption is case-insensitive")
}

func TestEvaluator_QuietHoursInvalidTimesInactive(t *testing.T) {
	e := newTestEvaluator(t, nil, quietHoursRule("25:99", "08:00")).
		WithClock(atClock(23, 30))

	decision := e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_CategoryCap(t *testing.T) {
	counter := &fakeCategoryCounter{}
	e := newTestEvaluator(t, counter, RuleConfig{
		Key:     constants.RuleKeyCategoryCap,
		Enabled: true,
		Params: map[string]interface{}{
			"category": "promotional",
			"limit":    2,
		},
	})

	ctx := context.Background()
	event := ruleEvent("promotional", "")

	for i := 0; i < 2; i++ {
		decision := e.Evaluate(ctx, event)
		assert.False(t, decision.Matched(), "send %d is within the cap", i+1)
	}

	decision := e.Evaluate(ctx, event)
	require.True(t, decision.Matched())
	assert.Equal(t, ActionNever, decision.Action)
}

func TestEvaluator_CategoryCapIgnoresOtherCategories(t *testing.T) {
	counter := &fakeCategoryCounter{}
	e := newTestEvaluator(t, counter, RuleConfig{
		Key:     constants.RuleKeyCategoryCap,
		Enabled: true,
		Params: map[string]interface{}{
			"category": "promotional",
			"limit":    1,
		},
	})

	decision := e.Evaluate(context.Background(), ruleEvent("billing", ""))
	assert.False(t, decision.Matched())
	assert.Empty(t, counter.counts, "events outside the category are not counted")
}

func TestEvaluator_CategoryCapCounterErrorSkipsRule(t *testing.T) {
	counter := &fakeCategoryCounter{err: errors.New("connection refused")}
	e := newTestEvaluator(t, counter, RuleConfig{
		Key:     constants.RuleKeyCategoryCap,
		Enabled: true,
		Params: map[string]interface{}{
			"category": "promotional",
			"limit":    1,
		},
	})

	decision := e.Evaluate(context.Background(), ruleEvent("promotional", ""))
	assert.False(t, decision.Matched())
}

func TestEvaluator_BypassOutranksQuietHours(t *testing.T) {
	e := newTestEvaluator(t, nil,
		RuleConfig{
			Key:     constants.RuleKeyBypass,
			Enabled: true,
			Params: map[string]interface{}{
				"always_now":  true,
				"event_types": []interface{}{"system_alert"},
			},
		},
		quietHoursRule("22:00", "08:00"),
	).WithClock(atClock(23, 30))

	decision := e.Evaluate(context.Background(), ruleEvent("system_alert", ""))
	require.True(t, decision.Matched())
	assert.Equal(t, ActionNow, decision.Action)
}

func TestEvaluator_ReloadRules(t *testing.T) {
	repo := &staticRepo{configs: []RuleConfig{quietHoursRule("22:00", "08:00")}}
	e, err := NewEvaluator(repo, &fakeCategoryCounter{}, config.RulesConfig{}, logger.NopLogger())
	require.NoError(t, err)
	e = e.WithClock(atClock(23, 30))

	decision := e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	assert.False(t, decision.Matched(), "no rules active before the first load")

	require.NoError(t, e.ReloadRules(context.Background(), true))

	decision = e.Evaluate(context.Background(), ruleEvent("newsletter", ""))
	assert.True(t, decision.Matched())
}
