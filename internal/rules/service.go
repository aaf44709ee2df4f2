package rules

import (
	"context"
	"fmt"
	"math/rand"
	"strings"
	"sync"
	"time"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	"triage/pkg/cel"
	"triage/pkg/metrics"
	"triage/pkg/models"
	"triage/pkg/tracing"
)

// CategoryCounter is the atomic per-user-per-day increment primitive shared
// with the fatigue limiter, keyed distinctly from the general caps.
type CategoryCounter interface {
	IncrementCategory(ctx context.Context, userID, category string) (int64, error)
}

// Evaluator applies the configured named rules to an event in fixed
// priority order, first match wins: bypass routing, quiet hours, then the
// per-category daily cap. Missing or unknown rule keys mean the rule is
// inactive; an incomplete configuration never fails the pipeline.
type Evaluator struct {
	repo      Repository
	counter   CategoryCounter
	evaluator *cel.Evaluator
	rulesCfg  config.RulesConfig
	rules     map[string]RuleConfig
	rulesMu   sync.RWMutex
	logger    logger.Logger
	now       func() time.Time
}

func NewEvaluator(repo Repository, counter CategoryCounter, cfg config.RulesConfig, log logger.Logger) (*Evaluator, error) {
	evaluator, err := cel.NewEvaluator()
	if err != nil {
		return nil, fmt.Errorf("failed to create CEL evaluator: %w", err)
	}

	return &Evaluator{
		repo:      repo,
		counter:   counter,
		evaluator: evaluator,
		rulesCfg:  cfg,
		rules:     make(map[string]RuleConfig),
		logger:    log,
		now:       time.Now,
	}, nil
}

// WithClock substitutes the time source. Used by tests.
func (e *Evaluator) WithClock(now func() time.Time) *Evaluator {
	e.now = now
	return e
}

func (e *Evaluator) Evaluate(ctx context.Context, event models.NotificationEvent) Decision {
	ctx, span := tracing.GetTracer("decision-service").Start(ctx, "rules.evaluate")
	defer span.End()

	rules := e.activeRules()

	if rule, ok := rules[constants.RuleKeyBypass]; ok {
		if decision := e.evaluateBypass(ctx, rule, event); decision.Matched() {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Key, string(decision.Action)).Inc()
			return decision
		}
	}

	if rule, ok := rules[constants.RuleKeyQuietHours]; ok {
		if decision := e.evaluateQuietHours(ctx, rule, event); decision.Matched() {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Key, string(decision.Action)).Inc()
			return decision
		}
	}

	if rule, ok := rules[constants.RuleKeyCategoryCap]; ok {
		if decision := e.evaluateCategoryCap(ctx, rule, event); decision.Matched() {
			metrics.RuleEvaluationsTotal.WithLabelValues(rule.Key, string(decision.Action)).Inc()
			return decision
		}
	}

	return Decision{}
}

// evaluateBypass short-circuits everything behind it, quiet hours included,
// when a configured alert condition matches and always_now is set.
func (e *Evaluator) evaluateBypass(ctx context.Context, rule RuleConfig, event models.NotificationEvent) Decision {
	if !boolParam(rule.Params, "always_now") {
		return Decision{}
	}

	matched := false

	for _, eventType := range stringSliceParam(rule.Params, "event_types") {
		if event.EventType == eventType {
			matched = true
			break
		}
	}

	if !matched {
		for _, priority := range stringSliceParam(rule.Params, "priorities") {
			if strings.EqualFold(event.PriorityHint, priority) {
				matched = true
				break
			}
		}
	}

	if expr := stringParam(rule.Params, "match"); expr != "" && !matched {
		ok, err := e.evaluator.EvaluateMatch(ctx, expr, event)
		if err != nil {
			// A broken match expression narrows the rule to its static
			// condition instead of failing the pipeline.
			e.logger.WarnwCtx(ctx, "Bypass match expression error, using static condition only",
				"rule_key", rule.Key,
				"error", err,
			)
		} else if ok {
			matched = true
		}
	}

	if !matched {
		return Decision{}
	}

	return Decision{
		Action:      ActionNow,
		Description: "System alert routing bypass - forced immediate delivery.",
		RuleKey:     rule.Key,
	}
}

func (e *Evaluator) evaluateQuietHours(ctx context.Context, rule RuleConfig, event models.NotificationEvent) Decision {
	startStr := stringParam(rule.Params, "start")
	endStr := stringParam(rule.Params, "end")

	start, err := parseTimeOfDay(startStr)
	if err != nil {
		e.logger.WarnwCtx(ctx, "Invalid quiet hours start, treating rule as inactive",
			"start", startStr,
			"error", err,
		)
		return Decision{}
	}

	end, err := parseTimeOfDay(endStr)
	if err != nil {
		e.logger.WarnwCtx(ctx, "Invalid quiet hours end, treating rule as inactive",
			"end", endStr,
			"error", err,
		)
		return Decision{}
	}

	if !inWindow(minutesOfDay(e.now().UTC()), start, end) {
		return Decision{}
	}

	exempt := stringParam(rule.Params, "exempt_priority")
	if exempt == "" {
		exempt = "high"
	}
	if strings.EqualFold(event.PriorityHint, exempt) {
		return Decision{}
	}

	return Decision{
		Action:      ActionLater,
		Description: fmt.Sprintf("Quiet hours active (%s-%s) - deferring delivery.", startStr, endStr),
		RuleKey:     rule.Key,
	}
}

func (e *Evaluator) evaluateCategoryCap(ctx context.Context, rule RuleConfig, event models.NotificationEvent) Decision {
	category := stringParam(rule.Params, "category")
	if category == "" || event.EventType != category {
		return Decision{}
	}

	limit, ok := intParam(rule.Params, "limit")
	if !ok || limit <= 0 {
		return Decision{}
	}

	count, err := e.counter.IncrementCategory(ctx, event.UserID, category)
	if err != nil {
		metrics.FallbackUsageTotal.WithLabelValues("rules", "allow_on_error", "category_cap").Inc()
		e.logger.WarnwCtx(ctx, "Counter store error during category cap check, skipping rule",
			"rule_key", rule.Key,
			"category", category,
			"error", err,
		)
		return Decision{}
	}

	if count <= limit {
		return Decision{}
	}

	return Decision{
		Action:      ActionNever,
		Description: fmt.Sprintf("Daily cap for %s notifications reached (limit %d).", category, limit),
		RuleKey:     rule.Key,
	}
}

// parseTimeOfDay parses a wall-clock "HH:MM" into minutes since midnight.
func parseTimeOfDay(value string) (int, error) {
	t, err := time.Parse("15:04", value)
	if err != nil {
		return 0, fmt.Errorf("invalid time of day %q: %w", value, err)
	}
	return t.Hour()*60 + t.Minute(), nil
}

func minutesOfDay(t time.Time) int {
	return t.Hour()*60 + t.Minute()
}

// inWindow checks wall-clock containment. A window whose start is after its
// end wraps past midnight: 22:00-08:00 contains 23:30 and 07:00 but not
// 09:00.
func inWindow(now, start, end int) bool {
	if start <= end {
		return now >= start && now <= end
	}
	return now >= start || now <= end
}

func (e *Evaluator) activeRules() map[string]RuleConfig {
	e.rulesMu.RLock()
	defer e.rulesMu.RUnlock()

	rules := make(map[string]RuleConfig, len(e.rules))
	for key, rule := range e.rules {
		rules[key] = rule
	}
	return rules
}

func (e *Evaluator) ReloadRules(ctx context.Context, skipJitter ...bool) error {
	shouldSkipJitter := len(skipJitter) > 0 && skipJitter[0]

	if err := e.applyJitter(ctx, shouldSkipJitter); err != nil {
		return err
	}

	configs, err := e.repo.GetActiveRuleConfigs(ctx)
	if err != nil {
		return err
	}

	rules := make(map[string]RuleConfig, len(configs))
	for _, rule := range configs {
		rules[rule.Key] = rule
	}

	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()

	metrics.SetActiveRules(len(rules))
	e.logger.InfowCtx(ctx, "Successfully reloaded rule configs",
		"rules_count", len(rules),
	)
	return nil
}

// SetRules replaces the active rule set directly. Used by tests.
func (e *Evaluator) SetRules(configs []RuleConfig) {
	rules := make(map[string]RuleConfig, len(configs))
	for _, rule := range configs {
		rules[rule.Key] = rule
	}

	e.rulesMu.Lock()
	e.rules = rules
	e.rulesMu.Unlock()
}

func (e *Evaluator) applyJitter(ctx context.Context, skipJitter bool) error {
	if skipJitter || e.rulesCfg.Reload.JitterMaxMilliseconds == 0 {
		return nil
	}

	jitter := time.Duration(rand.Intn(e.rulesCfg.Reload.JitterMaxMilliseconds)) * time.Millisecond
	e.logger.DebugwCtx(ctx, "Reload scheduled with jitter",
		"jitter_ms", jitter.Milliseconds(),
	)

	select {
	case <-time.After(jitter):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *Evaluator) StartReloader(ctx context.Context) error {
	interval := time.Duration(e.rulesCfg.Reload.IntervalSeconds) * time.Second
	if interval <= 0 {
		interval = 60 * time.Second
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	if err := e.ReloadRules(ctx); err != nil {
		e.logger.ErrorwCtx(ctx, "Failed to reload rule configs",
			"error", err,
		)
	}

	for {
		select {
		case <-ticker.C:
			if err := e.ReloadRules(ctx); err != nil {
				e.logger.ErrorwCtx(ctx, "Failed to reload rule configs",
					"error", err,
				)
			}
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}
