package fatigue

import (
	"context"
	"time"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	"triage/pkg/metrics"
)

// Result is the outcome of a fatigue check. Counts is a snapshot of every
// counter consulted, taken after the increment, for the audit record.
type Result struct {
	Exceeded bool
	Counts   map[string]int64
	Degraded bool
}

// Limiter enforces per-user send caps over a short burst window and a UTC
// calendar day. Every check increments both counters exactly once before
// the thresholds are compared, so suppressed traffic still counts toward
// fatigue.
type Limiter struct {
	store       CounterStore
	burstWindow time.Duration
	burstCap    int64
	dailyCap    int64
	logger      logger.Logger
	now         func() time.Time
}

func NewLimiter(store CounterStore, cfg config.FatigueConfig, log logger.Logger) *Limiter {
	burstWindow := constants.DefaultBurstWindow
	if cfg.BurstWindowSeconds > 0 {
		burstWindow = time.Duration(cfg.BurstWindowSeconds) * time.Second
	}

	burstCap := int64(constants.DefaultBurstCap)
	if cfg.BurstCap > 0 {
		burstCap = int64(cfg.BurstCap)
	}

	dailyCap := int64(constants.DefaultDailyCap)
	if cfg.DailyCap > 0 {
		dailyCap = int64(cfg.DailyCap)
	}

	return &Limiter{
		store:       store,
		burstWindow: burstWindow,
		burstCap:    burstCap,
		dailyCap:    dailyCap,
		logger:      log,
		now:         time.Now,
	}
}

// WithClock substitutes the time source. Used by tests.
func (l *Limiter) WithClock(now func() time.Time) *Limiter {
	l.now = now
	return l
}

// Check increments the user's burst and daily counters and reports whether
// either cap is exceeded. A counter store failure fails open: the event is
// not suppressed, and Degraded is set so the explanation can flag it.
func (l *Limiter) Check(ctx context.Context, userID string) (Result, error) {
	now := l.now().UTC()
	counts := make(map[string]int64, 2)

	burst, err := l.store.IncrementWithTTL(ctx, constants.CacheKeyPrefixBurst+userID, l.burstWindow)
	if err != nil {
		return l.handleStoreError(ctx, err, "burst")
	}
	counts["burst"] = burst

	day := now.Format("2006-01-02")
	daily, err := l.store.IncrementWithTTL(ctx, constants.CacheKeyPrefixDaily+userID+":"+day, untilNextUTCMidnight(now))
	if err != nil {
		return l.handleStoreError(ctx, err, "daily")
	}
	counts["daily"] = daily

	exceeded := burst > l.burstCap || daily > l.dailyCap

	outcome := "allowed"
	if exceeded {
		outcome = "exceeded"
	}
	metrics.FatigueChecksTotal.WithLabelValues(outcome).Inc()

	return Result{Exceeded: exceeded, Counts: counts}, nil
}

// IncrementCategory bumps a per-user-per-day counter for a rule-defined
// category, keyed distinctly from the general caps, using the same atomic
// increment-with-expiry primitive. Returns the post-increment count.
func (l *Limiter) IncrementCategory(ctx context.Context, userID, category string) (int64, error) {
	now := l.now().UTC()
	day := now.Format("2006-01-02")
	key := constants.CacheKeyPrefixCat + category + ":" + userID + ":" + day
	return l.store.IncrementWithTTL(ctx, key, untilNextUTCMidnight(now))
}

func (l *Limiter) handleStoreError(ctx context.Context, err error, window string) (Result, error) {
	metrics.FatigueChecksTotal.WithLabelValues("error").Inc()
	metrics.FallbackUsageTotal.WithLabelValues("fatigue", "allow_on_error", window).Inc()
	l.logger.WarnwCtx(ctx, "Counter store error during fatigue check, allowing event (fallback: allow)",
		"window", window,
		"error", err,
	)
	return Result{Degraded: true}, nil
}

func untilNextUTCMidnight(now time.Time) time.Duration {
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	return next.Sub(now)
}
