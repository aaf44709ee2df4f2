package dedup

import (
	"context"
	"time"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	"triage/pkg/errors"
	"triage/pkg/metrics"
	"triage/pkg/models"
	"triage/pkg/tracing"
)

// Detector performs exact and near duplicate suppression against a shared
// recency store.
type Detector struct {
	store         Store
	exactWindow   time.Duration
	nearWindow    time.Duration
	nearThreshold float64
	onStoreError  string
	logger        logger.Logger
	now           func() time.Time
}

func NewDetector(store Store, cfg config.DedupConfig, log logger.Logger) *Detector {
	exactWindow := constants.DefaultExactDedupWindow
	if cfg.ExactWindowSeconds > 0 {
		exactWindow = time.Duration(cfg.ExactWindowSeconds) * time.Second
	}

	nearWindow := constants.DefaultNearDedupWindow
	if cfg.NearWindowSeconds > 0 {
		nearWindow = time.Duration(cfg.NearWindowSeconds) * time.Second
	}

	nearThreshold := constants.DefaultNearDedupMinScore
	if cfg.NearThreshold > 0 {
		nearThreshold = cfg.NearThreshold
	}

	return &Detector{
		store:         store,
		exactWindow:   exactWindow,
		nearWindow:    nearWindow,
		nearThreshold: nearThreshold,
		onStoreError:  cfg.OnStoreError,
		logger:        log,
		now:           time.Now,
	}
}

// WithClock substitutes the time source. Used by tests.
func (d *Detector) WithClock(now func() time.Time) *Detector {
	d.now = now
	return d
}

// Check reports whether the event is a duplicate of a recent sighting.
// A non-duplicate call records the event's fingerprint and title tokens for
// future comparisons. A repeat sighting does not re-extend the exact TTL:
// repeated sends cannot keep a fingerprint alive past its window.
func (d *Detector) Check(ctx context.Context, event models.NotificationEvent, fp string) (Result, error) {
	ctx, span := tracing.GetTracer("decision-service").Start(ctx, "dedup.check")
	defer span.End()

	start := d.now()

	firstSight, err := d.store.SetNX(ctx, constants.CacheKeyPrefixDedup+fp, start.Unix(), d.exactWindow)
	if err != nil {
		return d.handleStoreError(ctx, err, "exact")
	}

	if !firstSight {
		d.recordMetrics(start, KindExact)
		return Result{Kind: KindExact}, nil
	}

	tokens := Tokenize(event.Title)
	since := start.Add(-d.nearWindow)

	entries, err := d.store.RecentEntries(ctx, event.UserID, since)
	if err != nil {
		return d.handleStoreError(ctx, err, "near")
	}

	for _, entry := range entries {
		score := Jaccard(tokens, entry.Tokens)
		if score >= d.nearThreshold {
			d.logger.DebugwCtx(ctx, "Near-duplicate detected",
				"user_id", event.UserID,
				"fingerprint", fp,
				"matched_fingerprint", entry.Fingerprint,
				"similarity", score,
			)
			d.recordMetrics(start, KindNear)
			return Result{Kind: KindNear}, nil
		}
	}

	entry := RecentEntry{
		Fingerprint: fp,
		Tokens:      tokens,
		Timestamp:   start,
	}
	if err := d.store.AddRecent(ctx, event.UserID, entry, d.nearWindow); err != nil {
		// Recording failure only weakens future near-duplicate checks; the
		// current decision proceeds.
		d.logger.WarnwCtx(ctx, "Failed to record recent sighting",
			"user_id", event.UserID,
			"error", err,
		)
	}

	d.recordMetrics(start, KindNone)
	return Result{Kind: KindNone}, nil
}

func (d *Detector) handleStoreError(ctx context.Context, err error, stage string) (Result, error) {
	metrics.DedupChecksTotal.WithLabelValues("error").Inc()

	if d.onStoreError == constants.FallbackDeny {
		metrics.FallbackUsageTotal.WithLabelValues("dedup", "deny_on_error", stage).Inc()
		return Result{}, errors.ErrStoreUnavailable.WithCause(err)
	}

	metrics.FallbackUsageTotal.WithLabelValues("dedup", "allow_on_error", stage).Inc()
	d.logger.WarnwCtx(ctx, "Recency store error during duplicate check, allowing event (fallback: allow)",
		"stage", stage,
		"error", err,
	)
	return Result{Kind: KindNone, Degraded: true}, nil
}

func (d *Detector) recordMetrics(start time.Time, kind Kind) {
	result := "none"
	if kind != KindNone {
		result = string(kind)
	}
	metrics.DedupChecksTotal.WithLabelValues(result).Inc()
	metrics.ObserveDedupCheckDuration(d.now().Sub(start), result)
}
