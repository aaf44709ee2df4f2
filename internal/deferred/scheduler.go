package deferred

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/decision"
	"triage/internal/logger"
	"triage/pkg/logging"
	"triage/pkg/metrics"
	"triage/pkg/models"
	"triage/pkg/tracing"
)

// Decider re-runs the decision pipeline for a deferred event.
type Decider interface {
	Decide(ctx context.Context, event models.NotificationEvent) (decision.Outcome, error)
}

// Scheduler sweeps due PENDING notifications and re-evaluates each one:
// NOW delivers, NEVER drops, LATER reschedules with a constant backoff. A
// failed re-evaluation leaves the item PENDING until it has exhausted its
// retry budget, at which point it expires. Items are processed independently
// so one bad snapshot cannot stall the sweep.
type Scheduler struct {
	repo        Repository
	decider     Decider
	schedule    string
	maxRetries  int
	itemTimeout time.Duration
	batchLimit  int
	backoff     time.Duration
	logger      logger.Logger
	now         func() time.Time
}

func NewScheduler(repo Repository, decider Decider, cfg config.SchedulerConfig, decisionCfg config.DecisionConfig, log logger.Logger) *Scheduler {
	schedule := constants.DefaultSweepSchedule
	if cfg.Schedule != "" {
		schedule = cfg.Schedule
	}

	maxRetries := constants.DefaultMaxRetries
	if cfg.MaxRetries > 0 {
		maxRetries = cfg.MaxRetries
	}

	itemTimeout := constants.DefaultItemTimeout
	if cfg.ItemTimeoutSeconds > 0 {
		itemTimeout = time.Duration(cfg.ItemTimeoutSeconds) * time.Second
	}

	batchLimit := constants.DefaultSweepBatchLimit
	if cfg.BatchLimit > 0 {
		batchLimit = cfg.BatchLimit
	}

	backoff := constants.DefaultDeferInterval
	if decisionCfg.DeferIntervalSeconds > 0 {
		backoff = time.Duration(decisionCfg.DeferIntervalSeconds) * time.Second
	}

	return &Scheduler{
		repo:        repo,
		decider:     decider,
		schedule:    schedule,
		maxRetries:  maxRetries,
		itemTimeout: itemTimeout,
		batchLimit:  batchLimit,
		backoff:     backoff,
		logger:      log,
		now:         time.Now,
	}
}

// WithClock substitutes the time source. Used by tests.
func (s *Scheduler) WithClock(now func() time.Time) *Scheduler {
	s.now = now
	return s
}

// Start runs sweeps on the configured cron schedule until the context is
// cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	c := cron.New()

	_, err := c.AddFunc(s.schedule, func() {
		if err := s.Sweep(ctx); err != nil {
			s.logger.ErrorwCtx(ctx, "Deferred sweep failed", "error", err)
		}
	})
	if err != nil {
		return fmt.Errorf("invalid sweep schedule %q: %w", s.schedule, err)
	}

	s.logger.InfowCtx(ctx, "Starting deferred sweep scheduler",
		"schedule", s.schedule,
		"batch_limit", s.batchLimit,
		"max_retries", s.maxRetries,
	)
	c.Start()

	<-ctx.Done()

	stopCtx := c.Stop()
	select {
	case <-stopCtx.Done():
	case <-time.After(constants.ShutdownTimeout):
		s.logger.Warnw("Timed out waiting for running sweep to finish")
	}

	return ctx.Err()
}

// Sweep processes one batch of due items.
func (s *Scheduler) Sweep(ctx context.Context) error {
	ctx, span := tracing.GetTracer("scheduler-service").Start(ctx, "deferred.sweep")
	defer span.End()

	now := s.now().UTC()

	items, err := s.repo.DuePending(ctx, now, s.batchLimit)
	if err != nil {
		return fmt.Errorf("failed to load due deferred notifications: %w", err)
	}

	for _, item := range items {
		s.processItem(ctx, item)
	}

	if pending, err := s.repo.CountPending(ctx); err == nil {
		metrics.SetDeferredPending(int(pending))
	}

	if len(items) > 0 {
		s.logger.InfowCtx(ctx, "Deferred sweep completed", "processed", len(items))
	}

	return nil
}

func (s *Scheduler) processItem(ctx context.Context, item Notification) {
	ctx = logging.WithEventID(ctx, item.Event.ID)

	itemCtx, cancel := context.WithTimeout(ctx, s.itemTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			s.logger.ErrorwCtx(ctx, "Panic during deferred re-evaluation",
				"item_id", item.ID,
				"panic", r,
			)
			s.handleFailure(ctx, item)
		}
	}()

	outcome, err := s.decider.Decide(itemCtx, item.Event)
	if err != nil {
		s.logger.WarnwCtx(ctx, "Deferred re-evaluation failed",
			"item_id", item.ID,
			"event_id", item.Event.ID,
			"retry_count", item.RetryCount,
			"error", err,
		)
		s.handleFailure(ctx, item)
		return
	}

	switch outcome.Classification {
	case models.ClassificationNow:
		s.markTerminal(ctx, item, StatusDelivered, "delivered")
	case models.ClassificationNever:
		s.markTerminal(ctx, item, StatusDropped, "dropped")
	case models.ClassificationLater:
		next := s.now().UTC().Add(s.backoff)
		updated, err := s.repo.Reschedule(ctx, item.ID, next)
		if err != nil {
			s.logger.ErrorwCtx(ctx, "Failed to reschedule deferred notification",
				"item_id", item.ID,
				"error", err,
			)
			return
		}
		if updated {
			metrics.DeferredSweepItemsTotal.WithLabelValues("rescheduled").Inc()
		}
	}
}

// handleFailure leaves a failed item PENDING for the next sweep unless its
// retry budget is spent, in which case it expires.
func (s *Scheduler) handleFailure(ctx context.Context, item Notification) {
	if item.RetryCount < s.maxRetries {
		metrics.DeferredSweepItemsTotal.WithLabelValues("error").Inc()
		return
	}
	s.markTerminal(ctx, item, StatusExpired, "expired")
}

func (s *Scheduler) markTerminal(ctx context.Context, item Notification, status Status, outcome string) {
	updated, err := s.repo.MarkStatus(ctx, item.ID, status)
	if err != nil {
		s.logger.ErrorwCtx(ctx, "Failed to update deferred notification status",
			"item_id", item.ID,
			"status", status,
			"error", err,
		)
		return
	}
	if updated {
		metrics.DeferredSweepItemsTotal.WithLabelValues(outcome).Inc()
	}
}
