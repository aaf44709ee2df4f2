package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/dedup"
	"triage/internal/fatigue"
	"triage/internal/fingerprint"
	"triage/internal/logger"
	"triage/internal/rules"
	"triage/pkg/metrics"
	"triage/pkg/models"
	"triage/pkg/retry"
	"triage/pkg/tracing"
)

type DuplicateDetector interface {
	Check(ctx context.Context, event models.NotificationEvent, fingerprint string) (dedup.Result, error)
}

type FatigueLimiter interface {
	Check(ctx context.Context, userID string) (fatigue.Result, error)
}

type RuleEvaluator interface {
	Evaluate(ctx context.Context, event models.NotificationEvent) rules.Decision
}

// DeferralSink persists events classified LATER for a later re-evaluation.
type DeferralSink interface {
	Create(ctx context.Context, event models.NotificationEvent, scheduledFor time.Time) error
}

// Service runs the decision pipeline: validation, fingerprinting, duplicate
// suppression, fatigue limiting, the critical priority override, then rule
// evaluation. Stages run in that fixed order and the first suppressing or
// forcing stage wins. Every completed run writes exactly one audit record;
// a validation failure writes none.
type Service struct {
	fingerprinter *fingerprint.Fingerprinter
	detector      DuplicateDetector
	limiter       FatigueLimiter
	rules         RuleEvaluator
	audit         AuditRepository
	deferrals     DeferralSink
	deferInterval time.Duration
	auditPolicy   retry.Policy
	logger        logger.Logger
	now           func() time.Time
}

func NewService(
	fingerprinter *fingerprint.Fingerprinter,
	detector DuplicateDetector,
	limiter FatigueLimiter,
	evaluator RuleEvaluator,
	audit AuditRepository,
	deferrals DeferralSink,
	cfg config.DecisionConfig,
	log logger.Logger,
) *Service {
	deferInterval := constants.DefaultDeferInterval
	if cfg.DeferIntervalSeconds > 0 {
		deferInterval = time.Duration(cfg.DeferIntervalSeconds) * time.Second
	}

	return &Service{
		fingerprinter: fingerprinter,
		detector:      detector,
		limiter:       limiter,
		rules:         evaluator,
		audit:         audit,
		deferrals:     deferrals,
		deferInterval: deferInterval,
		auditPolicy: retry.Policy{
			MaxAttempts:     3,
			InitialInterval: 100 * time.Millisecond,
			MaxInterval:     1 * time.Second,
			Multiplier:      2.0,
		},
		logger: log,
		now:    time.Now,
	}
}

// WithClock substitutes the time source. Used by tests.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// verdict carries a terminal pipeline outcome into finalize.
type verdict struct {
	classification models.Classification
	explanation    string
	duplicateKind  string
	fatigueCounts  map[string]int64
}

// Submit classifies a freshly ingested event. A LATER outcome additionally
// persists a deferred entry due after the configured interval; deferred
// re-evaluations go through Decide instead so they reschedule their existing
// entry rather than create a new one.
func (s *Service) Submit(ctx context.Context, event models.NotificationEvent) (Outcome, error) {
	outcome, err := s.Decide(ctx, event)
	if err != nil {
		return Outcome{}, err
	}

	if outcome.Classification == models.ClassificationLater {
		scheduledFor := s.now().UTC().Add(s.deferInterval)
		if err := s.deferrals.Create(ctx, event, scheduledFor); err != nil {
			// The decision stands; a lost deferral is recoverable by resending,
			// a blocked pipeline is not.
			metrics.FallbackUsageTotal.WithLabelValues("decision", "allow_on_error", "deferral_create").Inc()
			s.logger.ErrorwCtx(ctx, "Failed to persist deferred notification",
				"event_id", event.ID,
				"user_id", event.UserID,
				"scheduled_for", scheduledFor,
				"error", err,
			)
		}
	}

	return outcome, nil
}

// Decide runs the pipeline and writes the audit record for the terminal
// stage. It never mutates deferred state.
func (s *Service) Decide(ctx context.Context, event models.NotificationEvent) (Outcome, error) {
	ctx, span := tracing.GetTracer("decision-service").Start(ctx, "decision.decide")
	defer span.End()

	start := s.now()

	if err := event.Validate(); err != nil {
		return Outcome{}, err
	}

	fp, err := s.fingerprinter.Fingerprint(event)
	if err != nil {
		return Outcome{}, err
	}

	var degraded []string

	dup, err := s.detector.Check(ctx, event, fp)
	if err != nil {
		return Outcome{}, err
	}
	if dup.Degraded {
		degraded = append(degraded, "dedup")
	}

	switch dup.Kind {
	case dedup.KindExact:
		return s.finalize(ctx, event, start, degraded, verdict{
			classification: models.ClassificationNever,
			explanation:    "Exact duplicate within configured window.",
			duplicateKind:  string(dup.Kind),
		})
	case dedup.KindNear:
		return s.finalize(ctx, event, start, degraded, verdict{
			classification: models.ClassificationNever,
			explanation:    "Near-duplicate detected (similar title/content).",
			duplicateKind:  string(dup.Kind),
		})
	}

	fat, err := s.limiter.Check(ctx, event.UserID)
	if err != nil {
		return Outcome{}, err
	}
	if fat.Degraded {
		degraded = append(degraded, "fatigue")
	}

	if fat.Exceeded {
		return s.finalize(ctx, event, start, degraded, verdict{
			classification: models.ClassificationNever,
			explanation:    "Rate limit exceeded (max notifications per interval).",
			fatigueCounts:  fat.Counts,
		})
	}

	// The critical hint outranks every configured rule, quiet hours included.
	if event.IsCritical() {
		return s.finalize(ctx, event, start, degraded, verdict{
			classification: models.ClassificationNow,
			explanation:    "Critical priority hint - forced immediate delivery.",
			fatigueCounts:  fat.Counts,
		})
	}

	if decision := s.rules.Evaluate(ctx, event); decision.Matched() {
		return s.finalize(ctx, event, start, degraded, verdict{
			classification: models.Classification(decision.Action),
			explanation:    "Rule triggered: " + decision.Description,
			fatigueCounts:  fat.Counts,
		})
	}

	return s.finalize(ctx, event, start, degraded, verdict{
		classification: models.ClassificationNow,
		explanation:    "No rule matched - default to immediate delivery.",
		fatigueCounts:  fat.Counts,
	})
}

func (s *Service) finalize(ctx context.Context, event models.NotificationEvent, start time.Time, degraded []string, v verdict) (Outcome, error) {
	explanation := v.explanation
	if len(degraded) > 0 {
		explanation = fmt.Sprintf("%s [degraded: %s unavailable]", explanation, strings.Join(degraded, ", "))
	}

	record := Record{
		ID:              uuid.New().String(),
		EventID:         event.ID,
		UserID:          event.UserID,
		Classification:  v.classification,
		Explanation:     explanation,
		DuplicateKind:   v.duplicateKind,
		FatigueSnapshot: v.fatigueCounts,
		Timestamp:       s.now().UTC(),
	}
	s.writeAudit(ctx, record)

	metrics.DecisionsTotal.WithLabelValues(string(v.classification)).Inc()
	metrics.ObserveDecisionDuration(s.now().Sub(start), string(v.classification))

	s.logger.InfowCtx(ctx, "Decision produced",
		"event_id", event.ID,
		"user_id", event.UserID,
		"classification", v.classification,
		"explanation", explanation,
	)

	return Outcome{Classification: v.classification, Explanation: explanation}, nil
}

// writeAudit persists the record with a short retry. A persistent sink
// failure is logged and counted but never blocks the decision.
func (s *Service) writeAudit(ctx context.Context, record Record) {
	err := retry.Retry(ctx, s.auditPolicy, func() error {
		return s.audit.Insert(ctx, record)
	})
	if err != nil {
		metrics.AuditWritesTotal.WithLabelValues("failure").Inc()
		s.logger.ErrorwCtx(ctx, "Failed to write decision audit record",
			"record_id", record.ID,
			"event_id", record.EventID,
			"error", err,
		)
		return
	}
	metrics.AuditWritesTotal.WithLabelValues("success").Inc()
}

// RecentDecisions returns the newest audit records, clamped to the
// configured maximum page size.
func (s *Service) RecentDecisions(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = constants.DefaultRecentLimit
	}
	if limit > constants.MaxRecentLimit {
		limit = constants.MaxRecentLimit
	}
	return s.audit.Recent(ctx, limit)
}
