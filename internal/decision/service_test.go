package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/config"
	"triage/internal/dedup"
	"triage/internal/fatigue"
	"triage/internal/fingerprint"
	"triage/internal/logger"
	"triage/internal/rules"
	"triage/pkg/models"
)

type fakeDetector struct {
	result dedup.Result
	err    error
	calls  int
}

func (d *fakeDetector) Check(ctx context.Context, event models.NotificationEvent, fp string) (dedup.Result, error) {
	d.calls++
	return d.result, d.err
}

type fakeLimiter struct {
	result fatigue.Result
	err    error
	calls  int
}

func (l *fakeLimiter) Check(ctx context.Context, userID string) (fatigue.Result, error) {
	l.calls++
	return l.result, l.err
}

type fakeRules struct {
	decision rules.Decision
	calls    int
}

func (r *fakeRules) Evaluate(ctx context.Context, event models.NotificationEvent) rules.Decision {
	r.calls++
	return r.decision
}

type fakeAudit struct {
	records []Record
	err     error
}

func (a *fakeAudit) Insert(ctx context.Context, record Record) error {
	if a.err != nil {
		return a.err
	}
	a.records = append(a.records, record)
	return nil
}

func (a *fakeAudit) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit > len(a.records) {
		limit = len(a.records)
	}
	out := make([]Record, limit)
	copy(out, a.records[len(a.records)-limit:])
	return out, nil
}

type fakeDeferrals struct {
	created []time.Time
	err     error
}

func (d *fakeDeferrals) Create(ctx context.Context, event models.NotificationEvent, scheduledFor time.Time) error {
	if d.err != nil {
		return d.err
	}
	d.created = append(d.created, scheduledFor)
	return nil
}

type pipeline struct {
	service   *Service
	detector  *fakeDetector
	limiter   *fakeLimiter
	rules     *fakeRules
	audit     *fakeAudit
	deferrals *fakeDeferrals
	now       time.Time
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()

	p := &pipeline{
		detector:  &fakeDetector{},
		limiter:   &fakeLimiter{result: fatigue.Result{Counts: map[string]int64{"burst": 1, "daily": 1}}},
		rules:     &fakeRules{},
		audit:     &fakeAudit{},
		deferrals: &fakeDeferrals{},
		now:       time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}

	p.service = NewService(
		fingerprint.New("sha256"),
		p.detector,
		p.limiter,
		p.rules,
		p.audit,
		p.deferrals,
		config.DecisionConfig{},
		logger.NopLogger(),
	).WithClock(func() time.Time { return p.now })

	return p
}

func decisionEvent() models.NotificationEvent {
	return *models.NewNotificationEventBuilder().
		WithID("evt-1").
		WithUserID("user-1").
		WithEventType("security").
		WithTitle("Login from new device").
		WithChannel("push").
		WithTimestamp(time.Date(2025, 6, 1, 11, 59, 0, 0, time.UTC)).
		Build()
}

func TestService_ValidationFailureWritesNoAudit(t *testing.T) {
	p := newPipeline(t)

	event := decisionEvent()
	event.UserID = ""

	_, err := p.service.Decide(context.Background(), event)
	require.Error(t, err)

	var vErr *models.ValidationError
	assert.ErrorAs(t, err, &vErr)
	assert.Empty(t, p.audit.records, "rejected events leave no audit trace")
	assert.Zero(t, p.detector.calls, "no stage runs after validation fails")
}

func TestService_ExactDuplicateSuppressed(t *testing.T) {
	p := newPipeline(t)
	p.detector.result = dedup.Result{Kind: dedup.KindExact}

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNever, outcome.Classification)
	assert.Equal(t, "Exact duplicate within configured window.", outcome.Explanation)
	assert.Zero(t, p.limiter.calls, "suppression short-circuits later stages")

	require.Len(t, p.audit.records, 1)
	assert.Equal(t, "exact", p.audit.records[0].DuplicateKind)
}

func TestService_NearDuplicateSuppressed(t *testing.T) {
	p := newPipeline(t)
	p.detector.result = dedup.Result{Kind: dedup.KindNear}

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNever, outcome.Classification)
	assert.Equal(t, "Near-duplicate detected (similar title/content).", outcome.Explanation)
	require.Len(t, p.audit.records, 1)
	assert.Equal(t, "near", p.audit.records[0].DuplicateKind)
}

func TestService_FatigueExceededSuppressed(t *testing.T) {
	p := newPipeline(t)
	p.limiter.result = fatigue.Result{
		Exceeded: true,
		Counts:   map[string]int64{"burst": 4, "daily": 12},
	}

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNever, outcome.Classification)
	assert.Equal(t, "Rate limit exceeded (max notifications per interval).", outcome.Explanation)
	assert.Zero(t, p.rules.calls)

	require.Len(t, p.audit.records, 1)
	assert.Equal(t, map[string]int64{"burst": 4, "daily": 12}, p.audit.records[0].FatigueSnapshot)
}

func TestService_CriticalHintOutranksRules(t *testing.T) {
	p := newPipeline(t)
	p.rules.decision = rules.Decision{Action: rules.ActionNever, Description: "should never fire"}

	event := decisionEvent()
	event.PriorityHint = "CRITICAL"

	outcome, err := p.service.Decide(context.Background(), event)
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNow, outcome.Classification)
	assert.Equal(t, "Critical priority hint - forced immediate delivery.", outcome.Explanation)
	assert.Zero(t, p.rules.calls, "rules are never consulted for critical events")
}

func TestService_CriticalDoesNotBypassDedup(t *testing.T) {
	p := newPipeline(t)
	p.detector.result = dedup.Result{Kind: dedup.KindExact}

	event := decisionEvent()
	event.PriorityHint = "critical"

	outcome, err := p.service.Decide(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationNever, outcome.Classification)
}

func TestService_RuleOutcomeApplied(t *testing.T) {
	p := newPipeline(t)
	p.rules.decision = rules.Decision{
		Action:      rules.ActionLater,
		Description: "Quiet hours active (22:00-08:00) - deferring delivery.",
		RuleKey:     "quiet_hours",
	}

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationLater, outcome.Classification)
	assert.Equal(t, "Rule triggered: Quiet hours active (22:00-08:00) - deferring delivery.", outcome.Explanation)
}

func TestService_DefaultIsNow(t *testing.T) {
	p := newPipeline(t)

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNow, outcome.Classification)
	assert.Equal(t, "No rule matched - default to immediate delivery.", outcome.Explanation)
	require.Len(t, p.audit.records, 1)
}

func TestService_SubmitCreatesDeferralOnLater(t *testing.T) {
	p := newPipeline(t)
	p.rules.decision = rules.Decision{Action: rules.ActionLater, Description: "quiet hours"}

	outcome, err := p.service.Submit(context.Background(), decisionEvent())
	require.NoError(t, err)
	require.Equal(t, models.ClassificationLater, outcome.Classification)

	require.Len(t, p.deferrals.created, 1)
	assert.Equal(t, p.now.Add(5*time.Minute), p.deferrals.created[0])
}

func TestService_DecideNeverCreatesDeferral(t *testing.T) {
	p := newPipeline(t)
	p.rules.decision = rules.Decision{Action: rules.ActionLater, Description: "quiet hours"}

	_, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)
	assert.Empty(t, p.deferrals.created, "re-evaluations must not spawn new deferred rows")
}

func TestService_SubmitSurvivesDeferralFailure(t *testing.T) {
	p := newPipeline(t)
	p.rules.decision = rules.Decision{Action: rules.ActionLater, Description: "quiet hours"}
	p.deferrals.err = errors.New("connection refused")

	outcome, err := p.service.Submit(context.Background(), decisionEvent())
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationLater, outcome.Classification)
}

func TestService_DegradedStagesAnnotated(t *testing.T) {
	p := newPipeline(t)
	p.detector.result = dedup.Result{Degraded: true}
	p.limiter.result = fatigue.Result{Degraded: true}

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)

	assert.Equal(t, models.ClassificationNow, outcome.Classification)
	assert.Equal(t, "No rule matched - default to immediate delivery. [degraded: dedup, fatigue unavailable]", outcome.Explanation)
	require.Len(t, p.audit.records, 1)
	assert.Contains(t, p.audit.records[0].Explanation, "degraded")
}

func TestService_AuditFailureDoesNotFailDecision(t *testing.T) {
	p := newPipeline(t)
	p.audit.err = errors.New("mongo down")

	outcome, err := p.service.Decide(context.Background(), decisionEvent())
	require.NoError(t, err)
	assert.Equal(t, models.ClassificationNow, outcome.Classification)
}

func TestService_OneAuditRecordPerRun(t *testing.T) {
	p := newPipeline(t)

	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := p.service.Decide(ctx, decisionEvent())
		require.NoError(t, err)
	}

	assert.Len(t, p.audit.records, 3)
	for _, record := range p.audit.records {
		assert.Equal(t, "evt-1", record.EventID)
		assert.Equal(t, "user-1", record.UserID)
		assert.NotEmpty(t, record.ID)
	}
}

func TestService_RecentDecisionsClampsLimit(t *testing.T) {
	p := newPipeline(t)

	for i := 0; i < 5; i++ {
		_, err := p.service.Decide(context.Background(), decisionEvent())
		require.NoError(t, err)
	}

	records, err := p.service.RecentDecisions(context.Background(), 0)
	require.NoError(t, err)
	assert.Len(t, records, 5, "a non-positive limit falls back to the default")

	records, err = p.service.RecentDecisions(context.Background(), 2)
	require.NoError(t, err)
	assert.Len(t, records, 2)
}
