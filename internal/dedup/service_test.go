package dedup

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"triage/internal/config"
	"triage/internal/constants"
	"triage/internal/logger"
	triageerrors "triage/pkg/errors"
	"triage/pkg/models"
)

type fakeStore struct {
	now     func() time.Time
	keys    map[string]time.Time
	entries map[string][]RecentEntry
	err     error
}

func newFakeStore(now func() time.Time) *fakeStore {
	return &fakeStore{
		now:     now,
		keys:    make(map[string]time.Time),
		entries: make(map[string][]RecentEntry),
	}
}

func (s *fakeStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if s.err != nil {
		return false, s.err
	}
	if expiry, ok := s.keys[key]; ok && s.now().Before(expiry) {
		return false, nil
	}
	s.keys[key] = s.now().Add(ttl)
	return true, nil
}

func (s *fakeStore) AddRecent(ctx context.Context, userID string, entry RecentEntry, window time.Duration) error {
	if s.err != nil {
		return s.err
	}
	s.entries[userID] = append(s.entries[userID], entry)
	return nil
}

func (s *fakeStore) RecentEntries(ctx context.Context, userID string, since time.Time) ([]RecentEntry, error) {
	if s.err != nil {
		return nil, s.err
	}
	var out []RecentEntry
	for _, entry := range s.entries[userID] {
		if !entry.Timestamp.Before(since) {
			out = append(out, entry)
		}
	}
	return out, nil
}

func dedupEvent(userID, title string) models.NotificationEvent {
	return models.NotificationEvent{
		ID:        "evt-1",
		UserID:    userID,
		EventType: "security",
		Title:     title,
		Channel:   "push",
		Timestamp: time.Now().UTC(),
	}
}

func newTestDetector(t *testing.T, store Store, clock func() time.Time, cfg config.DedupConfig) *Detector {
	t.Helper()
	return NewDetector(store, cfg, logger.NopLogger()).WithClock(clock)
}

func TestDetector_FirstSightPasses(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	store := newFakeStore(func() time.Time { return now })
	d := newTestDetector(t, store, func() time.Time { return now }, config.DedupConfig{})

	result, err := d.Check(context.Background(), dedupEvent("user-1", "Login from new device"), "fp-1")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate())
	assert.Equal(t, KindNone, result.Kind)
}

func TestDetector_ExactDuplicateWithinWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	_, err := d.Check(context.Background(), dedupEvent("user-1", "Login from new device"), "fp-1")
	require.NoError(t, err)

	now = now.Add(9 * time.Minute)
	result, err := d.Check(context.Background(), dedupEvent("user-1", "Login from new device"), "fp-1")
	require.NoError(t, err)
	assert.Equal(t, KindExact, result.Kind)
}

func TestDetector_RepeatDoesNotExtendWindow(t *testing.T) {
	start := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	now := start
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	ctx := context.Background()
	event := dedupEvent("user-1", "Login from new device")

	_, err := d.Check(ctx, event, "fp-1")
	require.NoError(t, err)

	// Repeated sends inside the window are duplicates but must not keep
	// the fingerprint alive.
	for _, offset := range []time.Duration{5 * time.Minute, 9 * time.Minute} {
		now = start.Add(offset)
		result, err := d.Check(ctx, event, "fp-1")
		require.NoError(t, err)
		assert.Equal(t, KindExact, result.Kind)
	}

	now = start.Add(constants.DefaultExactDedupWindow + time.Second)
	result, err := d.Check(ctx, event, "fp-1")
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind, "fingerprint must expire relative to first sight")
}

func TestDetector_NearDuplicate(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	ctx := context.Background()

	_, err := d.Check(ctx, dedupEvent("user-1", "Your order 123 has shipped today"), "fp-1")
	require.NoError(t, err)

	now = now.Add(time.Minute)
	result, err := d.Check(ctx, dedupEvent("user-1", "Your order 123 has shipped today!"), "fp-2")
	require.NoError(t, err)
	assert.Equal(t, KindNear, result.Kind)
}

func TestDetector_NearDuplicateScopedToUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	ctx := context.Background()

	_, err := d.Check(ctx, dedupEvent("user-1", "Your order 123 has shipped today"), "fp-1")
	require.NoError(t, err)

	result, err := d.Check(ctx, dedupEvent("user-2", "Your order 123 has shipped today"), "fp-2")
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind, "recency is tracked per user")
}

func TestDetector_NearDuplicateOutsideWindow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	ctx := context.Background()

	_, err := d.Check(ctx, dedupEvent("user-1", "Your order 123 has shipped today"), "fp-1")
	require.NoError(t, err)

	now = now.Add(constants.DefaultNearDedupWindow + time.Second)
	result, err := d.Check(ctx, dedupEvent("user-1", "Your order 123 has shipped today"), "fp-2")
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind)
}

func TestDetector_DissimilarTitlesPass(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	ctx := context.Background()

	_, err := d.Check(ctx, dedupEvent("user-1", "Your order has shipped"), "fp-1")
	require.NoError(t, err)

	result, err := d.Check(ctx, dedupEvent("user-1", "Weekly digest is ready"), "fp-2")
	require.NoError(t, err)
	assert.Equal(t, KindNone, result.Kind)
}

// lockedStore is safe for concurrent use, mimicking the atomicity Redis
// gives SetNX.
type lockedStore struct {
	mu      sync.Mutex
	keys    map[string]bool
	entries map[string][]RecentEntry
}

func newLockedStore() *lockedStore {
	return &lockedStore{
		keys:    make(map[string]bool),
		entries: make(map[string][]RecentEntry),
	}
}

func (s *lockedStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keys[key] {
		return false, nil
	}
	s.keys[key] = true
	return true, nil
}

func (s *lockedStore) AddRecent(ctx context.Context, userID string, entry RecentEntry, window time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[userID] = append(s.entries[userID], entry)
	return nil
}

func (s *lockedStore) RecentEntries(ctx context.Context, userID string, since time.Time) ([]RecentEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]RecentEntry, len(s.entries[userID]))
	copy(out, s.entries[userID])
	return out, nil
}

func TestDetector_ConcurrentIdenticalEventsAdmitOne(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	d := newTestDetector(t, newLockedStore(), clock, config.DedupConfig{})

	const callers = 10
	results := make([]Result, callers)
	errs := make([]error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			event := dedupEvent("user-1", "Login from new device")
			results[i], errs[i] = d.Check(context.Background(), event, "fp-1")
		}(i)
	}
	wg.Wait()

	admitted := 0
	for i := 0; i < callers; i++ {
		require.NoError(t, errs[i])
		switch results[i].Kind {
		case KindNone:
			admitted++
		case KindExact:
		default:
			t.Fatalf("unexpected kind %q", results[i].Kind)
		}
	}
	assert.Equal(t, 1, admitted, "exactly one of the racing sends passes as first sight")
}

func TestDetector_StoreErrorFallbackAllow(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	store.err = errors.New("connection refused")
	d := newTestDetector(t, store, clock, config.DedupConfig{})

	result, err := d.Check(context.Background(), dedupEvent("user-1", "Login"), "fp-1")
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate())
	assert.True(t, result.Degraded)
}

func TestDetector_StoreErrorFallbackDeny(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	store := newFakeStore(clock)
	store.err = errors.New("connection refused")
	d := newTestDetector(t, store, clock, config.DedupConfig{OnStoreError: constants.FallbackDeny})

	_, err := d.Check(context.Background(), dedupEvent("user-1", "Login"), "fp-1")
	require.Error(t, err)
	assert.True(t, triageerrors.IsStoreUnavailable(err))
}
