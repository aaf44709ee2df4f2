package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"

	"triage/internal/config"
	"triage/pkg/circuitbreaker"
)

// CircuitBreakerStore shields the decision pipeline from a flapping Redis:
// once the breaker opens, checks fail fast and the detector's configured
// fallback takes over.
type CircuitBreakerStore struct {
	store Store
	cb    *circuitbreaker.Wrapper
}

func NewCircuitBreakerStore(store Store, cfg config.CircuitBreakerConfig) *CircuitBreakerStore {
	if !cfg.Enabled {
		return &CircuitBreakerStore{store: store}
	}

	cbConfig := circuitbreaker.DefaultConfig("redis-dedup")
	if cfg.MaxRequests > 0 {
		cbConfig.MaxRequests = cfg.MaxRequests
	}
	if cfg.Interval > 0 {
		cbConfig.Interval = cfg.Interval
	}
	if cfg.Timeout > 0 {
		cbConfig.Timeout = cfg.Timeout
	}
	if cfg.FailureRatio > 0 && cfg.MinRequests > 0 {
		cbConfig.ReadyToTrip = func(counts gobreaker.Counts) bool {
			if counts.Requests < uint32(cfg.MinRequests) {
				return false
			}
			failureRatio := float64(counts.TotalFailures) / float64(counts.Requests)
			return failureRatio >= cfg.FailureRatio
		}
	}

	return &CircuitBreakerStore{
		store: store,
		cb:    circuitbreaker.NewWrapper(cbConfig),
	}
}

func (s *CircuitBreakerStore) SetNX(ctx context.Context, key string, value interface{}, ttl time.Duration) (bool, error) {
	if s.cb == nil {
		return s.store.SetNX(ctx, key, value, ttl)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.SetNX(ctx, key, value, ttl)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		if s.cb.IsOpen() {
			return false, fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return false, err
	}

	success, ok := result.(bool)
	if !ok {
		return false, fmt.Errorf("store returned invalid result type")
	}

	return success, nil
}

func (s *CircuitBreakerStore) AddRecent(ctx context.Context, userID string, entry RecentEntry, window time.Duration) error {
	if s.cb == nil {
		return s.store.AddRecent(ctx, userID, entry, window)
	}

	_, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return nil, s.store.AddRecent(ctx, userID, entry, window)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil && s.cb.IsOpen() {
		return fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
	}
	return err
}

func (s *CircuitBreakerStore) RecentEntries(ctx context.Context, userID string, since time.Time) ([]RecentEntry, error) {
	if s.cb == nil {
		return s.store.RecentEntries(ctx, userID, since)
	}

	result, err := s.cb.ExecuteWithContext(ctx, func() (interface{}, error) {
		return s.store.RecentEntries(ctx, userID, since)
	})

	s.cb.RecordRequest(err == nil)

	if err != nil {
		if s.cb.IsOpen() {
			return nil, fmt.Errorf("circuit breaker is open for redis-dedup: %w", err)
		}
		return nil, err
	}

	entries, ok := result.([]RecentEntry)
	if !ok {
		return nil, fmt.Errorf("store returned invalid result type")
	}

	return entries, nil
}
