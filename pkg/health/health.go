package health

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
)

type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
)

const pingTimeout = 5 * time.Second

// PingFunc probes one backing store.
type PingFunc func(ctx context.Context) error

type namedCheck struct {
	name string
	ping PingFunc
}

type Health struct {
	Status    Status                 `json:"status"`
	Timestamp time.Time              `json:"timestamp"`
	Checks    map[string]CheckResult `json:"checks"`
}

type CheckResult struct {
	Status    Status  `json:"status"`
	Message   string  `json:"message,omitempty"`
	LatencyMS float64 `json:"latency_ms"`
}

type CheckerRegistry struct {
	checks []namedCheck
}

func NewCheckerRegistry() *CheckerRegistry {
	return &CheckerRegistry{}
}

func (r *CheckerRegistry) Register(name string, ping PingFunc) {
	r.checks = append(r.checks, namedCheck{name: name, ping: ping})
}

// Check probes every registered store. The overall status is unhealthy
// as soon as any single probe fails.
func (r *CheckerRegistry) Check(ctx context.Context) Health {
	results := make(map[string]CheckResult, len(r.checks))
	overall := StatusHealthy

	for _, check := range r.checks {
		pingCtx, cancel := context.WithTimeout(ctx, pingTimeout)
		start := time.Now()
		err := check.ping(pingCtx)
		cancel()

		result := CheckResult{
			Status:    StatusHealthy,
			LatencyMS: float64(time.Since(start).Microseconds()) / 1000.0,
		}
		if err != nil {
			result.Status = StatusUnhealthy
			result.Message = err.Error()
			overall = StatusUnhealthy
		}
		results[check.name] = result
	}

	return Health{
		Status:    overall,
		Timestamp: time.Now(),
		Checks:    results,
	}
}

func PingPostgres(db *sql.DB) PingFunc {
	return func(ctx context.Context) error {
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("postgresql ping failed: %w", err)
		}
		return nil
	}
}

func PingRedis(client *redis.Client) PingFunc {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return fmt.Errorf("redis ping failed: %w", err)
		}
		return nil
	}
}

func PingMongo(client *mongo.Client) PingFunc {
	return func(ctx context.Context) error {
		if err := client.Ping(ctx, nil); err != nil {
			return fmt.Errorf("mongodb ping failed: %w", err)
		}
		return nil
	}
}
