package ratelimit

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"triage/pkg/metrics"
)

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

type clientLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// pool keeps one token bucket per client IP and evicts buckets that
// have been idle longer than MaxAge.
type pool struct {
	mu      sync.Mutex
	clients map[string]*clientLimiter
	rps     float64
	burst   int
	maxAge  time.Duration
}

func newPool(config RateLimitConfig) *pool {
	return &pool{
		clients: make(map[string]*clientLimiter),
		rps:     config.RPS,
		burst:   config.Burst,
		maxAge:  config.MaxAge,
	}
}

func (p *pool) get(ip string) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	client, ok := p.clients[ip]
	if !ok {
		client = &clientLimiter{limiter: rate.NewLimiter(rate.Limit(p.rps), p.burst)}
		p.clients[ip] = client
	}
	client.lastSeen = time.Now()
	return client.limiter
}

func (p *pool) evictIdle() {
	p.mu.Lock()
	defer p.mu.Unlock()

	cutoff := time.Now().Add(-p.maxAge)
	for ip, client := range p.clients {
		if client.lastSeen.Before(cutoff) {
			delete(p.clients, ip)
		}
	}
}

func RateLimitMiddleware(config RateLimitConfig) gin.HandlerFunc {
	limiters := newPool(config)

	go func() {
		ticker := time.NewTicker(config.CleanupInterval)
		defer ticker.Stop()
		for range ticker.C {
			limiters.evictIdle()
		}
	}()

	return func(c *gin.Context) {
		clientIP := c.ClientIP()
		if clientIP == "" {
			clientIP = c.RemoteIP()
		}

		limiter := limiters.get(clientIP)

		c.Header("X-RateLimit-Limit", strconv.Itoa(int(config.RPS)))

		if !limiter.Allow() {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("X-RateLimit-Remaining", "0")
			c.Header("Retry-After", "1")
			c.JSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			c.Abort()
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()

		remaining := limiter.Burst() - int(limiter.Tokens())
		if remaining < 0 {
			remaining = 0
		}
		c.Header("X-RateLimit-Remaining", strconv.Itoa(remaining))

		c.Next()
	}
}
