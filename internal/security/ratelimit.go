package security

import (
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// RateLimitConfig holds rate limiting configuration.
type RateLimitConfig struct {
	Enabled           bool          `yaml:"enabled"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	BurstSize         int           `yaml:"burst_size"`
	CleanupInterval   time.Duration `yaml:"cleanup_interval"`
}

// RateLimiter enforces per-caller request limits.
type RateLimiter struct {
	config  *RateLimitConfig
	logger  *logrus.Logger
	mu      sync.Mutex
	buckets map[string]*tokenBucket
	done    chan struct{}
}

type tokenBucket struct {
	tokens     float64
	lastRefill time.Time
}

// NewRateLimiter creates a token bucket rate limiter.
func NewRateLimiter(config *RateLimitConfig, logger *logrus.Logger) *RateLimiter {
	if config.RequestsPerMinute <= 0 {
		config.RequestsPerMinute = 60
	}
	if config.BurstSize <= 0 {
		config.BurstSize = config.RequestsPerMinute
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = 5 * time.Minute
	}

	rl := &RateLimiter{
		config:  config,
		logger:  logger,
		buckets: make(map[string]*tokenBucket),
		done:    make(chan struct{}),
	}

	go rl.cleanupLoop()

	return rl
}

// Allow reports whether the caller identified by key may proceed.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	bucket, ok := rl.buckets[key]
	if !ok {
		bucket = &tokenBucket{
			tokens:     float64(rl.config.BurstSize),
			lastRefill: now,
		}
		rl.buckets[key] = bucket
	}

	// Refill based on elapsed time
	elapsed := now.Sub(bucket.lastRefill)
	refillRate := float64(rl.config.RequestsPerMinute) / 60.0
	bucket.tokens += elapsed.Seconds() * refillRate
	if bucket.tokens > float64(rl.config.BurstSize) {
		bucket.tokens = float64(rl.config.BurstSize)
	}
	bucket.lastRefill = now

	if bucket.tokens < 1 {
		return false
	}

	bucket.tokens--
	return true
}

// Middleware applies rate limiting per authenticated caller, falling back
// to client IP for unauthenticated requests.
func (rl *RateLimiter) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !rl.config.Enabled {
				next.ServeHTTP(w, r)
				return
			}

			key := clientIP(r)
			if info, ok := GetAuthInfo(r.Context()); ok {
				key = info.UserID
			}

			if !rl.Allow(key) {
				rl.logger.WithFields(logrus.Fields{
					"key":  key,
					"path": r.URL.Path,
				}).Warn("Rate limit exceeded")
				rl.writeRateLimited(w)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// Stop terminates the background cleanup goroutine.
func (rl *RateLimiter) Stop() {
	close(rl.done)
}

// cleanupLoop drops buckets that have been idle long enough to be full
// again, keeping the map bounded.
func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(rl.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-rl.done:
			return
		case <-ticker.C:
			rl.mu.Lock()
			cutoff := time.Now().Add(-rl.config.CleanupInterval)
			for key, bucket := range rl.buckets {
				if bucket.lastRefill.Before(cutoff) {
					delete(rl.buckets, key)
				}
			}
			rl.mu.Unlock()
		}
	}
}

func (rl *RateLimiter) writeRateLimited(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Retry-After", "60")
	w.WriteHeader(http.StatusTooManyRequests)
	response := fmt.Sprintf(`{"error":{"message":"Rate limit exceeded","type":"rate_limit_error","code":429},"timestamp":%d}`, time.Now().Unix())
	w.Write([]byte(response))
}
