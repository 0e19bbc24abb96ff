package gateway

import (
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter enforces per-key (user/IP) request rate limits using token bucket.
type RateLimiter struct {
	limiters sync.Map   // key → *limiterEntry
	r        rate.Limit // refill rate (requests per second)
	burst    int        // max burst size
	mu       sync.RWMutex
	stop     chan struct{}
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter creates a rate limiter.
// rpm is requests per minute, burst is the max burst allowed.
// If rpm <= 0, the rate limiter is effectively disabled (always allows).
func NewRateLimiter(rpm, burst int) *RateLimiter {
	r, burst := limitFor(rpm, burst)
	rl := &RateLimiter{r: r, burst: burst, stop: make(chan struct{})}

	// Periodic cleanup of stale entries (every 5 minutes)
	go rl.cleanupLoop()

	return rl
}

// Allow checks if a request from the given key is allowed.
// Returns true if allowed, false if rate limited.
func (rl *RateLimiter) Allow(key string) bool {
	rl.mu.RLock()
	r, burst := rl.r, rl.burst
	rl.mu.RUnlock()
	if r == 0 {
		return true // disabled
	}
	entry := rl.getOrCreate(key, r, burst)
	if !entry.limiter.Allow() {
		slog.Warn("security.rate_limited", "key", key)
		return false
	}
	entry.lastSeen = time.Now()
	return true
}

// Enabled returns true if the rate limiter is active.
func (rl *RateLimiter) Enabled() bool {
	rl.mu.RLock()
	defer rl.mu.RUnlock()
	return rl.r > 0
}

// SetLimit changes the limits on a live limiter (config hot reload).
// Existing buckets are dropped and refill from full.
func (rl *RateLimiter) SetLimit(rpm, burst int) {
	r, burst := limitFor(rpm, burst)
	rl.mu.Lock()
	rl.r, rl.burst = r, burst
	rl.mu.Unlock()
	rl.limiters.Range(func(key, _ any) bool {
		rl.limiters.Delete(key)
		return true
	})
	slog.Info("rate limit updated", "rpm", rpm, "burst", burst)
}

// Stop ends the cleanup loop.
func (rl *RateLimiter) Stop() {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	select {
	case <-rl.stop:
	default:
		close(rl.stop)
	}
}

func limitFor(rpm, burst int) (rate.Limit, int) {
	if burst <= 0 {
		burst = 5
	}
	r := rate.Limit(0)
	if rpm > 0 {
		r = rate.Limit(float64(rpm) / 60.0)
	}
	return r, burst
}

func (rl *RateLimiter) getOrCreate(key string, r rate.Limit, burst int) *limiterEntry {
	if v, ok := rl.limiters.Load(key); ok {
		return v.(*limiterEntry)
	}
	entry := &limiterEntry{
		limiter:  rate.NewLimiter(r, burst),
		lastSeen: time.Now(),
	}
	actual, _ := rl.limiters.LoadOrStore(key, entry)
	return actual.(*limiterEntry)
}

func (rl *RateLimiter) cleanupLoop() {
	ticker := time.NewTicker(5 * time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			rl.cleanup()
		case <-rl.stop:
			return
		}
	}
}

func (rl *RateLimiter) cleanup() {
	cutoff := time.Now().Add(-10 * time.Minute)
	rl.limiters.Range(func(key, value any) bool {
		entry := value.(*limiterEntry)
		if entry.lastSeen.Before(cutoff) {
			rl.limiters.Delete(key)
		}
		return true
	})
}
