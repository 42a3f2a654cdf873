package api

import (
	"net/http"
	"sync"
	"time"

	"github.com/saveenergy/speedgauge/internal/config"
)

// RateLimiter is a per-client token bucket holding up to perMinute tokens
// and refilling continuously. It guards the session control endpoints,
// which start real measurements.
type RateLimiter struct {
	perMinute float64
	resolver  *ClientIPResolver
	now       func() time.Time

	mu          sync.Mutex
	buckets     map[string]*bucket
	lastCleanup time.Time
	idleTTL     time.Duration
}

type bucket struct {
	tokens float64
	seen   time.Time
}

func NewRateLimiter(cfg *config.Config) *RateLimiter {
	return &RateLimiter{
		perMinute:   float64(cfg.RateLimitPerIP),
		resolver:    NewClientIPResolver(cfg),
		now:         time.Now,
		buckets:     make(map[string]*bucket),
		lastCleanup: time.Now(),
		idleTTL:     10 * time.Minute,
	}
}

func (rl *RateLimiter) Allow(ip string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	if now.Sub(rl.lastCleanup) >= rl.idleTTL {
		for key, b := range rl.buckets {
			if now.Sub(b.seen) >= rl.idleTTL {
				delete(rl.buckets, key)
			}
		}
		rl.lastCleanup = now
	}

	b, ok := rl.buckets[ip]
	if !ok {
		b = &bucket{tokens: rl.perMinute, seen: now}
		rl.buckets[ip] = b
	}
	b.tokens += now.Sub(b.seen).Minutes() * rl.perMinute
	if b.tokens > rl.perMinute {
		b.tokens = rl.perMinute
	}
	b.seen = now

	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

func (rl *RateLimiter) ClientIP(r *http.Request) string {
	return rl.resolver.FromRequest(r)
}

// applyRateLimit wraps a handler with rate limit checking.
func applyRateLimit(limiter *RateLimiter, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !limiter.Allow(limiter.ClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			respondJSON(w, map[string]string{"error": "rate limit exceeded"}, http.StatusTooManyRequests)
			return
		}
		next(w, r)
	}
}
