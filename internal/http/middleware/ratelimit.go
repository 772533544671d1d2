package middleware

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"
)

// KeyFunc maps a request to the identity whose bucket it draws from.
type KeyFunc func(*gin.Context) string

// KeyBySessionOrIP keys on the session resolved by Session or PathSession and
// falls back to the client IP. The raw cookie is never a key since clients
// can rotate it freely.
func KeyBySessionOrIP() KeyFunc {
	return func(c *gin.Context) string {
		if sid := SessionID(c); sid != "" {
			return "session:" + sid
		}
		return "ip:" + c.ClientIP()
	}
}

// KeyByIP keys on the client IP only.
func KeyByIP() KeyFunc {
	return func(c *gin.Context) string { return "ip:" + c.ClientIP() }
}

const defaultBucketIdle = 10 * time.Minute

type bucket struct {
	lim      *rate.Limiter
	lastSeen time.Time
}

// RateLimiter is a process-local token-bucket limiter with one bucket per
// key. Every assignment may buy a phone number, so the limiter caps provider
// spend per browser and per address. Idle buckets are swept at most once per
// idle window, during lookups.
type RateLimiter struct {
	scope string
	rps   rate.Limit
	burst int
	keyFn KeyFunc

	idle      time.Duration
	now       func() time.Time
	metrics   *httpMetrics
	mu        sync.Mutex
	buckets   map[string]*bucket
	lastSweep time.Time
}

// NewRateLimiter returns a limiter allowing rps requests per second with the
// given burst per key. scope names the limiter in metrics and logs. A burst
// below 1 is raised to 1.
func NewRateLimiter(scope string, rps float64, burst int, keyFn KeyFunc) *RateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &RateLimiter{
		scope:   scope,
		rps:     rate.Limit(rps),
		burst:   burst,
		keyFn:   keyFn,
		idle:    defaultBucketIdle,
		now:     time.Now,
		metrics: defaultHTTPMetrics,
		buckets: make(map[string]*bucket),
	}
}

// limiter returns the bucket for key, sweeping idle buckets first so a stale
// bucket is never refreshed by its own lookup.
func (rl *RateLimiter) limiter(key string) *rate.Limiter {
	now := rl.now()

	rl.mu.Lock()
	defer rl.mu.Unlock()

	if now.Sub(rl.lastSweep) >= rl.idle {
		for k, b := range rl.buckets {
			if now.Sub(b.lastSeen) >= rl.idle {
				delete(rl.buckets, k)
			}
		}
		rl.lastSweep = now
	}

	b, ok := rl.buckets[key]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(rl.rps, rl.burst)}
		rl.buckets[key] = b
	}
	b.lastSeen = now
	return b.lim
}

// Len returns the number of live buckets.
func (rl *RateLimiter) Len() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.buckets)
}

// Handler rejects requests over the limit with 429, a Retry-After header in
// whole seconds, and the standard error envelope.
func (rl *RateLimiter) Handler() gin.HandlerFunc {
	return func(c *gin.Context) {
		now := rl.now()
		res := rl.limiter(rl.keyFn(c)).ReserveN(now, 1)
		if res.OK() && res.DelayFrom(now) == 0 {
			c.Next()
			return
		}

		retry := 1
		if res.OK() {
			retry = int(math.Ceil(res.DelayFrom(now).Seconds()))
			res.CancelAt(now)
		}
		c.Header("Retry-After", strconv.Itoa(retry))
		rl.metrics.rateLimited.WithLabelValues(rl.scope).Inc()
		LoggerFrom(c).Warn().Str("limiter", rl.scope).Msg("rate limit exceeded")
		abortJSON(c, http.StatusTooManyRequests, "too_many_requests", "rate limit exceeded")
	}
}
