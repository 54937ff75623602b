package handlers

import (
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"github.com/classvest/achievement-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// RATE LIMITING
// ══════════════════════════════════════════════════════════════════════════════

// KeyedRateLimiter keeps one token bucket per caller.
type KeyedRateLimiter struct {
	mu        sync.Mutex
	limiters  map[string]*limiterEntry
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewKeyedRateLimiter allows perSecond requests per caller with the given burst.
func NewKeyedRateLimiter(perSecond float64, burst int) *KeyedRateLimiter {
	if burst < 1 {
		burst = 1
	}
	return &KeyedRateLimiter{
		limiters: make(map[string]*limiterEntry),
		limit:    rate.Limit(perSecond),
		burst:    burst,
		idleTTL:  3 * time.Minute,
		now:      time.Now,
	}
}

// Allow consumes one token of key's bucket.
func (l *KeyedRateLimiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	l.sweep(now)

	e, ok := l.limiters[key]
	if !ok {
		e = &limiterEntry{limiter: rate.NewLimiter(l.limit, l.burst)}
		l.limiters[key] = e
	}
	e.lastSeen = now
	return e.limiter.AllowN(now, 1)
}

// RetryAfter is the time one token takes to refill.
func (l *KeyedRateLimiter) RetryAfter() time.Duration {
	if l.limit <= 0 {
		return time.Minute
	}
	return time.Duration(float64(time.Second) / float64(l.limit))
}

// Size returns the number of tracked callers.
func (l *KeyedRateLimiter) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.limiters)
}

// sweep drops idle callers at most once per minute. Caller holds mu.
func (l *KeyedRateLimiter) sweep(now time.Time) {
	if now.Sub(l.lastSweep) < time.Minute {
		return
	}
	l.lastSweep = now
	for k, e := range l.limiters {
		if now.Sub(e.lastSeen) > l.idleTTL {
			delete(l.limiters, k)
		}
	}
}

// CallerKey identifies the caller: the admin ID once authenticated, the
// client IP otherwise.
func CallerKey(c *gin.Context) string {
	if id := AdminID(c); id != "" {
		return "admin:" + id
	}
	return "ip:" + c.ClientIP()
}

// RateLimitMiddleware rejects callers over their budget with 429. It must
// run after authentication for CallerKey to see the admin ID.
func RateLimitMiddleware(limiter *KeyedRateLimiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := CallerKey(c)
		if limiter.Allow(key) {
			c.Next()
			return
		}

		logger.FromContext(c.Request.Context()).Warn("rate limit exceeded",
			logger.String("caller", key),
			logger.String("path", c.Request.URL.Path),
		)
		secs := int(math.Ceil(limiter.RetryAfter().Seconds()))
		c.Header("Retry-After", strconv.Itoa(secs))
		AbortWithError(c, http.StatusTooManyRequests, "rate_limited", "too many requests, slow down")
	}
}
