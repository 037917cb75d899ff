package middleware

import (
	"net/http"
	"sync"
	"time"

	"retailpos/internal/apierror"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

// ── Fixed-window rate limiter ─────────────────────────────────────────────────

type windowEntry struct {
	count     int
	windowEnd time.Time
}

// Limiter counts requests per key in fixed windows. Expired keys are purged
// while serving requests, at most once per purgeInterval.
type Limiter struct {
	limit  int
	window time.Duration
	now    func() time.Time

	mu        sync.Mutex
	entries   map[string]*windowEntry
	lastPurge time.Time
}

const purgeInterval = 5 * time.Minute

func NewLimiter(limit int, window time.Duration) *Limiter {
	return &Limiter{limit: limit, window: window, now: time.Now, entries: make(map[string]*windowEntry)}
}

// Allow records one request for key and reports whether it is within the
// limit, with the end of the current window.
func (l *Limiter) Allow(key string) (bool, time.Time) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.lastPurge) >= purgeInterval {
		l.purge(now)
	}

	e, ok := l.entries[key]
	if !ok || now.After(e.windowEnd) {
		e = &windowEntry{windowEnd: now.Add(l.window)}
		l.entries[key] = e
	}
	e.count++
	return e.count <= l.limit, e.windowEnd
}

func (l *Limiter) purge(now time.Time) {
	purged := 0
	for k, e := range l.entries {
		if now.After(e.windowEnd) {
			delete(l.entries, k)
			purged++
		}
	}
	l.lastPurge = now
	if purged > 0 {
		log.Debug().Int("purged", purged).Int("remaining", len(l.entries)).Msg("rate limiter purged")
	}
}

// Middleware rejects requests over the limit with 429. key picks the bucket;
// nil uses the client IP.
func (l *Limiter) Middleware(key func(c *gin.Context) string, msg string) gin.HandlerFunc {
	if key == nil {
		key = func(c *gin.Context) string { return c.ClientIP() }
	}
	return func(c *gin.Context) {
		ok, windowEnd := l.Allow(key(c))
		if !ok {
			c.Header("Retry-After", windowEnd.UTC().Format(http.TimeFormat))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, apierror.New(msg))
			return
		}
		c.Next()
	}
}

// LoginRateLimiter limits login attempts to 20 per minute per IP.
func LoginRateLimiter() gin.HandlerFunc {
	return NewLimiter(20, time.Minute).Middleware(nil, "Too many login attempts, try again in a minute")
}

// RateLimiter limits every client IP to limit requests per window.
func RateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	return NewLimiter(limit, window).Middleware(nil, "Too many requests, try again in a moment")
}

// StationRateLimiter buckets by the station of the session so terminals
// behind one NAT do not starve each other. Must run after JWTAuth.
func StationRateLimiter(limit int, window time.Duration) gin.HandlerFunc {
	return NewLimiter(limit, window).Middleware(func(c *gin.Context) string {
		if claims := GetClaims(c); claims != nil {
			return claims.StationID
		}
		return c.ClientIP()
	}, "Too many commands from this station")
}
