package httpapi

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// rateLimiter is a per-principal token bucket table, grounded in the
// eval runner's rate.Limiter usage elsewhere in this codebase, keyed
// instead by principal rather than a single process-wide limiter.
// Entries for principals that go quiet are never evicted; at the scale
// this core runs at (a handful of concurrent users), that is an
// acceptable static cost rather than a leak worth guarding.
type rateLimiter struct {
	perMinute int

	mu       sync.Mutex
	buckets  map[string]*rate.Limiter
}

func newRateLimiter(perMinute int) *rateLimiter {
	return &rateLimiter{perMinute: perMinute, buckets: make(map[string]*rate.Limiter)}
}

// Allow reports whether principal may proceed now, consuming one token
// if so.
func (l *rateLimiter) Allow(principal string) bool {
	return l.bucketFor(principal).Allow()
}

func (l *rateLimiter) bucketFor(principal string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	if b, ok := l.buckets[principal]; ok {
		return b
	}
	rps := rate.Limit(float64(l.perMinute) / 60.0)
	b := rate.NewLimiter(rps, l.perMinute)
	l.buckets[principal] = b
	return b
}

// retryAfter is the fixed hint writeError sends with 429s; the bucket refills
// continuously so this is a reasonable conservative estimate rather than
// an exact wait time.
const retryAfter = 12 * time.Second
