package http

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const limiterIdleTTL = 30 * time.Minute

// sessionLimiter keeps one token bucket per session.  Buckets idle for
// longer than limiterIdleTTL are dropped on the next Allow call.
type sessionLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	buckets map[string]*bucket
	now     func() time.Time
	swept   time.Time
}

type bucket struct {
	lim  *rate.Limiter
	seen time.Time
}

func newSessionLimiter(perSecond float64, burst int) *sessionLimiter {
	limit := rate.Limit(perSecond)
	if perSecond <= 0 {
		limit = rate.Inf
	}
	if burst <= 0 {
		burst = 1
	}
	return &sessionLimiter{limit: limit, burst: burst, buckets: make(map[string]*bucket), now: time.Now}
}

func (l *sessionLimiter) Allow(sessionID string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if now.Sub(l.swept) > limiterIdleTTL {
		for id, b := range l.buckets {
			if now.Sub(b.seen) > limiterIdleTTL {
				delete(l.buckets, id)
			}
		}
		l.swept = now
	}

	b, ok := l.buckets[sessionID]
	if !ok {
		b = &bucket{lim: rate.NewLimiter(l.limit, l.burst)}
		l.buckets[sessionID] = b
	}
	b.seen = now
	return b.lim.AllowN(now, 1)
}
