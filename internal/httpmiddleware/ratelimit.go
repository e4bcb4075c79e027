// Package httpmiddleware holds gin middleware shared by the console's
// routes.
package httpmiddleware

import (
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
)

// staleAfter is how long an idle key keeps its bucket before pruning.
const staleAfter = 30 * time.Minute

// Limiter is an in-memory per-key token bucket. The console fronts a
// handful of operator browsers, so per-process state is enough.
type Limiter struct {
	capacity  int
	perMinute int

	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time
}

type bucket struct {
	tokens float64
	last   time.Time
}

// NewLimiter allows perMinute requests per key with bursts up to capacity.
func NewLimiter(capacity, perMinute int) *Limiter {
	if capacity <= 0 {
		capacity = perMinute
	}
	return &Limiter{
		capacity:  capacity,
		perMinute: perMinute,
		buckets:   make(map[string]*bucket),
		now:       time.Now,
	}
}

// PerIP enforces the limit keyed by client IP.
func (l *Limiter) PerIP() gin.HandlerFunc {
	return func(c *gin.Context) {
		key := c.ClientIP()
		if key == "" {
			key = "unknown"
		}
		if !l.Allow(key) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}

// Allow spends one token for key, reporting whether it was available.
// Callers can key by anything, not just IPs; login throttling keys by
// account name.
func (l *Limiter) Allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	b, ok := l.buckets[key]
	if !ok {
		l.prune(now)
		b = &bucket{tokens: float64(l.capacity), last: now}
		l.buckets[key] = b
	} else {
		b.tokens += now.Sub(b.last).Minutes() * float64(l.perMinute)
		if b.tokens > float64(l.capacity) {
			b.tokens = float64(l.capacity)
		}
		b.last = now
	}
	if b.tokens < 1 {
		return false
	}
	b.tokens--
	return true
}

// Reset forgets the key, restoring its full burst. Used after a
// successful login so earlier failures stop counting.
func (l *Limiter) Reset(key string) {
	l.mu.Lock()
	delete(l.buckets, key)
	l.mu.Unlock()
}

// prune drops idle buckets; called with the lock held when a new key
// arrives.
func (l *Limiter) prune(now time.Time) {
	for key, b := range l.buckets {
		if now.Sub(b.last) > staleAfter {
			delete(l.buckets, key)
		}
	}
}
