package signaling

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// RateLimiter implements per-connection token buckets
// ARCHITECTURAL DISCOVERY: Per-connection state tracking with proper cleanup prevents memory leaks
type RateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	clients map[string]*clientLimit
}

type clientLimit struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewRateLimiter allows perSecond events on average with bursts of up to burst.
func NewRateLimiter(perSecond float64, burst int) *RateLimiter {
	return &RateLimiter{
		limit:   rate.Limit(perSecond),
		burst:   burst,
		clients: make(map[string]*clientLimit),
	}
}

// Allow reports whether the connection may handle another event now.
func (rl *RateLimiter) Allow(connID string) bool {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := time.Now()
	c, exists := rl.clients[connID]
	if !exists {
		// FUNCTIONAL DISCOVERY: First event always allowed, initialize tracking
		c = &clientLimit{limiter: rate.NewLimiter(rl.limit, rl.burst)}
		rl.clients[connID] = c
	}
	c.lastSeen = now
	return c.limiter.AllowN(now, 1)
}

// Forget drops the state of a closed connection.
func (rl *RateLimiter) Forget(connID string) {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	delete(rl.clients, connID)
}

// Cleanup removes entries idle for longer than maxIdle.
// Connections normally call Forget on close; this catches anything missed.
func (rl *RateLimiter) Cleanup(maxIdle time.Duration) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	removed := 0
	cutoff := time.Now().Add(-maxIdle)
	for id, c := range rl.clients {
		if c.lastSeen.Before(cutoff) {
			delete(rl.clients, id)
			removed++
		}
	}
	return removed
}

func (rl *RateLimiter) size() int {
	rl.mu.Lock()
	defer rl.mu.Unlock()
	return len(rl.clients)
}
