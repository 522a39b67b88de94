package channels

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

const (
	// maxTrackedKeys caps the number of per-channel limiters kept in memory.
	maxTrackedKeys = 4096

	// idleLimiterTTL is how long an unused limiter is kept before pruning.
	idleLimiterTTL = 10 * time.Minute
)

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// ChannelLimiter paces deliveries per destination channel with a token
// bucket each. The number of tracked keys is bounded. Safe for concurrent use.
type ChannelLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	every   rate.Limit
	burst   int
	now     func() time.Time
}

// NewChannelLimiter allows burst deliveries at once per channel, refilled at
// one per interval. A non-positive interval disables pacing.
func NewChannelLimiter(interval time.Duration, burst int) *ChannelLimiter {
	limit := rate.Inf
	if interval > 0 {
		limit = rate.Every(interval)
	}
	if burst < 1 {
		burst = 1
	}
	return &ChannelLimiter{
		entries: make(map[string]*limiterEntry),
		every:   limit,
		burst:   burst,
		now:     time.Now,
	}
}

// Wait blocks until a delivery to key is allowed or ctx is done.
func (l *ChannelLimiter) Wait(ctx context.Context, key string) error {
	return l.get(key).Wait(ctx)
}

// Allow reports whether a delivery to key may happen now, consuming a token if so.
func (l *ChannelLimiter) Allow(key string) bool {
	return l.get(key).Allow()
}

// Len returns the number of tracked keys.
func (l *ChannelLimiter) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

func (l *ChannelLimiter) get(key string) *rate.Limiter {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.now()
	if e, ok := l.entries[key]; ok {
		e.lastSeen = now
		return e.limiter
	}

	if len(l.entries) >= maxTrackedKeys {
		for k, e := range l.entries {
			if now.Sub(e.lastSeen) >= idleLimiterTTL {
				delete(l.entries, k)
			}
		}
		// Hard eviction if still at cap (FIFO-ish via map iteration)
		for len(l.entries) >= maxTrackedKeys {
			for k := range l.entries {
				delete(l.entries, k)
				break
			}
		}
	}

	e := &limiterEntry{limiter: rate.NewLimiter(l.every, l.burst), lastSeen: now}
	l.entries[key] = e
	return e.limiter
}
