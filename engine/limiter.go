package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeLiuMe/webpeel-sub001/config"
)

// limiterIdleEvict is how long a hostname's bucket may sit unused
// before it is dropped.
const limiterIdleEvict = time.Hour

type limiterEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// domainLimiter applies a per-hostname token bucket so repeated fetches
// against one site stay polite. Disabled entirely when the configured
// rate is zero. Idle buckets are evicted lazily on access instead of by
// a background goroutine.
type domainLimiter struct {
	mu      sync.Mutex
	entries map[string]*limiterEntry
	rps     float64
	burst   int
}

func newDomainLimiter(cfg config.Limiter) *domainLimiter {
	return &domainLimiter{
		entries: make(map[string]*limiterEntry),
		rps:     cfg.RequestsPerSecond,
		burst:   cfg.Burst,
	}
}

// Wait blocks until the hostname's bucket has a token or the context
// ends.
func (d *domainLimiter) Wait(ctx context.Context, host string) error {
	if d.rps <= 0 {
		return nil
	}

	d.mu.Lock()
	if len(d.entries) > 1024 {
		cutoff := time.Now().Add(-limiterIdleEvict)
		for h, e := range d.entries {
			if e.lastSeen.Before(cutoff) {
				delete(d.entries, h)
			}
		}
	}
	entry, ok := d.entries[host]
	if !ok {
		entry = &limiterEntry{
			limiter: rate.NewLimiter(rate.Limit(d.rps), d.burst),
		}
		d.entries[host] = entry
	}
	entry.lastSeen = time.Now()
	d.mu.Unlock()

	return entry.limiter.Wait(ctx)
}
