// Package ratelimiter throttles requests per caller origin.
//
// Each origin (a username or a remote address) gets its own token bucket
// from golang.org/x/time/rate. Buckets that stay idle longer than the
// configured TTL are evicted on the next sweep so the map does not grow
// with every address that ever touched a share link.
package ratelimiter

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// Config configures a keyed limiter.
type Config struct {
	// RequestsPerSecond is the sustained rate per origin. Zero disables
	// limiting.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`

	// Burst is the bucket capacity per origin (default: 2x the rate, min 1)
	Burst int `mapstructure:"burst"`

	// IdleTTL is how long an unused bucket is kept (default: 10m)
	IdleTTL time.Duration `mapstructure:"idle_ttl"`
}

type bucket struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// Keyed holds one token bucket per origin.
//
// Thread safety:
// All methods are safe for concurrent use.
type Keyed struct {
	mu        sync.Mutex
	buckets   map[string]*bucket
	limit     rate.Limit
	burst     int
	idleTTL   time.Duration
	lastSweep time.Time
	now       func() time.Time
}

// New creates a keyed limiter. A zero rate yields a limiter that allows
// everything.
func New(cfg Config) *Keyed {
	k := &Keyed{
		buckets: make(map[string]*bucket),
		limit:   rate.Limit(cfg.RequestsPerSecond),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		now:     time.Now,
	}
	if cfg.RequestsPerSecond <= 0 {
		k.limit = rate.Inf
	}
	if k.burst <= 0 {
		k.burst = max(1, int(cfg.RequestsPerSecond*2))
	}
	if k.idleTTL <= 0 {
		k.idleTTL = 10 * time.Minute
	}
	k.lastSweep = k.now()
	return k
}

// Allow consumes one token from origin's bucket.
//
// Returns false if the bucket is empty; no token is consumed in that case.
func (k *Keyed) Allow(origin string) bool {
	if k.limit == rate.Inf {
		return true
	}

	k.mu.Lock()
	defer k.mu.Unlock()

	now := k.now()
	k.sweepLocked(now)

	b, ok := k.buckets[origin]
	if !ok {
		b = &bucket{limiter: rate.NewLimiter(k.limit, k.burst)}
		k.buckets[origin] = b
	}
	b.lastSeen = now
	return b.limiter.AllowN(now, 1)
}

// Len returns the number of tracked origins.
func (k *Keyed) Len() int {
	k.mu.Lock()
	defer k.mu.Unlock()
	return len(k.buckets)
}

// sweepLocked evicts idle buckets at most once per TTL.
func (k *Keyed) sweepLocked(now time.Time) {
	if now.Sub(k.lastSweep) < k.idleTTL {
		return
	}
	for origin, b := range k.buckets {
		if now.Sub(b.lastSeen) >= k.idleTTL {
			delete(k.buckets, origin)
		}
	}
	k.lastSweep = now
}
