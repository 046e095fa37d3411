// Package ratelimit provides a keyed token-bucket limiter.
// Keys that stay idle longer than the configured TTL are evicted.
package ratelimit

import (
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/circulate/circulation-server/internal/clock"
)

// Config controls the per-key buckets.
type Config struct {
	// RPS is the steady refill rate per key.
	RPS float64
	// Burst is the number of tokens available immediately.
	Burst int
	// IdleTTL evicts keys not seen for this long. Zero disables eviction.
	IdleTTL time.Duration
}

// PerMinute converts a requests-per-minute budget into a Config whose burst
// equals the budget.
func PerMinute(requests int, idleTTL time.Duration) Config {
	return Config{
		RPS:     float64(requests) / time.Minute.Seconds(),
		Burst:   requests,
		IdleTTL: idleTTL,
	}
}

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// KeyedRateLimiter manages per-key rate limiting.
// Each unique key gets its own independent bucket.
type KeyedRateLimiter struct {
	mu      sync.Mutex
	entries map[string]*entry
	limit   rate.Limit
	burst   int
	idleTTL time.Duration
	clock   clock.Clock

	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// New creates a keyed rate limiter and starts its eviction loop.
// Call Stop to release it.
func New(cfg Config, clk clock.Clock) *KeyedRateLimiter {
	krl := &KeyedRateLimiter{
		entries: make(map[string]*entry),
		limit:   rate.Limit(cfg.RPS),
		burst:   cfg.Burst,
		idleTTL: cfg.IdleTTL,
		clock:   clk,
		done:    make(chan struct{}),
	}

	if krl.idleTTL > 0 {
		ticker := clk.NewTicker(krl.idleTTL)
		krl.wg.Add(1)
		go krl.evictLoop(ticker)
	}

	return krl
}

// Allow reports whether a request for key may proceed now. It never blocks.
func (krl *KeyedRateLimiter) Allow(key string) bool {
	now := krl.clock.Now()

	krl.mu.Lock()
	e, ok := krl.entries[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(krl.limit, krl.burst)}
		krl.entries[key] = e
	}
	e.lastSeen = now
	krl.mu.Unlock()

	return e.limiter.AllowN(now, 1)
}

// RetryAfter returns how long key has to wait for its next token.
func (krl *KeyedRateLimiter) RetryAfter(key string) time.Duration {
	krl.mu.Lock()
	e, ok := krl.entries[key]
	krl.mu.Unlock()
	if !ok || krl.limit <= 0 {
		return 0
	}

	now := krl.clock.Now()
	tokens := e.limiter.TokensAt(now)
	if tokens >= 1 {
		return 0
	}
	return time.Duration((1 - tokens) / float64(krl.limit) * float64(time.Second))
}

// Len returns the number of tracked keys.
func (krl *KeyedRateLimiter) Len() int {
	krl.mu.Lock()
	defer krl.mu.Unlock()
	return len(krl.entries)
}

// Evict drops keys idle for at least the TTL and returns how many went.
func (krl *KeyedRateLimiter) Evict() int {
	if krl.idleTTL <= 0 {
		return 0
	}
	cutoff := krl.clock.Now().Add(-krl.idleTTL)

	krl.mu.Lock()
	defer krl.mu.Unlock()

	evicted := 0
	for key, e := range krl.entries {
		if !e.lastSeen.After(cutoff) {
			delete(krl.entries, key)
			evicted++
		}
	}
	return evicted
}

// Stop shuts down the eviction loop. Safe to call more than once.
func (krl *KeyedRateLimiter) Stop() {
	krl.stopOnce.Do(func() {
		close(krl.done)
	})
	krl.wg.Wait()
}

func (krl *KeyedRateLimiter) evictLoop(ticker clock.Ticker) {
	defer krl.wg.Done()
	defer ticker.Stop()

	for {
		select {
		case <-krl.done:
			return
		case <-ticker.C():
			krl.Evict()
		}
	}
}
