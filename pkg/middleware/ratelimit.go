package middleware

import (
	"context"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2/expirable"
)

// RateLimitConfig defines rate limiting configuration
type RateLimitConfig struct {
	// RequestsPerWindow is the max requests allowed in the time window
	RequestsPerWindow int
	// WindowDuration is the time window for rate limiting
	WindowDuration time.Duration
	// BurstSize allows temporary bursts above the rate. Only the local
	// limiter uses it.
	BurstSize int
	// MaxKeys bounds the number of buckets held in memory
	MaxKeys int
}

// DefaultRateLimitConfig returns settings for sensitive endpoints such as
// setup and invitation redemption
func DefaultRateLimitConfig() *RateLimitConfig {
	return &RateLimitConfig{
		RequestsPerWindow: 10,
		WindowDuration:    time.Minute,
		BurstSize:         0,
		MaxKeys:           10000,
	}
}

// Limiter decides whether the caller identified by key may proceed
type Limiter interface {
	Allow(ctx context.Context, key string) (bool, error)
}

// RateLimiter is an in-process token bucket limiter. Buckets live in an
// expiring LRU so idle keys are dropped and memory stays bounded.
type RateLimiter struct {
	config  *RateLimitConfig
	buckets *lru.LRU[string, *bucket]
	now     func() time.Time
	mu      sync.Mutex
}

type bucket struct {
	tokens     float64
	lastUpdate time.Time
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter(config *RateLimitConfig) *RateLimiter {
	if config == nil {
		config = DefaultRateLimitConfig()
	}
	maxKeys := config.MaxKeys
	if maxKeys <= 0 {
		maxKeys = 10000
	}

	return &RateLimiter{
		config:  config,
		buckets: lru.NewLRU[string, *bucket](maxKeys, nil, config.WindowDuration*2),
		now:     time.Now,
	}
}

func (rl *RateLimiter) capacity() float64 {
	return float64(rl.config.RequestsPerWindow + rl.config.BurstSize)
}

// Allow takes one token for key. It never returns an error.
func (rl *RateLimiter) Allow(ctx context.Context, key string) (bool, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	b, ok := rl.buckets.Get(key)
	if !ok {
		b = &bucket{tokens: rl.capacity(), lastUpdate: now}
		rl.buckets.Add(key, b)
	}

	elapsed := now.Sub(b.lastUpdate)
	if elapsed > 0 {
		rate := float64(rl.config.RequestsPerWindow) / rl.config.WindowDuration.Seconds()
		b.tokens += elapsed.Seconds() * rate
		if b.tokens > rl.capacity() {
			b.tokens = rl.capacity()
		}
		b.lastUpdate = now
	}

	if b.tokens >= 1 {
		b.tokens--
		return true, nil
	}
	return false, nil
}

// Remaining returns the number of whole tokens left for key
func (rl *RateLimiter) Remaining(key string) int {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	b, ok := rl.buckets.Peek(key)
	if !ok {
		return int(rl.capacity())
	}
	return int(b.tokens)
}

// Len returns the number of tracked keys
func (rl *RateLimiter) Len() int {
	return rl.buckets.Len()
}
