package ratelimit

import (
	"context"
	"sync"
	"time"
)

// TokenBucket is an in-process Limiter. Each key holds up to Requests
// tokens that refill evenly over Window.
type TokenBucket struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	config  Config
	now     func() time.Time
	done    chan struct{}
	once    sync.Once
}

type bucket struct {
	tokens   float64
	lastSeen time.Time
}

// NewTokenBucket creates the limiter. Idle buckets are dropped every
// cleanup interval; zero disables the sweep.
func NewTokenBucket(config Config, cleanup time.Duration) (*TokenBucket, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	tb := &TokenBucket{
		buckets: make(map[string]*bucket),
		config:  config,
		now:     time.Now,
		done:    make(chan struct{}),
	}
	if cleanup > 0 {
		go tb.sweep(cleanup)
	}
	return tb, nil
}

// Allow takes one token from key's bucket
func (tb *TokenBucket) Allow(_ context.Context, key string) (Decision, error) {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	capacity := float64(tb.config.Requests)
	perToken := tb.config.Window / time.Duration(tb.config.Requests)

	b, ok := tb.buckets[key]
	if !ok {
		b = &bucket{tokens: capacity, lastSeen: now}
		tb.buckets[key] = b
	} else if elapsed := now.Sub(b.lastSeen); elapsed > 0 {
		b.tokens = min(capacity, b.tokens+capacity*elapsed.Seconds()/tb.config.Window.Seconds())
		b.lastSeen = now
	}

	d := Decision{Limit: tb.config.Requests}
	if b.tokens >= 1 {
		b.tokens--
		d.Allowed = true
	}
	d.Remaining = int(b.tokens)
	d.ResetAt = now
	if b.tokens < 1 {
		d.ResetAt = now.Add(time.Duration((1 - b.tokens) * float64(perToken)))
	}
	return d, nil
}

func (tb *TokenBucket) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			tb.dropIdle()
		case <-tb.done:
			return
		}
	}
}

// dropIdle forgets buckets that have been full for a whole window
func (tb *TokenBucket) dropIdle() {
	tb.mu.Lock()
	defer tb.mu.Unlock()

	now := tb.now()
	for key, b := range tb.buckets {
		if now.Sub(b.lastSeen) > tb.config.Window {
			delete(tb.buckets, key)
		}
	}
}

// Len returns the number of tracked keys
func (tb *TokenBucket) Len() int {
	tb.mu.Lock()
	defer tb.mu.Unlock()
	return len(tb.buckets)
}

// Close stops the cleanup goroutine
func (tb *TokenBucket) Close() error {
	tb.once.Do(func() { close(tb.done) })
	return nil
}
