// Package ratelimit throttles API requests per caller, in memory or across
// instances through Redis.
package ratelimit

import (
	"context"
	"errors"
	"time"
)

// Limiter decides whether one more request is allowed for key
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// Decision is the state of a key after one request
type Decision struct {
	// Limit is the number of requests allowed per window
	Limit int
	// Remaining is the number of requests left in the current window
	Remaining int
	// ResetAt is when a rejected caller may try again
	ResetAt time.Time
	Allowed bool
}

// Config sizes a limiter: Requests per Window
type Config struct {
	Requests int
	Window   time.Duration
}

// Validate checks the limits
func (c Config) Validate() error {
	if c.Requests <= 0 {
		return errors.New("limit must be greater than 0")
	}
	if c.Window <= 0 {
		return errors.New("window must be greater than 0")
	}
	return nil
}
