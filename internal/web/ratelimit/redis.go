package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultRedisPrefix namespaces the limiter's keys
const DefaultRedisPrefix = "crudkit:ratelimit:"

// slidingWindow records one hit in a sorted set unless the window is full.
// It returns {allowed, count, oldest score}.
var slidingWindow = redis.NewScript(`
	local key = KEYS[1]
	local now = tonumber(ARGV[1])
	local window_start = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])
	local ttl = tonumber(ARGV[4])
	local member = ARGV[5]

	redis.call('ZREMRANGEBYSCORE', key, 0, window_start)
	local current = redis.call('ZCARD', key)
	local allowed = 0
	if current < limit then
		redis.call('ZADD', key, now, member)
		current = current + 1
		allowed = 1
	end
	redis.call('PEXPIRE', key, ttl)

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local first = now
	if oldest[2] then
		first = tonumber(oldest[2])
	end
	return {allowed, current, tostring(first)}
`)

// RedisLimiter is a sliding-window Limiter shared by every instance using
// the same Redis
type RedisLimiter struct {
	client redis.UniversalClient
	config Config
	prefix string
	now    func() time.Time
}

// NewRedisLimiter creates the limiter. An empty prefix uses DefaultRedisPrefix.
func NewRedisLimiter(client redis.UniversalClient, config Config, prefix string) (*RedisLimiter, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = DefaultRedisPrefix
	}
	return &RedisLimiter{client: client, config: config, prefix: prefix, now: time.Now}, nil
}

// Allow records a request for key if the window has room
func (r *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	now := r.now()
	windowStart := now.Add(-r.config.Window)

	res, err := slidingWindow.Run(ctx, r.client, []string{r.prefix + key},
		now.UnixNano(),
		windowStart.UnixNano(),
		r.config.Requests,
		r.config.Window.Milliseconds(),
		uuid.NewString(),
	).Slice()
	if err != nil {
		return Decision{}, fmt.Errorf("redis rate limit check failed: %w", err)
	}
	if len(res) != 3 {
		return Decision{}, errors.New("unexpected redis script result")
	}
	allowed, ok1 := res[0].(int64)
	count, ok2 := res[1].(int64)
	oldest, ok3 := res[2].(string)
	if !ok1 || !ok2 || !ok3 {
		return Decision{}, fmt.Errorf("unexpected redis script result %v", res)
	}

	d := Decision{
		Limit:     r.config.Requests,
		Remaining: max(0, r.config.Requests-int(count)),
		Allowed:   allowed == 1,
		ResetAt:   now,
	}
	if d.Remaining == 0 {
		if first, err := strconv.ParseFloat(oldest, 64); err == nil {
			d.ResetAt = time.Unix(0, int64(first)).Add(r.config.Window)
		}
	}
	return d, nil
}

// Reset forgets key's history
func (r *RedisLimiter) Reset(ctx context.Context, key string) error {
	return r.client.Del(ctx, r.prefix+key).Err()
}
