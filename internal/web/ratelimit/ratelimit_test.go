package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/crudkit/internal/orm/security"
)

type clock struct{ t time.Time }

func (c *clock) now() time.Time          { return c.t }
func (c *clock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newClock() *clock {
	return &clock{t: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name        string
		config      Config
		expectedErr string
	}{
		{name: "valid", config: Config{Requests: 10, Window: time.Minute}},
		{name: "zero limit", config: Config{Requests: 0, Window: time.Minute}, expectedErr: "limit must be greater than 0"},
		{name: "negative limit", config: Config{Requests: -1, Window: time.Minute}, expectedErr: "limit must be greater than 0"},
		{name: "zero window", config: Config{Requests: 10}, expectedErr: "window must be greater than 0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.expectedErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.expectedErr)
		})
	}
}

func TestTokenBucket(t *testing.T) {
	ctx := context.Background()
	c := newClock()
	tb, err := NewTokenBucket(Config{Requests: 3, Window: 3 * time.Second}, 0)
	require.NoError(t, err)
	defer tb.Close()
	tb.now = c.now

	for want := 2; want >= 0; want-- {
		d, err := tb.Allow(ctx, "a")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, want, d.Remaining)
		assert.Equal(t, 3, d.Limit)
	}

	d, _ := tb.Allow(ctx, "a")
	assert.False(t, d.Allowed)
	assert.Equal(t, c.t.Add(time.Second), d.ResetAt)

	other, _ := tb.Allow(ctx, "b")
	assert.True(t, other.Allowed, "keys have separate buckets")

	c.advance(time.Second)
	d, _ = tb.Allow(ctx, "a")
	assert.True(t, d.Allowed, "one token refills per second")
	d, _ = tb.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	c.advance(time.Hour)
	d, _ = tb.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 2, d.Remaining, "refill is capped at the capacity")
}

func TestTokenBucketDropsIdleKeys(t *testing.T) {
	c := newClock()
	tb, err := NewTokenBucket(Config{Requests: 1, Window: time.Minute}, 0)
	require.NoError(t, err)
	defer tb.Close()
	tb.now = c.now

	tb.Allow(context.Background(), "a")
	c.advance(30 * time.Second)
	tb.Allow(context.Background(), "b")
	c.advance(45 * time.Second)
	tb.dropIdle()

	assert.Equal(t, 1, tb.Len())
	assert.NoError(t, tb.Close())
	assert.NoError(t, tb.Close(), "close is idempotent")
}

func setupTestRedis(t *testing.T) (*redis.Client, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return client, mr
}

func TestNewRedisLimiter_InvalidConfig(t *testing.T) {
	_, err := NewRedisLimiter(nil, Config{Requests: 1, Window: time.Minute}, "")
	assert.EqualError(t, err, "redis client is required")

	client, _ := setupTestRedis(t)
	_, err = NewRedisLimiter(client, Config{Window: time.Minute}, "")
	assert.EqualError(t, err, "limit must be greater than 0")
}

func TestRedisLimiter(t *testing.T) {
	ctx := context.Background()
	client, mr := setupTestRedis(t)
	c := newClock()
	l, err := NewRedisLimiter(client, Config{Requests: 2, Window: time.Minute}, "")
	require.NoError(t, err)
	l.now = c.now

	d, err := l.Allow(ctx, "user:ada")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
	assert.True(t, mr.Exists(DefaultRedisPrefix+"user:ada"))

	c.advance(10 * time.Second)
	d, err = l.Allow(ctx, "user:ada")
	require.NoError(t, err)
	assert.True(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)

	d, err = l.Allow(ctx, "user:ada")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.WithinDuration(t, c.t.Add(50*time.Second), d.ResetAt, time.Millisecond)

	c.advance(51 * time.Second)
	d, err = l.Allow(ctx, "user:ada")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "the first hit left the window")

	require.NoError(t, l.Reset(ctx, "user:ada"))
	assert.False(t, mr.Exists(DefaultRedisPrefix+"user:ada"))
}

func TestRedisLimiter_Unavailable(t *testing.T) {
	client, mr := setupTestRedis(t)
	l, err := NewRedisLimiter(client, Config{Requests: 2, Window: time.Minute}, "test:")
	require.NoError(t, err)
	mr.Close()

	_, err = l.Allow(context.Background(), "k")
	assert.ErrorContains(t, err, "redis rate limit check failed")
}

type stubLimiter struct {
	decision Decision
	err      error
	keys     []string
}

func (s *stubLimiter) Allow(_ context.Context, key string) (Decision, error) {
	s.keys = append(s.keys, key)
	return s.decision, s.err
}

func TestMiddleware(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusNoContent) })

	tests := []struct {
		name       string
		limiter    *stubLimiter
		wantStatus int
		wantRetry  bool
	}{
		{
			name:       "allowed",
			limiter:    &stubLimiter{decision: Decision{Limit: 5, Remaining: 4, Allowed: true, ResetAt: time.Now()}},
			wantStatus: http.StatusNoContent,
		},
		{
			name:       "rejected",
			limiter:    &stubLimiter{decision: Decision{Limit: 5, ResetAt: time.Now().Add(3 * time.Second)}},
			wantStatus: http.StatusTooManyRequests,
			wantRetry:  true,
		},
		{
			name:       "limiter down",
			limiter:    &stubLimiter{err: errors.New("connection refused")},
			wantStatus: http.StatusNoContent,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := Middleware(tt.limiter, ByPrincipalOrIP, nil)(ok)
			rec := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodGet, "/person/list", nil)
			req.RemoteAddr = "10.0.0.7:5123"
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.Equal(t, []string{"ip:10.0.0.7"}, tt.limiter.keys)
			assert.Equal(t, tt.wantRetry, rec.Header().Get("Retry-After") != "")
			if tt.limiter.err == nil {
				assert.Equal(t, "5", rec.Header().Get(HeaderLimit))
			}
		})
	}
}

func TestByPrincipalOrIP(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "192.0.2.1:80"
	assert.Equal(t, "ip:192.0.2.1", ByPrincipalOrIP(req))

	req = req.WithContext(security.WithPrincipal(req.Context(), security.NewUser("ada", "Admin")))
	assert.Equal(t, "user:ada", ByPrincipalOrIP(req))
}
