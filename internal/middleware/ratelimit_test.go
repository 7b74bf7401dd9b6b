package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/audit-trail/audit-trail/internal/config"
)

func newTestLimiter(rpm, burst int) *MemoryLimiter {
	return NewMemoryLimiter(rpm, burst, time.Hour)
}

func TestMemoryLimiter_AllowsUpToBurst(t *testing.T) {
	rl := newTestLimiter(60, 3)
	defer rl.Close()

	for i := 0; i < 3; i++ {
		d, err := rl.Allow(context.Background(), "client-a")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
	}
	d, err := rl.Allow(context.Background(), "client-a")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.InDelta(t, time.Second, d.RetryAfter, float64(50*time.Millisecond))
}

func TestMemoryLimiter_KeysAreIndependent(t *testing.T) {
	rl := newTestLimiter(60, 1)
	defer rl.Close()

	d, _ := rl.Allow(context.Background(), "a")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(context.Background(), "b")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(context.Background(), "a")
	assert.False(t, d.Allowed)
}

func TestMemoryLimiter_Refills(t *testing.T) {
	rl := newTestLimiter(60, 1)
	defer rl.Close()
	now := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)
	rl.now = func() time.Time { return now }

	d, _ := rl.Allow(context.Background(), "a")
	assert.True(t, d.Allowed)
	d, _ = rl.Allow(context.Background(), "a")
	assert.False(t, d.Allowed)

	now = now.Add(time.Second)
	d, _ = rl.Allow(context.Background(), "a")
	assert.True(t, d.Allowed, "one token refills per second at 60 rpm")
}

func TestMemoryLimiter_CloseIsIdempotent(t *testing.T) {
	rl := newTestLimiter(60, 1)
	assert.NoError(t, rl.Close())
	assert.NoError(t, rl.Close())
}

func TestRedisLimiter(t *testing.T) {
	mr := miniredis.RunT(t)
	rl := NewRedisLimiter(redis.NewClient(&redis.Options{Addr: mr.Addr()}), 60, 2)
	defer rl.Close()

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		d, err := rl.Allow(ctx, "user:alice")
		require.NoError(t, err)
		assert.True(t, d.Allowed, "request %d", i+1)
		assert.Equal(t, 60, d.Limit)
	}
	d, err := rl.Allow(ctx, "user:alice")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Greater(t, d.RetryAfter, time.Duration(0))
}

func TestNewLimiter(t *testing.T) {
	l, err := NewLimiter(config.RateLimitConfig{Backend: "memory", RequestsPerMinute: 60, Burst: 5})
	require.NoError(t, err)
	assert.IsType(t, &MemoryLimiter{}, l)
	assert.NoError(t, l.Close())

	mr := miniredis.RunT(t)
	l, err = NewLimiter(config.RateLimitConfig{Backend: "redis", RedisAddr: mr.Addr(), RequestsPerMinute: 60, Burst: 5})
	require.NoError(t, err)
	assert.IsType(t, &RedisLimiter{}, l)
	assert.NoError(t, l.Close())

	_, err = NewLimiter(config.RateLimitConfig{Backend: "etcd"})
	assert.Error(t, err)
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func (failingLimiter) Close() error { return nil }

func newRateLimitRouter(limiter Limiter) *gin.Engine {
	r := gin.New()
	r.Use(RateLimitMiddleware(limiter))
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func doRateLimited(r *gin.Engine) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.RemoteAddr = "10.0.0.1:1234"
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimitMiddleware(t *testing.T) {
	rl := newTestLimiter(60, 1)
	defer rl.Close()
	r := newRateLimitRouter(rl)

	w := doRateLimited(r)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "60", w.Header().Get("X-RateLimit-Limit"))
	assert.Equal(t, "0", w.Header().Get("X-RateLimit-Remaining"))

	w = doRateLimited(r)
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.Equal(t, "1", w.Header().Get("Retry-After"))
	assert.JSONEq(t, `{"error":"Rate limit exceeded","retry_after":1}`, w.Body.String())
}

func TestRateLimitMiddleware_FailsOpen(t *testing.T) {
	w := doRateLimited(newRateLimitRouter(failingLimiter{}))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestGetRateLimitKey(t *testing.T) {
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Request.RemoteAddr = "192.0.2.10:5555"
	assert.Equal(t, "ip:192.0.2.10", getRateLimitKey(c))

	c.Set(UserIDKey, "user-1")
	assert.Equal(t, "user:user-1", getRateLimitKey(c))
}
