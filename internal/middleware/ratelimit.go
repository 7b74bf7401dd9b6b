// ratelimit.go provides Gin middleware that enforces per-caller rate limits, returning
// 429 responses once the configured requests-per-minute budget is exhausted.
package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/go-redis/redis_rate/v10"
	"github.com/redis/go-redis/v9"

	"github.com/audit-trail/audit-trail/internal/config"
)

// Decision is the outcome of a rate limit check.
type Decision struct {
	Allowed    bool
	Limit      int
	Remaining  int
	RetryAfter time.Duration
}

// Limiter decides whether a caller identified by key may make another request.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
	Close() error
}

// NewLimiter builds the limiter selected by cfg.Backend.
func NewLimiter(cfg config.RateLimitConfig) (Limiter, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryLimiter(cfg.RequestsPerMinute, cfg.Burst, 5*time.Minute), nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		return NewRedisLimiter(client, cfg.RequestsPerMinute, cfg.Burst), nil
	default:
		return nil, fmt.Errorf("unsupported rate limit backend: %s", cfg.Backend)
	}
}

// rateLimitEntry tracks request counts for a single client
type rateLimitEntry struct {
	tokens     float64
	lastUpdate time.Time
}

// MemoryLimiter implements a per-process token bucket rate limiter
type MemoryLimiter struct {
	perMinute int
	burst     int
	entries   map[string]*rateLimitEntry
	mu        sync.Mutex
	stopCh    chan struct{}
	stopOnce  sync.Once
	now       func() time.Time
}

// NewMemoryLimiter creates a token bucket limiter refilling perMinute tokens per
// minute up to burst. Idle entries are evicted every cleanupInterval.
func NewMemoryLimiter(perMinute, burst int, cleanupInterval time.Duration) *MemoryLimiter {
	rl := &MemoryLimiter{
		perMinute: perMinute,
		burst:     burst,
		entries:   make(map[string]*rateLimitEntry),
		stopCh:    make(chan struct{}),
		now:       time.Now,
	}
	go rl.cleanup(cleanupInterval)
	return rl
}

func (rl *MemoryLimiter) cleanup(interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			rl.mu.Lock()
			now := rl.now()
			for key, entry := range rl.entries {
				if now.Sub(entry.lastUpdate) > 10*time.Minute {
					delete(rl.entries, key)
				}
			}
			rl.mu.Unlock()
		case <-rl.stopCh:
			return
		}
	}
}

// Close stops the cleanup goroutine
func (rl *MemoryLimiter) Close() error {
	rl.stopOnce.Do(func() { close(rl.stopCh) })
	return nil
}

// Allow consumes one token for key if one is available.
func (rl *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	now := rl.now()
	entry, exists := rl.entries[key]
	if !exists {
		entry = &rateLimitEntry{tokens: float64(rl.burst), lastUpdate: now}
		rl.entries[key] = entry
	}

	perSecond := float64(rl.perMinute) / 60.0
	elapsed := now.Sub(entry.lastUpdate).Seconds()
	entry.tokens = math.Min(float64(rl.burst), entry.tokens+elapsed*perSecond)
	entry.lastUpdate = now

	d := Decision{Limit: rl.perMinute}
	if entry.tokens >= 1 {
		entry.tokens--
		d.Allowed = true
	} else {
		d.RetryAfter = time.Duration((1 - entry.tokens) / perSecond * float64(time.Second))
	}
	d.Remaining = int(entry.tokens)
	return d, nil
}

// RedisLimiter shares a GCRA budget across replicas through Redis.
type RedisLimiter struct {
	client  *redis.Client
	limiter *redis_rate.Limiter
	limit   redis_rate.Limit
}

// NewRedisLimiter wraps client. The limiter owns client and closes it on Close.
func NewRedisLimiter(client *redis.Client, perMinute, burst int) *RedisLimiter {
	return &RedisLimiter{
		client:  client,
		limiter: redis_rate.NewLimiter(client),
		limit:   redis_rate.Limit{Rate: perMinute, Burst: burst, Period: time.Minute},
	}
}

// Allow checks the shared budget for key.
func (rl *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	res, err := rl.limiter.Allow(ctx, "audit:ratelimit:"+key, rl.limit)
	if err != nil {
		return Decision{}, err
	}
	return Decision{
		Allowed:    res.Allowed > 0,
		Limit:      rl.limit.Rate,
		Remaining:  res.Remaining,
		RetryAfter: res.RetryAfter,
	}, nil
}

// Close closes the Redis client.
func (rl *RedisLimiter) Close() error {
	return rl.client.Close()
}

// RateLimitMiddleware creates a Gin middleware that rate limits requests. When the
// limiter itself fails the request is let through.
func RateLimitMiddleware(limiter Limiter) gin.HandlerFunc {
	return func(c *gin.Context) {
		key := getRateLimitKey(c)

		d, err := limiter.Allow(c.Request.Context(), key)
		if err != nil {
			slog.Warn("rate limiter unavailable, allowing request", "key", key, "error", err)
			c.Next()
			return
		}

		c.Header("X-RateLimit-Limit", strconv.Itoa(d.Limit))
		c.Header("X-RateLimit-Remaining", strconv.Itoa(max(d.Remaining, 0)))
		if !d.Allowed {
			retry := int(math.Ceil(d.RetryAfter.Seconds()))
			if retry < 1 {
				retry = 1
			}
			c.Header("Retry-After", strconv.Itoa(retry))
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":       "Rate limit exceeded",
				"retry_after": retry,
			})
			return
		}

		c.Next()
	}
}

// getRateLimitKey keys authenticated callers by subject and everyone else by IP.
func getRateLimitKey(c *gin.Context) string {
	if id := c.GetString(UserIDKey); id != "" {
		return "user:" + id
	}
	return "ip:" + c.ClientIP()
}
