// Package ratelimit implements fixed-window request limiting per client.
package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/hashicorp/go-hclog"
	"github.com/redis/go-redis/v9"

	"github.com/skillre/mindmap-qoder/internal/clock"
)

// Defaults applied to the proxy.
const (
	DefaultLimit  = 100
	DefaultWindow = 15 * time.Minute
)

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed   bool
	Limit     int
	Remaining int
	ResetAt   time.Time
}

// RetryAfter returns how long the client should wait, relative to now.
func (d Decision) RetryAfter(now time.Time) time.Duration {
	if d.Allowed || !d.ResetAt.After(now) {
		return 0
	}
	return d.ResetAt.Sub(now)
}

// Limiter counts requests per key.
type Limiter interface {
	Allow(ctx context.Context, key string) (Decision, error)
}

// window returns the start of the fixed window containing now.
func window(now time.Time, size time.Duration) time.Time {
	return now.Truncate(size)
}

func decide(count int64, limit int, reset time.Time) Decision {
	remaining := limit - int(count)
	if remaining < 0 {
		remaining = 0
	}
	return Decision{Allowed: count <= int64(limit), Limit: limit, Remaining: remaining, ResetAt: reset}
}

// RedisLimiter shares counters across instances through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
	limit  int
	window time.Duration
	clock  clock.Clock
	logger hclog.Logger
}

// RedisConfig configures a RedisLimiter.
type RedisConfig struct {
	Limit  int
	Window time.Duration
	Clock  clock.Clock
	Logger hclog.Logger
}

// NewRedisLimiter creates a limiter from a redis:// URL.
func NewRedisLimiter(redisURL string, cfg RedisConfig) (*RedisLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	return NewRedisLimiterWithClient(redis.NewClient(opts), cfg), nil
}

// NewRedisLimiterWithClient creates a limiter from an existing client.
func NewRedisLimiterWithClient(client *redis.Client, cfg RedisConfig) *RedisLimiter {
	if cfg.Limit <= 0 {
		cfg.Limit = DefaultLimit
	}
	if cfg.Window <= 0 {
		cfg.Window = DefaultWindow
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real{}
	}
	if cfg.Logger == nil {
		cfg.Logger = hclog.NewNullLogger()
	}
	return &RedisLimiter{
		client: client,
		prefix: "ratelimit:",
		limit:  cfg.Limit,
		window: cfg.Window,
		clock:  cfg.Clock,
		logger: cfg.Logger.Named("ratelimit"),
	}
}

// Allow increments the counter for key. Redis failures fail open: the
// request is allowed and the error is logged and returned.
func (l *RedisLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	start := window(l.clock.Now(), l.window)
	reset := start.Add(l.window)
	k := l.prefix + key + ":" + strconv.FormatInt(start.Unix(), 10)

	var incr *redis.IntCmd
	_, err := l.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, k)
		pipe.Expire(ctx, k, l.window)
		return nil
	})
	if err != nil {
		l.logger.Warn("rate limit check failed, allowing request", "key", key, "error", err)
		return Decision{Allowed: true, Limit: l.limit, Remaining: l.limit, ResetAt: reset}, fmt.Errorf("rate limit: %w", err)
	}
	return decide(incr.Val(), l.limit, reset), nil
}

// Close closes the Redis client.
func (l *RedisLimiter) Close() error {
	return l.client.Close()
}

// MemoryLimiter keeps counters in process.
type MemoryLimiter struct {
	limit  int
	window time.Duration
	clock  clock.Clock

	mu        sync.Mutex
	buckets   map[string]bucket
	lastSweep time.Time
}

type bucket struct {
	start time.Time
	count int64
}

// NewMemoryLimiter creates an in-process limiter.
func NewMemoryLimiter(limit int, size time.Duration, c clock.Clock) *MemoryLimiter {
	if limit <= 0 {
		limit = DefaultLimit
	}
	if size <= 0 {
		size = DefaultWindow
	}
	if c == nil {
		c = clock.Real{}
	}
	return &MemoryLimiter{limit: limit, window: size, clock: c, buckets: make(map[string]bucket)}
}

func (l *MemoryLimiter) Allow(_ context.Context, key string) (Decision, error) {
	start := window(l.clock.Now(), l.window)

	l.mu.Lock()
	defer l.mu.Unlock()
	// Buckets from earlier windows are dropped once per window.
	if !l.lastSweep.Equal(start) {
		for k, old := range l.buckets {
			if old.start.Before(start) {
				delete(l.buckets, k)
			}
		}
		l.lastSweep = start
	}
	b := l.buckets[key]
	if !b.start.Equal(start) {
		b = bucket{start: start}
	}
	b.count++
	l.buckets[key] = b
	return decide(b.count, l.limit, start.Add(l.window)), nil
}
