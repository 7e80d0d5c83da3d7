package ratelimit

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skillre/mindmap-qoder/internal/testutil"
)

func TestRedisLimiter_FixedWindow(t *testing.T) {
	s := miniredis.RunT(t)
	clk := testutil.FixedClock()
	l, err := NewRedisLimiter("redis://"+s.Addr(), RedisConfig{Limit: 3, Window: time.Minute, Clock: clk})
	require.NoError(t, err)
	defer l.Close()
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		d, err := l.Allow(ctx, "10.0.0.1")
		require.NoError(t, err)
		assert.True(t, d.Allowed)
		assert.Equal(t, 2-i, d.Remaining)
	}
	d, err := l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.False(t, d.Allowed)
	assert.Equal(t, 0, d.Remaining)
	assert.Equal(t, clk.Now().Add(time.Minute), d.ResetAt)
	assert.Equal(t, time.Minute, d.RetryAfter(clk.Now()))

	other, err := l.Allow(ctx, "10.0.0.2")
	require.NoError(t, err)
	assert.True(t, other.Allowed, "keys are counted separately")

	key := "ratelimit:10.0.0.1:" + strconv.FormatInt(clk.Now().Unix(), 10)
	assert.True(t, s.Exists(key))
	assert.Equal(t, time.Minute, s.TTL(key))

	clk.Advance(time.Minute)
	d, err = l.Allow(ctx, "10.0.0.1")
	require.NoError(t, err)
	assert.True(t, d.Allowed, "a new window starts a new count")
}

func TestRedisLimiter_FailsOpen(t *testing.T) {
	s := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: s.Addr()})
	l := NewRedisLimiterWithClient(client, RedisConfig{Limit: 1})
	s.Close()

	d, err := l.Allow(context.Background(), "10.0.0.1")
	assert.Error(t, err)
	assert.True(t, d.Allowed)
}

func TestNewRedisLimiter_BadURL(t *testing.T) {
	_, err := NewRedisLimiter("not a url", RedisConfig{})
	assert.Error(t, err)
}

func TestMemoryLimiter(t *testing.T) {
	clk := testutil.FixedClock()
	l := NewMemoryLimiter(2, time.Minute, clk)
	ctx := context.Background()

	d, _ := l.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	d, _ = l.Allow(ctx, "a")
	assert.False(t, d.Allowed)

	clk.Advance(90 * time.Second)
	d, _ = l.Allow(ctx, "a")
	assert.True(t, d.Allowed)
	assert.Equal(t, 1, d.Remaining)
}

func TestMemoryLimiter_SweepsOncePerWindow(t *testing.T) {
	clk := testutil.FixedClock()
	l := NewMemoryLimiter(5, time.Minute, clk)
	ctx := context.Background()

	for _, k := range []string{"a", "b", "c"} {
		_, err := l.Allow(ctx, k)
		require.NoError(t, err)
	}
	first := l.lastSweep
	assert.Len(t, l.buckets, 3)

	// A stale bucket planted mid-window survives until the window rolls.
	l.buckets["old"] = bucket{start: first.Add(-time.Minute), count: 1}
	_, _ = l.Allow(ctx, "a")
	assert.Contains(t, l.buckets, "old")
	assert.Equal(t, first, l.lastSweep)

	clk.Advance(time.Minute)
	d, _ := l.Allow(ctx, "d")
	assert.True(t, d.Allowed)
	assert.Equal(t, first.Add(time.Minute), l.lastSweep)
	assert.Equal(t, []string{"d"}, keys(l.buckets))
}

func keys(m map[string]bucket) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	return out
}

func TestMemoryLimiter_Defaults(t *testing.T) {
	l := NewMemoryLimiter(0, 0, nil)
	assert.Equal(t, DefaultLimit, l.limit)
	assert.Equal(t, DefaultWindow, l.window)
}

func TestDecision_RetryAfterAllowed(t *testing.T) {
	now := time.Now()
	assert.Zero(t, Decision{Allowed: true, ResetAt: now.Add(time.Hour)}.RetryAfter(now))
}
