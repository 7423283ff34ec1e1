package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pulseworks/taskmetrics/internal/pkg/logger"
)

// RateLimiter gates remote task source fetches against the source's rate
// budget using an atomic Redis Lua script. Counters live in Redis so the
// budget is shared across every server instance, not just one process.
type RateLimiter struct {
	redis       *redis.Client
	perMinute   int
	limitScript *redis.Script
}

// Lua script for the atomic check-and-increment: increments only when the
// minute window still has room, so a GET/check/INCR race cannot overshoot.
const limitLuaScript = `
local key = KEYS[1]
local limit = tonumber(ARGV[1])
local ttl = tonumber(ARGV[2])

local current = tonumber(redis.call("GET", key) or "0")
if current + 1 > limit then
    return {0, current}
end

local newVal = redis.call("INCR", key)
if newVal == 1 then
    redis.call("EXPIRE", key, ttl)
end
return {1, newVal}
`

// NewRateLimiter creates a limiter allowing perMinute remote fetches.
func NewRateLimiter(redisClient *redis.Client, perMinute int) *RateLimiter {
	if perMinute <= 0 {
		perMinute = 300
	}
	return &RateLimiter{
		redis:       redisClient,
		perMinute:   perMinute,
		limitScript: redis.NewScript(limitLuaScript),
	}
}

// NewRateLimiterFromURL creates a limiter by connecting to Redis.
func NewRateLimiterFromURL(redisURL string, perMinute int) (*RateLimiter, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}

	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	return NewRateLimiter(client, perMinute), nil
}

// Acquire blocks until a fetch slot is available in the current minute
// window or ctx is done. Implements the stats service's Limiter contract.
func (r *RateLimiter) Acquire(ctx context.Context) error {
	for {
		allowed, wait, err := r.tryAcquire(ctx)
		if err != nil {
			// A broken limiter should not take the batch down with it.
			logger.Warn("rate limiter check failed, allowing", "error", err)
			return nil
		}
		if allowed {
			return nil
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
}

// tryAcquire makes one atomic attempt. On denial it returns how long to
// wait: the remainder of the current minute window.
func (r *RateLimiter) tryAcquire(ctx context.Context) (allowed bool, wait time.Duration, err error) {
	now := time.Now()
	key := fmt.Sprintf("ratelimit:tasksource:min:%d", now.Unix()/60)

	result, err := r.limitScript.Run(ctx, r.redis,
		[]string{key},
		r.perMinute,
		120, // window TTL, 2 minutes
	).Slice()
	if err != nil {
		return false, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	if result[0].(int64) == 1 {
		return true, 0, nil
	}
	return false, time.Duration(60-now.Second()) * time.Second, nil
}

// CurrentUsage returns the current minute window's counter and limit.
func (r *RateLimiter) CurrentUsage(ctx context.Context) (map[string]int64, error) {
	key := fmt.Sprintf("ratelimit:tasksource:min:%d", time.Now().Unix()/60)
	current, err := r.redis.Get(ctx, key).Int64()
	if err != nil && err != redis.Nil {
		return nil, err
	}
	return map[string]int64{
		"minute_current": current,
		"minute_limit":   int64(r.perMinute),
	}, nil
}

// Close closes the Redis connection.
func (r *RateLimiter) Close() error {
	return r.redis.Close()
}
