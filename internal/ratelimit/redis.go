package ratelimit

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// fixedWindowScript increments the attempt counter of KEYS[1] and starts the
// window expiry on the first attempt. It returns {count, pttl_ms}.
var fixedWindowScript = redis.NewScript(`
    local key = KEYS[1]
    local window_ms = tonumber(ARGV[1])

    local count = redis.call('INCR', key)
    if count == 1 then
        redis.call('PEXPIRE', key, window_ms)
    end

    local ttl = redis.call('PTTL', key)
    if ttl < 0 then
        redis.call('PEXPIRE', key, window_ms)
        ttl = window_ms
    end

    return { count, ttl }
`)

// RedisLimiter is a fixed-window limiter whose counters live in Redis so
// every instance behind a load balancer sees the same windows. When Redis
// fails the attempt is judged by the in-process fallback instead.
type RedisLimiter struct {
	rdb      redis.Scripter
	prefix   string
	max      int
	window   time.Duration
	fallback *Limiter
}

// NewRedisLimiter admits maxAttempts per window per key, storing counters
// under prefix.
func NewRedisLimiter(rdb redis.Scripter, prefix string, maxAttempts int, window time.Duration) *RedisLimiter {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	if window <= 0 {
		window = time.Minute
	}
	return &RedisLimiter{
		rdb:      rdb,
		prefix:   prefix,
		max:      maxAttempts,
		window:   window,
		fallback: NewLimiter(maxAttempts, window),
	}
}

// Check records one attempt for key.
func (r *RedisLimiter) Check(ctx context.Context, key string) (Decision, error) {
	full := r.prefix + ":" + key
	vals, err := fixedWindowScript.Run(ctx, r.rdb, []string{full}, r.window.Milliseconds()).Result()
	if err != nil {
		logrus.WithError(err).WithField("key", full).Warn("ratelimit: redis unavailable, using local window")
		return r.fallback.Allow(key), nil
	}

	arr, ok := vals.([]interface{})
	if !ok || len(arr) != 2 {
		return Decision{}, fmt.Errorf("ratelimit: unexpected script result %#v", vals)
	}
	count := asInt64(arr[0])
	ttl := time.Duration(asInt64(arr[1])) * time.Millisecond

	if count > int64(r.max) {
		return Decision{Allowed: false, Limit: r.max, RetryAfter: ttl}, nil
	}
	return Decision{Allowed: true, Limit: r.max, Remaining: r.max - int(count)}, nil
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case int:
		return int64(t)
	case float64:
		return int64(t)
	case string:
		if n, err := strconv.ParseInt(t, 10, 64); err == nil {
			return n
		}
	}
	return 0
}
