package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// allowScript increments the window counter and starts its expiry on the
// first hit. It returns the count and the remaining TTL in milliseconds.
const allowScript = `
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
local ttl = redis.call("PTTL", KEYS[1])
return {count, ttl}
`

// RedisLimiter shares budgets across processes through Redis.
type RedisLimiter struct {
	client *redis.Client
	prefix string
}

// NewRedisLimiter wraps an existing client. Keys are namespaced by prefix.
func NewRedisLimiter(client *redis.Client, prefix string) *RedisLimiter {
	if prefix == "" {
		prefix = "ratelimit"
	}
	return &RedisLimiter{client: client, prefix: prefix}
}

func (r *RedisLimiter) Allow(ctx context.Context, key string, limit int, window time.Duration) (Decision, error) {
	if limit <= 0 {
		return Decision{Allowed: true}, nil
	}
	if r == nil || r.client == nil {
		return Decision{}, fmt.Errorf("rate limiter unavailable")
	}
	res, err := r.client.Eval(ctx, allowScript, []string{r.prefix + ":" + key}, window.Milliseconds()).Result()
	if err != nil {
		return Decision{}, err
	}
	values, ok := res.([]any)
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	count, _ := values[0].(int64)
	ttl, _ := values[1].(int64)
	if int(count) > limit {
		retry := time.Duration(ttl) * time.Millisecond
		if retry <= 0 {
			retry = window
		}
		return Decision{Allowed: false, RetryAfter: retry}, nil
	}
	return Decision{Allowed: true, Remaining: limit - int(count)}, nil
}
