package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"
)

// slidingLogScript keeps one sorted-set member per admit, scored by Redis server time in
// milliseconds. It returns {1, 0} on admit and {0, retry_after_ms} on denial; denials are
// not recorded.
var slidingLogScript = redis.NewScript(`
local t = redis.call("TIME")
local now = tonumber(t[1]) * 1000 + math.floor(tonumber(t[2]) / 1000)
local window = tonumber(ARGV[1])
local max = tonumber(ARGV[2])

redis.call("ZREMRANGEBYSCORE", KEYS[1], "-inf", now - window)
if redis.call("ZCARD", KEYS[1]) < max then
	redis.call("ZADD", KEYS[1], now, ARGV[3])
	redis.call("PEXPIRE", KEYS[1], window)
	return {1, 0}
end
local oldest = redis.call("ZRANGE", KEYS[1], 0, 0, "WITHSCORES")
return {0, tonumber(oldest[2]) + window - now}
`)

// Redis is a sliding-log limiter shared by every API replica. All replicas read the clock
// of the Redis server, so their own clock skew does not matter.
type Redis struct {
	client redis.Scripter
	policy Policy
	prefix string
}

func NewRedis(client redis.Scripter, policy Policy) *Redis {
	return &Redis{
		client: client,
		policy: policy.normalized(),
		prefix: "gthanks:ratelimit",
	}
}

func (r *Redis) Check(ctx context.Context, scope, key string) (Decision, error) {
	redisKey := fmt.Sprintf("%s:%s:%s", r.prefix, scope, key)
	args := []interface{}{r.policy.Window.Milliseconds(), r.policy.Max, uuid.NewString()}
	res, err := slidingLogScript.Run(ctx, r.client, []string{redisKey}, args...).Result()
	if err != nil {
		return Decision{}, fmt.Errorf("run rate limit script: %w", err)
	}

	values, ok := res.([]interface{})
	if !ok || len(values) != 2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply %T", res)
	}
	admitted, ok1 := values[0].(int64)
	retryMs, ok2 := values[1].(int64)
	if !ok1 || !ok2 {
		return Decision{}, fmt.Errorf("unexpected rate limit reply values %v", values)
	}

	if admitted == 1 {
		return Decision{Allowed: true}, nil
	}
	retryAfter := time.Duration(retryMs) * time.Millisecond
	if retryAfter <= 0 {
		retryAfter = time.Millisecond
	}
	return Decision{Allowed: false, RetryAfter: retryAfter}, nil
}

// NewRedisClient builds a client from an address or redis:// URL.
func NewRedisClient(addr string) (*redis.Client, error) {
	if opts, err := redis.ParseURL(addr); err == nil {
		return redis.NewClient(opts), nil
	}
	if addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	return redis.NewClient(&redis.Options{Addr: addr}), nil
}
