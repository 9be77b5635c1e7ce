// Package ratelimit implements a distributed per-tenant token bucket over
// Redis, used to gate ingestion volume by plan.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Lua script for atomic token bucket refill and take. Keeping the check and
// the update in one script makes the bucket race-free across ingest replicas.
const tokenBucketScript = `
local bucket_key = KEYS[1]
local capacity = tonumber(ARGV[1])
local refill = tonumber(ARGV[2])
local interval = tonumber(ARGV[3])
local now = tonumber(ARGV[4])

local state = redis.call('HMGET', bucket_key, 'tokens', 'last_refill')
local tokens = tonumber(state[1]) or capacity
local last_refill = tonumber(state[2]) or now

local elapsed = now - last_refill
local intervals_passed = math.floor(elapsed / interval)
if intervals_passed > 0 then
	tokens = math.min(capacity, tokens + (intervals_passed * refill))
	last_refill = now
end

local allowed = 0
if tokens >= 1 then
	tokens = tokens - 1
	allowed = 1
end
redis.call('HMSET', bucket_key, 'tokens', tokens, 'last_refill', last_refill)
redis.call('EXPIRE', bucket_key, interval * 2)
return {allowed, tokens}
`

// TenantLimiter rate-limits ingest calls per tenant using a Redis token bucket.
type TenantLimiter struct {
	rdb      *redis.Client
	capacity int64
	refill   int64
	interval time.Duration
	prefix   string
}

// NewTenantLimiter creates a limiter. capacity is the burst size, refill the
// tokens added per interval.
func NewTenantLimiter(rdb *redis.Client, capacity, refill int64, interval time.Duration) *TenantLimiter {
	return &TenantLimiter{
		rdb:      rdb,
		capacity: capacity,
		refill:   refill,
		interval: interval,
		prefix:   "sentra:rl:",
	}
}

// Allow reports whether one ingest call for the tenant may proceed, and how
// many tokens remain. A Redis failure fails open: ingestion availability wins
// over precise limiting.
func (l *TenantLimiter) Allow(ctx context.Context, tenantID string) (bool, int64, error) {
	key := l.prefix + tenantID
	res, err := l.rdb.Eval(ctx, tokenBucketScript, []string{key},
		l.capacity, l.refill, int64(l.interval.Seconds()), time.Now().Unix()).Result()
	if err != nil {
		return true, 0, fmt.Errorf("rate limit check failed: %w", err)
	}

	vals, ok := res.([]interface{})
	if !ok || len(vals) != 2 {
		return true, 0, fmt.Errorf("unexpected rate limit script result: %v", res)
	}
	allowed, _ := vals[0].(int64)
	remaining, _ := vals[1].(int64)
	return allowed == 1, remaining, nil
}
