// Package ratelimit implements sliding-window admission control shared
// across API instances through Redis. The check-and-record step runs as a
// single Lua script so two concurrent requests from the same client cannot
// both slip under the ceiling.
package ratelimit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Class buckets endpoints with different throughput profiles; ceilings are
// configured per class, not per route.
type Class string

const (
	Upload   Class = "upload"
	Convert  Class = "convert"
	Download Class = "download"
	API      Class = "api"
	Status   Class = "status"
)

type Result struct {
	Allowed    bool
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the broker was unreachable and the request was
	// admitted under the fail-open policy.
	Degraded bool
}

// slidingWindow purges expired entries, counts the rest and either rejects
// or records the request, atomically. KEYS[1] window zset; ARGV: now (ms),
// window (ms), ceiling, unique member. Returns {allowed, used, resetAt ms}.
var slidingWindow = r.NewScript(`
local now = tonumber(ARGV[1])
local window = tonumber(ARGV[2])
local limit = tonumber(ARGV[3])
redis.call('ZREMRANGEBYSCORE', KEYS[1], '-inf', now - window)
local count = redis.call('ZCARD', KEYS[1])
if count >= limit then
  local oldest = redis.call('ZRANGE', KEYS[1], 0, 0, 'WITHSCORES')
  local reset = now + window
  if oldest[2] then
    reset = tonumber(oldest[2]) + window
  end
  return {0, count, reset}
end
redis.call('ZADD', KEYS[1], now, ARGV[4])
redis.call('PEXPIRE', KEYS[1], window)
return {1, count + 1, now + window}
`)

type Limiter struct {
	rdb      *r.Client
	log      *zap.Logger
	window   time.Duration
	limits   map[Class]int
	failOpen bool
}

func New(rdb *r.Client, log *zap.Logger, window time.Duration, limits map[Class]int, failOpen bool) *Limiter {
	return &Limiter{rdb: rdb, log: log, window: window, limits: limits, failOpen: failOpen}
}

// Check admits or rejects one request for clientKey against the ceiling of
// the endpoint class. If the broker is unreachable the limiter fails open
// (configurable) and flags the result as degraded.
func (l *Limiter) Check(ctx context.Context, clientKey string, class Class) (Result, error) {
	limit, ok := l.limits[class]
	if !ok {
		limit = l.limits[API]
	}

	now := time.Now()
	raw, err := slidingWindow.Run(ctx, l.rdb,
		[]string{"ratelimit:" + string(class) + ":" + clientKey},
		now.UnixMilli(), l.window.Milliseconds(), limit, uuid.NewString(),
	).Int64Slice()
	if err != nil {
		if !l.failOpen {
			return Result{}, errors.Wrap(err, "rate limit store unreachable")
		}
		l.log.Warn("rate limiting degraded, admitting request",
			zap.String("class", string(class)),
			zap.String("client", clientKey),
			zap.Error(err))
		return Result{Allowed: true, Limit: limit, Degraded: true, ResetAt: now.Add(l.window)}, nil
	}
	if len(raw) != 3 {
		return Result{Allowed: true, Limit: limit, Degraded: true, ResetAt: now.Add(l.window)}, nil
	}

	res := Result{
		Allowed: raw[0] == 1,
		Limit:   limit,
		ResetAt: time.UnixMilli(raw[2]),
	}
	if res.Remaining = limit - int(raw[1]); res.Remaining < 0 {
		res.Remaining = 0
	}
	if !res.Allowed {
		res.RetryAfter = time.Until(res.ResetAt)
		if res.RetryAfter < 0 {
			res.RetryAfter = 0
		}
	}
	return res, nil
}
