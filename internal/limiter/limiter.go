// Package limiter implements the Redis-backed admission gates: a sliding
// window limiter per endpoint class, the per-user daily generation quota
// and the per-user single-flight lock for the generation pipeline. All
// counters are mutated inside Lua scripts so concurrent request workers
// cannot race the check against the increment.
package limiter

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrUnavailable is returned when the counting store cannot be reached.
// The window middleware fails open on it; the daily quota gate fails
// closed because it caps spend on the paid upstream.
var ErrUnavailable = errors.New("counting store unavailable")

// Verdict is the result of a sliding-window admission check.
type Verdict struct {
	Allowed    bool
	Remaining  int64
	RetryAfter time.Duration // earliest retry on rejection, zero otherwise
}

// slidingWindowScript counts request timestamps in a ZSET. Old entries are
// trimmed, the current request is admitted only while the window holds
// fewer than `limit` entries, and the oldest surviving entry determines the
// retry hint on rejection. Everything happens in one round trip.
var slidingWindowScript = redis.NewScript(`
	local key = KEYS[1]
	local now_ms = tonumber(ARGV[1])
	local window_ms = tonumber(ARGV[2])
	local limit = tonumber(ARGV[3])

	redis.call('ZREMRANGEBYSCORE', key, 0, now_ms - window_ms)
	local count = redis.call('ZCARD', key)

	if count < limit then
		redis.call('ZADD', key, now_ms, now_ms .. '-' .. math.random(1000000))
		redis.call('PEXPIRE', key, window_ms)
		return { 1, limit - count - 1, 0 }
	end

	local oldest = redis.call('ZRANGE', key, 0, 0, 'WITHSCORES')
	local retry_ms = 0
	if oldest[2] then
		retry_ms = math.max(0, tonumber(oldest[2]) + window_ms - now_ms)
	end
	return { 0, 0, retry_ms }
`)

// dailyQuotaScript performs the atomic increment-and-compare for the daily
// generation quota. The counter is only incremented while below the limit,
// so racing workers can never push a user past it. Expiry is set on first
// increment to the remaining seconds of the UTC day.
var dailyQuotaScript = redis.NewScript(`
	local key = KEYS[1]
	local limit = tonumber(ARGV[1])
	local ttl = tonumber(ARGV[2])

	local count = tonumber(redis.call('GET', key) or '0')
	if count >= limit then
		return { 0, count }
	end

	count = redis.call('INCR', key)
	if count == 1 then
		redis.call('EXPIRE', key, ttl)
	end
	return { 1, count }
`)

// Window is a sliding-window limiter for one endpoint class.
type Window struct {
	rdb    *redis.Client
	prefix string
	limit  int
	window time.Duration
}

// NewWindow builds a limiter over the given Redis client. rdb may be nil;
// Admit then reports ErrUnavailable and callers pick their failure
// direction.
func NewWindow(rdb *redis.Client, prefix string, limit int, window time.Duration) *Window {
	return &Window{rdb: rdb, prefix: prefix, limit: limit, window: window}
}

// Admit records one request for identity and reports whether it fits the
// window.
func (w *Window) Admit(ctx context.Context, identity string) (Verdict, error) {
	if w.rdb == nil {
		return Verdict{}, ErrUnavailable
	}
	key := w.prefix + ":" + identity
	vals, err := slidingWindowScript.Run(ctx, w.rdb, []string{key},
		time.Now().UnixMilli(), w.window.Milliseconds(), w.limit).Int64Slice()
	if err != nil || len(vals) != 3 {
		return Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return Verdict{
		Allowed:    vals[0] == 1,
		Remaining:  vals[1],
		RetryAfter: time.Duration(vals[2]) * time.Millisecond,
	}, nil
}

// Limit returns the configured window capacity.
func (w *Window) Limit() int { return w.limit }

// QuotaVerdict is the result of a daily-quota consumption attempt.
type QuotaVerdict struct {
	Allowed   bool
	Count     int64 // today's count after the call
	Remaining int64
}

// DailyQuota caps generations per user per UTC day.
type DailyQuota struct {
	rdb   *redis.Client
	limit int
}

func NewDailyQuota(rdb *redis.Client, limit int) *DailyQuota {
	return &DailyQuota{rdb: rdb, limit: limit}
}

// dailyKey builds the per-user counter key for the current UTC date.
// Format: gen_limit:{userID}:{YYYY-MM-DD}.
func dailyKey(userID uint64, now time.Time) string {
	return fmt.Sprintf("gen_limit:%d:%s", userID, now.UTC().Format("2006-01-02"))
}

// SecondsUntilReset reports how long until the daily counters roll over.
// Handlers use it as the Retry-After value on quota rejections.
func SecondsUntilReset(now time.Time) int64 {
	return secondsUntilUTCMidnight(now)
}

// secondsUntilUTCMidnight returns the TTL that makes a quota key expire at
// the next UTC day boundary.
func secondsUntilUTCMidnight(now time.Time) int64 {
	now = now.UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC).Add(24 * time.Hour)
	secs := int64(next.Sub(now).Seconds())
	if secs < 1 {
		secs = 1
	}
	return secs
}

// Consume atomically counts one generation against today's quota. It must
// be called only when the caller is about to run the pipeline: a rejected
// consume leaves the counter untouched.
func (q *DailyQuota) Consume(ctx context.Context, userID uint64) (QuotaVerdict, error) {
	if q.rdb == nil {
		return QuotaVerdict{}, ErrUnavailable
	}
	now := time.Now()
	vals, err := dailyQuotaScript.Run(ctx, q.rdb, []string{dailyKey(userID, now)},
		q.limit, secondsUntilUTCMidnight(now)).Int64Slice()
	if err != nil || len(vals) != 2 {
		return QuotaVerdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	v := QuotaVerdict{Allowed: vals[0] == 1, Count: vals[1]}
	if rem := int64(q.limit) - v.Count; rem > 0 {
		v.Remaining = rem
	}
	return v, nil
}

// Count reads today's counter without consuming.
func (q *DailyQuota) Count(ctx context.Context, userID uint64) (int64, error) {
	if q.rdb == nil {
		return 0, ErrUnavailable
	}
	n, err := q.rdb.Get(ctx, dailyKey(userID, time.Now())).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return n, nil
}

// Reset clears today's counter for a user. Admin use only.
func (q *DailyQuota) Reset(ctx context.Context, userID uint64) error {
	if q.rdb == nil {
		return ErrUnavailable
	}
	return q.rdb.Del(ctx, dailyKey(userID, time.Now())).Err()
}

// Limit returns the configured daily cap.
func (q *DailyQuota) Limit() int { return q.limit }

// SingleFlight serializes generations per user. The original UI only had an
// advisory client-side boolean; a second tab or a replayed request could
// race the server, so the lock lives here instead. The TTL guards against a
// crashed worker pinning a user forever.
type SingleFlight struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewSingleFlight(rdb *redis.Client, ttl time.Duration) *SingleFlight {
	return &SingleFlight{rdb: rdb, ttl: ttl}
}

func flightKey(userID uint64) string {
	return fmt.Sprintf("gen_inflight:%d", userID)
}

// Acquire takes the per-user lock. Returns false when a generation is
// already in flight for this user.
func (s *SingleFlight) Acquire(ctx context.Context, userID uint64) (bool, error) {
	if s.rdb == nil {
		return false, ErrUnavailable
	}
	ok, err := s.rdb.SetNX(ctx, flightKey(userID), 1, s.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return ok, nil
}

// Release drops the per-user lock. Errors are swallowed; the TTL cleans up.
func (s *SingleFlight) Release(ctx context.Context, userID uint64) {
	if s.rdb == nil {
		return
	}
	_ = s.rdb.Del(ctx, flightKey(userID)).Err()
}
