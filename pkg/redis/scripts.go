package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// windowScript increments the counter and arms its expiry in one round trip,
// returning the count and remaining window in milliseconds.
var windowScript = redis.NewScript(`
local n = redis.call('INCR', KEYS[1])
if n == 1 then
  redis.call('PEXPIRE', KEYS[1], ARGV[1])
end
return {n, redis.call('PTTL', KEYS[1])}
`)

// unlockScript deletes the lock only while ARGV[1] still owns it.
var unlockScript = redis.NewScript(`
if redis.call('GET', KEYS[1]) == ARGV[1] then
  return redis.call('DEL', KEYS[1])
end
return 0
`)

// WindowResult reports a fixed-window decision.
type WindowResult struct {
	Allowed    bool
	Count      int64
	RetryAfter time.Duration
}

type RateLimiter interface {
	Allow(ctx context.Context, scope string, limit int64, window time.Duration) (WindowResult, error)
}

// Allow counts a hit against scope and reports whether it stays within limit.
func (c *Client) Allow(ctx context.Context, scope string, limit int64, window time.Duration) (WindowResult, error) {
	if err := c.ready(); err != nil {
		return WindowResult{}, err
	}
	if window <= 0 {
		return WindowResult{}, fmt.Errorf("rate window must be positive, got %s", window)
	}
	vals, err := windowScript.Run(ctx, c.raw, []string{c.RateLimitKey(scope)}, window.Milliseconds()).Int64Slice()
	if err != nil {
		return WindowResult{}, fmt.Errorf("rate window %s: %w", scope, err)
	}
	if len(vals) != 2 {
		return WindowResult{}, fmt.Errorf("rate window %s: unexpected reply %v", scope, vals)
	}
	res := WindowResult{Count: vals[0], Allowed: vals[0] <= limit}
	if !res.Allowed {
		res.RetryAfter = window
		if vals[1] > 0 {
			res.RetryAfter = time.Duration(vals[1]) * time.Millisecond
		}
	}
	return res, nil
}

// AcquireLock claims the named lock for owner until ttl elapses.
func (c *Client) AcquireLock(ctx context.Context, name, owner string, ttl time.Duration) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	return c.raw.SetNX(ctx, c.LockKey(name), owner, ttl).Result()
}

// ReleaseLock frees the lock if owner still holds it and reports whether it did.
func (c *Client) ReleaseLock(ctx context.Context, name, owner string) (bool, error) {
	if err := c.ready(); err != nil {
		return false, err
	}
	n, err := unlockScript.Run(ctx, c.raw, []string{c.LockKey(name)}, owner).Int64()
	if err != nil {
		return false, fmt.Errorf("release lock %s: %w", name, err)
	}
	return n == 1, nil
}
