package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// fixedWindowScript returns the window count and the milliseconds left in it.
var fixedWindowScript = redis.NewScript(`
local count = redis.call("INCR", KEYS[1])
if count == 1 then
  redis.call("PEXPIRE", KEYS[1], ARGV[1])
end
return {count, redis.call("PTTL", KEYS[1])}
`)

// Config configures a FixedWindowLimiter. Client takes precedence over Addr.
type Config struct {
	Client   redis.UniversalClient
	Addr     string
	Password string
	Prefix   string
	Limit    int
	Window   time.Duration
}

// Decision is the outcome of one Allow call.
type Decision struct {
	Allowed    bool
	Remaining  int
	RetryAfter time.Duration
}

// FixedWindowLimiter limits requests per key in a fixed time window shared
// through Redis by every replica.
type FixedWindowLimiter struct {
	limit  int
	window time.Duration
	client redis.UniversalClient
	prefix string
	owned  bool
}

// NewFixedWindowLimiter creates a Redis-backed limiter.
func NewFixedWindowLimiter(cfg Config) (*FixedWindowLimiter, error) {
	if cfg.Limit <= 0 || cfg.Window <= 0 {
		return nil, errors.New("rate limiter requires positive limit and window")
	}
	l := &FixedWindowLimiter{limit: cfg.Limit, window: cfg.Window, client: cfg.Client}
	if l.client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("rate limiter redis addr is required")
		}
		l.client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
		l.owned = true
	}
	l.prefix = strings.TrimSpace(cfg.Prefix)
	if l.prefix == "" {
		l.prefix = "mindcast:ratelimit"
	}
	return l, nil
}

// Allow counts one request for key. Redis failures deny the request and are
// returned alongside the decision.
func (l *FixedWindowLimiter) Allow(ctx context.Context, key string) (Decision, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		key = "unknown"
	}
	windowMs := l.window.Milliseconds()
	slot := time.Now().UTC().UnixMilli() / windowMs
	redisKey := fmt.Sprintf("%s:%s:%d", l.prefix, key, slot)
	vals, err := fixedWindowScript.Run(ctx, l.client, []string{redisKey}, windowMs).Int64Slice()
	if err != nil {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: %w", key, err)
	}
	if len(vals) != 2 {
		return Decision{RetryAfter: l.window}, fmt.Errorf("rate limit %s: unexpected reply %v", key, vals)
	}
	count, ttl := vals[0], vals[1]
	d := Decision{Allowed: count <= int64(l.limit), Remaining: l.limit - int(count)}
	if d.Remaining < 0 {
		d.Remaining = 0
	}
	if !d.Allowed {
		d.RetryAfter = l.window
		if ttl > 0 {
			d.RetryAfter = time.Duration(ttl) * time.Millisecond
		}
	}
	return d, nil
}

// Close releases the Redis client when the limiter created it.
func (l *FixedWindowLimiter) Close() error {
	if l.owned {
		return l.client.Close()
	}
	return nil
}
