// Package lock provides a per-key distributed mutual-exclusion lease on Redis.
package lock

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"mindcast/internal/util"
	"mindcast/pkg/domain"
)

// releaseScript deletes the key only while it still holds our token, so an
// expired lease can never release a lock taken over by another holder.
var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

const (
	defaultPrefix = "mindcast:lock"
	defaultTTL    = 30 * time.Second
)

// Locker hands out non-blocking leases on a key.
type Locker interface {
	TryAcquire(ctx context.Context, key string) (Lease, bool, error)
}

// Lease is proof of holding a key. The zero Lease releases nothing.
type Lease struct {
	Key     string
	Token   string
	release func(ctx context.Context, key, token string) error
}

// Held reports whether the lease was actually granted.
func (l Lease) Held() bool {
	return l.Token != ""
}

// Release gives the key back. Releasing an unheld or already released lease is a no-op.
func (l Lease) Release(ctx context.Context) error {
	if !l.Held() || l.release == nil {
		return nil
	}
	return l.release(ctx, l.Key, l.Token)
}

// RedisLockerConfig configures a RedisLocker.
type RedisLockerConfig struct {
	Addr     string
	Password string
	Client   *redis.Client
	Prefix   string
	TTL      time.Duration
}

// RedisLocker implements Locker with SET NX PX and a token-checked delete.
type RedisLocker struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisLocker builds a RedisLocker. Either Client or Addr is required.
func NewRedisLocker(cfg RedisLockerConfig) (*RedisLocker, error) {
	client := cfg.Client
	if client == nil {
		addr := strings.TrimSpace(cfg.Addr)
		if addr == "" {
			return nil, errors.New("lock redis addr is required")
		}
		client = redis.NewClient(&redis.Options{Addr: addr, Password: cfg.Password})
	}
	prefix := strings.TrimSpace(cfg.Prefix)
	if prefix == "" {
		prefix = defaultPrefix
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &RedisLocker{client: client, prefix: prefix, ttl: ttl}, nil
}

// TryAcquire attempts to take key without blocking. It returns false when another
// holder owns a live lease. The lease expires after the configured TTL so a
// crashed holder cannot wedge the key.
func (l *RedisLocker) TryAcquire(ctx context.Context, key string) (Lease, bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Lease{}, false, errors.New("lock key required")
	}
	token := util.NewID()
	ok, err := l.client.SetNX(ctx, l.redisKey(key), token, l.ttl).Result()
	if err != nil {
		return Lease{}, false, fmt.Errorf("acquire lock %s: %w", key, err)
	}
	if !ok {
		return Lease{}, false, nil
	}
	return Lease{Key: key, Token: token, release: l.release}, true, nil
}

func (l *RedisLocker) release(ctx context.Context, key, token string) error {
	if err := releaseScript.Run(ctx, l.client, []string{l.redisKey(key)}, token).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("release lock %s: %w", key, err)
	}
	return nil
}

// Close closes the Redis client.
func (l *RedisLocker) Close() error {
	return l.client.Close()
}

func (l *RedisLocker) redisKey(key string) string {
	return fmt.Sprintf("%s:%s", l.prefix, key)
}

// WithLock runs fn while holding key. It fails fast with domain.ErrLockContention
// when the key is held elsewhere. Release runs on every path, including when the
// acquisition itself failed (a no-op then) and when fn returns an error or panics.
func WithLock(ctx context.Context, locker Locker, key string, fn func(ctx context.Context) error) (err error) {
	lease, ok, err := locker.TryAcquire(ctx, key)
	defer func() {
		// ctx may already be done; the release must still reach Redis.
		relCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if relErr := lease.Release(relCtx); relErr != nil {
			util.LoggerFromContext(ctx).Warn("lock release failed", "key", key, "err", relErr)
			if err == nil {
				err = relErr
			}
		}
	}()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: key %s", domain.ErrLockContention, key)
	}
	return fn(ctx)
}
