package lock

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/redis/go-redis/v9"
)

// RedisLocker is a single-instance Redis lock: SET key token NX PX ttl, released
// with a compare-and-delete script so an expired holder cannot drop a lock that
// has since been taken by someone else.
type RedisLocker struct {
	rdb    redis.Cmdable
	logger *slog.Logger
	prefix string
	ttl    time.Duration
	wait   time.Duration

	initialBackoff time.Duration
	newToken       func() string
}

type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder can block a key.
	TTL time.Duration
	// Wait bounds how long Lock retries on a contended key.
	Wait time.Duration
}

var releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
  return redis.call("DEL", KEYS[1])
end
return 0
`)

func NewRedisLocker(rdb redis.Cmdable, logger *slog.Logger, opts RedisOptions) *RedisLocker {
	prefix := strings.TrimSpace(opts.Prefix)
	if prefix == "" {
		prefix = "lock"
	}
	if opts.TTL <= 0 {
		opts.TTL = 10 * time.Second
	}
	if opts.Wait <= 0 {
		opts.Wait = 3 * time.Second
	}
	return &RedisLocker{
		rdb:            rdb,
		logger:         logger,
		prefix:         prefix,
		ttl:            opts.TTL,
		wait:           opts.Wait,
		initialBackoff: 20 * time.Millisecond,
		newToken:       randomToken,
	}
}

func (l *RedisLocker) Lock(ctx context.Context, key string) (Unlock, error) {
	redisKey := l.prefix + ":" + key
	token := l.newToken()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = l.initialBackoff
	b.MaxInterval = 250 * time.Millisecond

	_, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := l.rdb.SetNX(ctx, redisKey, token, l.ttl).Result()
		if err != nil {
			return false, backoff.Permanent(err)
		}
		if !ok {
			return false, errContended
		}
		return true, nil
	}, backoff.WithBackOff(b), backoff.WithMaxElapsedTime(l.wait))
	switch {
	case err == nil:
	case errors.Is(err, errContended), ctx.Err() != nil:
		return nil, fmt.Errorf("%w: %s: %w", ErrNotAcquired, key, err)
	default:
		// Redis itself failed; that is not contention.
		return nil, fmt.Errorf("redis lock %s: %w", key, err)
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			// Release must outlive a cancelled request context.
			releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
			defer cancel()
			if err := releaseScript.Run(releaseCtx, l.rdb, []string{redisKey}, token).Err(); err != nil && l.logger != nil {
				l.logger.Warn("redis lock release failed", "key", redisKey, "err", err)
			}
		})
	}, nil
}

// ReadyCheck pings Redis for /readyz.
func (l *RedisLocker) ReadyCheck(ctx context.Context) error {
	return l.rdb.Ping(ctx).Err()
}

var errContended = errors.New("key is held")

func randomToken() string {
	var b [16]byte
	_, _ = rand.Read(b[:])
	return hex.EncodeToString(b[:])
}
