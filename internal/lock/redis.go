package lock

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// releaseScript deletes the lock key only if it still carries our token,
// so an expired lock that was taken over by someone else is left alone.
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// RedisConfig tunes a RedisLocker.
//   Prefix – key namespace, e.g. "lock".
//   TTL    – lease of a held lock; it bounds how long a crashed holder
//            blocks the event.
//   Wait   – how long Lock keeps retrying before ErrNotAcquired.
//   Retry  – pause between attempts.
type RedisConfig struct {
	Prefix string
	TTL    time.Duration
	Wait   time.Duration
	Retry  time.Duration
}

// RedisLocker is a SET NX PX lease lock.
type RedisLocker struct {
	rdb   redis.Cmdable
	cfg   RedisConfig
	log   *zap.Logger
	token func() string
}

// NewRedisLocker returns a locker backed by rdb.  Zero config values are
// replaced with defaults.
func NewRedisLocker(rdb redis.Cmdable, cfg RedisConfig, log *zap.Logger) *RedisLocker {
	if cfg.Prefix == "" {
		cfg.Prefix = "lock"
	}
	if cfg.TTL <= 0 {
		cfg.TTL = 10 * time.Second
	}
	if cfg.Wait <= 0 {
		cfg.Wait = 3 * time.Second
	}
	if cfg.Retry <= 0 {
		cfg.Retry = 25 * time.Millisecond
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &RedisLocker{rdb: rdb, cfg: cfg, log: log, token: uuid.NewString}
}

// Lock takes the lease for key, retrying until cfg.Wait has passed.
func (l *RedisLocker) Lock(ctx context.Context, key string) (func(), error) {
	k := l.cfg.Prefix + ":" + key
	token := l.token()

	wctx, cancel := context.WithTimeout(ctx, l.cfg.Wait)
	defer cancel()

	for {
		ok, err := l.rdb.SetNX(wctx, k, token, l.cfg.TTL).Result()
		if err != nil {
			return nil, fmt.Errorf("lock %s: %w", key, err)
		}
		if ok {
			return l.unlocker(k, token), nil
		}
		t := time.NewTimer(l.cfg.Retry)
		select {
		case <-wctx.Done():
			t.Stop()
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			return nil, fmt.Errorf("lock %s: %w", key, ErrNotAcquired)
		case <-t.C:
		}
	}
}

func (l *RedisLocker) unlocker(k, token string) func() {
	return func() {
		// release even if the request context is already gone
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		n, err := releaseScript.Run(ctx, l.rdb, []string{k}, token).Int64()
		if err != nil {
			l.log.Warn("lock release failed", zap.String("key", k), zap.Error(err))
			return
		}
		if n == 0 {
			l.log.Warn("lock lease expired before release", zap.String("key", k))
		}
	}
}
