package lock

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"

	"backoffice/internal/core"
)

// RedisOptions tune the distributed locker.
type RedisOptions struct {
	Prefix string
	// TTL bounds how long a crashed holder keeps the key.
	TTL time.Duration
	// Wait bounds how long Acquire retries before giving up.
	Wait    time.Duration
	Backoff time.Duration
}

func (o *RedisOptions) defaults() {
	if o.Prefix == "" {
		o.Prefix = "backoffice:lock:"
	}
	if o.TTL <= 0 {
		o.TTL = 30 * time.Second
	}
	if o.Wait <= 0 {
		o.Wait = 10 * time.Second
	}
	if o.Backoff <= 0 {
		o.Backoff = 100 * time.Millisecond
	}
}

// Redis is a Locker shared by every process talking to the same Redis.
type Redis struct {
	client *redislock.Client
	opts   RedisOptions
}

var _ Locker = (*Redis)(nil)

func NewRedis(rdb redis.UniversalClient, opts RedisOptions) *Redis {
	opts.defaults()
	return &Redis{client: redislock.New(rdb), opts: opts}
}

func (r *Redis) Acquire(ctx context.Context, key string) (func(), error) {
	waitCtx, cancel := context.WithTimeout(ctx, r.opts.Wait)
	defer cancel()

	l, err := r.client.Obtain(waitCtx, r.opts.Prefix+key, r.opts.TTL, &redislock.Options{
		RetryStrategy: redislock.LinearBackoff(r.opts.Backoff),
	})
	switch {
	case err == nil:
	case ctx.Err() != nil:
		return nil, ctx.Err()
	case errors.Is(err, redislock.ErrNotObtained):
		return nil, core.Errorf(core.KindConflict, "lock.acquire", "lock %q is held elsewhere", key)
	default:
		return nil, core.E(core.KindTransport, "lock.acquire", err)
	}

	return func() {
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			slog.Warn("Failed to release redis lock", "key", key, "error", err)
		}
	}, nil
}
