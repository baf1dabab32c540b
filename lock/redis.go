package lock

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/warp/allocation-engine/core"
)

// Redis holds a short lease on a Redis key per lock. The lease outlives
// any single ledger operation; if the holder dies it expires on its own.
type Redis struct {
	client  *redislock.Client
	ttl     time.Duration
	backoff time.Duration
	retries int
	prefix  string
	logger  *zap.Logger
}

var _ core.Locker = (*Redis)(nil)

type RedisOption func(*Redis)

func WithTTL(d time.Duration) RedisOption { return func(r *Redis) { r.ttl = d } }

// WithBackoff sets the linear retry interval and the number of attempts
// made while waiting for a held key.
func WithBackoff(interval time.Duration, retries int) RedisOption {
	return func(r *Redis) {
		r.backoff = interval
		r.retries = retries
	}
}

func WithPrefix(p string) RedisOption { return func(r *Redis) { r.prefix = p } }

func WithRedisLogger(l *zap.Logger) RedisOption { return func(r *Redis) { r.logger = l } }

func NewRedis(client redis.UniversalClient, opts ...RedisOption) *Redis {
	r := &Redis{
		client:  redislock.New(client),
		ttl:     10 * time.Second,
		backoff: 50 * time.Millisecond,
		retries: 40,
		prefix:  "alloc:lock:",
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Lock obtains the lease, retrying while another holder has it.
func (r *Redis) Lock(ctx context.Context, key string) (func(), error) {
	strategy := redislock.LimitRetry(redislock.LinearBackoff(r.backoff), r.retries)
	l, err := r.client.Obtain(ctx, r.prefix+key, r.ttl, &redislock.Options{RetryStrategy: strategy})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: lock %s held elsewhere", core.ErrConcurrentModification, key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain lock %s: %w", key, err)
	}

	return func() {
		// Release with a fresh context: the request context may already be done.
		releaseCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		if err := l.Release(releaseCtx); err != nil && !errors.Is(err, redislock.ErrLockNotHeld) {
			r.logger.Warn("failed to release lock", zap.String("key", key), zap.Error(err))
		}
	}, nil
}
