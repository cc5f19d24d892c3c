package migrate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bsm/redislock"
	redis "github.com/redis/go-redis/v9"

	"warungpos/backend/internal/store"
)

// RedisLocker holds a redis lock for the duration of a migration so terminals
// sharing one database never migrate concurrently.
type RedisLocker struct {
	client *redislock.Client
	key    string
	ttl    time.Duration
	retry  redislock.RetryStrategy
}

func NewRedisLocker(rdb *redis.Client, key string, ttl time.Duration) *RedisLocker {
	if key == "" {
		key = "warungpos:migrate"
	}
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &RedisLocker{
		client: redislock.New(rdb),
		key:    key,
		ttl:    ttl,
		retry:  redislock.LimitRetry(redislock.LinearBackoff(250*time.Millisecond), 40),
	}
}

func (l *RedisLocker) Lock(ctx context.Context) (func(context.Context) error, error) {
	lock, err := l.client.Obtain(ctx, l.key, l.ttl, &redislock.Options{RetryStrategy: l.retry})
	if errors.Is(err, redislock.ErrNotObtained) {
		return nil, fmt.Errorf("%w: migration lock %s is held by another process", store.ErrStoreBusy, l.key)
	}
	if err != nil {
		return nil, fmt.Errorf("obtain migration lock: %w", err)
	}
	return func(ctx context.Context) error {
		err := lock.Release(ctx)
		if errors.Is(err, redislock.ErrLockNotHeld) {
			return nil
		}
		return err
	}, nil
}
