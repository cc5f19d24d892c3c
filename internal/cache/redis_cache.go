package cache

import (
	"context"
	"time"

	"github.com/goccy/go-json"
	redis "github.com/redis/go-redis/v9"

	"warungpos/backend/internal/domain"
)

const settingsKey = "warungpos:settings:" + domain.SettingsKey

// RedisSettingsCache shares the settings singleton between every process
// attached to the same database.
type RedisSettingsCache struct {
	client *redis.Client
}

func NewRedisClient(addr string, password string, db int) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
}

func NewRedisSettingsCache(client *redis.Client) *RedisSettingsCache {
	return &RedisSettingsCache{client: client}
}

func (c *RedisSettingsCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *RedisSettingsCache) Get(ctx context.Context) (domain.Settings, bool, error) {
	val, err := c.client.Get(ctx, settingsKey).Result()
	if err == redis.Nil {
		return domain.Settings{}, false, nil
	}
	if err != nil {
		return domain.Settings{}, false, err
	}

	var settings domain.Settings
	if err := json.Unmarshal([]byte(val), &settings); err != nil {
		return domain.Settings{}, false, err
	}
	return settings, true, nil
}

func (c *RedisSettingsCache) Set(ctx context.Context, value domain.Settings, ttl time.Duration) error {
	payload, err := json.Marshal(value)
	if err != nil {
		return err
	}
	return c.client.Set(ctx, settingsKey, payload, ttl).Err()
}

func (c *RedisSettingsCache) Invalidate(ctx context.Context) error {
	return c.client.Del(ctx, settingsKey).Err()
}
