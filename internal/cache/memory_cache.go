package cache

import (
	"context"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"warungpos/backend/internal/domain"
)

// MemorySettingsCache keeps the settings in process. It is used when no
// Redis address is configured.
type MemorySettingsCache struct {
	items *gocache.Cache
}

func NewMemorySettingsCache(defaultTTL time.Duration) *MemorySettingsCache {
	return &MemorySettingsCache{items: gocache.New(defaultTTL, 2*defaultTTL)}
}

func (c *MemorySettingsCache) Get(_ context.Context) (domain.Settings, bool, error) {
	v, found := c.items.Get(settingsKey)
	if !found {
		return domain.Settings{}, false, nil
	}
	settings, ok := v.(domain.Settings)
	return settings, ok, nil
}

func (c *MemorySettingsCache) Set(_ context.Context, value domain.Settings, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = gocache.DefaultExpiration
	}
	c.items.Set(settingsKey, value, ttl)
	return nil
}

func (c *MemorySettingsCache) Invalidate(_ context.Context) error {
	c.items.Delete(settingsKey)
	return nil
}
