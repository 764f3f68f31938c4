package diagnostics

import (
	"context"
	"errors"
	"strings"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/attribution-backend/pkg/enums"
	"github.com/angelmondragon/attribution-backend/pkg/logger"
	"github.com/angelmondragon/attribution-backend/pkg/redis"
)

const (
	defaultNameTTL     = 6 * time.Hour
	nameLookupParallel = 4
)

// NameSource resolves an ads entity id to its display name.
type NameSource interface {
	EntityName(ctx context.Context, accessToken, entityID string) (string, error)
}

// NameCache stores resolved names. Implementations must be safe for
// concurrent use.
type NameCache interface {
	Get(ctx context.Context, storeID string, level enums.EntityLevel, entityID string) (string, bool)
	Set(ctx context.Context, storeID string, level enums.EntityLevel, entityID, name string)
}

// NoopNameCache never stores anything.
type NoopNameCache struct{}

func (NoopNameCache) Get(context.Context, string, enums.EntityLevel, string) (string, bool) {
	return "", false
}

func (NoopNameCache) Set(context.Context, string, enums.EntityLevel, string, string) {}

// RedisNameCache keeps names in Redis with a TTL. Cache errors are treated as
// misses.
type RedisNameCache struct {
	store redis.KeyValueStore
	ttl   time.Duration
	logg  *logger.Logger
}

func NewRedisNameCache(store redis.KeyValueStore, ttl time.Duration, logg *logger.Logger) *RedisNameCache {
	if ttl <= 0 {
		ttl = defaultNameTTL
	}
	return &RedisNameCache{store: store, ttl: ttl, logg: logg}
}

func (c *RedisNameCache) Get(ctx context.Context, storeID string, level enums.EntityLevel, entityID string) (string, bool) {
	value, err := c.store.Get(ctx, c.store.EntityNameKey(storeID, string(level), entityID))
	if err != nil {
		if !errors.Is(err, goredis.Nil) && c.logg != nil {
			c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "entity name cache read failed")
		}
		return "", false
	}
	return value, value != ""
}

func (c *RedisNameCache) Set(ctx context.Context, storeID string, level enums.EntityLevel, entityID, name string) {
	if err := c.store.Set(ctx, c.store.EntityNameKey(storeID, string(level), entityID), name, c.ttl); err != nil && c.logg != nil {
		c.logg.Warn(c.logg.WithField(ctx, "error", err.Error()), "entity name cache write failed")
	}
}

// NameEnricher fills EntityStat names through a cache and a name source.
type NameEnricher struct {
	source NameSource
	cache  NameCache
	logg   *logger.Logger
}

// NewNameEnricher returns an enricher; a nil source leaves names as raw ids
// and a nil cache disables caching.
func NewNameEnricher(source NameSource, cache NameCache, logg *logger.Logger) *NameEnricher {
	if cache == nil {
		cache = NoopNameCache{}
	}
	return &NameEnricher{source: source, cache: cache, logg: logg}
}

// Enrich resolves names in place. Failed lookups keep the raw id as the name.
func (e *NameEnricher) Enrich(ctx context.Context, storeID string, accessToken string, level enums.EntityLevel, stats []EntityStat) {
	if e == nil || len(stats) == 0 {
		return
	}

	var pending []int
	for i := range stats {
		stats[i].Name = stats[i].ID
		if name, ok := e.cache.Get(ctx, storeID, level, stats[i].ID); ok {
			stats[i].Name = name
			continue
		}
		pending = append(pending, i)
	}
	if len(pending) == 0 || e.source == nil || strings.TrimSpace(accessToken) == "" {
		return
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.SetLimit(nameLookupParallel)
	for _, i := range pending {
		i := i
		group.Go(func() error {
			name, err := e.source.EntityName(groupCtx, accessToken, stats[i].ID)
			if err != nil {
				if e.logg != nil {
					e.logg.Warn(e.logg.WithFields(groupCtx, map[string]any{
						"entity_id": stats[i].ID,
						"error":     err.Error(),
					}), "entity name lookup failed")
				}
				return nil
			}
			if name = strings.TrimSpace(name); name == "" {
				return nil
			}
			stats[i].Name = name
			e.cache.Set(groupCtx, storeID, level, stats[i].ID, name)
			return nil
		})
	}
	_ = group.Wait()
}
