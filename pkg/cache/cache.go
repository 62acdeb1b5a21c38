package cache

import (
	"context"
	"errors"
	"time"

	"github.com/go-redis/cache/v9"
	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("cache",
	fx.Provide(New),
)

var ErrCacheMiss = cache.ErrCacheMiss

type ReadOnlyCache interface {
	Get(ctx context.Context, key string, target any) error
}

type Cache interface {
	ReadOnlyCache
	Set(ctx context.Context, key string, value any, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// UseCache reads key into a T, calling callback and storing its result on
// a miss. Any other cache error is returned as is.
func UseCache[T any](ctx context.Context, c Cache, key string, ttl time.Duration, callback func() (T, error)) (T, error) {
	var v T
	err := c.Get(ctx, key, &v)
	if !errors.Is(err, ErrCacheMiss) {
		return v, err
	}

	v, err = callback()
	if err != nil {
		return v, err
	}

	if err := c.Set(ctx, key, v, ttl); err != nil {
		zap.L().Warn("[Cache] failed to store value", zap.String("key", key), zap.Error(err))
	}
	return v, nil
}

type redisCache struct {
	instance *cache.Cache
}

func (c *redisCache) Get(ctx context.Context, key string, target any) error {
	return c.instance.Get(ctx, key, target)
}

func (c *redisCache) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return c.instance.Set(&cache.Item{
		Ctx:   ctx,
		Key:   key,
		Value: value,
		TTL:   ttl,
	})
}

func (c *redisCache) Delete(ctx context.Context, key string) error {
	return c.instance.Delete(ctx, key)
}

func NewRedisCache(client redis.UniversalClient, withLocalCache bool) Cache {
	var localCache cache.LocalCache
	if withLocalCache {
		localCache = cache.NewTinyLFU(10000, time.Minute)
	}
	return &redisCache{cache.New(&cache.Options{
		Redis:      client,
		LocalCache: localCache,
	})}
}

type Params struct {
	fx.In
	Redis *redis.Client `optional:"true"`
}

// New returns a redis backed cache with a local TinyLFU tier, or an
// in-process only cache when redis is not wired.
func New(p Params) Cache {
	if p.Redis == nil {
		zap.L().Warn("[Cache] redis not provided, caching in process only")
		return &redisCache{cache.New(&cache.Options{
			LocalCache: cache.NewTinyLFU(10000, time.Minute),
		})}
	}
	return NewRedisCache(p.Redis, true)
}
