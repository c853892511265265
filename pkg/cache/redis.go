package cache

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/go-redis/redis/v8"

	apperr "stockrepair/pkg/error"
)

// RedisCacheConfig Redis 缓存配置
type RedisCacheConfig struct {
	Addr       string        `mapstructure:"addr"`
	Password   string        `mapstructure:"password"`
	DB         int           `mapstructure:"db"`
	KeyPrefix  string        `mapstructure:"key_prefix"`
	DefaultTTL time.Duration `mapstructure:"default_ttl"`
}

// RedisCache 基于 Redis 的共享缓存，适合多实例共享原始K线
type RedisCache struct {
	client     redis.UniversalClient
	prefix     string
	defaultTTL time.Duration
	hitCount   int64
	missCount  int64
}

// NewRedisCache 根据配置创建 Redis 客户端和缓存
func NewRedisCache(config RedisCacheConfig) *RedisCache {
	client := redis.NewClient(&redis.Options{
		Addr:     config.Addr,
		Password: config.Password,
		DB:       config.DB,
	})
	return NewRedisCacheWithClient(client, config.KeyPrefix, config.DefaultTTL)
}

// NewRedisCacheWithClient 使用已有客户端创建缓存
func NewRedisCacheWithClient(client redis.UniversalClient, prefix string, defaultTTL time.Duration) *RedisCache {
	if defaultTTL <= 0 {
		defaultTTL = 10 * time.Minute
	}
	if prefix == "" {
		prefix = "stockrepair:"
	}
	return &RedisCache{client: client, prefix: prefix, defaultTTL: defaultTTL}
}

// Ping 检查连接状态
func (rc *RedisCache) Ping(ctx context.Context) error {
	if err := rc.client.Ping(ctx).Err(); err != nil {
		return apperr.WrapError(ErrCacheBackend, "redis ping failed", err)
	}
	return nil
}

// Get 获取缓存值，返回 []byte
func (rc *RedisCache) Get(ctx context.Context, key string) (interface{}, error) {
	val, err := rc.client.Get(ctx, rc.prefix+key).Bytes()
	if err == redis.Nil {
		atomic.AddInt64(&rc.missCount, 1)
		return nil, apperr.NewError(ErrCacheMiss, "cache miss").WithContext("key", key)
	}
	if err != nil {
		return nil, apperr.WrapError(ErrCacheBackend, "redis get failed", err).WithContext("key", key)
	}
	atomic.AddInt64(&rc.hitCount, 1)
	return val, nil
}

// Set 设置缓存值，仅接受 []byte 或 string
func (rc *RedisCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	b, ok := Bytes(value)
	if !ok {
		return apperr.NewError(ErrCacheValue, "redis cache only stores []byte or string").WithContext("key", key)
	}
	if ttl <= 0 {
		ttl = rc.defaultTTL
	}
	if err := rc.client.Set(ctx, rc.prefix+key, b, ttl).Err(); err != nil {
		return apperr.WrapError(ErrCacheBackend, "redis set failed", err).WithContext("key", key)
	}
	return nil
}

// Delete 删除缓存值
func (rc *RedisCache) Delete(ctx context.Context, key string) error {
	if err := rc.client.Del(ctx, rc.prefix+key).Err(); err != nil {
		return apperr.WrapError(ErrCacheBackend, "redis del failed", err).WithContext("key", key)
	}
	return nil
}

// Clear 删除本前缀下的全部键
func (rc *RedisCache) Clear(ctx context.Context) error {
	iter := rc.client.Scan(ctx, 0, rc.prefix+"*", 100).Iterator()
	var keys []string
	for iter.Next(ctx) {
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return apperr.WrapError(ErrCacheBackend, "redis scan failed", err)
	}
	if len(keys) == 0 {
		return nil
	}
	if err := rc.client.Del(ctx, keys...).Err(); err != nil {
		return apperr.WrapError(ErrCacheBackend, "redis del failed", err)
	}
	atomic.StoreInt64(&rc.hitCount, 0)
	atomic.StoreInt64(&rc.missCount, 0)
	return nil
}

// Stats 获取命中统计，Size 不查询服务端
func (rc *RedisCache) Stats() CacheStats {
	hit := atomic.LoadInt64(&rc.hitCount)
	miss := atomic.LoadInt64(&rc.missCount)
	var rate float64
	if total := hit + miss; total > 0 {
		rate = float64(hit) / float64(total)
	}
	return CacheStats{HitCount: hit, MissCount: miss, HitRate: rate, TTL: rc.defaultTTL}
}

// Close 关闭客户端
func (rc *RedisCache) Close() error {
	return rc.client.Close()
}

var _ Cache = (*RedisCache)(nil)
