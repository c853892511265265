package decorators

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"stockrepair/pkg/cache"
	"stockrepair/pkg/core"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
)

// CacheConfig 缓存装饰器配置
type CacheConfig struct {
	TTL     time.Duration `yaml:"ttl" mapstructure:"ttl"`
	Enabled bool          `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultCacheConfig 默认缓存10分钟
func DefaultCacheConfig() *CacheConfig {
	return &CacheConfig{TTL: 10 * time.Minute, Enabled: true}
}

// CachedFetcher 缓存装饰器
// 相同请求在 TTL 内直接返回缓存，并发的相同请求只发出一次
type CachedFetcher struct {
	*BaseDecorator

	cache  cache.Cache
	config *CacheConfig
	group  singleflight.Group
	log    *logrus.Entry

	hits   int64
	misses int64
}

// NewCachedFetcher 创建缓存装饰器，store 为空时使用内存缓存
func NewCachedFetcher(base pcore.HistoryFetcher, store cache.Cache, config *CacheConfig) *CachedFetcher {
	if config == nil {
		config = DefaultCacheConfig()
	}
	if store == nil {
		store = cache.NewMemoryCache(cache.MemoryCacheConfig{DefaultTTL: config.TTL})
	}
	return &CachedFetcher{
		BaseDecorator: NewBaseDecorator(base),
		cache:         store,
		config:        config,
		log:           logger.WithComponent("FetchCache"),
	}
}

// Name 返回装饰器名称
func (c *CachedFetcher) Name() string {
	return fmt.Sprintf("Cached(%s)", c.base.Name())
}

// FetchHistory 先查缓存，未命中时获取并写回
func (c *CachedFetcher) FetchHistory(ctx context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	if !c.config.Enabled {
		return c.base.FetchHistory(ctx, req)
	}
	key := c.base.Name() + ":" + req.Key()

	if t, ok := c.lookup(ctx, key); ok {
		atomic.AddInt64(&c.hits, 1)
		return t, nil
	}
	atomic.AddInt64(&c.misses, 1)

	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		t, err := c.base.FetchHistory(ctx, req)
		if err != nil {
			return nil, err
		}
		c.store(ctx, key, t)
		return t, nil
	})
	if err != nil {
		return nil, err
	}
	// 共享结果，调用方各自拿副本
	return v.(*core.Table).Clone(), nil
}

func (c *CachedFetcher) lookup(ctx context.Context, key string) (*core.Table, bool) {
	v, err := c.cache.Get(ctx, key)
	if err != nil {
		if !cache.IsMiss(err) {
			c.log.WithError(err).Warn("cache lookup failed")
		}
		return nil, false
	}
	data, ok := cache.Bytes(v)
	if !ok {
		return nil, false
	}
	var t core.Table
	if err := json.Unmarshal(data, &t); err != nil {
		c.log.WithError(err).Warn("discarding undecodable cache entry")
		_ = c.cache.Delete(ctx, key)
		return nil, false
	}
	return &t, true
}

func (c *CachedFetcher) store(ctx context.Context, key string, t *core.Table) {
	data, err := json.Marshal(t)
	if err != nil {
		c.log.WithError(err).Warn("encode table for cache")
		return
	}
	if err := c.cache.Set(ctx, key, data, c.config.TTL); err != nil {
		c.log.WithError(err).Warn("cache store failed")
	}
}

// Invalidate 删除某个请求的缓存
func (c *CachedFetcher) Invalidate(ctx context.Context, req pcore.HistoryRequest) error {
	return c.cache.Delete(ctx, c.base.Name()+":"+req.Key())
}

// GetStatus 获取缓存状态
func (c *CachedFetcher) GetStatus() map[string]interface{} {
	return map[string]interface{}{
		"decorator_type": "Cache",
		"base_provider":  c.base.Name(),
		"enabled":        c.config.Enabled,
		"ttl":            c.config.TTL.String(),
		"hits":           atomic.LoadInt64(&c.hits),
		"misses":         atomic.LoadInt64(&c.misses),
		"backend":        c.cache.Stats(),
	}
}
