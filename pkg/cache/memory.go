package cache

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	apperr "stockrepair/pkg/error"
	"stockrepair/pkg/timing"
)

// MemoryCacheConfig 内存缓存配置
type MemoryCacheConfig struct {
	MaxSize         int64         `mapstructure:"max_size"`         // 最大条目数量
	DefaultTTL      time.Duration `mapstructure:"default_ttl"`      // 默认TTL
	CleanupInterval time.Duration `mapstructure:"cleanup_interval"` // 清理间隔，0 表示不启动清理协程
}

// MemoryCache 线程安全的内存缓存实现
type MemoryCache struct {
	mu         sync.RWMutex
	entries    map[string]*CacheEntry
	maxSize    int64
	hitCount   int64
	missCount  int64
	defaultTTL time.Duration
	clock      timing.TimeService

	cleanupTicker *time.Ticker
	stopCleanup   chan struct{}
	stopOnce      sync.Once
	lastCleanup   time.Time
}

// NewMemoryCache 创建新的内存缓存
func NewMemoryCache(config MemoryCacheConfig) *MemoryCache {
	return NewMemoryCacheWithClock(config, &timing.SystemTimeService{})
}

// NewMemoryCacheWithClock 使用指定时钟创建内存缓存
func NewMemoryCacheWithClock(config MemoryCacheConfig, clock timing.TimeService) *MemoryCache {
	if config.MaxSize <= 0 {
		config.MaxSize = 1000
	}
	if config.DefaultTTL <= 0 {
		config.DefaultTTL = 10 * time.Minute
	}
	mc := &MemoryCache{
		entries:     make(map[string]*CacheEntry),
		maxSize:     config.MaxSize,
		defaultTTL:  config.DefaultTTL,
		clock:       clock,
		stopCleanup: make(chan struct{}),
		lastCleanup: clock.Now(),
	}

	if config.CleanupInterval > 0 {
		mc.cleanupTicker = time.NewTicker(config.CleanupInterval)
		go mc.startCleanup()
	}
	return mc
}

// Get 获取缓存值
func (mc *MemoryCache) Get(ctx context.Context, key string) (interface{}, error) {
	mc.mu.RLock()
	entry, exists := mc.entries[key]
	mc.mu.RUnlock()

	if !exists {
		atomic.AddInt64(&mc.missCount, 1)
		return nil, apperr.NewError(ErrCacheMiss, "cache miss").WithContext("key", key)
	}

	now := mc.clock.Now()
	if entry.ExpireTime.Before(now) {
		mc.mu.Lock()
		delete(mc.entries, key)
		mc.mu.Unlock()
		atomic.AddInt64(&mc.missCount, 1)
		return nil, apperr.NewError(ErrCacheMiss, "cache entry expired").WithContext("key", key)
	}

	mc.mu.Lock()
	entry.AccessTime = now
	entry.HitCount++
	mc.mu.Unlock()
	atomic.AddInt64(&mc.hitCount, 1)

	return entry.Value, nil
}

// Set 设置缓存值
func (mc *MemoryCache) Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = mc.defaultTTL
	}

	now := mc.clock.Now()
	entry := &CacheEntry{
		Value:      value,
		ExpireTime: now.Add(ttl),
		AccessTime: now,
		CreateTime: now,
		Size:       estimateSize(value),
	}

	mc.mu.Lock()
	defer mc.mu.Unlock()

	if _, exists := mc.entries[key]; !exists && int64(len(mc.entries)) >= mc.maxSize {
		mc.evictOldest()
	}
	mc.entries[key] = entry
	return nil
}

// Delete 删除缓存值
func (mc *MemoryCache) Delete(ctx context.Context, key string) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	delete(mc.entries, key)
	return nil
}

// Clear 清空缓存
func (mc *MemoryCache) Clear(ctx context.Context) error {
	mc.mu.Lock()
	defer mc.mu.Unlock()

	mc.entries = make(map[string]*CacheEntry)
	atomic.StoreInt64(&mc.hitCount, 0)
	atomic.StoreInt64(&mc.missCount, 0)
	return nil
}

// Stats 获取缓存统计信息
func (mc *MemoryCache) Stats() CacheStats {
	mc.mu.RLock()
	size := int64(len(mc.entries))
	lastCleanup := mc.lastCleanup
	mc.mu.RUnlock()

	hitCount := atomic.LoadInt64(&mc.hitCount)
	missCount := atomic.LoadInt64(&mc.missCount)

	var hitRate float64
	if total := hitCount + missCount; total > 0 {
		hitRate = float64(hitCount) / float64(total)
	}

	return CacheStats{
		Size:        size,
		MaxSize:     mc.maxSize,
		HitCount:    hitCount,
		MissCount:   missCount,
		HitRate:     hitRate,
		TTL:         mc.defaultTTL,
		LastCleanup: lastCleanup,
	}
}

// Close 关闭缓存
func (mc *MemoryCache) Close() error {
	mc.stopOnce.Do(func() {
		if mc.cleanupTicker != nil {
			mc.cleanupTicker.Stop()
		}
		close(mc.stopCleanup)
	})
	return nil
}

func (mc *MemoryCache) startCleanup() {
	for {
		select {
		case <-mc.cleanupTicker.C:
			mc.cleanup()
		case <-mc.stopCleanup:
			return
		}
	}
}

// cleanup 清理过期条目
func (mc *MemoryCache) cleanup() {
	now := mc.clock.Now()

	mc.mu.Lock()
	defer mc.mu.Unlock()
	for key, entry := range mc.entries {
		if entry.ExpireTime.Before(now) {
			delete(mc.entries, key)
		}
	}
	mc.lastCleanup = now
}

// evictOldest 淘汰创建时间最早的条目
func (mc *MemoryCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range mc.entries {
		if oldestKey == "" || entry.CreateTime.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.CreateTime
		}
	}

	if oldestKey != "" {
		delete(mc.entries, oldestKey)
	}
}

func estimateSize(value interface{}) int64 {
	switch v := value.(type) {
	case string:
		return int64(len(v))
	case []byte:
		return int64(len(v))
	default:
		return 64
	}
}

var _ Cache = (*MemoryCache)(nil)
