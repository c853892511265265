package cache

import (
	"context"
	"time"
)

// Cache 定义了缓存行为的接口。
// 值统一为 []byte 或 string，由调用方负责序列化，便于在内存与 Redis 之间切换。
type Cache interface {
	// Get 从缓存中获取一个值，未命中返回 ErrCacheMiss 代码的错误。
	Get(ctx context.Context, key string) (interface{}, error)
	// Set 向缓存中设置一个值，ttl<=0 时使用默认TTL。
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	// Delete 从缓存中删除一个值。
	Delete(ctx context.Context, key string) error
	// Clear 清空所有缓存条目。
	Clear(ctx context.Context) error
	// Stats 获取缓存的统计信息。
	Stats() CacheStats
	// Close 释放后台清理协程或连接。
	Close() error
}

// CacheEntry 代表缓存中的一个条目。
type CacheEntry struct {
	Value      interface{}
	ExpireTime time.Time
	AccessTime time.Time
	CreateTime time.Time
	HitCount   int64
	Size       int64 // 条目大小（字节）
}

// CacheStats 包含了缓存的详细统计信息。
type CacheStats struct {
	Size        int64         `json:"size"`         // 当前缓存中的条目数
	MaxSize     int64         `json:"max_size"`     // 缓存最大容量
	HitCount    int64         `json:"hit_count"`    // 命中次数
	MissCount   int64         `json:"miss_count"`   // 未命中次数
	HitRate     float64       `json:"hit_rate"`     // 命中率
	TTL         time.Duration `json:"ttl"`          // 默认的生存时间
	LastCleanup time.Time     `json:"last_cleanup"` // 最后一次清理过期条目的时间
}

// Bytes 将缓存值转换为字节切片
func Bytes(v interface{}) ([]byte, bool) {
	switch b := v.(type) {
	case []byte:
		return b, true
	case string:
		return []byte(b), true
	}
	return nil, false
}
