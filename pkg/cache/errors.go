package cache

import (
	apperr "stockrepair/pkg/error"
)

const (
	// ErrCacheMiss 表示在缓存中未找到请求的条目。
	ErrCacheMiss apperr.ErrorCode = "CACHE_MISS"
	// ErrCacheBackend 表示缓存后端（如 Redis）操作失败。
	ErrCacheBackend apperr.ErrorCode = "CACHE_BACKEND"
	// ErrCacheValue 表示值类型无法被该后端保存。
	ErrCacheValue apperr.ErrorCode = "CACHE_VALUE"
)

// ErrCacheMissNotFound 未命中哨兵错误，可用 errors.Is 判断
var ErrCacheMissNotFound = apperr.NewError(ErrCacheMiss, "cache entry not found")

// IsMiss 是否为未命中错误
func IsMiss(err error) bool {
	return apperr.CodeOf(err) == ErrCacheMiss
}
