package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"stockrepair/pkg/cache"
	"stockrepair/pkg/core"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/timing"
)

const (
	locationKeyPrefix = "tz:"
	// 交易所时区基本不变，缓存较长时间
	locationTTL = 30 * 24 * time.Hour
)

// LocationResolver 查询并缓存标的所在交易所的时区
// 缓存未命中时请求最近几天的日线，从元数据中读取时区
type LocationResolver struct {
	store   cache.Cache
	fetcher pcore.HistoryFetcher
	clock   timing.TimeService
}

// NewLocationResolver 创建时区解析器，fetcher 可为空（只读缓存）
func NewLocationResolver(store cache.Cache, fetcher pcore.HistoryFetcher, clock timing.TimeService) *LocationResolver {
	if store == nil {
		store = cache.NewMemoryCache(cache.MemoryCacheConfig{DefaultTTL: locationTTL})
	}
	if clock == nil {
		clock = &timing.SystemTimeService{}
	}
	return &LocationResolver{store: store, fetcher: fetcher, clock: clock}
}

// Remember 记录标的时区
func (r *LocationResolver) Remember(ctx context.Context, symbol, timezone string) error {
	if timezone == "" {
		return nil
	}
	if _, err := time.LoadLocation(timezone); err != nil {
		return fmt.Errorf("unknown timezone %q: %w", timezone, err)
	}
	return r.store.Set(ctx, locationKey(symbol), timezone, locationTTL)
}

// Resolve 返回标的交易所时区
func (r *LocationResolver) Resolve(ctx context.Context, symbol string) (*time.Location, error) {
	name, err := r.lookup(ctx, symbol)
	if err != nil {
		return nil, err
	}
	return time.LoadLocation(name)
}

func (r *LocationResolver) lookup(ctx context.Context, symbol string) (string, error) {
	v, err := r.store.Get(ctx, locationKey(symbol))
	if err == nil {
		if b, ok := cache.Bytes(v); ok && len(b) > 0 {
			return string(b), nil
		}
	} else if !cache.IsMiss(err) {
		return "", fmt.Errorf("read timezone cache: %w", err)
	}

	if r.fetcher == nil {
		return "", fmt.Errorf("timezone for %s not cached", symbol)
	}
	now := r.clock.Now()
	t, err := r.fetcher.FetchHistory(ctx, pcore.HistoryRequest{
		Symbol:   symbol,
		Interval: core.Interval1d,
		Start:    now.AddDate(0, 0, -5),
		End:      now,
	})
	if err != nil {
		return "", fmt.Errorf("fetch timezone for %s: %w", symbol, err)
	}
	if t.Meta.Timezone == "" {
		return "", fmt.Errorf("no timezone reported for %s", symbol)
	}
	if err := r.Remember(ctx, symbol, t.Meta.Timezone); err != nil {
		return "", err
	}
	return t.Meta.Timezone, nil
}

func locationKey(symbol string) string {
	return locationKeyPrefix + strings.ToUpper(symbol)
}

// ParseDate 解析日期参数，支持 2006-01-02 与 RFC3339
// 不带时区的日期按交易所时区解释
func ParseDate(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	if loc == nil {
		loc = time.UTC
	}
	if t, err := time.ParseInLocation("2006-01-02", s, loc); err == nil {
		return t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: cannot parse date %q", core.ErrInvalidRange, s)
	}
	return t, nil
}
