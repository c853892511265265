package core

import (
	"context"
	"fmt"
	"time"

	"stockrepair/pkg/core"
)

// HistoryFetcher 原始历史数据获取接口
// 修复引擎只依赖该接口获取某一粒度、某一时间段的原始K线和公司行为
type HistoryFetcher interface {
	Provider

	// FetchHistory 获取 [Start, End) 区间的原始K线
	// 区间内没有数据时返回空表而不是错误
	FetchHistory(ctx context.Context, req HistoryRequest) (*core.Table, error)
}

// HistoryRequest 历史数据请求参数
type HistoryRequest struct {
	Symbol               string        `json:"symbol"`
	Interval             core.Interval `json:"interval"`
	Start                time.Time     `json:"start"`
	End                  time.Time     `json:"end"`
	IncludeExtendedHours bool          `json:"include_extended_hours"` // 是否包含盘前盘后
}

// Validate 校验请求参数
func (r HistoryRequest) Validate() error {
	if r.Symbol == "" {
		return core.ErrInvalidSymbol
	}
	if !r.Interval.IsValid() {
		return fmt.Errorf("%w: %q", core.ErrInvalidInterval, r.Interval)
	}
	if !r.End.IsZero() && !r.Start.IsZero() && !r.End.After(r.Start) {
		return fmt.Errorf("%w: end %s not after start %s", core.ErrInvalidRange, r.End, r.Start)
	}
	return nil
}

// Key 请求的缓存键
func (r HistoryRequest) Key() string {
	return fmt.Sprintf("history:%s:%s:%d:%d:%t", r.Symbol, r.Interval, r.Start.Unix(), r.End.Unix(), r.IncludeExtendedHours)
}

// FetcherFunc 函数适配器，便于测试和组合
type FetcherFunc func(ctx context.Context, req HistoryRequest) (*core.Table, error)

// FuncFetcher 将 FetcherFunc 包装为 HistoryFetcher
type FuncFetcher struct {
	name string
	fn   FetcherFunc
}

// NewFuncFetcher 创建函数式数据源
func NewFuncFetcher(name string, fn FetcherFunc) *FuncFetcher {
	return &FuncFetcher{name: name, fn: fn}
}

func (f *FuncFetcher) Name() string                { return f.name }
func (f *FuncFetcher) GetRateLimit() time.Duration { return 0 }
func (f *FuncFetcher) IsHealthy() bool             { return f.fn != nil }

// FetchHistory 实现 HistoryFetcher 接口
func (f *FuncFetcher) FetchHistory(ctx context.Context, req HistoryRequest) (*core.Table, error) {
	return f.fn(ctx, req)
}
