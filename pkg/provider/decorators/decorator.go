package decorators

import (
	"context"
	"time"

	"stockrepair/pkg/core"
	pcore "stockrepair/pkg/provider/core"
)

// Decorator 装饰器基础接口
// 所有装饰器都应该实现此接口
type Decorator interface {
	pcore.HistoryFetcher

	// GetBaseProvider 获取被装饰的数据源
	GetBaseProvider() pcore.HistoryFetcher
}

// BaseDecorator 装饰器基础实现，所有方法直接转发给被装饰的数据源
type BaseDecorator struct {
	base pcore.HistoryFetcher
}

// NewBaseDecorator 创建基础装饰器
func NewBaseDecorator(base pcore.HistoryFetcher) *BaseDecorator {
	return &BaseDecorator{base: base}
}

// Name 实现 Provider 接口
func (d *BaseDecorator) Name() string {
	return d.base.Name()
}

// GetRateLimit 实现 Provider 接口
func (d *BaseDecorator) GetRateLimit() time.Duration {
	return d.base.GetRateLimit()
}

// IsHealthy 实现 Provider 接口
func (d *BaseDecorator) IsHealthy() bool {
	return d.base.IsHealthy()
}

// FetchHistory 实现 HistoryFetcher 接口
func (d *BaseDecorator) FetchHistory(ctx context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	return d.base.FetchHistory(ctx, req)
}

// GetBaseProvider 实现 Decorator 接口
func (d *BaseDecorator) GetBaseProvider() pcore.HistoryFetcher {
	return d.base
}

// Close 关闭被装饰的数据源
func (d *BaseDecorator) Close() error {
	if c, ok := d.base.(pcore.Closable); ok {
		return c.Close()
	}
	return nil
}

// Unwrap 逐层剥离装饰器，返回最内层数据源
func Unwrap(f pcore.HistoryFetcher) pcore.HistoryFetcher {
	for {
		d, ok := f.(Decorator)
		if !ok {
			return f
		}
		f = d.GetBaseProvider()
	}
}

// DecoratorChain 装饰器链
// 用于组合多个装饰器，先添加的在内层
type DecoratorChain struct {
	decorators []func(pcore.HistoryFetcher) pcore.HistoryFetcher
}

// NewDecoratorChain 创建装饰器链
func NewDecoratorChain() *DecoratorChain {
	return &DecoratorChain{
		decorators: make([]func(pcore.HistoryFetcher) pcore.HistoryFetcher, 0),
	}
}

// AddDecorator 添加装饰器到链中
func (dc *DecoratorChain) AddDecorator(decorator func(pcore.HistoryFetcher) pcore.HistoryFetcher) *DecoratorChain {
	dc.decorators = append(dc.decorators, decorator)
	return dc
}

// Apply 应用装饰器链到指定的数据源
func (dc *DecoratorChain) Apply(base pcore.HistoryFetcher) pcore.HistoryFetcher {
	fetcher := base
	for _, decorator := range dc.decorators {
		fetcher = decorator(fetcher)
	}
	return fetcher
}
