package core

import "errors"

// 定义核心错误
var (
	// ErrProviderNotHealthy 提供商不健康错误
	ErrProviderNotHealthy = errors.New("provider is not healthy")

	// ErrProviderRejected 数据源拒绝请求（如返回 chart.error）
	ErrProviderRejected = errors.New("provider rejected request")

	// ErrLookbackExceeded 请求超出该粒度的可回溯范围
	ErrLookbackExceeded = errors.New("requested range exceeds interval lookback limit")

	// ErrRateLimitExceeded 频率限制超出错误
	ErrRateLimitExceeded = errors.New("rate limit exceeded")

	// ErrCircuitOpen 熔断器打开
	ErrCircuitOpen = errors.New("circuit breaker is open")

	// ErrProviderClosed 提供商已关闭错误
	ErrProviderClosed = errors.New("provider is closed")
)
