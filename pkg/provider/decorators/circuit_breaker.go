package decorators

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"stockrepair/pkg/core"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
)

// CircuitBreakerFetcher 熔断器装饰器
// 使用 sony/gobreaker 提供熔断功能
type CircuitBreakerFetcher struct {
	*BaseDecorator

	// 熔断器组件
	cb     *gobreaker.CircuitBreaker
	config *CircuitBreakerConfig
	log    *logrus.Entry

	// 统计信息
	mu    sync.RWMutex
	stats CircuitBreakerStats
}

// CircuitBreakerConfig 熔断器配置
type CircuitBreakerConfig struct {
	Name        string        `yaml:"name" mapstructure:"name"`                   // 熔断器名称
	MaxRequests uint32        `yaml:"max_requests" mapstructure:"max_requests"`   // 半开状态下的最大请求数
	Interval    time.Duration `yaml:"interval" mapstructure:"interval"`           // 统计窗口时间
	Timeout     time.Duration `yaml:"timeout" mapstructure:"timeout"`             // 熔断器打开后的超时时间
	ReadyToTrip uint32        `yaml:"ready_to_trip" mapstructure:"ready_to_trip"` // 触发熔断的连续失败次数
	Enabled     bool          `yaml:"enabled" mapstructure:"enabled"`             // 是否启用熔断器
}

// CircuitBreakerStats 熔断器统计信息
type CircuitBreakerStats struct {
	TotalRequests     int64     `json:"total_requests"`
	SuccessfulRequest int64     `json:"successful_requests"`
	FailedRequests    int64     `json:"failed_requests"`
	RejectedRequests  int64     `json:"rejected_requests"`
	LastFailure       time.Time `json:"last_failure"`
}

// DefaultCircuitBreakerConfig 默认熔断器配置
func DefaultCircuitBreakerConfig() *CircuitBreakerConfig {
	return &CircuitBreakerConfig{
		Name:        "HistoryFetcher",
		MaxRequests: 3,                // 半开状态允许3个请求
		Interval:    60 * time.Second, // 60秒统计窗口
		Timeout:     30 * time.Second, // 熔断30秒
		ReadyToTrip: 5,                // 5次连续失败触发熔断
		Enabled:     true,
	}
}

// NewCircuitBreakerFetcher 创建熔断器装饰器
func NewCircuitBreakerFetcher(base pcore.HistoryFetcher, config *CircuitBreakerConfig) *CircuitBreakerFetcher {
	if config == nil {
		config = DefaultCircuitBreakerConfig()
	}
	log := logger.WithComponent("CircuitBreaker")

	settings := gobreaker.Settings{
		Name:        config.Name,
		MaxRequests: config.MaxRequests,
		Interval:    config.Interval,
		Timeout:     config.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= config.ReadyToTrip
		},
		// 请求本身无效或被调用方取消不算数据源故障
		IsSuccessful: func(err error) bool {
			return err == nil || !countsAsFailure(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.WithFields(logrus.Fields{
				"breaker": name,
				"from":    from.String(),
				"to":      to.String(),
			}).Warn("circuit breaker state changed")
		},
	}

	return &CircuitBreakerFetcher{
		BaseDecorator: NewBaseDecorator(base),
		cb:            gobreaker.NewCircuitBreaker(settings),
		config:        config,
		log:           log,
	}
}

func countsAsFailure(err error) bool {
	switch {
	case errors.Is(err, context.Canceled),
		errors.Is(err, pcore.ErrProviderRejected),
		errors.Is(err, pcore.ErrLookbackExceeded),
		errors.Is(err, core.ErrInvalidSymbol),
		errors.Is(err, core.ErrInvalidInterval),
		errors.Is(err, core.ErrInvalidRange):
		return false
	}
	return true
}

// Name 返回装饰器名称
func (c *CircuitBreakerFetcher) Name() string {
	return fmt.Sprintf("CircuitBreaker(%s)", c.base.Name())
}

// IsHealthy 熔断器打开时视为不健康
func (c *CircuitBreakerFetcher) IsHealthy() bool {
	if !c.config.Enabled {
		return c.base.IsHealthy()
	}
	return c.cb.State() != gobreaker.StateOpen && c.base.IsHealthy()
}

// FetchHistory 通过熔断器获取历史数据
func (c *CircuitBreakerFetcher) FetchHistory(ctx context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	if !c.config.Enabled {
		return c.base.FetchHistory(ctx, req)
	}

	c.mu.Lock()
	c.stats.TotalRequests++
	c.mu.Unlock()

	result, err := c.cb.Execute(func() (interface{}, error) {
		return c.base.FetchHistory(ctx, req)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		c.mu.Lock()
		c.stats.RejectedRequests++
		c.mu.Unlock()
		return nil, fmt.Errorf("%w: %s: %v", pcore.ErrCircuitOpen, c.config.Name, err)
	}

	c.handleResult(err)
	if err != nil {
		return nil, err
	}

	table, ok := result.(*core.Table)
	if !ok {
		return nil, fmt.Errorf("circuit breaker returned unexpected type %T", result)
	}
	return table, nil
}

// handleResult 更新统计信息
func (c *CircuitBreakerFetcher) handleResult(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err != nil {
		c.stats.FailedRequests++
		c.stats.LastFailure = time.Now()
	} else {
		c.stats.SuccessfulRequest++
	}
}

// GetState 获取熔断器当前状态
func (c *CircuitBreakerFetcher) GetState() gobreaker.State {
	return c.cb.State()
}

// GetCounts 获取熔断器计数信息
func (c *CircuitBreakerFetcher) GetCounts() gobreaker.Counts {
	return c.cb.Counts()
}

// GetStats 获取统计信息副本
func (c *CircuitBreakerFetcher) GetStats() CircuitBreakerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}

// GetStatus 获取熔断器状态信息
func (c *CircuitBreakerFetcher) GetStatus() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	counts := c.cb.Counts()
	return map[string]interface{}{
		"decorator_type": "CircuitBreaker",
		"base_provider":  c.base.Name(),
		"enabled":        c.config.Enabled,
		"state":          c.cb.State().String(),
		"counts": map[string]interface{}{
			"requests":              counts.Requests,
			"total_successes":       counts.TotalSuccesses,
			"total_failures":        counts.TotalFailures,
			"consecutive_successes": counts.ConsecutiveSuccesses,
			"consecutive_failures":  counts.ConsecutiveFailures,
		},
		"stats": map[string]interface{}{
			"total_requests":      c.stats.TotalRequests,
			"successful_requests": c.stats.SuccessfulRequest,
			"failed_requests":     c.stats.FailedRequests,
			"rejected_requests":   c.stats.RejectedRequests,
			"last_failure":        c.stats.LastFailure,
		},
	}
}

// SetEnabled 设置是否启用熔断器
func (c *CircuitBreakerFetcher) SetEnabled(enabled bool) {
	c.config.Enabled = enabled
}

// IsOpen 检查熔断器是否处于打开状态
func (c *CircuitBreakerFetcher) IsOpen() bool {
	return c.cb.State() == gobreaker.StateOpen
}
