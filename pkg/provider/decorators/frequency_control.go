package decorators

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	"stockrepair/pkg/limiter"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
)

// FrequencyControlFetcher 频率控制装饰器
// 将 pkg/limiter 的限速与分级重试逻辑适配为装饰器模式
type FrequencyControlFetcher struct {
	*BaseDecorator

	limiter *limiter.Limiter
	config  *FrequencyControlConfig
	log     *logrus.Entry

	mu       sync.RWMutex
	isActive bool
}

// FrequencyControlConfig 频率控制配置
type FrequencyControlConfig struct {
	MinInterval time.Duration   `yaml:"min_interval" mapstructure:"min_interval"` // 最小请求间隔
	Burst       int             `yaml:"burst" mapstructure:"burst"`
	MaxRetries  int             `yaml:"max_retries" mapstructure:"max_retries"` // 最大重试次数
	Backoff     []time.Duration `yaml:"backoff" mapstructure:"backoff"`         // 各次重试的等待时间
	Enabled     bool            `yaml:"enabled" mapstructure:"enabled"`
}

// DefaultFrequencyControlConfig 默认频率控制配置
func DefaultFrequencyControlConfig() *FrequencyControlConfig {
	return &FrequencyControlConfig{
		MinInterval: 500 * time.Millisecond,
		Burst:       1,
		MaxRetries:  limiter.MaxRetries,
		Backoff:     []time.Duration{limiter.RetryBase1, limiter.RetryBase2, limiter.RetryBase3},
		Enabled:     true,
	}
}

// limiterConfig 转换为限制器配置
func (c *FrequencyControlConfig) limiterConfig() limiter.Config {
	cfg := limiter.Config{
		Burst: c.Burst,
		Retry: limiter.RetryPolicy{MaxRetries: c.MaxRetries, Backoff: c.Backoff},
	}
	if c.MinInterval > 0 {
		cfg.RequestsPerSecond = float64(time.Second) / float64(c.MinInterval)
	}
	if len(cfg.Retry.Backoff) == 0 {
		cfg.Retry.Backoff = limiter.DefaultRetryPolicy().Backoff
	}
	return cfg
}

// NewFrequencyControlFetcher 创建频率控制装饰器
func NewFrequencyControlFetcher(base pcore.HistoryFetcher, config *FrequencyControlConfig) *FrequencyControlFetcher {
	if config == nil {
		config = DefaultFrequencyControlConfig()
	}
	return &FrequencyControlFetcher{
		BaseDecorator: NewBaseDecorator(base),
		limiter:       limiter.NewLimiter(config.limiterConfig()),
		config:        config,
		log:           logger.WithComponent("FrequencyControl"),
		isActive:      config.Enabled,
	}
}

// Name 返回装饰器名称
func (f *FrequencyControlFetcher) Name() string {
	return fmt.Sprintf("FrequencyControl(%s)", f.base.Name())
}

// GetRateLimit 返回频率限制
func (f *FrequencyControlFetcher) GetRateLimit() time.Duration {
	return f.config.MinInterval
}

// IsHealthy 检查基础数据源和限制器状态
func (f *FrequencyControlFetcher) IsHealthy() bool {
	return f.base.IsHealthy() && f.limiter.IsSafeToContinue()
}

// FetchHistory 限速后获取数据，可重试的错误按策略退避重试
func (f *FrequencyControlFetcher) FetchHistory(ctx context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	f.mu.RLock()
	active := f.isActive
	f.mu.RUnlock()
	if !active {
		return f.base.FetchHistory(ctx, req)
	}

	for attempt := 0; ; attempt++ {
		if err := f.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		table, err := f.base.FetchHistory(ctx, req)
		decision := f.limiter.RecordResult(ctx, err, attempt)
		if err == nil {
			return table, nil
		}
		if !decision.Retry {
			return nil, decision.Err
		}

		f.log.WithFields(logrus.Fields{
			"symbol":   req.Symbol,
			"interval": req.Interval,
			"attempt":  attempt + 1,
			"level":    decision.Level.String(),
			"wait":     decision.Wait,
		}).Warnf("fetch failed, retrying: %v", err)

		timer := time.NewTimer(decision.Wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}
	}
}

// SetEnabled 启用或关闭频率控制
func (f *FrequencyControlFetcher) SetEnabled(enabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.isActive = enabled
}

// GetStatus 获取频率控制状态
func (f *FrequencyControlFetcher) GetStatus() map[string]interface{} {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return map[string]interface{}{
		"decorator_type": "FrequencyControl",
		"base_provider":  f.base.Name(),
		"enabled":        f.isActive,
		"min_interval":   f.config.MinInterval.String(),
		"max_retries":    f.config.MaxRetries,
		"limiter":        f.limiter.GetStatus(),
	}
}

// ResetLimiter 清除限制器的冷却状态
func (f *FrequencyControlFetcher) ResetLimiter() {
	f.limiter.Reset()
}
