package decorators

import (
	"fmt"
	"sort"
	"time"

	"github.com/spf13/viper"

	"stockrepair/pkg/cache"
	pcore "stockrepair/pkg/provider/core"
)

// DecoratorType 装饰器类型枚举
type DecoratorType string

const (
	FrequencyControlType DecoratorType = "frequency_control"
	CircuitBreakerType   DecoratorType = "circuit_breaker"
	CacheType            DecoratorType = "cache"
)

// ConfigurableDecoratorChain 可配置的装饰器链
type ConfigurableDecoratorChain struct {
	decorators []DecoratorConfig
	factory    *DecoratorFactory
}

// DecoratorConfig 装饰器配置
type DecoratorConfig struct {
	Type     DecoratorType          `yaml:"type" mapstructure:"type"`
	Enabled  bool                   `yaml:"enabled" mapstructure:"enabled"`
	Priority int                    `yaml:"priority" mapstructure:"priority"` // 优先级，数值越小越先应用（越靠内层）
	Config   map[string]interface{} `yaml:"config" mapstructure:"config"`
}

// ProviderDecoratorConfig 数据源装饰器完整配置
type ProviderDecoratorConfig struct {
	Decorators []DecoratorConfig `yaml:"decorators" mapstructure:"decorators"`
}

// DecoratorFactory 装饰器工厂，持有缓存装饰器使用的后端
type DecoratorFactory struct {
	store cache.Cache
}

// NewDecoratorFactory 创建装饰器工厂，store 可以为空
func NewDecoratorFactory(store cache.Cache) *DecoratorFactory {
	return &DecoratorFactory{store: store}
}

// NewConfigurableDecoratorChain 创建可配置装饰器链
func NewConfigurableDecoratorChain(factory *DecoratorFactory) *ConfigurableDecoratorChain {
	if factory == nil {
		factory = NewDecoratorFactory(nil)
	}
	return &ConfigurableDecoratorChain{
		decorators: make([]DecoratorConfig, 0),
		factory:    factory,
	}
}

// LoadFromViper 从 Viper 配置加载装饰器链配置
func (cdc *ConfigurableDecoratorChain) LoadFromViper(v *viper.Viper, configKey string) error {
	var config ProviderDecoratorConfig
	if err := v.UnmarshalKey(configKey, &config); err != nil {
		return fmt.Errorf("decode decorator config %q: %w", configKey, err)
	}
	cdc.decorators = config.Decorators
	return nil
}

// LoadFromConfig 从配置结构体加载装饰器链配置
func (cdc *ConfigurableDecoratorChain) LoadFromConfig(config ProviderDecoratorConfig) {
	cdc.decorators = config.Decorators
}

// AddDecorator 添加装饰器配置
func (cdc *ConfigurableDecoratorChain) AddDecorator(decoratorConfig DecoratorConfig) {
	cdc.decorators = append(cdc.decorators, decoratorConfig)
}

// Apply 将装饰器链应用到指定的数据源
func (cdc *ConfigurableDecoratorChain) Apply(base pcore.HistoryFetcher) (pcore.HistoryFetcher, error) {
	current := base
	for _, decoratorConfig := range cdc.getSortedEnabledDecorators() {
		decorated, err := cdc.factory.CreateDecorator(decoratorConfig.Type, current, decoratorConfig.Config)
		if err != nil {
			return nil, fmt.Errorf("create decorator %s: %w", decoratorConfig.Type, err)
		}
		current = decorated
	}
	return current, nil
}

// getSortedEnabledDecorators 获取按优先级排序的已启用装饰器
func (cdc *ConfigurableDecoratorChain) getSortedEnabledDecorators() []DecoratorConfig {
	enabled := make([]DecoratorConfig, 0, len(cdc.decorators))
	for _, decorator := range cdc.decorators {
		if decorator.Enabled {
			enabled = append(enabled, decorator)
		}
	}
	sort.SliceStable(enabled, func(i, j int) bool {
		return enabled[i].Priority < enabled[j].Priority
	})
	return enabled
}

// GetAppliedDecorators 获取将要应用的装饰器列表（从内到外）
func (cdc *ConfigurableDecoratorChain) GetAppliedDecorators() []DecoratorType {
	sorted := cdc.getSortedEnabledDecorators()
	types := make([]DecoratorType, len(sorted))
	for i, decorator := range sorted {
		types[i] = decorator.Type
	}
	return types
}

// CreateDecorator 按类型和配置创建装饰器
func (df *DecoratorFactory) CreateDecorator(decoratorType DecoratorType, base pcore.HistoryFetcher, config map[string]interface{}) (pcore.HistoryFetcher, error) {
	switch decoratorType {
	case FrequencyControlType:
		return df.createFrequencyControl(base, config)
	case CircuitBreakerType:
		return df.createCircuitBreaker(base, config)
	case CacheType:
		return df.createCache(base, config)
	default:
		return nil, fmt.Errorf("unsupported decorator type: %s", decoratorType)
	}
}

func (df *DecoratorFactory) createFrequencyControl(base pcore.HistoryFetcher, configMap map[string]interface{}) (pcore.HistoryFetcher, error) {
	config := DefaultFrequencyControlConfig()

	if d, ok, err := durationValue(configMap, "min_interval"); err != nil {
		return nil, err
	} else if ok {
		config.MinInterval = d
	}
	if ms, ok := intValue(configMap, "min_interval_ms"); ok {
		config.MinInterval = time.Duration(ms) * time.Millisecond
	}
	if n, ok := intValue(configMap, "burst"); ok {
		config.Burst = n
	}
	if n, ok := intValue(configMap, "max_retries"); ok {
		if n < 0 {
			return nil, fmt.Errorf("max_retries must not be negative: %d", n)
		}
		config.MaxRetries = n
	}
	if raw, ok := configMap["backoff"].([]interface{}); ok {
		backoff := make([]time.Duration, 0, len(raw))
		for _, item := range raw {
			d, err := parseDuration(item)
			if err != nil {
				return nil, fmt.Errorf("backoff: %w", err)
			}
			backoff = append(backoff, d)
		}
		config.Backoff = backoff
	}
	if enabled, ok := configMap["enabled"].(bool); ok {
		config.Enabled = enabled
	}

	return NewFrequencyControlFetcher(base, config), nil
}

func (df *DecoratorFactory) createCircuitBreaker(base pcore.HistoryFetcher, configMap map[string]interface{}) (pcore.HistoryFetcher, error) {
	config := DefaultCircuitBreakerConfig()

	if name, ok := configMap["name"].(string); ok {
		config.Name = name
	}
	if n, ok := intValue(configMap, "max_requests"); ok {
		config.MaxRequests = uint32(n)
	}
	if d, ok, err := durationValue(configMap, "interval"); err != nil {
		return nil, err
	} else if ok {
		config.Interval = d
	}
	if d, ok, err := durationValue(configMap, "timeout"); err != nil {
		return nil, err
	} else if ok {
		config.Timeout = d
	}
	if n, ok := intValue(configMap, "ready_to_trip"); ok {
		if n <= 0 {
			return nil, fmt.Errorf("ready_to_trip must be positive: %d", n)
		}
		config.ReadyToTrip = uint32(n)
	}
	if enabled, ok := configMap["enabled"].(bool); ok {
		config.Enabled = enabled
	}

	return NewCircuitBreakerFetcher(base, config), nil
}

func (df *DecoratorFactory) createCache(base pcore.HistoryFetcher, configMap map[string]interface{}) (pcore.HistoryFetcher, error) {
	config := DefaultCacheConfig()

	if d, ok, err := durationValue(configMap, "ttl"); err != nil {
		return nil, err
	} else if ok {
		config.TTL = d
	}
	if enabled, ok := configMap["enabled"].(bool); ok {
		config.Enabled = enabled
	}

	return NewCachedFetcher(base, df.store, config), nil
}

// intValue 兼容 yaml/viper 解出的各种数值类型
func intValue(m map[string]interface{}, key string) (int, bool) {
	switch v := m[key].(type) {
	case int:
		return v, true
	case int64:
		return int(v), true
	case uint32:
		return int(v), true
	case float64:
		return int(v), true
	}
	return 0, false
}

func durationValue(m map[string]interface{}, key string) (time.Duration, bool, error) {
	v, ok := m[key]
	if !ok || v == nil {
		return 0, false, nil
	}
	d, err := parseDuration(v)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}

func parseDuration(v interface{}) (time.Duration, error) {
	switch d := v.(type) {
	case string:
		return time.ParseDuration(d)
	case time.Duration:
		return d, nil
	}
	return 0, fmt.Errorf("invalid duration %v", v)
}

// CreateDecoratedFetcher 便捷方法：使用配置创建完全装饰的数据源
func CreateDecoratedFetcher(base pcore.HistoryFetcher, store cache.Cache, config ProviderDecoratorConfig) (pcore.HistoryFetcher, error) {
	chain := NewConfigurableDecoratorChain(NewDecoratorFactory(store))
	chain.LoadFromConfig(config)
	return chain.Apply(base)
}

// CreateDecoratedFetcherFromViper 便捷方法：从 Viper 配置创建完全装饰的数据源
func CreateDecoratedFetcherFromViper(base pcore.HistoryFetcher, store cache.Cache, v *viper.Viper, configKey string) (pcore.HistoryFetcher, error) {
	chain := NewConfigurableDecoratorChain(NewDecoratorFactory(store))
	if err := chain.LoadFromViper(v, configKey); err != nil {
		return nil, err
	}
	return chain.Apply(base)
}

// DefaultDecoratorConfig 默认装饰器配置：限速重试在内，熔断居中，缓存在最外层
func DefaultDecoratorConfig() ProviderDecoratorConfig {
	return ProviderDecoratorConfig{
		Decorators: []DecoratorConfig{
			{
				Type:     FrequencyControlType,
				Enabled:  true,
				Priority: 1,
				Config: map[string]interface{}{
					"min_interval_ms": 500,
					"max_retries":     3,
					"enabled":         true,
				},
			},
			{
				Type:     CircuitBreakerType,
				Enabled:  true,
				Priority: 2,
				Config: map[string]interface{}{
					"name":          "HistoryFetcher",
					"max_requests":  3,
					"interval":      "60s",
					"timeout":       "30s",
					"ready_to_trip": 5,
					"enabled":       true,
				},
			},
			{
				Type:     CacheType,
				Enabled:  true,
				Priority: 3,
				Config: map[string]interface{}{
					"ttl":     "10m",
					"enabled": true,
				},
			},
		},
	}
}

// TestDecoratorConfig 测试环境装饰器配置，全部关闭
func TestDecoratorConfig() ProviderDecoratorConfig {
	return ProviderDecoratorConfig{
		Decorators: []DecoratorConfig{
			{Type: FrequencyControlType, Enabled: false, Priority: 1},
			{Type: CircuitBreakerType, Enabled: false, Priority: 2},
			{Type: CacheType, Enabled: false, Priority: 3},
		},
	}
}
