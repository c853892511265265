package decorators

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/cache"
)

func TestConfigurableDecoratorChain(t *testing.T) {
	t.Run("默认配置的装饰器顺序", func(t *testing.T) {
		mock := newMockFetcher("mock")
		decorated, err := CreateDecoratedFetcher(mock, nil, DefaultDecoratorConfig())
		require.NoError(t, err)

		// 最外层是缓存
		cached, ok := decorated.(*CachedFetcher)
		require.True(t, ok, "顶层装饰器应该是缓存，实际类型: %T", decorated)
		assert.Contains(t, cached.Name(), "Cached")

		// 中间是熔断器
		cb, ok := cached.GetBaseProvider().(*CircuitBreakerFetcher)
		require.True(t, ok, "第二层装饰器应该是熔断器，实际类型: %T", cached.GetBaseProvider())

		// 最内层是频率控制
		fc, ok := cb.GetBaseProvider().(*FrequencyControlFetcher)
		require.True(t, ok, "第三层装饰器应该是频率控制，实际类型: %T", cb.GetBaseProvider())
		assert.Same(t, mock, fc.GetBaseProvider())
		assert.Same(t, mock, Unwrap(decorated))

		table, err := decorated.FetchHistory(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, 1, table.Len())
	})

	t.Run("全部禁用时返回原数据源", func(t *testing.T) {
		mock := newMockFetcher("mock")
		decorated, err := CreateDecoratedFetcher(mock, nil, TestDecoratorConfig())
		require.NoError(t, err)
		assert.Same(t, mock, decorated)
	})

	t.Run("按优先级排序", func(t *testing.T) {
		chain := NewConfigurableDecoratorChain(nil)
		chain.AddDecorator(DecoratorConfig{Type: CacheType, Enabled: true, Priority: 9})
		chain.AddDecorator(DecoratorConfig{Type: CircuitBreakerType, Enabled: false, Priority: 0})
		chain.AddDecorator(DecoratorConfig{Type: FrequencyControlType, Enabled: true, Priority: 1})

		assert.Equal(t, []DecoratorType{FrequencyControlType, CacheType}, chain.GetAppliedDecorators())
	})

	t.Run("使用注入的缓存后端", func(t *testing.T) {
		store := cache.NewMemoryCache(cache.MemoryCacheConfig{})
		defer store.Close()
		mock := newMockFetcher("mock")

		decorated, err := CreateDecoratedFetcher(mock, store, ProviderDecoratorConfig{
			Decorators: []DecoratorConfig{{Type: CacheType, Enabled: true, Config: map[string]interface{}{"ttl": "1m"}}},
		})
		require.NoError(t, err)

		_, err = decorated.FetchHistory(context.Background(), testRequest())
		require.NoError(t, err)
		assert.Equal(t, int64(1), store.Stats().Size)
	})
}

func TestDecoratorConfiguration(t *testing.T) {
	factory := NewDecoratorFactory(nil)
	mock := newMockFetcher("mock")

	t.Run("频率控制参数", func(t *testing.T) {
		f, err := factory.CreateDecorator(FrequencyControlType, mock, map[string]interface{}{
			"min_interval": "2s",
			"max_retries":  5,
			"backoff":      []interface{}{"10ms", "20ms"},
			"burst":        2,
		})
		require.NoError(t, err)
		fc := f.(*FrequencyControlFetcher)
		assert.Equal(t, 2*time.Second, fc.config.MinInterval)
		assert.Equal(t, 5, fc.config.MaxRetries)
		assert.Equal(t, []time.Duration{10 * time.Millisecond, 20 * time.Millisecond}, fc.config.Backoff)
		assert.Equal(t, 2, fc.config.Burst)
	})

	t.Run("熔断器参数", func(t *testing.T) {
		f, err := factory.CreateDecorator(CircuitBreakerType, mock, map[string]interface{}{
			"name":          "yahoo",
			"timeout":       "10s",
			"ready_to_trip": 3.0,
		})
		require.NoError(t, err)
		cb := f.(*CircuitBreakerFetcher)
		assert.Equal(t, "yahoo", cb.config.Name)
		assert.Equal(t, 10*time.Second, cb.config.Timeout)
		assert.Equal(t, uint32(3), cb.config.ReadyToTrip)
	})

	t.Run("无效参数", func(t *testing.T) {
		_, err := factory.CreateDecorator(CacheType, mock, map[string]interface{}{"ttl": "soon"})
		assert.Error(t, err)

		_, err = factory.CreateDecorator(CircuitBreakerType, mock, map[string]interface{}{"ready_to_trip": 0})
		assert.Error(t, err)

		_, err = factory.CreateDecorator("retry_forever", mock, nil)
		assert.Error(t, err)
	})
}

func TestLoadFromViper(t *testing.T) {
	yaml := `
provider:
  decorators:
    - type: frequency_control
      enabled: true
      priority: 1
      config:
        min_interval_ms: 100
        max_retries: 1
    - type: cache
      enabled: true
      priority: 2
      config:
        ttl: 30s
`
	v := viper.New()
	v.SetConfigType("yaml")
	require.NoError(t, v.ReadConfig(strings.NewReader(yaml)))

	mock := newMockFetcher("mock")
	decorated, err := CreateDecoratedFetcherFromViper(mock, nil, v, "provider")
	require.NoError(t, err)

	cached, ok := decorated.(*CachedFetcher)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, cached.config.TTL)

	fc, ok := cached.GetBaseProvider().(*FrequencyControlFetcher)
	require.True(t, ok)
	assert.Equal(t, 100*time.Millisecond, fc.config.MinInterval)
	assert.Equal(t, 1, fc.config.MaxRetries)
}
