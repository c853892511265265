package provider

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"stockrepair/pkg/provider/core"
)

// ProviderManager 数据源管理器
// 按名称注册历史数据源，第一个注册的数据源为默认数据源
type ProviderManager struct {
	fetchers    map[string]core.HistoryFetcher
	defaultName string

	mu sync.RWMutex
}

// NewProviderManager 创建新的数据源管理器
func NewProviderManager() *ProviderManager {
	return &ProviderManager{
		fetchers: make(map[string]core.HistoryFetcher),
	}
}

// Register 注册数据源，同名数据源会被替换
func (m *ProviderManager) Register(name string, fetcher core.HistoryFetcher) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}
	if fetcher == nil {
		return fmt.Errorf("provider cannot be nil")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.fetchers[name] = fetcher
	if m.defaultName == "" {
		m.defaultName = name
	}
	return nil
}

// Get 获取数据源，name 为空时返回默认数据源
func (m *ProviderManager) Get(name string) (core.HistoryFetcher, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if name == "" {
		name = m.defaultName
	}
	if fetcher, exists := m.fetchers[name]; exists {
		return fetcher, nil
	}
	return nil, fmt.Errorf("history provider '%s' not found", name)
}

// SetDefault 设置默认数据源
func (m *ProviderManager) SetDefault(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.fetchers[name]; !exists {
		return fmt.Errorf("history provider '%s' not found", name)
	}
	m.defaultName = name
	return nil
}

// List 按名称排序列出所有已注册的数据源
func (m *ProviderManager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.fetchers))
	for name := range m.fetchers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Healthy 各数据源的健康状态
func (m *ProviderManager) Healthy() map[string]bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]bool, len(m.fetchers))
	for name, fetcher := range m.fetchers {
		status[name] = fetcher.IsHealthy()
	}
	return status
}

// Unregister 注销数据源
func (m *ProviderManager) Unregister(name string) error {
	if name == "" {
		return fmt.Errorf("provider name cannot be empty")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.fetchers[name]; !exists {
		return fmt.Errorf("history provider '%s' not found", name)
	}
	delete(m.fetchers, name)
	if m.defaultName == name {
		m.defaultName = ""
	}
	return nil
}

// Close 关闭管理器，清理所有数据源资源
func (m *ProviderManager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var errs []error
	for name, fetcher := range m.fetchers {
		if closable, ok := fetcher.(core.Closable); ok {
			if err := closable.Close(); err != nil {
				errs = append(errs, fmt.Errorf("close history provider '%s': %w", name, err))
			}
		}
	}

	m.fetchers = make(map[string]core.HistoryFetcher)
	m.defaultName = ""
	return errors.Join(errs...)
}
