package storage

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"stockrepair/pkg/core"
)

// MemoryStore 在内存中保存每个标的与粒度最近一次写入的价格表
type MemoryStore struct {
	mu      sync.RWMutex
	tables  map[string]*core.Table
	written map[string]time.Time
}

// StoredInfo 已保存数据的摘要
type StoredInfo struct {
	Symbol    string        `json:"symbol"`
	Interval  core.Interval `json:"interval"`
	Rows      int           `json:"rows"`
	Repaired  int           `json:"repaired"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// NewMemoryStore 创建内存存储
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		tables:  make(map[string]*core.Table),
		written: make(map[string]time.Time),
	}
}

func memoryKey(symbol string, interval core.Interval) string {
	return strings.ToUpper(symbol) + "|" + string(interval)
}

// Write 保存副本
func (m *MemoryStore) Write(ctx context.Context, t *core.Table) error {
	key := memoryKey(t.Meta.Symbol, t.Interval)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables[key] = t.Clone()
	m.written[key] = time.Now()
	return nil
}

// Read 返回副本
func (m *MemoryStore) Read(ctx context.Context, symbol string, interval core.Interval) (*core.Table, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tables[memoryKey(symbol, interval)]
	if !ok {
		return nil, fmt.Errorf("%w: %s %s", ErrNotFound, symbol, interval)
	}
	return t.Clone(), nil
}

// List 按标的、粒度排序的摘要
func (m *MemoryStore) List() []StoredInfo {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]StoredInfo, 0, len(m.tables))
	for key, t := range m.tables {
		out = append(out, StoredInfo{
			Symbol:    t.Meta.Symbol,
			Interval:  t.Interval,
			Rows:      t.Len(),
			Repaired:  t.RepairedCount(),
			UpdatedAt: m.written[key],
		})
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Symbol != out[j].Symbol {
			return out[i].Symbol < out[j].Symbol
		}
		return out[i].Interval < out[j].Interval
	})
	return out
}

// Close 清空数据
func (m *MemoryStore) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.tables = make(map[string]*core.Table)
	m.written = make(map[string]time.Time)
	return nil
}
