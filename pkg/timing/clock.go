package timing

import (
	"sync"
	"time"
)

// TimeService 提供当前时间接口，用于mock测试
type TimeService interface {
	Now() time.Time
}

// SystemTimeService 使用系统实际时间
type SystemTimeService struct{}

func (s *SystemTimeService) Now() time.Time {
	return time.Now()
}

// FixedTimeService 固定时间，测试中用于控制回溯限制判断
type FixedTimeService struct {
	mu      sync.RWMutex
	current time.Time
}

// NewFixedTimeService 创建固定时间服务
func NewFixedTimeService(t time.Time) *FixedTimeService {
	return &FixedTimeService{current: t}
}

func (f *FixedTimeService) Now() time.Time {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.current
}

// Set 修改当前时间
func (f *FixedTimeService) Set(t time.Time) {
	f.mu.Lock()
	f.current = t
	f.mu.Unlock()
}

// Advance 时间前进 d
func (f *FixedTimeService) Advance(d time.Duration) {
	f.mu.Lock()
	f.current = f.current.Add(d)
	f.mu.Unlock()
}
