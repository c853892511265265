package timing

import (
	"time"
)

// MarketTime 按交易所时区判断交易日和收盘后时段
type MarketTime struct {
	timeService TimeService
	loc         *time.Location
	closeHour   int
	closeMinute int
}

// NewMarketTime 创建新的市场时间检测器，closeAt 格式为 "16:00"
func NewMarketTime(timeService TimeService, loc *time.Location, closeAt string) *MarketTime {
	if loc == nil {
		loc = time.UTC
	}
	m := &MarketTime{timeService: timeService, loc: loc, closeHour: 16}
	if t, err := time.Parse("15:04", closeAt); err == nil {
		m.closeHour, m.closeMinute = t.Hour(), t.Minute()
	}
	return m
}

// DefaultMarketTime 使用系统时间、纽约时区的默认检测器
func DefaultMarketTime() *MarketTime {
	loc, err := time.LoadLocation("America/New_York")
	if err != nil {
		loc = time.UTC
	}
	return NewMarketTime(&SystemTimeService{}, loc, "16:00")
}

// Now 返回交易所时区的当前时间
func (m *MarketTime) Now() time.Time {
	return m.timeService.Now().In(m.loc)
}

// IsTradingDay 判断是否是交易日（周一到周五）
func (m *MarketTime) IsTradingDay(t time.Time) bool {
	weekday := t.In(m.loc).Weekday()
	return weekday >= time.Monday && weekday <= time.Friday
}

// IsAfterClose 当前交易日是否已收盘
func (m *MarketTime) IsAfterClose() bool {
	now := m.Now()
	closeAt := time.Date(now.Year(), now.Month(), now.Day(), m.closeHour, m.closeMinute, 0, 0, m.loc)
	return !now.Before(closeAt)
}

// LastCompletedSession 最近一个已收盘交易日的零点（交易所时区）
func (m *MarketTime) LastCompletedSession() time.Time {
	now := m.Now()
	day := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, m.loc)
	if !m.IsTradingDay(day) || !m.IsAfterClose() {
		day = day.AddDate(0, 0, -1)
	}
	for !m.IsTradingDay(day) {
		day = day.AddDate(0, 0, -1)
	}
	return day
}
