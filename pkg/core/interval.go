package core

import (
	"fmt"
	"strings"
	"time"
)

// Interval K线时间粒度
type Interval string

const (
	Interval1m  Interval = "1m"
	Interval2m  Interval = "2m"
	Interval5m  Interval = "5m"
	Interval15m Interval = "15m"
	Interval30m Interval = "30m"
	Interval1h  Interval = "1h"
	Interval1d  Interval = "1d"
	Interval1wk Interval = "1wk"
	Interval1mo Interval = "1mo"
	Interval3mo Interval = "3mo"
)

// Intervals 按从细到粗排序的全部粒度
var Intervals = []Interval{
	Interval1m, Interval2m, Interval5m, Interval15m, Interval30m,
	Interval1h, Interval1d, Interval1wk, Interval1mo, Interval3mo,
}

// finer 每个粒度重建时使用的下一级细粒度
var finer = map[Interval]Interval{
	Interval3mo: Interval1mo,
	Interval1mo: Interval1wk,
	Interval1wk: Interval1d,
	Interval1d:  Interval1h,
	Interval1h:  Interval30m,
	Interval30m: Interval15m,
	Interval15m: Interval5m,
	Interval5m:  Interval2m,
	Interval2m:  Interval1m,
}

// ParseInterval 解析粒度字符串，兼容 "60m" 写法
func ParseInterval(s string) (Interval, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if s == "60m" {
		return Interval1h, nil
	}
	for _, iv := range Intervals {
		if string(iv) == s {
			return iv, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrInvalidInterval, s)
}

// String 实现 fmt.Stringer
func (i Interval) String() string {
	return string(i)
}

// IsValid 是否为受支持的粒度
func (i Interval) IsValid() bool {
	_, err := ParseInterval(string(i))
	return err == nil
}

// IsIntraday 是否为日内粒度
func (i Interval) IsIntraday() bool {
	switch i {
	case Interval1m, Interval2m, Interval5m, Interval15m, Interval30m, Interval1h:
		return true
	}
	return false
}

// Duration 返回粒度的名义时长，月/季按30/91天估算
func (i Interval) Duration() time.Duration {
	switch i {
	case Interval1m:
		return time.Minute
	case Interval2m:
		return 2 * time.Minute
	case Interval5m:
		return 5 * time.Minute
	case Interval15m:
		return 15 * time.Minute
	case Interval30m:
		return 30 * time.Minute
	case Interval1h:
		return time.Hour
	case Interval1d:
		return 24 * time.Hour
	case Interval1wk:
		return 7 * 24 * time.Hour
	case Interval1mo:
		return 30 * 24 * time.Hour
	case Interval3mo:
		return 91 * 24 * time.Hour
	}
	return 0
}

// Finer 返回下一级细粒度，最细粒度返回 false
func (i Interval) Finer() (Interval, bool) {
	f, ok := finer[i]
	return f, ok
}

// Lookback 数据源对该粒度允许回溯的最长时间，0 表示不限制
func (i Interval) Lookback() time.Duration {
	switch i {
	case Interval1m:
		return 30 * 24 * time.Hour
	case Interval2m, Interval5m, Interval15m, Interval30m:
		return 60 * 24 * time.Hour
	case Interval1h:
		return 730 * 24 * time.Hour
	}
	return 0
}

// EarliestAvailable 按回溯限制计算 now 时刻可请求的最早时间，零值表示不限制
func (i Interval) EarliestAvailable(now time.Time) time.Time {
	lb := i.Lookback()
	if lb == 0 {
		return time.Time{}
	}
	return now.Add(-lb)
}

// MaxGroupSpan 以该粒度为目标重建时，单个修复分组允许跨越的最长时间
func (i Interval) MaxGroupSpan() time.Duration {
	switch i {
	case Interval1wk, Interval1d, Interval1mo, Interval3mo:
		return 2 * 365 * 24 * time.Hour
	case Interval1h:
		return 365 * 24 * time.Hour
	case Interval2m:
		return 5 * 24 * time.Hour
	}
	return 30 * 24 * time.Hour
}

// Truncate 按粒度自身的边界规则取所在区间起点（周一、日初、月初、季初）
func (i Interval) Truncate(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
	switch i {
	case Interval1d:
		return day
	case Interval1wk:
		offset := (int(day.Weekday()) + 6) % 7
		return day.AddDate(0, 0, -offset)
	case Interval1mo:
		return time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, loc)
	case Interval3mo:
		q := (int(t.Month()) - 1) / 3
		return time.Date(t.Year(), time.Month(q*3+1), 1, 0, 0, 0, 0, loc)
	}
	d := i.Duration()
	if d <= 0 {
		return t
	}
	elapsed := t.Sub(day)
	return day.Add(elapsed - elapsed%d)
}

// Next 返回从 t 开始的区间结束时间
func (i Interval) Next(t time.Time) time.Time {
	switch i {
	case Interval1d:
		return t.AddDate(0, 0, 1)
	case Interval1wk:
		return t.AddDate(0, 0, 7)
	case Interval1mo:
		return t.AddDate(0, 1, 0)
	case Interval3mo:
		return t.AddDate(0, 3, 0)
	}
	return t.Add(i.Duration())
}
