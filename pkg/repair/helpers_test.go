package repair

import (
	"context"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/timing"
)

func day(y, m, d int) time.Time {
	return time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)
}

func mkBar(ts time.Time, o, h, l, c, v float64) core.Bar {
	return core.Bar{Timestamp: ts, Open: o, High: h, Low: l, Close: c, AdjClose: c, Volume: v}
}

func mkTable(interval core.Interval, bars ...core.Bar) *core.Table {
	return core.NewTable(interval, core.Metadata{
		Symbol:         "TEST",
		Currency:       "USD",
		Timezone:       "UTC",
		InstrumentType: core.InstrumentEquity,
	}, bars)
}

// businessDays 从 start 起的 n 个工作日
func businessDays(start time.Time, n int) []time.Time {
	var out []time.Time
	for d := start; len(out) < n; d = d.AddDate(0, 0, 1) {
		if d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
			continue
		}
		out = append(out, d)
	}
	return out
}

// hourlyBars 生成一个交易日的 7 根小时线，首根开盘价与末根收盘价与日线一致
func hourlyBars(d time.Time, open, close, volume float64) []core.Bar {
	bars := make([]core.Bar, 7)
	for k := 0; k < 7; k++ {
		o := open + (close-open)*float64(k)/7
		c := open + (close-open)*float64(k+1)/7
		if k == 6 {
			c = close
		}
		bars[k] = mkBar(d.Add(14*time.Hour+30*time.Minute+time.Duration(k)*time.Hour),
			o, math.Max(o, c)+0.1, math.Min(o, c)-0.1, c, volume/7)
	}
	return bars
}

// recordingFetcher 记录请求，按区间从预置数据中返回
type recordingFetcher struct {
	mu       sync.Mutex
	requests []pcore.HistoryRequest
	data     map[core.Interval][]core.Bar
	err      error
}

func (f *recordingFetcher) fetch(_ context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	var bars []core.Bar
	for _, b := range f.data[req.Interval] {
		if !b.Timestamp.Before(req.Start) && b.Timestamp.Before(req.End) {
			bars = append(bars, b)
		}
	}
	return mkTable(req.Interval, bars...), nil
}

func (f *recordingFetcher) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func newTestEngine(t *testing.T, f *recordingFetcher, now time.Time) *Engine {
	t.Helper()
	e, err := NewEngine(pcore.NewFuncFetcher("test", f.fetch), DefaultConfig(),
		WithClock(timing.NewFixedTimeService(now)))
	require.NoError(t, err)
	return e
}

// assertConsistent 有效行满足 Low <= Open,Close <= High
func assertConsistent(t *testing.T, tbl *core.Table) {
	t.Helper()
	for i, b := range tbl.Bars {
		if !core.IsValidPrice(b.Open) || !core.IsValidPrice(b.Close) ||
			!core.IsValidPrice(b.High) || !core.IsValidPrice(b.Low) {
			continue
		}
		require.Truef(t, b.IsConsistent(), "row %d inconsistent: %+v", i, b)
	}
}

// testRun 直接调用单道工序时使用的上下文
func testRun(t *testing.T) *run {
	t.Helper()
	e := newTestEngine(t, &recordingFetcher{}, testNow)
	stats := newStats(mkTable(core.Interval1d))
	return &run{engine: e, stats: stats, root: stats, mode: ModeSilent, log: e.log}
}
