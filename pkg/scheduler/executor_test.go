package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
	"stockrepair/pkg/history"
	"stockrepair/pkg/metrics"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/storage"
	"stockrepair/pkg/timing"
)

// 2024-01-10 周三 21:00 UTC，纽约已收盘
var executorNow = time.Date(2024, 1, 10, 21, 0, 0, 0, time.UTC)

type requestLog struct {
	mu   sync.Mutex
	reqs []pcore.HistoryRequest
}

func (l *requestLog) fetcher(fail map[string]error) *pcore.FuncFetcher {
	return pcore.NewFuncFetcher("stub", func(_ context.Context, req pcore.HistoryRequest) (*core.Table, error) {
		l.mu.Lock()
		l.reqs = append(l.reqs, req)
		l.mu.Unlock()
		if err := fail[req.Symbol]; err != nil {
			return nil, err
		}
		meta := core.Metadata{Symbol: req.Symbol, Currency: "USD", Timezone: "America/New_York", InstrumentType: core.InstrumentEquity}
		var bars []core.Bar
		for d := req.Start; d.Before(req.End) && len(bars) < 10; d = d.AddDate(0, 0, 1) {
			bars = append(bars, core.Bar{Timestamp: d, Open: 10, High: 10.5, Low: 9.5, Close: 10, AdjClose: 10, Volume: 1000})
		}
		return core.NewTable(req.Interval, meta, bars), nil
	})
}

func assertJobRuns(t *testing.T, m *metrics.Metrics, job, status string) {
	t.Helper()
	expected := fmt.Sprintf(`
# HELP stockrepair_job_runs_total Scheduled refresh job runs by job and status.
# TYPE stockrepair_job_runs_total counter
stockrepair_job_runs_total{job=%q,status=%q} 1
`, job, status)
	assert.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "stockrepair_job_runs_total"))
}

func newTestExecutor(t *testing.T, fetcher pcore.HistoryFetcher, sinks map[string]storage.Writer, m *metrics.Metrics) *HistoryExecutor {
	t.Helper()
	engine, err := repair.NewEngine(fetcher, repair.DefaultConfig())
	require.NoError(t, err)
	ny, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	market := timing.NewMarketTime(timing.NewFixedTimeService(executorNow), ny, "16:00")
	return NewHistoryExecutor(history.NewClient(fetcher, engine), sinks,
		WithMarketTime(market), WithExecutorMetrics(m), WithConcurrency(1))
}

func TestHistoryExecutor_写入存储(t *testing.T) {
	log := &requestLog{}
	mem := storage.NewMemoryStore()
	m := metrics.New()
	e := newTestExecutor(t, log.fetcher(nil), map[string]storage.Writer{"memory": mem}, m)

	job := &Job{Config: JobConfig{
		Name:     "daily",
		Symbols:  []string{"AAPL", "msft"},
		Interval: "1d",
		Lookback: 10 * 24 * time.Hour,
		Repair:   "silent",
		Outputs:  []string{"Memory"},
	}}
	require.NoError(t, e.Execute(context.Background(), job))

	require.Len(t, log.reqs, 2)
	ny, _ := time.LoadLocation("America/New_York")
	wantEnd := time.Date(2024, 1, 11, 0, 0, 0, 0, ny)
	assert.True(t, wantEnd.Equal(log.reqs[0].End), "区间包含最近收盘的交易日: %s", log.reqs[0].End)
	assert.True(t, wantEnd.AddDate(0, 0, -10).Equal(log.reqs[0].Start))

	stored := mem.List()
	require.Len(t, stored, 2)
	assert.Equal(t, "AAPL", stored[0].Symbol)
	assert.Equal(t, "MSFT", stored[1].Symbol)

	assertJobRuns(t, m, "daily", "success")
}

func TestHistoryExecutor_部分失败(t *testing.T) {
	log := &requestLog{}
	boom := errors.New("HTTP 502")
	mem := storage.NewMemoryStore()
	m := metrics.New()
	e := newTestExecutor(t, log.fetcher(map[string]error{"BAD": boom}), map[string]storage.Writer{"memory": mem}, m)

	err := e.Execute(context.Background(), &Job{Config: JobConfig{
		Name:    "mixed",
		Symbols: []string{"BAD", "GOOD"},
		Outputs: []string{"memory"},
	}})
	require.Error(t, err)
	assert.ErrorIs(t, err, boom)
	assert.Contains(t, err.Error(), "BAD")
	assert.Len(t, mem.List(), 1, "其他标的照常写入")
	assertJobRuns(t, m, "mixed", "error")
}

func TestHistoryExecutor_配置错误(t *testing.T) {
	log := &requestLog{}
	e := newTestExecutor(t, log.fetcher(nil), nil, nil)

	err := e.Execute(context.Background(), &Job{Config: JobConfig{Name: "x", Symbols: []string{"AAPL"}, Outputs: []string{"kafka"}}})
	assert.ErrorContains(t, err, "unknown output")

	err = e.Execute(context.Background(), &Job{Config: JobConfig{Name: "x", Symbols: []string{"AAPL"}, Interval: "7m"}})
	assert.ErrorIs(t, err, core.ErrInvalidInterval)
	assert.Empty(t, log.reqs)
}

func TestHistoryExecutor_Window(t *testing.T) {
	e := newTestExecutor(t, (&requestLog{}).fetcher(nil), nil, nil)
	start, end := e.Window(JobConfig{})
	assert.Equal(t, DefaultLookback, end.Sub(start))
}
