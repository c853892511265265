package metrics

import (
	"context"
	"errors"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockrepair/pkg/core"
	"stockrepair/pkg/repair"
)

func TestMetrics_记录获取(t *testing.T) {
	m := New()
	m.ObserveFetch("yahoo", nil, 20*time.Millisecond)
	m.ObserveFetch("yahoo", errors.New("HTTP 502"), time.Millisecond)
	m.ObserveFetch("yahoo", context.Canceled, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("yahoo", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("yahoo", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.fetches.WithLabelValues("yahoo", "canceled")))
}

func TestMetrics_记录修复(t *testing.T) {
	m := New()
	stats := &repair.Stats{
		Symbol:   "AAPL",
		Interval: core.Interval1d,
		Passes: map[repair.Pass]*repair.PassStats{
			repair.PassUnitMixup: {Tagged: 4, Fixed: 3, Unrepaired: 1},
			repair.PassZeroes:    {Rows: 2},
		},
		Dividends: []repair.DividendRepair{{}},
	}
	m.ObserveRepair(stats, repair.ModeSilent, 10*time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairRuns.WithLabelValues("1d", "silent")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.repairedCells.WithLabelValues("unit-mixup", "fixed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairedCells.WithLabelValues("unit-mixup", "unrepaired")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.repairedCells.WithLabelValues("zeroes", "rows")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.repairedCells.WithLabelValues("dividends", "events")))

	t.Run("nil安全", func(t *testing.T) {
		var nilMetrics *Metrics
		nilMetrics.ObserveRepair(stats, repair.ModeOn, 0)
		nilMetrics.ObserveFetch("yahoo", nil, 0)
		nilMetrics.ObserveJob("daily", nil)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.ObserveJob("daily", nil)
	m.ObserveJob("daily", errors.New("boom"))

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	require.Equal(t, 200, rec.Code)
	body := rec.Body.String()
	assert.Contains(t, body, `stockrepair_job_runs_total{job="daily",status="error"} 1`)
	assert.Contains(t, body, `stockrepair_job_runs_total{job="daily",status="success"} 1`)
	assert.Contains(t, body, "go_goroutines")
}
