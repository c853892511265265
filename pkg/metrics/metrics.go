package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"stockrepair/pkg/repair"
)

const namespace = "stockrepair"

// Metrics 修复服务的 Prometheus 指标
type Metrics struct {
	registry *prometheus.Registry

	fetches        *prometheus.CounterVec
	fetchDuration  *prometheus.HistogramVec
	repairRuns     *prometheus.CounterVec
	repairedCells  *prometheus.CounterVec
	repairDuration *prometheus.HistogramVec
	jobRuns        *prometheus.CounterVec
}

// New 创建指标集并注册到独立的 Registry
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		fetches: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "fetches_total",
			Help:      "History fetches by provider and outcome.",
		}, []string{"provider", "outcome"}),
		fetchDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "fetch_duration_seconds",
			Help:      "Latency of top-level history fetches.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"provider"}),
		repairRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repair_runs_total",
			Help:      "Repair engine invocations by interval and mode.",
		}, []string{"interval", "mode"}),
		repairedCells: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "repaired_cells_total",
			Help:      "Cells or rows corrected per repair pass.",
		}, []string{"pass", "kind"}),
		repairDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "repair_duration_seconds",
			Help:      "Wall time of a repair run including sub-interval fetches.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"interval"}),
		jobRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "job_runs_total",
			Help:      "Scheduled refresh job runs by job and status.",
		}, []string{"job", "status"}),
	}

	m.registry.MustRegister(
		m.fetches, m.fetchDuration,
		m.repairRuns, m.repairedCells, m.repairDuration,
		m.jobRuns,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

// Registry 返回底层 Registry，便于测试读取
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler 暴露 /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{Registry: m.registry})
}

// ObserveFetch 记录一次顶层获取
func (m *Metrics) ObserveFetch(provider string, err error, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.fetches.WithLabelValues(provider, outcome(err)).Inc()
	m.fetchDuration.WithLabelValues(provider).Observe(elapsed.Seconds())
}

// ObserveRepair 记录一次修复运行及各工序的修复数量
func (m *Metrics) ObserveRepair(stats *repair.Stats, mode repair.Mode, elapsed time.Duration) {
	if m == nil || stats == nil {
		return
	}
	interval := string(stats.Interval)
	m.repairRuns.WithLabelValues(interval, mode.String()).Inc()
	m.repairDuration.WithLabelValues(interval).Observe(elapsed.Seconds())

	for pass, ps := range stats.Passes {
		m.add(string(pass), "fixed", ps.Fixed)
		m.add(string(pass), "fixed_crudely", ps.FixedCrudely)
		m.add(string(pass), "rows", ps.Rows)
		m.add(string(pass), "unrepaired", ps.Unrepaired)
	}
	m.add(string(repair.PassDividends), "events", len(stats.Dividends))
}

func (m *Metrics) add(pass, kind string, n int) {
	if n > 0 {
		m.repairedCells.WithLabelValues(pass, kind).Add(float64(n))
	}
}

// ObserveJob 记录一次定时任务运行
func (m *Metrics) ObserveJob(job string, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.jobRuns.WithLabelValues(job, status).Inc()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	}
	return "error"
}
