package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"stockrepair/pkg/core"
	"stockrepair/pkg/history"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/metrics"
	"stockrepair/pkg/repair"
	"stockrepair/pkg/storage"
	"stockrepair/pkg/timing"
)

// DefaultLookback 未配置回溯时长时取最近一年
const DefaultLookback = 365 * 24 * time.Hour

// HistoryExecutor 拉取并修复任务中的每个标的，写入配置的存储后端
type HistoryExecutor struct {
	client      *history.Client
	sinks       map[string]storage.Writer
	market      *timing.MarketTime
	metrics     *metrics.Metrics
	concurrency int
	log         *logrus.Entry
}

// ExecutorOption 执行器选项
type ExecutorOption func(*HistoryExecutor)

// WithMarketTime 指定用于计算最近交易日的市场时间
func WithMarketTime(m *timing.MarketTime) ExecutorOption {
	return func(e *HistoryExecutor) { e.market = m }
}

// WithExecutorMetrics 记录任务运行指标
func WithExecutorMetrics(m *metrics.Metrics) ExecutorOption {
	return func(e *HistoryExecutor) { e.metrics = m }
}

// WithConcurrency 同一任务内并发处理的标的数
func WithConcurrency(n int) ExecutorOption {
	return func(e *HistoryExecutor) {
		if n > 0 {
			e.concurrency = n
		}
	}
}

// NewHistoryExecutor 创建执行器，sinks 按名称索引
func NewHistoryExecutor(client *history.Client, sinks map[string]storage.Writer, opts ...ExecutorOption) *HistoryExecutor {
	e := &HistoryExecutor{
		client:      client,
		sinks:       sinks,
		market:      timing.DefaultMarketTime(),
		concurrency: 2,
		log:         logger.WithComponent("job-executor"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Window 任务的请求区间：[最近已收盘交易日 - lookback, 最近已收盘交易日 + 1天)
func (e *HistoryExecutor) Window(cfg JobConfig) (time.Time, time.Time) {
	lookback := cfg.Lookback
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	end := e.market.LastCompletedSession().AddDate(0, 0, 1)
	return end.Add(-lookback), end
}

// Execute 实现 JobExecutor
func (e *HistoryExecutor) Execute(ctx context.Context, job *Job) error {
	err := e.execute(ctx, job.Config)
	e.metrics.ObserveJob(job.Config.Name, err)
	return err
}

func (e *HistoryExecutor) execute(ctx context.Context, cfg JobConfig) error {
	interval := core.Interval1d
	if cfg.Interval != "" {
		iv, err := core.ParseInterval(cfg.Interval)
		if err != nil {
			return err
		}
		interval = iv
	}
	mode, err := repair.ParseMode(cfg.Repair)
	if err != nil {
		return err
	}
	sinks, err := e.resolveSinks(cfg.Outputs)
	if err != nil {
		return err
	}

	start, end := e.Window(cfg)
	params := history.Params{
		Interval:   interval,
		Start:      start,
		End:        end,
		Repair:     mode,
		AutoAdjust: cfg.AutoAdjust,
	}

	var (
		mu   sync.Mutex
		errs []error
	)
	g := new(errgroup.Group)
	g.SetLimit(e.concurrency)
	for _, symbol := range cfg.Symbols {
		symbol := symbol
		g.Go(func() error {
			if err := e.refresh(ctx, symbol, params, sinks); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("%s: %w", symbol, err))
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()
	return errors.Join(errs...)
}

func (e *HistoryExecutor) refresh(ctx context.Context, symbol string, params history.Params, sinks []storage.Writer) error {
	res, err := e.client.History(ctx, symbol, params)
	if err != nil {
		return err
	}

	fields := logrus.Fields{
		"symbol":   res.Table.Meta.Symbol,
		"interval": params.Interval,
		"rows":     res.Table.Len(),
	}
	if res.Stats != nil {
		fields["fixed"] = res.Stats.TotalFixed()
	}
	e.log.WithFields(fields).Info("history refreshed")

	var errs []error
	for _, sink := range sinks {
		if err := sink.Write(ctx, res.Table); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *HistoryExecutor) resolveSinks(names []string) ([]storage.Writer, error) {
	sinks := make([]storage.Writer, 0, len(names))
	for _, name := range names {
		w, ok := e.sinks[strings.ToLower(name)]
		if !ok {
			return nil, fmt.Errorf("unknown output %q", name)
		}
		sinks = append(sinks, w)
	}
	return sinks, nil
}
