package repair

import (
	"context"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/timing"
)

// Mode 修复模式
type Mode int

const (
	// ModeOff 不修复，原样返回
	ModeOff Mode = iota
	// ModeOn 修复并以 Info 级别报告
	ModeOn
	// ModeSilent 修复但只输出 Debug 日志
	ModeSilent
)

// ParseMode 解析修复模式
func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "off", "false", "0":
		return ModeOff, nil
	case "on", "true", "1":
		return ModeOn, nil
	case "silent":
		return ModeSilent, nil
	}
	return ModeOff, fmt.Errorf("invalid repair mode %q", s)
}

func (m Mode) String() string {
	switch m {
	case ModeOn:
		return "on"
	case ModeSilent:
		return "silent"
	}
	return "off"
}

// Engine 价格历史修复引擎，可并发使用
type Engine struct {
	fetcher pcore.HistoryFetcher
	cfg     Config
	clock   timing.TimeService
	log     *logrus.Entry
	prepost bool
}

// Option 引擎选项
type Option func(*Engine)

// WithClock 注入时钟，用于回溯限制判断
func WithClock(clock timing.TimeService) Option {
	return func(e *Engine) { e.clock = clock }
}

// WithLogger 注入日志器
func WithLogger(entry *logrus.Entry) Option {
	return func(e *Engine) { e.log = entry }
}

// WithExtendedHours 细粒度请求是否包含盘前盘后
func WithExtendedHours(prepost bool) Option {
	return func(e *Engine) { e.prepost = prepost }
}

// NewEngine 创建修复引擎，fetcher 用于获取细粒度数据
func NewEngine(fetcher pcore.HistoryFetcher, cfg Config, opts ...Option) (*Engine, error) {
	if fetcher == nil {
		return nil, fmt.Errorf("repair engine requires a history fetcher")
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid repair config: %w", err)
	}
	e := &Engine{
		fetcher: fetcher,
		cfg:     cfg,
		clock:   &timing.SystemTimeService{},
		log:     logger.WithComponent("repair"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Config 返回当前阈值
func (e *Engine) Config() Config { return e.cfg }

// Repair 修复价格表，输入不会被修改
// 只有 ctx 取消会返回错误；单个分组的获取失败只跳过该分组
func (e *Engine) Repair(ctx context.Context, t *core.Table, mode Mode) (*core.Table, *Stats, error) {
	if t == nil {
		return nil, nil, fmt.Errorf("nil table")
	}
	out := t.Clone()
	out.Sort()
	stats := newStats(out)
	if mode == ModeOff || out.Empty() {
		return out, stats, nil
	}

	r := &run{
		engine: e,
		stats:  stats,
		root:   stats,
		mode:   mode,
		depth:  0,
		log: e.log.WithFields(logrus.Fields{
			"symbol":   out.Meta.Symbol,
			"interval": out.Interval,
		}),
	}
	if err := r.pipeline(ctx, out); err != nil {
		return nil, stats, err
	}
	stats.Currency = out.Meta.Currency
	r.report("repair finished: %d repaired rows", out.RepairedCount())
	return out, stats, nil
}

// run 一次修复调用（或一次递归）的上下文
type run struct {
	engine *Engine
	stats  *Stats
	root   *Stats
	mode   Mode
	depth  int
	log    *logrus.Entry
}

func (r *run) cfg() *Config { return &r.engine.cfg }

// child 细粒度数据的递归修复上下文
func (r *run) child(t *core.Table) *run {
	return &run{
		engine: r.engine,
		stats:  newStats(t),
		root:   r.root,
		mode:   ModeSilent,
		depth:  r.depth + 1,
		log: r.log.WithFields(logrus.Fields{
			"interval": t.Interval,
			"depth":    r.depth + 1,
		}),
	}
}

// report 按模式输出修复报告
func (r *run) report(format string, args ...interface{}) {
	if r.mode == ModeOn {
		r.log.Infof(format, args...)
		return
	}
	r.log.Debugf(format, args...)
}

// pipeline 按固定顺序执行全部工序
func (r *run) pipeline(ctx context.Context, t *core.Table) error {
	r.stats.advance(StateRawFetched)

	r.standardizeCurrency(t)
	r.stats.advance(StateCurrencyStandardized)

	r.repairDividends(t)
	r.stats.advance(StateDividendsRepaired)

	if err := r.repairLatestRow(ctx, t); err != nil {
		return err
	}
	r.stats.advance(StateLatestRowZeroRepaired)

	r.fixUnitSwitch(t)
	if err := r.fixUnitMixups(ctx, t); err != nil {
		return err
	}
	r.stats.advance(StateUnitMixupRepaired)

	r.fixBadSplits(t)
	r.stats.advance(StateBadSplitRepaired)

	if err := r.fixZeroes(ctx, t, PassZeroes); err != nil {
		return err
	}
	r.stats.advance(StateFullyZeroRepaired)

	r.enforceConsistency(t)
	r.stats.advance(StateFinal)
	return nil
}

// repairLatestRow 单独修复最新一行的缺失值
func (r *run) repairLatestRow(ctx context.Context, t *core.Table) error {
	n := t.Len()
	if n == 0 {
		return nil
	}
	last := t.Slice(n-1, n)
	if err := r.fixZeroes(ctx, last, PassLatestZeroes); err != nil {
		return err
	}
	t.Replace(n-1, last)
	return nil
}
