package history

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	"stockrepair/pkg/logger"
	"stockrepair/pkg/metrics"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/repair"
)

// 数据源未给出价格精度时的小数位数
const defaultPriceHint = 2

// Params 历史数据查询参数
type Params struct {
	Interval core.Interval
	Start    time.Time
	End      time.Time
	Repair   repair.Mode
	// AutoAdjust 与 BackAdjust 互斥，AutoAdjust 优先
	AutoAdjust bool
	BackAdjust bool
	// Rounding 按数据源给出的价格精度四舍五入
	Rounding bool
	Prepost  bool
}

// Result 一次查询的结果
type Result struct {
	Table *core.Table
	// Stats 未开启修复时为空
	Stats *repair.Stats
}

// Client 获取历史价格并修复、复权
type Client struct {
	fetcher   pcore.HistoryFetcher
	engine    *repair.Engine
	metrics   *metrics.Metrics
	locations *LocationResolver
	log       *logrus.Entry
}

// Option 客户端选项
type Option func(*Client)

// WithMetrics 记录获取与修复指标
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) { c.metrics = m }
}

// WithLocationResolver 共享时区缓存
func WithLocationResolver(r *LocationResolver) Option {
	return func(c *Client) { c.locations = r }
}

// NewClient 创建客户端，engine 为空时不支持修复
func NewClient(fetcher pcore.HistoryFetcher, engine *repair.Engine, opts ...Option) *Client {
	c := &Client{
		fetcher: fetcher,
		engine:  engine,
		log:     logger.WithComponent("history"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.locations == nil {
		c.locations = NewLocationResolver(nil, fetcher, nil)
	}
	return c
}

// Locations 返回时区解析器
func (c *Client) Locations() *LocationResolver {
	return c.locations
}

// History 获取一个标的的历史价格
// 原始数据获取失败直接返回错误；修复过程只有 ctx 取消会失败
func (c *Client) History(ctx context.Context, symbol string, p Params) (*Result, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if p.Interval == "" {
		p.Interval = core.Interval1d
	}
	req := pcore.HistoryRequest{
		Symbol:               symbol,
		Interval:             p.Interval,
		Start:                p.Start,
		End:                  p.End,
		IncludeExtendedHours: p.Prepost,
	}
	if err := req.Validate(); err != nil {
		return nil, apperr.WrapError(apperr.CodeInvalidRequest, "invalid history request", err)
	}
	if p.Repair != repair.ModeOff && c.engine == nil {
		return nil, apperr.NewError(apperr.CodeInvalidRequest, "repair requested but no repair engine configured")
	}

	started := time.Now()
	table, err := c.fetcher.FetchHistory(ctx, req)
	c.metrics.ObserveFetch(c.fetcher.Name(), err, time.Since(started))
	if err != nil {
		return nil, fmt.Errorf("fetch %s %s: %w", symbol, p.Interval, err)
	}
	if table.Meta.Symbol == "" {
		table.Meta.Symbol = symbol
	}
	if err := c.locations.Remember(ctx, symbol, table.Meta.Timezone); err != nil {
		c.log.WithError(err).WithField("symbol", symbol).Debug("timezone not cached")
	}

	res := &Result{Table: table}
	if p.Repair != repair.ModeOff && !table.Empty() {
		started = time.Now()
		repaired, stats, err := c.engine.Repair(ctx, table, p.Repair)
		if err != nil {
			return nil, fmt.Errorf("repair %s %s: %w", symbol, p.Interval, err)
		}
		c.metrics.ObserveRepair(stats, p.Repair, time.Since(started))
		res.Table, res.Stats = repaired, stats
	}

	switch {
	case p.AutoAdjust:
		AutoAdjust(res.Table)
	case p.BackAdjust:
		BackAdjust(res.Table)
	}
	if p.Rounding {
		places := res.Table.Meta.PriceHint
		if places <= 0 {
			places = defaultPriceHint
		}
		Round(res.Table, places)
	}
	// 修复之后仍然没有价格的行才丢弃
	if n := res.Table.DropEmptyRows(); n > 0 {
		c.log.WithField("symbol", symbol).Debugf("dropped %d empty rows", n)
	}

	c.log.WithFields(logrus.Fields{
		"symbol":   symbol,
		"interval": p.Interval,
		"rows":     res.Table.Len(),
		"repaired": res.Table.RepairedCount(),
	}).Debug("history ready")
	return res, nil
}
