package yahoo

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	"stockrepair/pkg/logger"
	pcore "stockrepair/pkg/provider/core"
	"stockrepair/pkg/timing"
)

const chartPath = "/v8/finance/chart/{symbol}"

// Config Yahoo 数据源配置
type Config struct {
	BaseURL   string        `mapstructure:"base_url" yaml:"base_url"`
	Timeout   time.Duration `mapstructure:"timeout" yaml:"timeout"`
	RateLimit time.Duration `mapstructure:"rate_limit" yaml:"rate_limit"` // 两次请求的最小间隔
	UserAgent string        `mapstructure:"user_agent" yaml:"user_agent"`
}

// DefaultConfig 默认配置
func DefaultConfig() Config {
	return Config{
		BaseURL:   "https://query2.finance.yahoo.com",
		Timeout:   15 * time.Second,
		RateLimit: 500 * time.Millisecond,
		UserAgent: "Mozilla/5.0 (compatible; stockrepair/1.0)",
	}
}

// Provider Yahoo chart 接口数据源，实现 HistoryFetcher
type Provider struct {
	client      *resty.Client
	cfg         Config
	clock       timing.TimeService
	requestMu   sync.Mutex
	lastRequest time.Time
	closed      bool
	log         *logrus.Entry
}

// Option 数据源选项
type Option func(*Provider)

// WithClock 注入时钟，用于回溯限制计算
func WithClock(clock timing.TimeService) Option {
	return func(p *Provider) { p.clock = clock }
}

// NewProvider 创建 Yahoo 数据源
func NewProvider(cfg Config, opts ...Option) *Provider {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(cfg.Timeout)
	client.SetHeader("User-Agent", cfg.UserAgent)
	client.SetHeader("Accept", "application/json")

	p := &Provider{
		client: client,
		cfg:    cfg,
		clock:  &timing.SystemTimeService{},
		log:    logger.WithComponent("YahooProvider"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Name 返回提供商名称
func (p *Provider) Name() string {
	return "yahoo"
}

// GetRateLimit 获取请求频率限制
func (p *Provider) GetRateLimit() time.Duration {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()
	return p.cfg.RateLimit
}

// IsHealthy 检查提供商健康状态
func (p *Provider) IsHealthy() bool {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()
	return !p.closed
}

// SetRateLimit 设置请求频率限制
func (p *Provider) SetRateLimit(limit time.Duration) {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()
	p.cfg.RateLimit = limit
}

// SetTimeout 设置请求超时时间
func (p *Provider) SetTimeout(timeout time.Duration) {
	p.cfg.Timeout = timeout
	p.client.SetTimeout(timeout)
}

// SetMaxRetries 重试由装饰器负责，这里只设置传输层重试
func (p *Provider) SetMaxRetries(retries int) {
	p.client.SetRetryCount(retries)
}

// Close 关闭提供商
func (p *Provider) Close() error {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()
	p.closed = true
	return nil
}

// FetchHistory 获取 [Start, End) 区间的原始K线
func (p *Provider) FetchHistory(ctx context.Context, req pcore.HistoryRequest) (*core.Table, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.WrapError(apperr.CodeInvalidRequest, "validate history request", err)
	}
	if !p.IsHealthy() {
		return nil, pcore.ErrProviderClosed
	}

	start, end, err := p.clampRange(req)
	if err != nil {
		return nil, err
	}

	if err := p.enforceRateLimit(ctx); err != nil {
		return nil, err
	}

	params := map[string]string{
		"period1":        strconv.FormatInt(start.Unix(), 10),
		"period2":        strconv.FormatInt(end.Unix(), 10),
		"interval":       string(req.Interval),
		"includePrePost": strconv.FormatBool(req.IncludeExtendedHours),
		"events":         "div,splits,capitalGains",
	}

	requestStart := time.Now()
	resp, err := p.client.R().
		SetContext(ctx).
		SetPathParam("symbol", req.Symbol).
		SetQueryParams(params).
		Get(chartPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, apperr.WrapError(apperr.CodeFetchFailed, "chart request", err).
			WithContext("symbol", req.Symbol)
	}

	p.log.WithFields(logrus.Fields{
		"symbol":   req.Symbol,
		"interval": req.Interval,
		"status":   resp.StatusCode(),
		"elapsed":  time.Since(requestStart),
	}).Debug("chart request finished")

	switch code := resp.StatusCode(); {
	case code == http.StatusTooManyRequests:
		return nil, fmt.Errorf("%w: HTTP %d", pcore.ErrRateLimitExceeded, code)
	case code >= 500:
		return nil, apperr.NewError(apperr.CodeFetchFailed, fmt.Sprintf("HTTP %d", code)).
			WithContext("symbol", req.Symbol)
	case code >= 400:
		// 4xx 通常带有 chart.error 说明
		if _, perr := ParseChart(resp.Body(), req.Interval); errors.Is(perr, pcore.ErrProviderRejected) {
			return nil, perr
		}
		return nil, fmt.Errorf("%w: HTTP %d", pcore.ErrProviderRejected, code)
	}

	t, err := ParseChart(resp.Body(), req.Interval)
	if err != nil {
		return nil, err
	}
	if t.Meta.Symbol == "" {
		t.Meta.Symbol = req.Symbol
	}
	t.Bars = clipEnd(t.Bars, end)
	return t, nil
}

// clampRange 按粒度回溯限制收紧起点，整个区间都不可取时报错
func (p *Provider) clampRange(req pcore.HistoryRequest) (time.Time, time.Time, error) {
	now := p.clock.Now()
	start, end := req.Start, req.End
	if end.IsZero() || end.After(now) {
		end = now
	}
	earliest := req.Interval.EarliestAvailable(now)
	if !earliest.IsZero() {
		if !end.After(earliest) {
			return start, end, fmt.Errorf("%w: %s %s before %s", pcore.ErrLookbackExceeded,
				req.Interval, end.Format(time.RFC3339), earliest.Format(time.RFC3339))
		}
		if start.Before(earliest) {
			start = earliest
		}
	}
	if start.IsZero() {
		start = time.Unix(0, 0)
	}
	return start, end, nil
}

// enforceRateLimit 保证两次请求之间的最小间隔
func (p *Provider) enforceRateLimit(ctx context.Context) error {
	p.requestMu.Lock()
	defer p.requestMu.Unlock()

	if p.cfg.RateLimit > 0 && !p.lastRequest.IsZero() {
		if wait := p.cfg.RateLimit - time.Since(p.lastRequest); wait > 0 {
			timer := time.NewTimer(wait)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-timer.C:
			}
		}
	}
	p.lastRequest = time.Now()
	return nil
}

// clipEnd 去掉数据源附带的区间外实时行
func clipEnd(bars []core.Bar, end time.Time) []core.Bar {
	for i := len(bars) - 1; i >= 0; i-- {
		if bars[i].Timestamp.Before(end) {
			return bars[:i+1]
		}
	}
	return bars[:0]
}

var (
	_ pcore.HistoryFetcher = (*Provider)(nil)
	_ pcore.Configurable   = (*Provider)(nil)
	_ pcore.Closable       = (*Provider)(nil)
)
