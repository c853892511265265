package yahoo

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	"stockrepair/pkg/core"
	apperr "stockrepair/pkg/error"
	pcore "stockrepair/pkg/provider/core"
)

// chartResponse /v8/finance/chart 响应结构
type chartResponse struct {
	Chart struct {
		Result []chartResult `json:"result"`
		Error  *chartError   `json:"error"`
	} `json:"chart"`
}

type chartError struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type chartResult struct {
	Meta       chartMeta    `json:"meta"`
	Timestamp  []int64      `json:"timestamp"`
	Events     *chartEvents `json:"events"`
	Indicators struct {
		Quote    []chartQuote `json:"quote"`
		AdjClose []struct {
			AdjClose []*float64 `json:"adjclose"`
		} `json:"adjclose"`
	} `json:"indicators"`
}

type chartMeta struct {
	Currency             string  `json:"currency"`
	Symbol               string  `json:"symbol"`
	ExchangeName         string  `json:"exchangeName"`
	InstrumentType       string  `json:"instrumentType"`
	ExchangeTimezoneName string  `json:"exchangeTimezoneName"`
	RegularMarketPrice   float64 `json:"regularMarketPrice"`
	PriceHint            int     `json:"priceHint"`
	DataGranularity      string  `json:"dataGranularity"`
}

type chartQuote struct {
	Open   []*float64 `json:"open"`
	High   []*float64 `json:"high"`
	Low    []*float64 `json:"low"`
	Close  []*float64 `json:"close"`
	Volume []*float64 `json:"volume"`
}

type chartEvents struct {
	Dividends    map[string]cashEvent  `json:"dividends"`
	CapitalGains map[string]cashEvent  `json:"capitalGains"`
	Splits       map[string]splitEvent `json:"splits"`
}

type cashEvent struct {
	Amount float64 `json:"amount"`
	Date   int64   `json:"date"`
}

type splitEvent struct {
	Date        int64   `json:"date"`
	Numerator   float64 `json:"numerator"`
	Denominator float64 `json:"denominator"`
	SplitRatio  string  `json:"splitRatio"`
}

// ParseChart 解析 chart 接口响应为价格表
// 日线及以上粒度的时间戳归一到交易所时区的零点
func ParseChart(data []byte, interval core.Interval) (*core.Table, error) {
	var resp chartResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		return nil, apperr.WrapError(apperr.CodeParseFailed, "decode chart response", err)
	}
	if e := resp.Chart.Error; e != nil {
		return nil, fmt.Errorf("%w: %s: %s", pcore.ErrProviderRejected, e.Code, e.Description)
	}
	if len(resp.Chart.Result) == 0 {
		return core.NewTable(interval, core.Metadata{}, nil), nil
	}

	res := resp.Chart.Result[0]
	meta := core.Metadata{
		Symbol:             res.Meta.Symbol,
		Currency:           res.Meta.Currency,
		Timezone:           res.Meta.ExchangeTimezoneName,
		ExchangeName:       res.Meta.ExchangeName,
		InstrumentType:     core.InstrumentType(strings.ToUpper(res.Meta.InstrumentType)),
		PriceHint:          res.Meta.PriceHint,
		RegularMarketPrice: res.Meta.RegularMarketPrice,
	}
	t := core.NewTable(interval, meta, nil)
	loc := t.Location()

	var q chartQuote
	if len(res.Indicators.Quote) > 0 {
		q = res.Indicators.Quote[0]
	}
	var adj []*float64
	if len(res.Indicators.AdjClose) > 0 {
		adj = res.Indicators.AdjClose[0].AdjClose
	}

	bars := make([]core.Bar, 0, len(res.Timestamp))
	for i, ts := range res.Timestamp {
		b := core.Bar{
			Timestamp: normalizeTime(ts, interval, loc),
			Open:      value(q.Open, i),
			High:      value(q.High, i),
			Low:       value(q.Low, i),
			Close:     value(q.Close, i),
			Volume:    value(q.Volume, i),
		}
		if adj != nil {
			b.AdjClose = value(adj, i)
		} else {
			b.AdjClose = b.Close
		}

		// 实时行情的最后一行可能与上一行归一到同一天
		if n := len(bars); n > 0 && bars[n-1].Timestamp.Equal(b.Timestamp) {
			mergeBar(&bars[n-1], b)
			continue
		}
		bars = append(bars, b)
	}
	t.Bars = bars
	t.Sort()

	if res.Events != nil {
		attachEvents(t, res.Events, loc)
	}
	return t, nil
}

func value(arr []*float64, i int) float64 {
	if i >= len(arr) || arr[i] == nil {
		return math.NaN()
	}
	return *arr[i]
}

func normalizeTime(ts int64, interval core.Interval, loc *time.Location) time.Time {
	t := time.Unix(ts, 0).In(loc)
	if interval.IsIntraday() {
		return t
	}
	return core.Interval1d.Truncate(t, loc)
}

// mergeBar 用后一行的有效值覆盖前一行，最高/最低取极值
func mergeBar(dst *core.Bar, src core.Bar) {
	if !math.IsNaN(src.Open) && math.IsNaN(dst.Open) {
		dst.Open = src.Open
	}
	if !math.IsNaN(src.High) && (math.IsNaN(dst.High) || src.High > dst.High) {
		dst.High = src.High
	}
	if !math.IsNaN(src.Low) && (math.IsNaN(dst.Low) || src.Low < dst.Low) {
		dst.Low = src.Low
	}
	if !math.IsNaN(src.Close) {
		dst.Close = src.Close
		dst.AdjClose = src.AdjClose
	}
	if !math.IsNaN(src.Volume) {
		if math.IsNaN(dst.Volume) {
			dst.Volume = src.Volume
		} else {
			dst.Volume += src.Volume
		}
	}
}

func attachEvents(t *core.Table, ev *chartEvents, loc *time.Location) {
	for _, d := range ev.Dividends {
		if i := eventRow(t, d.Date, loc); i >= 0 {
			t.Bars[i].Dividend += d.Amount
		}
	}
	for _, g := range ev.CapitalGains {
		if i := eventRow(t, g.Date, loc); i >= 0 {
			t.Bars[i].CapitalGain += g.Amount
		}
	}
	for _, s := range ev.Splits {
		if s.Denominator <= 0 || s.Numerator <= 0 {
			continue
		}
		if i := eventRow(t, s.Date, loc); i >= 0 {
			t.Bars[i].Split = s.Numerator / s.Denominator
		}
	}
}

// eventRow 找到事件所属的行，找不到返回 -1
// 日内粒度归到当天第一根K线，其余粒度归到包含事件时间的K线
func eventRow(t *core.Table, unix int64, loc *time.Location) int {
	at := time.Unix(unix, 0).In(loc)
	if t.Interval.IsIntraday() {
		day := core.Interval1d.Truncate(at, loc)
		for i := range t.Bars {
			if core.Interval1d.Truncate(t.Bars[i].Timestamp, loc).Equal(day) {
				return i
			}
		}
		return -1
	}
	at = core.Interval1d.Truncate(at, loc)
	for i := len(t.Bars) - 1; i >= 0; i-- {
		ts := t.Bars[i].Timestamp
		if ts.After(at) {
			continue
		}
		if at.Before(t.Interval.Next(ts)) {
			return i
		}
		return -1
	}
	return -1
}

