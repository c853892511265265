package core

import (
	"encoding/json"
	"math"
	"sort"
	"time"
)

// Field 价格表中的数值列
type Field int

const (
	FieldOpen Field = iota
	FieldHigh
	FieldLow
	FieldClose
	FieldAdjClose
	FieldVolume
	numFields
)

// NumFields 可被标记修复的数值列数量
const NumFields = int(numFields)

// PriceFields 参与修复的价格列（不含成交量）
var PriceFields = []Field{FieldOpen, FieldHigh, FieldLow, FieldClose, FieldAdjClose}

// String 返回列名
func (f Field) String() string {
	switch f {
	case FieldOpen:
		return "Open"
	case FieldHigh:
		return "High"
	case FieldLow:
		return "Low"
	case FieldClose:
		return "Close"
	case FieldAdjClose:
		return "Adj Close"
	case FieldVolume:
		return "Volume"
	}
	return "Unknown"
}

// InstrumentType 标的类型
type InstrumentType string

const (
	InstrumentEquity     InstrumentType = "EQUITY"
	InstrumentETF        InstrumentType = "ETF"
	InstrumentMutualFund InstrumentType = "MUTUALFUND"
	InstrumentCurrency   InstrumentType = "CURRENCY"
	InstrumentIndex      InstrumentType = "INDEX"
	InstrumentFuture     InstrumentType = "FUTURE"
	InstrumentCrypto     InstrumentType = "CRYPTOCURRENCY"
)

// Metadata 交易所与标的元数据
type Metadata struct {
	Symbol             string         `json:"symbol"`
	Currency           string         `json:"currency"`             // 报价币种，可能是辅币单位如 GBp
	Timezone           string         `json:"timezone"`             // 交易所时区，如 America/New_York
	ExchangeName       string         `json:"exchange_name"`
	InstrumentType     InstrumentType `json:"instrument_type"`
	PriceHint          int            `json:"price_hint"`           // 价格小数位数
	RegularMarketPrice float64        `json:"regular_market_price"` // 最新成交价
}

// Bar 单个时间点的K线记录
type Bar struct {
	Timestamp   time.Time `json:"timestamp"`
	Open        float64   `json:"open"`
	High        float64   `json:"high"`
	Low         float64   `json:"low"`
	Close       float64   `json:"close"`
	AdjClose    float64   `json:"adj_close"`
	Volume      float64   `json:"volume"`       // 缺失时为 NaN
	Dividend    float64   `json:"dividend"`     // 0 表示当期无分红
	Split       float64   `json:"split"`        // 0 表示当期无拆股，>0 为股数乘数
	CapitalGain float64   `json:"capital_gain"` // 仅基金/ETF
	Repaired    bool      `json:"repaired"`
}

// Get 读取指定列
func (b *Bar) Get(f Field) float64 {
	switch f {
	case FieldOpen:
		return b.Open
	case FieldHigh:
		return b.High
	case FieldLow:
		return b.Low
	case FieldClose:
		return b.Close
	case FieldAdjClose:
		return b.AdjClose
	case FieldVolume:
		return b.Volume
	}
	return math.NaN()
}

// Set 写入指定列
func (b *Bar) Set(f Field, v float64) {
	switch f {
	case FieldOpen:
		b.Open = v
	case FieldHigh:
		b.High = v
	case FieldLow:
		b.Low = v
	case FieldClose:
		b.Close = v
	case FieldAdjClose:
		b.AdjClose = v
	case FieldVolume:
		b.Volume = v
	}
}

// AdjustmentMultiplier 复权乘数 AdjClose/Close，无法计算时返回 NaN
func (b *Bar) AdjustmentMultiplier() float64 {
	if !IsValidPrice(b.Close) || !IsValidPrice(b.AdjClose) {
		return math.NaN()
	}
	return b.AdjClose / b.Close
}

// IsConsistent 检查 Low <= Open,Close <= High
func (b *Bar) IsConsistent() bool {
	lo := math.Min(b.Open, b.Close)
	hi := math.Max(b.Open, b.Close)
	return b.Low <= lo && b.High >= hi && b.High >= b.Low
}

// barJSON 序列化格式，NaN 写为 null
type barJSON struct {
	Timestamp   time.Time `json:"timestamp"`
	Open        *float64  `json:"open"`
	High        *float64  `json:"high"`
	Low         *float64  `json:"low"`
	Close       *float64  `json:"close"`
	AdjClose    *float64  `json:"adj_close"`
	Volume      *float64  `json:"volume"`
	Dividend    float64   `json:"dividend,omitempty"`
	Split       float64   `json:"split,omitempty"`
	CapitalGain float64   `json:"capital_gain,omitempty"`
	Repaired    bool      `json:"repaired"`
}

func nullable(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

func fromNullable(p *float64) float64 {
	if p == nil {
		return math.NaN()
	}
	return *p
}

// MarshalJSON encoding/json 不接受 NaN，缺失值输出为 null
func (b Bar) MarshalJSON() ([]byte, error) {
	return json.Marshal(barJSON{
		Timestamp:   b.Timestamp,
		Open:        nullable(b.Open),
		High:        nullable(b.High),
		Low:         nullable(b.Low),
		Close:       nullable(b.Close),
		AdjClose:    nullable(b.AdjClose),
		Volume:      nullable(b.Volume),
		Dividend:    b.Dividend,
		Split:       b.Split,
		CapitalGain: b.CapitalGain,
		Repaired:    b.Repaired,
	})
}

// UnmarshalJSON null 还原为 NaN
func (b *Bar) UnmarshalJSON(data []byte) error {
	var raw barJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	*b = Bar{
		Timestamp:   raw.Timestamp,
		Open:        fromNullable(raw.Open),
		High:        fromNullable(raw.High),
		Low:         fromNullable(raw.Low),
		Close:       fromNullable(raw.Close),
		AdjClose:    fromNullable(raw.AdjClose),
		Volume:      fromNullable(raw.Volume),
		Dividend:    raw.Dividend,
		Split:       raw.Split,
		CapitalGain: raw.CapitalGain,
		Repaired:    raw.Repaired,
	}
	return nil
}

// IsValidPrice 价格是否为有效正数
func IsValidPrice(v float64) bool {
	return v > 0 && !math.IsNaN(v) && !math.IsInf(v, 0)
}

// Table 按时间升序排列的历史价格表
type Table struct {
	Interval Interval `json:"interval"`
	Meta     Metadata `json:"meta"`
	Bars     []Bar    `json:"bars"`
}

// NewTable 创建价格表并按时间排序
func NewTable(interval Interval, meta Metadata, bars []Bar) *Table {
	t := &Table{Interval: interval, Meta: meta, Bars: bars}
	t.Sort()
	return t
}

// Len 行数
func (t *Table) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Bars)
}

// Empty 是否没有任何行
func (t *Table) Empty() bool {
	return t.Len() == 0
}

// Sort 按时间升序排序
func (t *Table) Sort() {
	sort.SliceStable(t.Bars, func(i, j int) bool {
		return t.Bars[i].Timestamp.Before(t.Bars[j].Timestamp)
	})
}

// Clone 深拷贝
func (t *Table) Clone() *Table {
	if t == nil {
		return nil
	}
	bars := make([]Bar, len(t.Bars))
	copy(bars, t.Bars)
	return &Table{Interval: t.Interval, Meta: t.Meta, Bars: bars}
}

// Slice 复制 [i, j) 行组成新表
func (t *Table) Slice(i, j int) *Table {
	bars := make([]Bar, j-i)
	copy(bars, t.Bars[i:j])
	return &Table{Interval: t.Interval, Meta: t.Meta, Bars: bars}
}

// Replace 用 sub 覆盖从第 i 行开始的记录
func (t *Table) Replace(i int, sub *Table) {
	copy(t.Bars[i:], sub.Bars)
}

// IndexOf 二分查找时间戳所在行，不存在返回 -1
func (t *Table) IndexOf(ts time.Time) int {
	i := sort.Search(len(t.Bars), func(k int) bool {
		return !t.Bars[k].Timestamp.Before(ts)
	})
	if i < len(t.Bars) && t.Bars[i].Timestamp.Equal(ts) {
		return i
	}
	return -1
}

// Location 交易所时区，无法解析时返回 UTC
func (t *Table) Location() *time.Location {
	if t.Meta.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(t.Meta.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// HasCapitalGains 基金/ETF 才有资本利得事件列
func (t *Table) HasCapitalGains() bool {
	return t.Meta.InstrumentType == InstrumentMutualFund || t.Meta.InstrumentType == InstrumentETF
}

// RepairedCount 被标记为已修复的行数
func (t *Table) RepairedCount() int {
	n := 0
	for i := range t.Bars {
		if t.Bars[i].Repaired {
			n++
		}
	}
	return n
}

// DropEmptyRows 去掉 OHLC 全部缺失或为零且没有任何事件的行，返回去掉的行数
func (t *Table) DropEmptyRows() int {
	if t == nil {
		return 0
	}
	out := t.Bars[:0]
	for _, b := range t.Bars {
		empty := true
		for _, f := range []Field{FieldOpen, FieldHigh, FieldLow, FieldClose} {
			if v := b.Get(f); !math.IsNaN(v) && v != 0 {
				empty = false
				break
			}
		}
		if empty && b.Dividend == 0 && b.Split == 0 && b.CapitalGain == 0 {
			continue
		}
		out = append(out, b)
	}
	dropped := len(t.Bars) - len(out)
	t.Bars = out
	return dropped
}
