package repair

import (
	"math"
	"time"

	"stockrepair/pkg/core"
)

// aggBar 细粒度数据聚合到粗粒度某一行的结果
type aggBar struct {
	core.Bar
	count int // 参与聚合的细粒度行数
}

func (a *aggBar) rescale(scale float64) {
	for _, f := range core.PriceFields {
		a.Set(f, a.Get(f)*scale)
	}
	if !math.IsNaN(a.Volume) {
		a.Volume /= scale
	}
}

// aggregate 将细粒度行按粗粒度表 [lo, hi] 的时间边界聚合
// Open 取首行，Close 取末行，High/Low 取极值，成交量和事件求和
func aggregate(fine, coarse *core.Table, lo, hi int) map[int]*aggBar {
	loc := coarse.Location()
	out := make(map[int]*aggBar)
	for k := range fine.Bars {
		fb := &fine.Bars[k]
		if !core.IsValidPrice(fb.Open) || !core.IsValidPrice(fb.Close) ||
			!core.IsValidPrice(fb.High) || !core.IsValidPrice(fb.Low) {
			continue
		}
		idx := bucketIndex(coarse, lo, hi, fb.Timestamp, loc)
		if idx < 0 {
			continue
		}
		a, ok := out[idx]
		if !ok {
			a = &aggBar{Bar: core.Bar{
				Timestamp: coarse.Bars[idx].Timestamp,
				Open:      fb.Open,
				High:      fb.High,
				Low:       fb.Low,
				Close:     fb.Close,
				AdjClose:  fb.AdjClose,
				Volume:    0,
			}}
			out[idx] = a
		} else {
			a.High = math.Max(a.High, fb.High)
			a.Low = math.Min(a.Low, fb.Low)
			a.Close = fb.Close
			a.AdjClose = fb.AdjClose
		}
		if !math.IsNaN(fb.Volume) {
			a.Volume += fb.Volume
		}
		a.Dividend += fb.Dividend
		a.CapitalGain += fb.CapitalGain
		a.count++
	}
	return out
}

// bucketIndex 细粒度时间戳所属的粗粒度行，优先使用表中时间戳，
// 其次按粒度边界规则，找不到返回 -1
func bucketIndex(coarse *core.Table, lo, hi int, ts time.Time, loc *time.Location) int {
	for k := hi; k >= lo; k-- {
		start := coarse.Bars[k].Timestamp
		if ts.Before(start) {
			continue
		}
		if ts.Before(coarse.Interval.Next(start)) {
			return k
		}
		break
	}
	boundary := coarse.Interval.Truncate(ts, loc)
	for k := lo; k <= hi; k++ {
		if coarse.Bars[k].Timestamp.Equal(boundary) {
			return k
		}
	}
	return -1
}
