package history

import (
	"math"

	"github.com/shopspring/decimal"

	"stockrepair/pkg/core"
)

// AutoAdjust 按 AdjClose/Close 调整全部价格，Close 变为复权价
func AutoAdjust(t *core.Table) {
	for i := range t.Bars {
		b := &t.Bars[i]
		ratio := b.AdjustmentMultiplier()
		if math.IsNaN(ratio) {
			continue
		}
		b.Open *= ratio
		b.High *= ratio
		b.Low *= ratio
		b.Close = b.AdjClose
	}
}

// BackAdjust 只调整 Open/High/Low，Close 保持原始成交价
func BackAdjust(t *core.Table) {
	for i := range t.Bars {
		b := &t.Bars[i]
		ratio := b.AdjustmentMultiplier()
		if math.IsNaN(ratio) {
			continue
		}
		b.Open *= ratio
		b.High *= ratio
		b.Low *= ratio
	}
}

// Round 按价格精度四舍五入全部价格列，places<0 时不处理
func Round(t *core.Table, places int) {
	if places < 0 {
		return
	}
	p := int32(places)
	for i := range t.Bars {
		b := &t.Bars[i]
		for _, f := range core.PriceFields {
			v := b.Get(f)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				continue
			}
			rounded, _ := decimal.NewFromFloat(v).Round(p).Float64()
			b.Set(f, rounded)
		}
	}
}
