package repair

import (
	"stockrepair/pkg/core"
)

var calibFields = []core.Field{core.FieldOpen, core.FieldClose}

// calibrate 用粗粒度可信的 Open/Close 与聚合值的比值，按细粒度行数加权，得到校准比
// 没有任何可比较的单元格时返回 false
func calibrate(t *core.Table, mask *Mask, agg map[int]*aggBar, lo, hi int) (float64, bool) {
	var ratios, weights []float64
	var rows []int
	for k := lo; k <= hi; k++ {
		a, ok := agg[k]
		if !ok {
			continue
		}
		for _, f := range calibFields {
			if mask.Get(k, f) != CellGood {
				continue
			}
			cv, fv := t.Bars[k].Get(f), a.Get(f)
			if !core.IsValidPrice(cv) || !core.IsValidPrice(fv) {
				continue
			}
			ratios = append(ratios, cv/fv)
			weights = append(weights, float64(a.count))
			rows = append(rows, k)
		}
	}
	if len(ratios) == 0 {
		return 0, false
	}

	compared := make(map[int]bool)
	differ := make(map[int]bool)
	for i, r := range ratios {
		compared[rows[i]] = true
		if !isClose(r, 1, 1e-11) {
			differ[rows[i]] = true
		}
	}
	// 只有一行与细粒度不一致时认为是该行自身的问题
	if len(differ) == 1 && len(compared) > 1 {
		return 1, true
	}

	var sum, wsum float64
	for i, r := range ratios {
		sum += r * weights[i]
		wsum += weights[i]
	}
	return sum / wsum, true
}

// normaliseRatio 只在比值接近某个整十分位时才返回缩放系数，否则返回 1
func normaliseRatio(ratio float64) float64 {
	if !(ratio > 0) {
		return 1
	}
	r := round1(ratio)
	rcp := round1(1 / ratio)
	switch {
	case r == 1 && rcp == 1:
		return 1
	case r > 1:
		return r
	case rcp > 1:
		return 1 / rcp
	}
	return 1
}
