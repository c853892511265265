package repair

import (
	"math"
	"sort"

	"stockrepair/pkg/core"
)

// repairDividends 检查每个分红事件的金额、日期和已应用的复权，只处理日线
func (r *run) repairDividends(t *core.Table) {
	if t.Interval != core.Interval1d || t.Len() < 2 {
		return
	}
	cfg := &r.cfg().Dividend

	var evs []*divEvidence
	for i := 1; i < t.Len(); i++ {
		if t.Bars[i].Dividend > 0 && core.IsValidPrice(t.Bars[i-1].Close) {
			evs = append(evs, r.collectEvidence(t, i))
		}
	}
	if len(evs) == 0 {
		return
	}
	clusterReferences(evs, cfg.ClusterGap)
	detectPhantoms(t, evs, cfg)

	for _, ev := range evs {
		classes := classifyDividend(cfg, ev)
		if len(classes) == 0 {
			continue
		}
		r.applyDividendRepair(t, ev, classes)
	}
}

// gap 第 k 行相对前收盘的跳空，Open 缺失时用 Close
func gap(t *core.Table, k int) float64 {
	prev := t.Bars[k-1].Close
	cur := t.Bars[k].Open
	if !core.IsValidPrice(cur) {
		cur = t.Bars[k].Close
	}
	if !core.IsValidPrice(prev) || !core.IsValidPrice(cur) {
		return math.NaN()
	}
	return prev - cur
}

// collectEvidence 收集第 i 行分红的证据
func (r *run) collectEvidence(t *core.Table, i int) *divEvidence {
	cfg := &r.cfg().Dividend
	b := &t.Bars[i]
	ev := &divEvidence{
		idx:          i,
		div:          b.Dividend,
		prevClose:    t.Bars[i-1].Close,
		impliedYield: math.NaN(),
		altIdx:       -1,
		twinIdx:      -1,
	}
	ev.pct = ev.div / ev.prevClose
	if d := gap(t, i); !math.IsNaN(d) {
		ev.dropPct = d / ev.prevClose
	}

	// 局部波动：窗口内非分红日跳空绝对值的中位数
	var gaps []float64
	for k := i - cfg.VolatilityWindow; k <= i+cfg.VolatilityWindow; k++ {
		if k < 1 || k >= t.Len() || k == i || t.Bars[k].Dividend != 0 {
			continue
		}
		if d := gap(t, k); !math.IsNaN(d) {
			gaps = append(gaps, math.Abs(d))
		}
	}
	if vol := median(gaps); !math.IsNaN(vol) {
		ev.volPct = vol / ev.prevClose
	} else {
		ev.volPct = math.Inf(1)
	}

	mb, ma := t.Bars[i-1].AdjustmentMultiplier(), b.AdjustmentMultiplier()
	if !math.IsNaN(mb) && !math.IsNaN(ma) {
		ev.impliedYield = 1 - mb/ma
	}

	limit := b.Timestamp.Add(cfg.PreSplitWindow)
	for k := i + 1; k < t.Len() && !t.Bars[k].Timestamp.After(limit); k++ {
		if s := t.Bars[k].Split; s != 0 && s != 1 {
			ev.splitRatio = s
			break
		}
	}

	ev.scales = []float64{minorUnitFactor(t.Meta.Currency)}

	// 错误日期：向后查找跌幅最大的交易日
	lookahead := b.Timestamp.Add(cfg.Lookahead)
	best := math.Inf(-1)
	for k := i + 1; k < t.Len() && !t.Bars[k].Timestamp.After(lookahead); k++ {
		if t.Bars[k].Dividend != 0 {
			continue
		}
		d := gap(t, k)
		if math.IsNaN(d) {
			continue
		}
		if p := d / t.Bars[k-1].Close; p > best {
			best = p
			ev.altIdx, ev.altDropPct = k, p
		}
	}
	if ev.altIdx >= 0 && !(ev.altDropPct > cfg.DropSignificance*ev.volPct) {
		ev.altIdx, ev.altDropPct = -1, 0
	}
	return ev
}

// clusterReferences 按股息率一维聚类，为每个事件确定参考股息率
// 事件属于最大簇时参考本簇，否则参考最大簇
func clusterReferences(evs []*divEvidence, gapRatio float64) {
	order := make([]*divEvidence, 0, len(evs))
	for _, ev := range evs {
		if ev.pct > 0 {
			order = append(order, ev)
		}
	}
	if len(order) < 2 {
		return
	}
	sort.Slice(order, func(a, b int) bool { return order[a].pct < order[b].pct })

	var clusters [][]*divEvidence
	cur := []*divEvidence{order[0]}
	for _, ev := range order[1:] {
		if ev.pct/cur[len(cur)-1].pct > gapRatio {
			clusters = append(clusters, cur)
			cur = nil
		}
		cur = append(cur, ev)
	}
	clusters = append(clusters, cur)

	// 最大簇，大小相同时取包含最新事件的簇
	latest := func(c []*divEvidence) int {
		m := -1
		for _, ev := range c {
			if ev.idx > m {
				m = ev.idx
			}
		}
		return m
	}
	largest := 0
	for k := 1; k < len(clusters); k++ {
		if len(clusters[k]) > len(clusters[largest]) ||
			(len(clusters[k]) == len(clusters[largest]) && latest(clusters[k]) > latest(clusters[largest])) {
			largest = k
		}
	}

	pcts := func(c []*divEvidence, skip *divEvidence) []float64 {
		var out []float64
		for _, ev := range c {
			if ev != skip {
				out = append(out, ev.pct)
			}
		}
		return out
	}
	for k, c := range clusters {
		for _, ev := range c {
			if k == largest {
				others := pcts(c, ev)
				if len(others) == 0 {
					continue
				}
				ev.refPct, ev.refSize = median(others), len(others)
				continue
			}
			ev.refPct, ev.refSize = median(pcts(clusters[largest], nil)), len(clusters[largest])
		}
	}
}

// detectPhantoms 窗口内金额相近的两条记录，跌幅较小的一条视为重复
func detectPhantoms(t *core.Table, evs []*divEvidence, cfg *DividendConfig) {
	for a := 0; a < len(evs); a++ {
		for b := a + 1; b < len(evs); b++ {
			ea, eb := evs[a], evs[b]
			if ea.twinIdx >= 0 || eb.twinIdx >= 0 {
				continue
			}
			if t.Bars[eb.idx].Timestamp.Sub(t.Bars[ea.idx].Timestamp) > cfg.PhantomWindow {
				break
			}
			if !isClose(ea.div, eb.div, cfg.PhantomTolerance) {
				continue
			}
			if ea.dropPct > eb.dropPct {
				eb.twinIdx = ea.idx
			} else {
				ea.twinIdx = eb.idx
			}
		}
	}
}

// applyDividendRepair 按分类修正分红金额、日期和复权
func (r *run) applyDividendRepair(t *core.Table, ev *divEvidence, classes []DivClass) {
	rec := DividendRepair{
		Date:          t.Bars[ev.idx].Timestamp,
		Classes:       classes,
		OldDividend:   ev.div,
		NewDividend:   ev.div,
		AdjCorrection: 1,
	}
	newIdx := ev.idx
	touchAdj := false
	for _, c := range classes {
		switch c {
		case DivPhantom:
			rec.NewDividend = 0
			touchAdj = true
		case DivPreSplit, DivCurrencyTooBig, DivCurrencyTooSmall:
			rec.NewDividend = ev.div / ev.amountFactor
		case DivWrongDate:
			newIdx = ev.altIdx
			rec.MovedTo = t.Bars[newIdx].Timestamp
			touchAdj = true
		case DivAdjMissing, DivAdjTooBig, DivAdjTooSmall:
			touchAdj = true
		}
	}

	if touchAdj {
		cur := 1.0
		if !math.IsNaN(ev.impliedYield) {
			cur = 1 - ev.impliedYield
		}
		desired := 1.0
		if rec.NewDividend > 0 {
			desired = 1 - rec.NewDividend/t.Bars[newIdx-1].Close
		}
		if !(desired > 0) || !(cur > 0) {
			r.log.Warnf("dividend on %s: cannot compute adjustment (desired %.4f, current %.4f)",
				rec.Date.Format("2006-01-02"), desired, cur)
			return
		}
		if newIdx == ev.idx {
			rec.AdjCorrection = desired / cur
			scaleAdjBefore(t, ev.idx, rec.AdjCorrection)
		} else {
			scaleAdjBefore(t, ev.idx, 1/cur)
			scaleAdjBefore(t, newIdx, desired)
			rec.AdjCorrection = desired
		}
	}

	if newIdx != ev.idx {
		t.Bars[ev.idx].Dividend = 0
		t.Bars[newIdx].Dividend += rec.NewDividend
		t.Bars[newIdx].Repaired = true
	} else {
		t.Bars[ev.idx].Dividend = rec.NewDividend
	}
	t.Bars[ev.idx].Repaired = true

	r.stats.Dividends = append(r.stats.Dividends, rec)
	r.stats.Pass(PassDividends).Rows++
	r.report("dividend on %s classified %v: %.4f -> %.4f, adj x%.6f",
		rec.Date.Format("2006-01-02"), classes, rec.OldDividend, rec.NewDividend, rec.AdjCorrection)
}

// scaleAdjBefore 将 idx 之前全部行的 AdjClose 乘以 f
func scaleAdjBefore(t *core.Table, idx int, f float64) {
	if isClose(f, 1, 1e-12) {
		return
	}
	for k := 0; k < idx; k++ {
		if core.IsValidPrice(t.Bars[k].AdjClose) {
			t.Bars[k].AdjClose *= f
			t.Bars[k].Repaired = true
		}
	}
}
