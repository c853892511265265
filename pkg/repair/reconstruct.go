package repair

import (
	"context"
	"math"
	"time"

	"github.com/sirupsen/logrus"

	"stockrepair/pkg/core"
	pcore "stockrepair/pkg/provider/core"
)

// reconstructResult 一次重建的计数
type reconstructResult struct {
	fixed      int
	unrepaired int
	tooOld     int
}

// reconstruct 用下一级细粒度数据重建掩码中待修复的单元格
// 返回后掩码中不再有 CellPending：成功的变为 CellGood，其余变为 CellUnrepairable
func (r *run) reconstruct(ctx context.Context, t *core.Table, mask *Mask) (reconstructResult, error) {
	var res reconstructResult
	if !mask.Any() {
		return res, nil
	}

	log := r.log.WithField("depth", r.depth)
	if r.depth >= MaxDepth {
		log.Debug("reconstruct: max depth reached")
		res.unrepaired = mask.giveUpAll()
		return res, nil
	}
	sub, ok := t.Interval.Finer()
	if !ok {
		log.Debug("reconstruct: no finer interval")
		res.unrepaired = mask.giveUpAll()
		return res, nil
	}

	earliest := sub.EarliestAvailable(r.engine.clock.Now())
	var eligible []int
	for _, i := range mask.PendingRows() {
		if !earliest.IsZero() && t.Bars[i].Timestamp.Before(earliest) {
			res.tooOld += mask.giveUpRow(i)
			continue
		}
		eligible = append(eligible, i)
	}
	if res.tooOld > 0 {
		r.report("%d cells too old to reconstruct from %s data", res.tooOld, sub)
	}
	if len(eligible) == 0 {
		return res, nil
	}

	for _, g := range groupRows(t, eligible, t.Interval.MaxGroupSpan()) {
		fixed, err := r.reconstructGroup(ctx, t, mask, sub, earliest, g)
		if err != nil {
			return res, err
		}
		res.fixed += fixed
	}
	res.unrepaired = mask.giveUpAll()
	return res, nil
}

// groupRows 将待修复行按时间跨度分组
func groupRows(t *core.Table, rows []int, span time.Duration) [][]int {
	if len(rows) == 0 {
		return nil
	}
	groups := [][]int{{rows[0]}}
	for _, i := range rows[1:] {
		g := groups[len(groups)-1]
		if t.Bars[i].Timestamp.Sub(t.Bars[g[0]].Timestamp) < span {
			groups[len(groups)-1] = append(g, i)
			continue
		}
		groups = append(groups, []int{i})
	}
	return groups
}

// reconstructGroup 获取细粒度数据并替换组内待修复单元格，返回修复数量
func (r *run) reconstructGroup(ctx context.Context, t *core.Table, mask *Mask, sub core.Interval, earliest time.Time, g []int) (int, error) {
	lo, hi := g[0], g[len(g)-1]
	// 向两侧各扩展一行，用于校准
	if lo > 0 {
		lo--
	}
	if hi < t.Len()-1 {
		hi++
	}
	start := t.Bars[lo].Timestamp
	end := t.Interval.Next(t.Bars[hi].Timestamp)
	if !earliest.IsZero() && start.Before(earliest) {
		start = earliest
	}

	log := r.log.WithFields(logrus.Fields{
		"depth": r.depth,
		"fine":  sub,
		"start": start.Format(time.RFC3339),
		"end":   end.Format(time.RFC3339),
	})

	fine, err := r.fetchFine(ctx, t, sub, start, end)
	if err != nil {
		if ctx.Err() != nil {
			return 0, ctx.Err()
		}
		log.WithError(err).Warn("fetch finer data failed, skipping group")
		return 0, nil
	}
	if fine.Empty() {
		log.Info("no finer data returned, skipping group")
		return 0, nil
	}

	agg := aggregate(fine, t, lo, hi)
	if len(agg) == 0 {
		log.Info("finer data does not overlap group, skipping")
		return 0, nil
	}

	ratio, ok := calibrate(t, mask, agg, lo, hi)
	if !ok {
		log.Info("can't calibrate finer data, skipping group")
		return 0, nil
	}
	if scale := normaliseRatio(ratio); scale != 1 {
		log.Debugf("rescaling finer data by %.4f", scale)
		for _, a := range agg {
			a.rescale(scale)
		}
	}

	fixed := 0
	for _, i := range g {
		a, ok := agg[i]
		if !ok {
			continue
		}
		fixed += r.substitute(t, mask, i, a)
	}
	return fixed, nil
}

// fetchFine 获取并递归修复细粒度数据
func (r *run) fetchFine(ctx context.Context, t *core.Table, sub core.Interval, start, end time.Time) (*core.Table, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.root.Fetches++
	fine, err := r.engine.fetcher.FetchHistory(ctx, pcore.HistoryRequest{
		Symbol:               t.Meta.Symbol,
		Interval:             sub,
		Start:                start,
		End:                  end,
		IncludeExtendedHours: r.engine.prepost,
	})
	if err != nil {
		return nil, err
	}
	if fine == nil || fine.Empty() {
		return &core.Table{Interval: sub, Meta: t.Meta}, nil
	}
	if fine.Interval == "" {
		fine.Interval = sub
	}
	fine = fine.Clone()
	fine.Sort()

	child := r.child(fine)
	if err := child.pipeline(ctx, fine); err != nil {
		return nil, err
	}
	return fine, nil
}

// substitute 用聚合值替换第 i 行的待修复单元格
func (r *run) substitute(t *core.Table, mask *Mask, i int, a *aggBar) int {
	b := &t.Bars[i]
	fixed := 0
	mult := adjMultiplierNear(t, mask, i)
	for _, f := range []core.Field{core.FieldOpen, core.FieldHigh, core.FieldLow, core.FieldClose, core.FieldVolume} {
		if mask.Get(i, f) != CellPending {
			continue
		}
		v := a.Get(f)
		if f == core.FieldVolume {
			if math.IsNaN(v) || v < 0 {
				continue
			}
		} else if !core.IsValidPrice(v) {
			continue
		}
		b.Set(f, v)
		mask.Set(i, f, CellGood)
		fixed++
	}
	if mask.Get(i, core.FieldAdjClose) == CellPending && core.IsValidPrice(b.Close) && mask.Get(i, core.FieldClose) == CellGood {
		b.AdjClose = b.Close * mult
		mask.Set(i, core.FieldAdjClose, CellGood)
		fixed++
	}
	if fixed == 0 {
		return 0
	}
	// 替换后 High/Low 必须包住 Open/Close
	if core.IsValidPrice(b.Open) && core.IsValidPrice(b.Close) {
		if core.IsValidPrice(b.High) {
			b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		}
		if core.IsValidPrice(b.Low) {
			b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
		}
	}
	b.Repaired = true
	return fixed
}

// adjMultiplierNear 第 i 行的复权乘数，本行不可信时借用相邻且中间无分红拆股的行
func adjMultiplierNear(t *core.Table, mask *Mask, i int) float64 {
	good := func(k int) (float64, bool) {
		if mask.Get(k, core.FieldClose) != CellGood || mask.Get(k, core.FieldAdjClose) != CellGood {
			return 0, false
		}
		m := t.Bars[k].AdjustmentMultiplier()
		return m, !math.IsNaN(m)
	}
	if m, ok := good(i); ok {
		return m
	}
	// 向后查找：i 与 k 之间（含 k）不能有事件
	for k := i + 1; k < t.Len(); k++ {
		if hasEvent(&t.Bars[k]) {
			break
		}
		if m, ok := good(k); ok {
			return m
		}
	}
	// 向前查找：k 之后到 i（含 i）不能有事件
	for k := i - 1; k >= 0; k-- {
		if hasEvent(&t.Bars[k+1]) {
			break
		}
		if m, ok := good(k); ok {
			return m
		}
	}
	return 1
}

func hasEvent(b *core.Bar) bool {
	return b.Dividend != 0 || (b.Split != 0 && b.Split != 1)
}
