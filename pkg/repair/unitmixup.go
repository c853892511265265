package repair

import (
	"context"
	"math"

	"stockrepair/pkg/core"
)

// 参与单位混淆检测的列，顺序决定中值滤波的邻域
var mixupFields = []core.Field{core.FieldHigh, core.FieldOpen, core.FieldLow, core.FieldClose, core.FieldAdjClose}

// fixUnitMixups 修复零星出现的 100 倍单位混淆（如便士与英镑混用）
func (r *run) fixUnitMixups(ctx context.Context, t *core.Table) error {
	if t.Len() < 2 {
		return nil
	}
	cfg := r.cfg()

	// 含零值的行不参与检测，交给缺失值修复
	var rows []int
	for i := range t.Bars {
		ok := true
		for _, f := range mixupFields {
			if !core.IsValidPrice(t.Bars[i].Get(f)) {
				ok = false
				break
			}
		}
		if ok {
			rows = append(rows, i)
		}
	}
	if len(rows) < 2 {
		return nil
	}

	m := make([][]float64, len(rows))
	for k, i := range rows {
		m[k] = make([]float64, len(mixupFields))
		for j, f := range mixupFields {
			m[k][j] = t.Bars[i].Get(f)
		}
	}
	med := medianFilter3x3(m)

	mask := NewMask(t.Len())
	// +1 偏大（需要 ×1/ratio），-1 偏小
	direction := make(map[int]map[core.Field]int)
	tagged := 0
	for k, i := range rows {
		for j, f := range mixupFields {
			ratio := m[k][j] / med[k][j]
			if !(ratio > 0) || math.IsInf(ratio, 0) {
				continue
			}
			dir := 0
			if roundStep(ratio, cfg.RatioRoundStep) == cfg.UnitMixupRatio {
				dir = 1
			} else if roundStep(1/ratio, cfg.RatioRoundStep) == cfg.UnitMixupRatio {
				dir = -1
			}
			if dir == 0 {
				continue
			}
			if direction[i] == nil {
				direction[i] = make(map[core.Field]int)
			}
			direction[i][f] = dir
			mask.Tag(i, f)
			tagged++
		}
	}
	if tagged == 0 {
		return nil
	}

	ps := r.stats.Pass(PassUnitMixup)
	ps.Tagged += tagged
	res, err := r.reconstruct(ctx, t, mask)
	if err != nil {
		return err
	}
	ps.Fixed += res.fixed
	ps.TooOld += res.tooOld

	// 重建失败的单元格做粗略修正：按倍数缩放后重新推导 High/Low
	crude := 0
	for i, fields := range direction {
		changed := false
		b := &t.Bars[i]
		for _, f := range []core.Field{core.FieldOpen, core.FieldClose, core.FieldAdjClose} {
			dir, ok := fields[f]
			if !ok || mask.Get(i, f) != CellUnrepairable {
				continue
			}
			if dir > 0 {
				b.Set(f, b.Get(f)/cfg.UnitMixupRatio)
			} else {
				b.Set(f, b.Get(f)*cfg.UnitMixupRatio)
			}
			mask.Set(i, f, CellGood)
			crude++
			changed = true
		}
		if _, ok := fields[core.FieldHigh]; ok && mask.Get(i, core.FieldHigh) == CellUnrepairable {
			b.High = math.Max(b.Open, b.Close)
			mask.Set(i, core.FieldHigh, CellGood)
			crude++
			changed = true
		}
		if _, ok := fields[core.FieldLow]; ok && mask.Get(i, core.FieldLow) == CellUnrepairable {
			b.Low = math.Min(b.Open, b.Close)
			mask.Set(i, core.FieldLow, CellGood)
			crude++
			changed = true
		}
		if changed {
			b.Repaired = true
		}
	}
	ps.FixedCrudely += crude
	ps.Unrepaired += mask.Count(CellUnrepairable)

	r.report("fixed %d/%d currency unit mixups (%d precisely, %d crudely)", res.fixed+crude, tagged, res.fixed, crude)
	return nil
}
