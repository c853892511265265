package repair

import (
	"context"
	"math"
	"strings"

	"stockrepair/pkg/core"
)

// fixZeroes 标记缺失或为零的价格与成交量并用细粒度数据重建
func (r *run) fixZeroes(ctx context.Context, t *core.Table, pass Pass) error {
	n := t.Len()
	if n == 0 {
		return nil
	}

	badPrice := func(v float64) bool { return v == 0 || math.IsNaN(v) }

	// 日内数据中缺失过半的交易日视为休市，整体跳过
	ignore := make([]bool, n)
	if t.Interval.IsIntraday() {
		loc := t.Location()
		type dayCount struct{ total, bad int }
		days := make(map[string]*dayCount)
		keys := make([]string, n)
		for i := range t.Bars {
			keys[i] = t.Bars[i].Timestamp.In(loc).Format("2006-01-02")
			dc, ok := days[keys[i]]
			if !ok {
				dc = &dayCount{}
				days[keys[i]] = dc
			}
			dc.total++
			for _, f := range core.PriceFields {
				if badPrice(t.Bars[i].Get(f)) {
					dc.bad++
					break
				}
			}
		}
		for i := range t.Bars {
			dc := days[keys[i]]
			if float64(dc.bad)/float64(dc.total) > r.cfg().ClosedDayFraction {
				ignore[i] = true
			}
		}
	}

	mask := NewMask(n)
	anyGood := false
	rowBad := make([]bool, n)
	for i := range t.Bars {
		if ignore[i] {
			continue
		}
		for _, f := range core.PriceFields {
			if badPrice(t.Bars[i].Get(f)) {
				mask.Tag(i, f)
				rowBad[i] = true
			} else {
				anyGood = true
			}
		}
	}
	if !anyGood {
		r.log.Debug("no good price data to calibrate against, skipping zero repair")
		return nil
	}

	if t.Meta.InstrumentType != core.InstrumentCurrency {
		for i := range t.Bars {
			if ignore[i] {
				continue
			}
			b := &t.Bars[i]
			if !(b.Volume == 0 || math.IsNaN(b.Volume)) {
				continue
			}
			priceMoved := core.IsValidPrice(b.High) && core.IsValidPrice(b.Low) && b.High != b.Low
			if priceMoved || rowBad[i] || hasEvent(b) {
				mask.Tag(i, core.FieldVolume)
			}
		}
	}

	tagged := mask.Count(CellPending)
	if tagged == 0 {
		return nil
	}
	ps := r.stats.Pass(pass)
	ps.Tagged += tagged

	res, err := r.reconstruct(ctx, t, mask)
	if err != nil {
		return err
	}
	ps.Fixed += res.fixed
	ps.TooOld += res.tooOld
	ps.Unrepaired += res.unrepaired

	if res.unrepaired > 0 || res.tooOld > 0 {
		var dates []string
		for i := 0; i < n && len(dates) < 10; i++ {
			for _, f := range allFields {
				if mask.Get(i, f) == CellUnrepairable {
					dates = append(dates, t.Bars[i].Timestamp.Format("2006-01-02 15:04"))
					break
				}
			}
		}
		r.log.Debugf("unrepaired missing data at: %s", strings.Join(dates, ", "))
	}
	r.report("fixed %d/%d missing price/volume cells", res.fixed, tagged)
	return nil
}
