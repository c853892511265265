package repair

import (
	"stockrepair/pkg/core"
)

// fixUnitSwitch 修复数据源在某个时间点之后切换了币种单位（如便士改为英镑）
func (r *run) fixUnitSwitch(t *core.Table) {
	change := minorUnitFactor(t.Meta.Currency)
	r.fixSuddenChange(t, changeOptions{
		pass:             PassUnitSwitch,
		change:           change,
		perColumn:        t.Interval.IsIntraday(),
		splitIdx:         -1,
		correctDividends: true,
	})
}

// fixBadSplits 修复拆股未被应用到拆股前价格的情况，只处理日线及以上粒度
func (r *run) fixBadSplits(t *core.Table) {
	if t.Interval.IsIntraday() {
		return
	}
	window := r.cfg().SplitWindow
	// 从最新的拆股开始，避免较早拆股的修正影响较新的判断
	for i := t.Len() - 1; i >= 0; i-- {
		split := t.Bars[i].Split
		if split == 0 || split == 1 {
			continue
		}
		if i == 0 {
			r.log.Debugf("split on first row %s, need more data to check", t.Bars[i].Timestamp.Format("2006-01-02"))
			continue
		}
		end := i + 1 + window
		if end > t.Len() {
			end = t.Len()
		}
		sub := t.Slice(0, end)
		blocks := r.fixSuddenChange(sub, changeOptions{
			pass:             PassBadSplits,
			change:           split,
			splitIdx:         i,
			correctDividends: true,
			correctVolume:    true,
		})
		if len(blocks) > 0 {
			t.Replace(0, sub)
		}
	}
}
