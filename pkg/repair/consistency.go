package repair

import (
	"math"

	"stockrepair/pkg/core"
)

// enforceConsistency 保证 Low <= Open,Close <= High
func (r *run) enforceConsistency(t *core.Table) {
	fixed := 0
	for i := range t.Bars {
		b := &t.Bars[i]
		if !core.IsValidPrice(b.Open) || !core.IsValidPrice(b.Close) ||
			!core.IsValidPrice(b.High) || !core.IsValidPrice(b.Low) {
			continue
		}
		if b.IsConsistent() {
			continue
		}
		b.High = math.Max(b.High, math.Max(b.Open, b.Close))
		b.Low = math.Min(b.Low, math.Min(b.Open, b.Close))
		b.Repaired = true
		fixed++
	}
	if fixed > 0 {
		r.stats.Pass(PassConsistency).Rows += fixed
		r.report("clamped high/low on %d rows", fixed)
	}
}
